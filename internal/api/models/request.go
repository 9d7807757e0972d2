package models

import "encoding/json"

// BacktestRequest represents the request body for running a backtest
type BacktestRequest struct {
	// Config is the run configuration in the JSON form of the YAML config file.
	Config  json.RawMessage `json:"config" binding:"required"`
	Options BacktestOptions `json:"options,omitempty"`
}

// BacktestOptions contains optional backtest parameters
type BacktestOptions struct {
	Label         string `json:"label,omitempty"`
	IncludeLedger bool   `json:"include_ledger,omitempty"` // default: false
	IncludeTrades bool   `json:"include_trades,omitempty"` // default: false
}

// CompareBacktestRequest runs one config several times with different
// strategy parameters on the first instrument.
type CompareBacktestRequest struct {
	BaseConfig json.RawMessage     `json:"base_config" binding:"required"`
	Variations []BacktestVariation `json:"variations" binding:"required"`
	Workers    int                 `json:"workers,omitempty"`
}

// BacktestVariation defines a variation to test
type BacktestVariation struct {
	Name   string         `json:"name" binding:"required"`
	Params map[string]any `json:"params" binding:"required"`
}
