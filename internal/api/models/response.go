package models

import (
	"time"

	"portfolio-backtest/internal/backtest"
	"portfolio-backtest/internal/model"
)

// BacktestResponse represents the response from a backtest run
type BacktestResponse struct {
	ID      string                  `json:"id,omitempty"`
	Status  string                  `json:"status"`
	Summary BacktestSummary         `json:"summary"`
	Ledger  []backtest.LedgerRow    `json:"ledger,omitempty"`
	Trades  []model.Order           `json:"trades,omitempty"`
	Open    []backtest.OpenPosition `json:"open,omitempty"`
}

// BacktestSummary contains aggregated backtest results
type BacktestSummary struct {
	TestID           int              `json:"test_id"`
	Label            string           `json:"label,omitempty"`
	Result           model.TestResult `json:"result"`
	BacktestWindow   *TimeWindow      `json:"backtest_window,omitempty"`
	ClosedTrades     int              `json:"closed_trades"`
	OpenPositions    int              `json:"open_positions"`
	Warnings         int              `json:"warnings"`
	Aborted          bool             `json:"aborted"`
	AbortedInstances []int            `json:"aborted_instances,omitempty"`
	CreatedAt        *time.Time       `json:"created_at,omitempty"`
}

// TimeWindow represents a time range
type TimeWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// CompareBacktestResponse represents the response from a comparison
type CompareBacktestResponse struct {
	Comparison []ComparisonResult `json:"comparison"`
}

// ComparisonResult contains results for one variation
type ComparisonResult struct {
	Name    string          `json:"name"`
	Summary BacktestSummary `json:"summary"`
	Error   string          `json:"error,omitempty"`
}

// DatasetInfo describes a rates file available to API runs
type DatasetInfo struct {
	Path  string    `json:"path"`
	Bars  int       `json:"bars"`
	First time.Time `json:"first"`
	Last  time.Time `json:"last"`
}

// StreamEvent is one websocket message of a streamed backtest.
// Type is "signal", "progress", "result" or "error".
type StreamEvent struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
