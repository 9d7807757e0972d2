package strategy

import (
	"fmt"
	"sort"
	"strings"

	"portfolio-backtest/internal/model"
)

// ParameterInfo describes one strategy parameter for listings.
type ParameterInfo struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Default     interface{} `json:"default"`
}

type Info struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ParameterInfo `json:"parameters"`
}

type factory struct {
	info Info
	new  func(params map[string]any) (Strategy, error)
}

var registry = map[string]factory{
	"sma_cross": {
		info: Info{
			Name:        "sma_cross",
			Description: "Moving-average crossover on completed bars with ATR based stops. Holds at most one position per direction.",
			Parameters: []ParameterInfo{
				{Name: "fast", Type: "int", Description: "Fast SMA period", Default: 10},
				{Name: "slow", Type: "int", Description: "Slow SMA period", Default: 30},
				{Name: "timeframe", Type: "int", Description: "Index of the timeframe the averages are computed on", Default: 0},
				{Name: "lots", Type: "float", Description: "Position size in lots", Default: 0.1},
				{Name: "atr_period", Type: "int", Description: "ATR period for stops", Default: 14},
				{Name: "sl_atr", Type: "float", Description: "Stop loss distance in ATRs (0 = none)", Default: 2.0},
				{Name: "tp_atr", Type: "float", Description: "Take profit distance in ATRs (0 = none)", Default: 3.0},
			},
		},
		new: func(p map[string]any) (Strategy, error) {
			return NewSMACross(SMACrossParams{
				Fast:      int(mustNum(p, "fast", 10)),
				Slow:      int(mustNum(p, "slow", 30)),
				Timeframe: int(mustNum(p, "timeframe", 0)),
				Lots:      mustNum(p, "lots", 0.1),
				ATRPeriod: int(mustNum(p, "atr_period", 14)),
				SLATR:     mustNum(p, "sl_atr", 2),
				TPATR:     mustNum(p, "tp_atr", 3),
			})
		},
	},
	"session_breakout": {
		info: Info{
			Name:        "session_breakout",
			Description: "Daily session range breakout with stop orders on both sides of the range.",
			Parameters: []ParameterInfo{
				{Name: "session_start", Type: "string", Description: "Session start (HH:MM broker time)", Default: "00:00"},
				{Name: "session_end", Type: "string", Description: "Session end (HH:MM broker time)", Default: "08:00"},
				{Name: "lots", Type: "float", Description: "Position size in lots", Default: 0.1},
				{Name: "offset", Type: "float", Description: "Distance of the stop orders beyond the range", Default: 0.0},
				{Name: "tp_range", Type: "float", Description: "Take profit as a multiple of the range height (0 = none)", Default: 1.0},
			},
		},
		new: func(p map[string]any) (Strategy, error) {
			return NewSessionBreakout(SessionBreakoutParams{
				SessionStart: mustStr(p, "session_start", "00:00"),
				SessionEnd:   mustStr(p, "session_end", "08:00"),
				Lots:         mustNum(p, "lots", 0.1),
				Offset:       mustNum(p, "offset", 0),
				TPRange:      mustNum(p, "tp_range", 1),
			})
		},
	},
}

// New builds a fresh strategy instance. Each instrument needs its own.
func New(name string, params map[string]any) (Strategy, error) {
	f, ok := registry[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %q", model.ErrConfig, name)
	}
	if params == nil {
		params = map[string]any{}
	}
	return f.new(params)
}

// Catalog lists the available strategies sorted by name.
func Catalog() []Info {
	out := make([]Info, 0, len(registry))
	for _, f := range registry {
		out = append(out, f.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func mustNum(m map[string]any, key string, def float64) float64 {
	if v, ok := m[key]; ok && v != nil {
		switch x := v.(type) {
		case float64:
			return x
		case int:
			return float64(x)
		case int64:
			return float64(x)
		}
	}
	return def
}

func mustStr(m map[string]any, key string, def string) string {
	if v, ok := m[key]; ok && v != nil {
		if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return def
}
