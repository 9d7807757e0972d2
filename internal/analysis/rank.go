package analysis

import (
	"fmt"
	"sort"
	"strings"

	"portfolio-backtest/internal/model"
)

// RankedResult is one run of a parameter sweep.
type RankedResult struct {
	TestID int
	Label  string
	Result model.TestResult
}

// rankMetrics maps metric names to their value. Higher is better for all of
// them; MaxDDDepth is negated.
var rankMetrics = map[string]func(r model.TestResult) float64{
	"final_balance": func(r model.TestResult) float64 { return r.FinalBalance },
	"martin":        func(r model.TestResult) float64 { return r.Martin },
	"sharpe":        func(r model.TestResult) float64 { return r.Sharpe },
	"profit_factor": func(r model.TestResult) float64 { return r.ProfitFactor },
	"cagr":          func(r model.TestResult) float64 { return r.CAGR },
	"r2":            func(r model.TestResult) float64 { return r.R2 },
	"win_rate":      func(r model.TestResult) float64 { return r.WinRate },
	"drawdown":      func(r model.TestResult) float64 { return -r.MaxDDDepth },
}

// RankMetrics lists the names RankResults accepts.
func RankMetrics() []string {
	out := make([]string, 0, len(rankMetrics))
	for k := range rankMetrics {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// RankResults sorts results descending by metric. Ties keep their input
// order.
func RankResults(results []RankedResult, metric string) ([]RankedResult, error) {
	value, ok := rankMetrics[strings.ToLower(metric)]
	if !ok {
		return nil, fmt.Errorf("%w: unknown rank metric %q (want one of %s)", model.ErrConfig, metric, strings.Join(RankMetrics(), ", "))
	}
	out := append([]RankedResult(nil), results...)
	sort.SliceStable(out, func(i, j int) bool {
		return value(out[i].Result) > value(out[j].Result)
	})
	return out, nil
}
