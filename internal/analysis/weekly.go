package analysis

import (
	"math"

	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/timeutil"
)

// SharpeAnnualization converts a weekly Sharpe ratio to an annual one (√52).
var SharpeAnnualization = math.Sqrt(52)

// WeeklyStats is the part of a TestResult derived from weekly sampling.
type WeeklyStats struct {
	Weeks   int
	Returns []float64

	Sharpe float64
	// UlcerIndex is in percent, clamped to 100.
	UlcerIndex float64
	// CAGR is in percent.
	CAGR   float64
	Martin float64
}

// Weekly buckets the ledger into 7-day windows starting at the first trade
// and running to endDate. Each window's return is measured against the
// balance at the window start, or against the initial balance when
// compounding is disabled.
func Weekly(items []model.StatisticItem, initialBalance float64, compoundingDisabled bool, endDate int64) WeeklyStats {
	var ws WeeklyStats
	if len(items) == 0 {
		return ws
	}
	first := items[0].Time
	last := items[len(items)-1].Time
	end := endDate
	if end < last {
		end = last
	}
	ws.Weeks = int((end-first)/timeutil.SecondsPerWeek) + 1
	ws.Returns = make([]float64, 0, ws.Weeks)

	balance := initialBalance
	peak := initialBalance
	idx := 0
	sumSq := 0.0
	for w := 0; w < ws.Weeks; w++ {
		windowEnd := first + int64(w+1)*timeutil.SecondsPerWeek
		startBalance := balance
		for idx < len(items) && items[idx].Time < windowEnd {
			balance = items[idx].Balance
			idx++
		}

		ref := startBalance
		if compoundingDisabled {
			ref = initialBalance
		}
		r := 0.0
		if ref > 0 {
			r = (balance - startBalance) / ref
		}
		ws.Returns = append(ws.Returns, r)

		if balance > peak {
			peak = balance
		}
		var dd float64
		switch {
		case compoundingDisabled && initialBalance > 0:
			dd = 100 * (balance - peak) / initialBalance
		case peak > 0:
			dd = 100 * (balance/peak - 1)
		default:
			dd = -100
		}
		sumSq += dd * dd
	}

	ws.UlcerIndex = math.Min(math.Sqrt(sumSq/float64(ws.Weeks)), 100)
	if sd := StdDev(ws.Returns); sd > 0 {
		ws.Sharpe = Mean(ws.Returns) / sd * SharpeAnnualization
	}
	ws.CAGR = CAGR(initialBalance, balance, first, end, compoundingDisabled)
	if ws.UlcerIndex > 0 {
		ws.Martin = ws.CAGR / ws.UlcerIndex
	}
	return ws
}

// CAGR is the annual growth rate in percent between two balances. Without
// compounding the total return is annualised linearly.
func CAGR(initialBalance, finalBalance float64, from, to int64, compoundingDisabled bool) float64 {
	years := timeutil.Years(from, to)
	if years <= 0 || initialBalance <= 0 {
		return 0
	}
	if compoundingDisabled {
		return 100 * (finalBalance - initialBalance) / initialBalance / years
	}
	if finalBalance <= 0 {
		return -100
	}
	return 100 * (math.Pow(finalBalance/initialBalance, 1/years) - 1)
}
