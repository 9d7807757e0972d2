package analysis

import (
	"math"

	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/timeutil"
)

// TradeStats is the part of a TestResult derived trade by trade.
type TradeStats struct {
	// MaxDDDepth is in percent, clamped to [0, 100].
	MaxDDDepth float64
	// MaxDDLength is the longest time in seconds spent below a balance peak.
	MaxDDLength int64

	Wins   int
	Losses int
	// WinRate is in percent.
	WinRate float64

	GrossProfit  float64
	GrossLoss    float64
	ProfitFactor float64

	// AvgWin and AvgLoss are mean trade results as a fraction of the balance
	// before the trade. AvgLoss is positive.
	AvgWin     float64
	AvgLoss    float64
	RiskReward float64

	// Regression of balance (log balance when compounding) against elapsed days.
	Regression Regression
}

// TradeByTrade walks the ledger once. With compounding disabled drawdown is
// measured against the initial balance instead of the running peak, and the
// balance curve is regressed linearly instead of in log space. totalTrades is
// the win-rate denominator; when it is not positive the ledger length is used.
func TradeByTrade(items []model.StatisticItem, initialBalance float64, compoundingDisabled bool, totalTrades int) TradeStats {
	var st TradeStats
	if len(items) == 0 {
		return st
	}

	peak := initialBalance
	peakTime := items[0].Time
	start := items[0].Time

	var winFracs, lossFracs []float64
	xs := make([]float64, 0, len(items))
	ys := make([]float64, 0, len(items))
	logScale := !compoundingDisabled

	for _, it := range items {
		if it.Balance >= peak {
			peak = it.Balance
			peakTime = it.Time
		} else {
			ref := peak
			if compoundingDisabled {
				ref = initialBalance
			}
			dd := 100.0
			if ref > 0 {
				dd = 100 * (peak - it.Balance) / ref
			}
			st.MaxDDDepth = math.Max(st.MaxDDDepth, dd)
			if l := it.Time - peakTime; l > st.MaxDDLength {
				st.MaxDDLength = l
			}
		}

		before := it.Balance - it.Profit
		frac := 0.0
		if before > 0 {
			frac = it.Profit / before
		}
		switch {
		case it.Profit > 0:
			st.Wins++
			st.GrossProfit += it.Profit
			winFracs = append(winFracs, frac)
		case it.Profit < 0:
			st.Losses++
			st.GrossLoss -= it.Profit
			lossFracs = append(lossFracs, -frac)
		}

		if it.Balance <= 0 {
			logScale = false
		}
		xs = append(xs, float64(it.Time-start)/timeutil.SecondsPerDay)
		ys = append(ys, it.Balance)
	}

	st.MaxDDDepth = clamp(st.MaxDDDepth, 0, 100)

	denom := totalTrades
	if denom <= 0 {
		denom = len(items)
	}
	st.WinRate = 100 * float64(st.Wins) / float64(denom)

	if st.GrossLoss > 0 {
		st.ProfitFactor = st.GrossProfit / st.GrossLoss
	}
	st.AvgWin = Mean(winFracs)
	st.AvgLoss = Mean(lossFracs)
	if st.AvgLoss > 0 {
		st.RiskReward = st.AvgWin / st.AvgLoss
	}

	if logScale {
		for i, y := range ys {
			ys[i] = math.Log(y)
		}
	}
	st.Regression = LinearRegression(xs, ys)
	return st
}

func clamp(x, lo, hi float64) float64 {
	if x < lo {
		return lo
	}
	if x > hi {
		return hi
	}
	return x
}
