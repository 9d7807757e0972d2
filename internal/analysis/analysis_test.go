package analysis

import (
	"errors"
	"math"
	"testing"

	"github.com/shopspring/decimal"

	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/timeutil"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestStdDev(t *testing.T) {
	tests := []struct {
		name string
		xs   []float64
		want float64
	}{
		{"empty", nil, 0},
		{"single", []float64{3}, 0},
		{"constant", []float64{2, 2, 2}, 0},
		{"sample", []float64{2, 4, 4, 4, 5, 5, 7, 9}, math.Sqrt(32.0 / 7.0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StdDev(tt.xs); !approx(got, tt.want) {
				t.Errorf("StdDev() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRoundN(t *testing.T) {
	tests := []struct {
		x    float64
		n    int
		want string
	}{
		{1.005, 2, "1.01"},
		{-1.005, 2, "-1.01"},
		{0.125, 2, "0.13"},
		{2.5, 0, "3"},
		{-2.5, 0, "-3"},
		{0.123456, 4, "0.1235"},
		{0.005, 2, "0.01"},
	}
	for _, tt := range tests {
		got := RoundN(tt.x, tt.n)
		if !decimal.NewFromFloat(got).Equal(decimal.RequireFromString(tt.want)) {
			t.Errorf("RoundN(%v, %d) = %v, want %s", tt.x, tt.n, got, tt.want)
		}
	}
}

func TestRoundNIdempotent(t *testing.T) {
	xs := []float64{0.1 + 0.2, 1.23456789, -7.777777, 1e-7, 123456.654321, 0.015, 2.675}
	for _, x := range xs {
		for n := 0; n <= 6; n++ {
			once := RoundN(x, n)
			if twice := RoundN(once, n); twice != once {
				t.Errorf("RoundN(RoundN(%v,%d)) = %v, want %v", x, n, twice, once)
			}
		}
	}
}

func TestLotDecimals(t *testing.T) {
	tests := map[float64]int{0.01: 2, 0.1: 1, 1: 0, 0.001: 3, 10: 0, 0: 0, 0.05: 2}
	for lot, want := range tests {
		if got := LotDecimals(lot); got != want {
			t.Errorf("LotDecimals(%v) = %d, want %d", lot, got, want)
		}
	}
}

func TestLedgerGrowsAndPreservesEntries(t *testing.T) {
	l := NewLedger()
	n := MinStatisticsSize*2 + 5
	for i := 0; i < n; i++ {
		l.Add(float64(i), float64(10000+i), int64(i))
	}
	if l.Len() != n {
		t.Fatalf("Len() = %d, want %d", l.Len(), n)
	}
	for i, it := range l.Items() {
		if it.Profit != float64(i) || it.Balance != float64(10000+i) || it.Time != int64(i) {
			t.Fatalf("entry %d = %+v", i, it)
		}
	}

	var zero Ledger
	zero.Add(1, 2, 3)
	if zero.Len() != 1 {
		t.Errorf("zero-value ledger Len() = %d", zero.Len())
	}
}

func alternating(n int, initial, step float64) []model.StatisticItem {
	items := make([]model.StatisticItem, 0, n)
	bal := initial
	for i := 0; i < n; i++ {
		p := step
		if i%2 == 1 {
			p = -step
		}
		bal += p
		items = append(items, model.StatisticItem{Balance: bal, Profit: p, Time: int64(i+1) * timeutil.SecondsPerDay})
	}
	return items
}

func TestTradeByTradeAlternating(t *testing.T) {
	items := alternating(10, 10000, 100)
	st := TradeByTrade(items, 10000, true, 10)

	if st.ProfitFactor != 1.0 {
		t.Errorf("ProfitFactor = %v, want exactly 1", st.ProfitFactor)
	}
	if st.WinRate != 50 {
		t.Errorf("WinRate = %v, want 50", st.WinRate)
	}
	if st.Wins != 5 || st.Losses != 5 {
		t.Errorf("wins/losses = %d/%d", st.Wins, st.Losses)
	}
	// peak 10100, trough 10000, no compounding -> 100/10000.
	if !approx(st.MaxDDDepth, 1) {
		t.Errorf("MaxDDDepth = %v, want 1", st.MaxDDDepth)
	}
	if st.MaxDDLength != timeutil.SecondsPerDay {
		t.Errorf("MaxDDLength = %d, want one day", st.MaxDDLength)
	}
}

func TestTradeByTradeNoLosses(t *testing.T) {
	items := []model.StatisticItem{
		{Balance: 10100, Profit: 100, Time: 10},
		{Balance: 10300, Profit: 200, Time: 20},
	}
	st := TradeByTrade(items, 10000, false, 0)
	if st.ProfitFactor != 0 {
		t.Errorf("ProfitFactor = %v, want 0 without losses", st.ProfitFactor)
	}
	if st.MaxDDDepth != 0 {
		t.Errorf("MaxDDDepth = %v, want 0", st.MaxDDDepth)
	}
	if st.WinRate != 100 {
		t.Errorf("WinRate = %v", st.WinRate)
	}
	if !approx(st.AvgWin, (0.01+200.0/10100)/2) {
		t.Errorf("AvgWin = %v", st.AvgWin)
	}
}

func TestTradeByTradeDrawdownClamped(t *testing.T) {
	items := []model.StatisticItem{
		{Balance: 5000, Profit: -5000, Time: 1},
		{Balance: -2000, Profit: -7000, Time: 2},
	}
	for _, disabled := range []bool{true, false} {
		st := TradeByTrade(items, 10000, disabled, 2)
		if st.MaxDDDepth < 0 || st.MaxDDDepth > 100 {
			t.Errorf("compoundingDisabled=%v: MaxDDDepth = %v outside [0,100]", disabled, st.MaxDDDepth)
		}
		if st.MaxDDDepth != 100 {
			t.Errorf("compoundingDisabled=%v: MaxDDDepth = %v, want 100", disabled, st.MaxDDDepth)
		}
	}
}

func TestLinearRegression(t *testing.T) {
	r := LinearRegression([]float64{0, 1, 2, 3}, []float64{1, 3, 5, 7})
	if !approx(r.Slope, 2) || !approx(r.Intercept, 1) || !approx(r.R2, 1) || !approx(r.ResidualStd, 0) {
		t.Errorf("perfect line fit = %+v", r)
	}
	flat := LinearRegression([]float64{0, 1, 2}, []float64{5, 5, 5})
	if flat.R2 != 0 {
		t.Errorf("flat series R2 = %v, want 0", flat.R2)
	}
	same := LinearRegression([]float64{1, 1, 1}, []float64{1, 2, 3})
	if same.R2 != 0 || same.Slope != 0 {
		t.Errorf("zero x variance fit = %+v", same)
	}
}

func TestWeeklySteadyGrowth(t *testing.T) {
	var items []model.StatisticItem
	bal := 10000.0
	for w := 0; w < 52; w++ {
		bal *= 1.01
		items = append(items, model.StatisticItem{Balance: bal, Profit: bal / 101, Time: int64(w) * timeutil.SecondsPerWeek})
	}
	end := items[len(items)-1].Time + timeutil.SecondsPerWeek - 1
	ws := Weekly(items, 10000, false, end)

	if ws.Weeks != 52 {
		t.Fatalf("Weeks = %d, want 52", ws.Weeks)
	}
	if ws.UlcerIndex != 0 {
		t.Errorf("UlcerIndex = %v, want 0 for a curve without drawdowns", ws.UlcerIndex)
	}
	if ws.Martin != 0 {
		t.Errorf("Martin = %v, want 0 when Ulcer is 0", ws.Martin)
	}
	if ws.CAGR <= 0 {
		t.Errorf("CAGR = %v, want positive", ws.CAGR)
	}
}

func TestWeeklyUlcerAndSharpe(t *testing.T) {
	w := int64(timeutil.SecondsPerWeek)
	items := []model.StatisticItem{
		{Balance: 11000, Profit: 1000, Time: 0},
		{Balance: 9900, Profit: -1100, Time: w},
		{Balance: 11000, Profit: 1100, Time: 2 * w},
	}
	ws := Weekly(items, 10000, false, 3*w-1)
	if ws.Weeks != 3 {
		t.Fatalf("Weeks = %d", ws.Weeks)
	}
	// Drawdowns: 0, -10%, 0.
	wantUlcer := math.Sqrt(100.0 / 3)
	if !approx(ws.UlcerIndex, wantUlcer) {
		t.Errorf("UlcerIndex = %v, want %v", ws.UlcerIndex, wantUlcer)
	}
	rets := []float64{0.1, -0.1, 1100.0 / 9900}
	wantSharpe := Mean(rets) / StdDev(rets) * math.Sqrt(52)
	if !approx(ws.Sharpe, wantSharpe) {
		t.Errorf("Sharpe = %v, want %v", ws.Sharpe, wantSharpe)
	}
	if !approx(ws.Martin, ws.CAGR/ws.UlcerIndex) {
		t.Errorf("Martin = %v, want CAGR/Ulcer", ws.Martin)
	}
}

func TestWeeklyUlcerClamped(t *testing.T) {
	items := []model.StatisticItem{
		{Balance: 20000, Profit: 10000, Time: 0},
		{Balance: -50000, Profit: -70000, Time: timeutil.SecondsPerWeek},
	}
	ws := Weekly(items, 10000, true, 2*timeutil.SecondsPerWeek-1)
	if ws.UlcerIndex != 100 {
		t.Errorf("UlcerIndex = %v, want clamp at 100", ws.UlcerIndex)
	}
}

func TestCAGR(t *testing.T) {
	year := int64(365.25 * timeutil.SecondsPerDay)
	if got := CAGR(10000, 12100, 0, 2*year, false); !approx(got, 10) {
		t.Errorf("compounded CAGR = %v, want 10", got)
	}
	if got := CAGR(10000, 12000, 0, 2*year, true); !approx(got, 10) {
		t.Errorf("linear CAGR = %v, want 10", got)
	}
	if got := CAGR(10000, 12000, 5, 5, false); got != 0 {
		t.Errorf("zero-length CAGR = %v", got)
	}
}

func TestRankResults(t *testing.T) {
	in := []RankedResult{
		{TestID: 1, Label: "a", Result: model.TestResult{FinalBalance: 10500, MaxDDDepth: 4}},
		{TestID: 2, Label: "b", Result: model.TestResult{FinalBalance: 11000, MaxDDDepth: 9}},
		{TestID: 3, Label: "c", Result: model.TestResult{FinalBalance: 10500, MaxDDDepth: 2}},
	}
	got, err := RankResults(in, "final_balance")
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Label != "b" || got[1].Label != "a" || got[2].Label != "c" {
		t.Errorf("by balance = %+v", got)
	}
	if in[0].Label != "a" {
		t.Error("input reordered")
	}

	got, _ = RankResults(in, "Drawdown")
	if got[0].Label != "c" || got[2].Label != "b" {
		t.Errorf("by drawdown = %+v", got)
	}

	if _, err := RankResults(in, "luck"); !errors.Is(err, model.ErrConfig) {
		t.Errorf("unknown metric error = %v", err)
	}
}
