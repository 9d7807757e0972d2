package strategy

import (
	"errors"
	"reflect"
	"testing"

	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/timeutil"
)

func TestDecodeMask(t *testing.T) {
	tests := []struct {
		name string
		mask uint32
		want []Signal
	}{
		{"none", 0, nil},
		{"open buy", 1 << 0, []Signal{Open{Type: model.Buy}}},
		{"close sell open buy", 1<<(8+1) | 1<<0, []Signal{Close{Type: model.Sell}, Open{Type: model.Buy}}},
		{"update buy", 1 << 16, []Signal{Update{Type: model.Buy}}},
		{"cancel both stops", 1<<(8+4) | 1<<(8+5), []Signal{Close{Type: model.BuyStop}, Close{Type: model.SellStop}}},
		{"all groups ordered", 1<<3 | 1<<(16+0) | 1<<(8+0), []Signal{Close{Type: model.Buy}, Update{Type: model.Buy}, Open{Type: model.SellLimit}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DecodeMask(tt.mask)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("DecodeMask(%#x) = %v, want %v", tt.mask, got, tt.want)
			}
			if back := EncodeMask(got); back != tt.mask {
				t.Errorf("EncodeMask() = %#x, want %#x", back, tt.mask)
			}
		})
	}
}

func TestRegistry(t *testing.T) {
	s, err := New("SMA_CROSS", map[string]any{"fast": 5, "slow": 20.0})
	if err != nil {
		t.Fatal(err)
	}
	sc := s.(*SMACross)
	if sc.Params.Fast != 5 || sc.Params.Slow != 20 || sc.Params.ATRPeriod != 14 {
		t.Errorf("params = %+v", sc.Params)
	}
	if _, err := New("nope", nil); !errors.Is(err, model.ErrConfig) {
		t.Errorf("New(unknown) error = %v, want ErrConfig", err)
	}
	if _, err := New("sma_cross", map[string]any{"fast": 30, "slow": 10}); !errors.Is(err, model.ErrConfig) {
		t.Errorf("fast>slow error = %v, want ErrConfig", err)
	}
	if _, err := New("session_breakout", map[string]any{"session_start": "09:00", "session_end": "08:00"}); !errors.Is(err, model.ErrConfig) {
		t.Errorf("wrapping session error = %v, want ErrConfig", err)
	}
	cat := Catalog()
	if len(cat) != 2 || cat[0].Name != "session_breakout" || cat[1].Name != "sma_cross" {
		t.Errorf("Catalog() = %+v", cat)
	}
}

func barsFromCloses(closes []float64) []model.Bar {
	out := make([]model.Bar, len(closes))
	for i, c := range closes {
		out[i] = model.Bar{Time: int64(i) * 3600, Open: c, High: c + 0.001, Low: c - 0.001, Close: c}
	}
	return out
}

func TestSMACrossSignals(t *testing.T) {
	s, err := NewSMACross(SMACrossParams{Fast: 2, Slow: 4, Lots: 0.1, ATRPeriod: 2, SLATR: 1, TPATR: 2})
	if err != nil {
		t.Fatal(err)
	}
	// Falling then a jump: the fast average crosses above the slow one on the
	// last completed bar. The final bar is the forming one.
	closes := []float64{1.10, 1.09, 1.08, 1.07, 1.06, 1.05, 1.12, 1.12}
	ctx := Context{Time: 7 * 3600, Bid: 1.12, Ask: 1.1202, Rates: [][]model.Bar{barsFromCloses(closes)}}

	res, err := s.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 1 {
		t.Fatalf("results = %+v", res)
	}
	want := []Signal{Close{Type: model.Sell}, Open{Type: model.Buy}}
	if !reflect.DeepEqual(res[0].Signals, want) {
		t.Errorf("signals = %v, want %v", res[0].Signals, want)
	}
	if res[0].StopLoss >= ctx.Ask || res[0].TakeProfit <= ctx.Ask {
		t.Errorf("stops = %v/%v around ask %v", res[0].StopLoss, res[0].TakeProfit, ctx.Ask)
	}

	// Same completed bar again: no repeat.
	if res, _ := s.Run(ctx); len(res) != 0 {
		t.Errorf("second run on same bar = %+v", res)
	}
}

func TestSMACrossWaitsForHistory(t *testing.T) {
	s, _ := NewSMACross(SMACrossParams{Fast: 2, Slow: 10, Lots: 0.1})
	ctx := Context{Rates: [][]model.Bar{barsFromCloses([]float64{1, 2, 3})}}
	if res, err := s.Run(ctx); err != nil || len(res) != 0 {
		t.Errorf("Run() with short history = %+v, %v", res, err)
	}
}

func TestSessionBreakout(t *testing.T) {
	s, err := NewSessionBreakout(SessionBreakoutParams{SessionStart: "00:00", SessionEnd: "03:00", Lots: 0.2, Offset: 0.0005, TPRange: 1})
	if err != nil {
		t.Fatal(err)
	}
	day := timeutil.MkGmTime(2024, 3, 4, 0, 0, 0)
	bars := []model.Bar{
		{Time: day, Open: 1.10, High: 1.1020, Low: 1.0990, Close: 1.1010},
		{Time: day + 3600, Open: 1.1010, High: 1.1030, Low: 1.1000, Close: 1.1020},
		{Time: day + 7200, Open: 1.1020, High: 1.1025, Low: 1.0980, Close: 1.1000},
		{Time: day + 10800, Open: 1.1000, High: 1.1005, Low: 1.0995, Close: 1.1000},
	}

	ctx := Context{Time: day + 10800 + 60, Bid: 1.1000, Ask: 1.1001, Rates: [][]model.Bar{bars}}
	res, err := s.Run(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(res) != 2 {
		t.Fatalf("results = %+v", res)
	}
	buy, sell := res[0], res[1]
	if !reflect.DeepEqual(buy.Signals, []Signal{Open{Type: model.BuyStop}}) || !approx(buy.EntryPrice, 1.1035) || !approx(buy.StopLoss, 1.0975) || !approx(buy.TakeProfit, 1.1085) {
		t.Errorf("buy stop = %+v", buy)
	}
	if !reflect.DeepEqual(sell.Signals, []Signal{Open{Type: model.SellStop}}) || !approx(sell.EntryPrice, 1.0975) || !approx(sell.StopLoss, 1.1035) {
		t.Errorf("sell stop = %+v", sell)
	}
	if res, _ := s.Run(ctx); len(res) != 0 {
		t.Errorf("placed twice on the same day: %+v", res)
	}

	next := Context{
		Time:   day + 86400 + 60,
		Rates:  [][]model.Bar{bars},
		Orders: []model.Order{{Type: model.BuyStop}, {Type: model.SellStop}},
	}
	res, _ = s.Run(next)
	want := []Signal{Close{Type: model.BuyStop}, Close{Type: model.SellStop}}
	if len(res) != 1 || !reflect.DeepEqual(res[0].Signals, want) || res[0].Ticket != model.AnyTicket {
		t.Errorf("next session = %+v", res)
	}
}

func approx(a, b float64) bool {
	d := a - b
	return d < 1e-9 && d > -1e-9
}
