package strategy

import (
	"fmt"

	"github.com/markcheno/go-talib"

	"portfolio-backtest/internal/model"
)

// SMACrossParams configures a moving-average crossover on completed bars.
// Stops are placed at a multiple of the ATR; a zero multiple means no stop.
type SMACrossParams struct {
	Fast      int
	Slow      int
	Timeframe int
	Lots      float64
	ATRPeriod int
	SLATR     float64
	TPATR     float64
}

// SMACross reverses between one long and one short position whenever the fast
// SMA crosses the slow one.
type SMACross struct {
	Params SMACrossParams

	lastBar int64
}

func NewSMACross(p SMACrossParams) (*SMACross, error) {
	if p.Fast <= 0 || p.Slow <= p.Fast {
		return nil, fmt.Errorf("%w: sma_cross needs 0 < fast < slow, got %d/%d", model.ErrConfig, p.Fast, p.Slow)
	}
	if p.Lots <= 0 {
		return nil, fmt.Errorf("%w: sma_cross lots must be positive", model.ErrConfig)
	}
	if p.ATRPeriod <= 0 {
		p.ATRPeriod = 14
	}
	return &SMACross{Params: p, lastBar: model.InvalidTime}, nil
}

func (s *SMACross) Name() string { return "sma_cross" }

func (s *SMACross) Run(ctx Context) ([]Result, error) {
	if s.Params.Timeframe >= len(ctx.Rates) {
		return nil, fmt.Errorf("%w: sma_cross timeframe %d not loaded", model.ErrConfig, s.Params.Timeframe)
	}
	bars := ctx.Rates[s.Params.Timeframe]
	// Decide once per completed bar.
	if len(bars) < 2 {
		return nil, nil
	}
	done := bars[:len(bars)-1]
	last := done[len(done)-1]
	if last.Time == s.lastBar {
		return nil, nil
	}
	need := s.Params.Slow + 1
	if s.Params.ATRPeriod+1 > need {
		need = s.Params.ATRPeriod + 1
	}
	if len(done) < need {
		return nil, nil
	}
	s.lastBar = last.Time

	closes := make([]float64, len(done))
	highs := make([]float64, len(done))
	lows := make([]float64, len(done))
	for i, b := range done {
		closes[i], highs[i], lows[i] = b.Close, b.High, b.Low
	}
	fast := talib.Sma(closes, s.Params.Fast)
	slow := talib.Sma(closes, s.Params.Slow)
	atr := talib.Atr(highs, lows, closes, s.Params.ATRPeriod)
	vol := atr[len(atr)-1]

	switch {
	case talib.Crossover(fast, slow):
		r := Result{Lots: s.Params.Lots, Ticket: model.AnyTicket, Signals: []Signal{Close{Type: model.Sell}}}
		if ctx.CountOrders(model.Buy) == 0 {
			r.Signals = append(r.Signals, Open{Type: model.Buy})
			r.StopLoss, r.TakeProfit = stops(ctx.Ask, -vol*s.Params.SLATR, vol*s.Params.TPATR)
		}
		return []Result{r}, nil
	case talib.Crossunder(fast, slow):
		r := Result{Lots: s.Params.Lots, Ticket: model.AnyTicket, Signals: []Signal{Close{Type: model.Buy}}}
		if ctx.CountOrders(model.Sell) == 0 {
			r.Signals = append(r.Signals, Open{Type: model.Sell})
			r.StopLoss, r.TakeProfit = stops(ctx.Bid, vol*s.Params.SLATR, -vol*s.Params.TPATR)
		}
		return []Result{r}, nil
	}
	return nil, nil
}

// stops offsets price by the given signed distances; zero means no level.
func stops(price, slDist, tpDist float64) (sl, tp float64) {
	if slDist != 0 {
		sl = price + slDist
	}
	if tpDist != 0 {
		tp = price + tpDist
	}
	return sl, tp
}
