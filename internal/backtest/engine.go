package backtest

import (
	"context"
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"portfolio-backtest/internal/analysis"
	"portfolio-backtest/internal/bootstrap"
	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/orderbook"
	"portfolio-backtest/internal/strategy"
)

// Settings apply to a whole run.
type Settings struct {
	TestID         int
	InitialBalance float64

	// From and To bound the strategy window in broker epoch seconds; zero
	// leaves that side open. Orders keep being managed after To.
	From int64
	To   int64

	CompoundingDisabled bool
	// Optimization suppresses progress events.
	Optimization bool
	// RecordExcursions tracks MAE/MFE per trade.
	RecordExcursions bool
	OrderCapacity    int

	Retry bootstrap.RetryPolicy
}

func (s Settings) inWindow(t int64) bool {
	return (s.From <= 0 || t >= s.From) && (s.To <= 0 || t <= s.To)
}

func (s Settings) mode() bootstrap.Mode {
	if s.Optimization {
		return bootstrap.ModeOptimization
	}
	return bootstrap.ModeBacktest
}

type Engine struct {
	log *zap.Logger
}

func New(log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{log: log}
}

// Run simulates every instrument over its history against one shared
// account. Instruments advance in tick time order, so closed trades are
// recorded in close-time order across the portfolio.
//
// Configuration and bootstrap failures return a zeroed report with the error.
// Data problems abort only the affected instrument. A wiped out balance stops
// the run and marks the report aborted without an error. obs may be nil.
func (e *Engine) Run(ctx context.Context, s Settings, instruments []Instrument, obs Observer) (*Report, error) {
	log := e.log.With(zap.Int("test_id", s.TestID))
	empty := &Report{TestID: s.TestID}

	if err := validate(s, instruments); err != nil {
		log.Error("invalid backtest configuration", zap.Error(err))
		return empty, err
	}
	if s.Retry.MaxAttempts <= 0 {
		s.Retry = s.Retry.WithDefaults()
	}
	for i := range instruments {
		in := &instruments[i]
		if err := bootstrap.Initialize(ctx, in.Initializer, s.Retry, in.InstanceID, s.mode(), in.ConfigPath, log); err != nil {
			return empty, err
		}
	}
	if obs == nil {
		obs = ObserverFuncs{}
	}

	sess := &session{
		settings: s,
		obs:      obs,
		log:      log,
		balance:  s.InitialBalance,
		ledger:   analysis.NewLedger(),
		report:   &Report{TestID: s.TestID, FirstTime: model.InvalidTime, LastTime: model.InvalidTime},
	}
	sess.book = orderbook.New(s.TestID, s.OrderCapacity, signalRelay{obs: obs}, log)
	if s.RecordExcursions {
		sess.excursions = map[int]*Excursion{}
	}
	for i := range instruments {
		sess.runners = append(sess.runners, newRunner(&instruments[i], s.From, log))
	}

	err := sess.loop(ctx)
	report := sess.complete()
	if err != nil {
		return report, err
	}
	obs.Complete(report)
	return report, nil
}

func validate(s Settings, instruments []Instrument) error {
	if s.InitialBalance <= 0 {
		return fmt.Errorf("%w: initial balance %g", model.ErrConfig, s.InitialBalance)
	}
	if s.To > 0 && s.From > s.To {
		return fmt.Errorf("%w: from %d after to %d", model.ErrConfig, s.From, s.To)
	}
	if len(instruments) == 0 {
		return fmt.Errorf("%w: no instruments", model.ErrConfig)
	}
	seen := map[int]bool{}
	for i := range instruments {
		in := &instruments[i]
		if seen[in.InstanceID] {
			return fmt.Errorf("%w: duplicate instance id %d", model.ErrConfig, in.InstanceID)
		}
		seen[in.InstanceID] = true
		if err := in.validate(); err != nil {
			return err
		}
	}
	return nil
}

// session is the mutable state of one Run.
type session struct {
	settings Settings
	obs      Observer
	log      *zap.Logger

	book    *orderbook.Book
	runners []*runner

	balance float64
	ledger  *analysis.Ledger
	report  *Report

	totalTrades int
	totalLongs  int
	totalShorts int
	cumProfit   float64

	excursions map[int]*Excursion
}

func (s *session) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			s.report.Aborted = true
			s.log.Warn("backtest cancelled", zap.Error(err))
			return err
		}
		r := s.earliest()
		if r == nil {
			return nil
		}
		tk := r.next
		r.hasNext = false
		s.process(r, tk)
		if s.balance <= 0 {
			s.report.Aborted = true
			s.log.Warn("balance depleted, stopping run", zap.Float64("balance", s.balance), zap.Int64("time", tk.Time))
			return nil
		}
		r.fetch()
	}
}

// earliest picks the active instrument whose pending tick is oldest.
func (s *session) earliest() *runner {
	var best *runner
	for _, r := range s.runners {
		if !r.active() || !r.hasNext {
			continue
		}
		if best == nil || r.next.Time < best.next.Time {
			best = r
		}
	}
	return best
}

func (s *session) process(r *runner, tk model.Tick) {
	if err := r.advance(tk); err != nil {
		r.abort(err)
		return
	}
	in := r.inst
	if s.report.FirstTime == model.InvalidTime {
		s.report.FirstTime = tk.Time
	}
	s.report.LastTime = tk.Time

	r.conversion = 1
	if in.Conversion != nil {
		r.conversion = in.Conversion.Rate(tk.Time, tk.Bid, tk.Ask)
	}
	r.floating = s.book.Floating(in.InstanceID, tk.Bid, tk.Ask, in.ContractSize, r.conversion)

	tc := orderbook.TriggerContext{
		InstanceID:   in.InstanceID,
		Bid:          tk.Bid,
		Ask:          tk.Ask,
		Bar:          r.currentBar(),
		Time:         tk.Time,
		ContractSize: in.ContractSize,
		Conversion:   r.conversion,
		Balance:      s.balance,
	}
	s.book.CheckPending(tc)
	res, err := s.book.CheckTPSL(tc)
	if err != nil {
		s.report.Warnings++
	}
	for _, o := range res.Closed {
		s.record(r, o)
	}

	r.lastInterest = s.book.AddInterest(orderbook.InterestRequest{
		InstanceID:   in.InstanceID,
		Time:         tk.Time,
		LastAddition: r.lastInterest,
		ContractSize: in.ContractSize,
		Conversion:   r.conversion,
		SwapLong:     in.SwapLong,
		SwapShort:    in.SwapShort,
	})

	orders := s.book.Orders(in.InstanceID)
	s.trackExcursions(r, orders, tk)
	if s.balance <= 0 || !s.settings.inWindow(tk.Time) {
		r.phase = phaseWaitingTick
		return
	}

	r.phase = phaseStrategyExecution
	results, err := in.Strategy.Run(strategy.Context{
		InstanceID: in.InstanceID,
		Symbol:     in.Symbol,
		Time:       tk.Time,
		Bid:        tk.Bid,
		Ask:        tk.Ask,
		Account:    model.Account{Balance: s.balance, Equity: s.equity()},
		Rates:      r.buffers,
		Orders:     orders,
	})
	if err != nil {
		r.abort(fmt.Errorf("strategy %s: %w", in.Strategy.Name(), err))
		return
	}
	for _, res := range results {
		s.dispatch(r, tk, res)
	}
	r.phase = phaseWaitingTick
}

func (s *session) equity() float64 {
	eq := s.balance
	for _, r := range s.runners {
		eq += r.floating
	}
	return eq
}

// dispatch applies one strategy result: closes first, then stop updates,
// then new orders.
func (s *session) dispatch(r *runner, tk model.Tick, res strategy.Result) {
	in := r.inst
	ticket := res.Ticket
	if ticket == 0 {
		ticket = model.AnyTicket
	}
	for _, sig := range ordered(res.Signals) {
		switch v := sig.(type) {
		case strategy.Close:
			out, err := s.book.Close(orderbook.CloseRequest{
				InstanceID:   in.InstanceID,
				Ticket:       ticket,
				Type:         v.Type,
				Price:        closePrice(v.Type, tk),
				Time:         tk.Time,
				ContractSize: in.ContractSize,
				Conversion:   r.conversion,
				Balance:      s.balance,
			})
			if err != nil {
				s.report.Warnings++
			}
			for _, o := range out.Closed {
				if v.Type.IsPending() {
					s.uncount(v.Type)
					continue
				}
				s.record(r, o)
			}
		case strategy.Update:
			if _, err := s.book.Update(orderbook.UpdateRequest{
				InstanceID:  in.InstanceID,
				Ticket:      ticket,
				Type:        v.Type,
				StopLoss:    res.StopLoss,
				TakeProfit:  res.TakeProfit,
				Bid:         tk.Bid,
				Ask:         tk.Ask,
				MinimumStop: in.MinimumStop,
				Time:        tk.Time,
				Balance:     s.balance,
			}); err != nil {
				s.report.Warnings++
			}
		case strategy.Open:
			price := res.EntryPrice
			if v.Type.IsMarket() {
				price = tk.Ask
				if v.Type == model.Sell {
					price = tk.Bid
				}
			}
			if price <= 0 {
				s.report.Warnings++
				s.log.Warn("pending order without entry price", zap.Int("instance", in.InstanceID), zap.Stringer("type", v.Type))
				continue
			}
			_, err := s.book.Open(orderbook.OpenRequest{
				InstanceID:  in.InstanceID,
				Type:        v.Type,
				Lots:        res.Lots,
				Price:       price,
				StopLoss:    res.StopLoss,
				TakeProfit:  res.TakeProfit,
				MinLotSize:  in.MinLotSize,
				MinimumStop: in.MinimumStop,
				Time:        tk.Time,
				Balance:     s.balance,
			})
			if err != nil {
				s.report.Warnings++
				if errors.Is(err, model.ErrResource) {
					s.log.Error("order not opened", zap.Int("instance", in.InstanceID), zap.Error(err))
				}
				continue
			}
			s.count(v.Type)
		}
	}
}

func ordered(sigs []strategy.Signal) []strategy.Signal {
	out := make([]strategy.Signal, 0, len(sigs))
	for pass := 0; pass < 3; pass++ {
		for _, sig := range sigs {
			var rank int
			switch sig.(type) {
			case strategy.Close:
				rank = 0
			case strategy.Update:
				rank = 1
			default:
				rank = 2
			}
			if rank == pass {
				out = append(out, sig)
			}
		}
	}
	return out
}

func closePrice(t model.OrderType, tk model.Tick) float64 {
	if t.Side() == model.Buy {
		return tk.Bid
	}
	return tk.Ask
}

func (s *session) count(t model.OrderType) {
	s.totalTrades++
	if t.Side() == model.Buy {
		s.totalLongs++
	} else {
		s.totalShorts++
	}
}

// uncount reverses count for a cancelled pending order.
func (s *session) uncount(t model.OrderType) {
	s.totalTrades--
	if t.Side() == model.Buy {
		s.totalLongs--
	} else {
		s.totalShorts--
	}
}

// record books a realised trade into the balance and the ledger.
func (s *session) record(r *runner, o model.Order) {
	pl := o.Profit + o.Swap
	s.balance += pl
	s.cumProfit += pl
	s.ledger.Add(pl, s.balance, o.CloseTime)
	s.report.Ledger = append(s.report.Ledger, LedgerRow{
		Index:      len(s.report.Ledger),
		InstanceID: o.InstanceID,
		Symbol:     r.inst.Symbol,
		Ticket:     o.Ticket,
		Type:       o.Type,
		OpenTime:   o.OpenTime,
		CloseTime:  o.CloseTime,
		OpenPrice:  o.OpenPrice,
		ClosePrice: o.ClosePrice,
		Lots:       o.Lots,
		Profit:     o.Profit,
		Swap:       o.Swap,
		Balance:    s.balance,
		CumProfit:  s.cumProfit,
	})
	if s.excursions != nil {
		if ex, ok := s.excursions[o.Ticket]; ok {
			ex.CloseTime = o.CloseTime
			ex.ClosePrice = o.ClosePrice
			ex.Profit = pl
			s.report.Excursions = append(s.report.Excursions, *ex)
			delete(s.excursions, o.Ticket)
		}
	}
	if !s.settings.Optimization {
		s.obs.Progress(Progress{
			TestID:     s.settings.TestID,
			InstanceID: o.InstanceID,
			Symbol:     r.inst.Symbol,
			Percent:    r.percent(),
			Time:       o.CloseTime,
			Balance:    s.balance,
			Trades:     s.ledger.Len(),
			Order:      o,
		})
	}
}

// trackExcursions widens MAE/MFE of the instance's market orders. With
// synthesized ticks the bar range is used; the ask side adds the spread the
// way the stop checks do. Orders opened on this tick are skipped until the
// next one.
func (s *session) trackExcursions(r *runner, orders []model.Order, tk model.Tick) {
	if s.excursions == nil {
		return
	}
	low, high := tk.Bid, tk.Bid
	if r.synthetic {
		bar := r.currentBar()
		low, high = math.Min(bar.Low, tk.Bid), math.Max(bar.High, tk.Bid)
	}
	spread := tk.Spread()
	for _, o := range orders {
		if !o.Type.IsMarket() {
			continue
		}
		ex, ok := s.excursions[o.Ticket]
		if !ok {
			ex = &Excursion{InstanceID: o.InstanceID, Ticket: o.Ticket, Type: o.Type, OpenTime: o.OpenTime, OpenPrice: o.OpenPrice}
			s.excursions[o.Ticket] = ex
		}
		favourable, adverse := high-o.OpenPrice, o.OpenPrice-low
		if o.Type == model.Sell {
			favourable, adverse = o.OpenPrice-(low+spread), (high+spread)-o.OpenPrice
		}
		if favourable > ex.MFE {
			ex.MFE = favourable
		}
		if adverse > ex.MAE {
			ex.MAE = adverse
		}
	}
}

// complete builds the final report. Orders still open are reported at their
// last mark and left open.
func (s *session) complete() *Report {
	rep := s.report
	byID := map[int]*runner{}
	for _, r := range s.runners {
		byID[r.inst.InstanceID] = r
		if r.phase == phaseAborted {
			rep.AbortedInstances = append(rep.AbortedInstances, r.inst.InstanceID)
		}
	}
	for _, o := range s.book.OpenOrders() {
		r := byID[o.InstanceID]
		pos := OpenPosition{Order: o, Symbol: r.inst.Symbol, MarkTime: r.tick.Time}
		if o.Type.IsMarket() {
			pos.MarkPrice = closePrice(o.Type, r.tick)
			pos.Floating = model.OrderProfit(o, pos.MarkPrice, r.inst.ContractSize, r.conversion) + o.Swap
		}
		rep.Open = append(rep.Open, pos)
		s.log.Info("order still open at end of data",
			zap.Int("instance", o.InstanceID), zap.Int("ticket", o.Ticket),
			zap.Stringer("type", o.Type), zap.Float64("floating", pos.Floating))
	}
	// Cancelled pending orders stay in the book history only.
	for _, o := range s.book.History() {
		if o.Type.IsMarket() {
			rep.Trades = append(rep.Trades, o)
		}
	}

	items := s.ledger.Items()
	ts := analysis.TradeByTrade(items, s.settings.InitialBalance, s.settings.CompoundingDisabled, s.totalTrades)
	end := rep.LastTime
	if s.settings.To > 0 && s.settings.To < end {
		end = s.settings.To
	}
	ws := analysis.Weekly(items, s.settings.InitialBalance, s.settings.CompoundingDisabled, end)

	var durations []float64
	for _, o := range rep.Trades {
		durations = append(durations, float64(o.Duration()))
	}

	rep.Result = model.TestResult{
		TotalTrades:      s.totalTrades,
		TotalLongs:       s.totalLongs,
		TotalShorts:      s.totalShorts,
		FinalBalance:     s.balance,
		MaxDDDepth:       ts.MaxDDDepth,
		MaxDDLength:      ts.MaxDDLength,
		CAGR:             ws.CAGR,
		ProfitFactor:     ts.ProfitFactor,
		R2:               ts.Regression.R2,
		RegressionStd:    ts.Regression.ResidualStd,
		Sharpe:           ws.Sharpe,
		UlcerIndex:       ws.UlcerIndex,
		Martin:           ws.Martin,
		AvgTradeDuration: analysis.Mean(durations),
		WinRate:          ts.WinRate,
		RiskReward:       ts.RiskReward,
		AvgWin:           ts.AvgWin,
		AvgLoss:          ts.AvgLoss,
	}
	return rep
}
