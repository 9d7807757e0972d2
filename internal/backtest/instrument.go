package backtest

import (
	"errors"
	"fmt"
	"io"

	"go.uber.org/zap"

	"portfolio-backtest/internal/bootstrap"
	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/strategy"
)

// TickSource feeds bid/ask quotes in time order and returns io.EOF at the end.
type TickSource interface {
	Next() (model.Tick, error)
}

// Instrument is one strategy instance trading one symbol.
type Instrument struct {
	InstanceID  int
	Symbol      string
	Strategy    strategy.Strategy
	Initializer bootstrap.Initializer
	ConfigPath  string

	// Timeframes holds up to model.MaxTimeframes ascending bar series. Index 0
	// is the base timeframe that drives the bar cursor.
	Timeframes [][]model.Bar
	// Ticks replaces the synthesized one-tick-per-base-bar feed when set.
	Ticks TickSource
	// Conversion turns quote currency profit into account currency. Nil
	// means a rate of 1.
	Conversion Converter

	ContractSize float64
	MinLotSize   float64
	MinimumStop  float64
	// Spread is added to the bar close to form the ask of synthesized ticks.
	Spread    float64
	SwapLong  float64
	SwapShort float64
	// BufferSize is the number of bars per timeframe handed to the strategy,
	// the forming bar included.
	BufferSize int
}

func (in *Instrument) validate() error {
	switch {
	case in.Strategy == nil:
		return fmt.Errorf("%w: instance %d has no strategy", model.ErrConfig, in.InstanceID)
	case len(in.Timeframes) == 0 || len(in.Timeframes) > model.MaxTimeframes:
		return fmt.Errorf("%w: instance %d needs 1..%d timeframes, got %d", model.ErrConfig, in.InstanceID, model.MaxTimeframes, len(in.Timeframes))
	case in.BufferSize < 1:
		return fmt.Errorf("%w: instance %d buffer size %d", model.ErrConfig, in.InstanceID, in.BufferSize)
	case in.ContractSize <= 0:
		return fmt.Errorf("%w: instance %d contract size %g", model.ErrConfig, in.InstanceID, in.ContractSize)
	case in.MinLotSize <= 0:
		return fmt.Errorf("%w: instance %d min lot size %g", model.ErrConfig, in.InstanceID, in.MinLotSize)
	case in.MinimumStop < 0 || in.Spread < 0:
		return fmt.Errorf("%w: instance %d negative minimum stop or spread", model.ErrConfig, in.InstanceID)
	}
	return nil
}

type phase int

const (
	phaseWaitingTick phase = iota
	phaseBarAdvance
	phaseStrategyExecution
	phaseFinished
	phaseAborted
)

func (p phase) String() string {
	return [...]string{"waiting_tick", "bar_advance", "strategy_execution", "finished", "aborted"}[p]
}

// barUpdate is the price movement a tick contributes to the forming bars.
type barUpdate struct {
	high, low, close, volume float64
}

// runner walks one instrument through its data.
type runner struct {
	inst  *Instrument
	log   *zap.Logger
	phase phase
	err   error

	tfs   [][]model.Bar
	base  []model.Bar
	start int
	// last is the last base bar a tick may belong to (numCandles-2).
	last int

	cursor  int
	tfIdx   []int
	buffers [][]model.Bar

	synthetic bool
	synth     int
	next      model.Tick
	hasNext   bool
	tick      model.Tick

	conversion   float64
	floating     float64
	lastInterest int64
}

func newRunner(in *Instrument, from int64, log *zap.Logger) *runner {
	r := &runner{
		inst:       in,
		log:        log.With(zap.Int("instance", in.InstanceID), zap.String("symbol", in.Symbol)),
		cursor:     -1,
		synthetic:  in.Ticks == nil,
		conversion: 1,
	}
	if err := r.prepare(from); err != nil {
		r.abort(err)
		return r
	}
	r.fetch()
	return r
}

// prepare cuts every series at its first invalid bar and finds the first
// base bar at which every timeframe can fill a full buffer.
func (r *runner) prepare(from int64) error {
	r.tfs = make([][]model.Bar, len(r.inst.Timeframes))
	for k, tf := range r.inst.Timeframes {
		n := len(tf)
		for i, b := range tf {
			if !b.Valid() {
				n = i
				break
			}
			if i > 0 && b.Time <= tf[i-1].Time {
				return fmt.Errorf("%w: timeframe %d bar %d time %d not ascending", model.ErrData, k, i, b.Time)
			}
		}
		r.tfs[k] = tf[:n]
	}
	r.base = r.tfs[0]
	if len(r.base) < 2 {
		return fmt.Errorf("%w: base timeframe has %d bars", model.ErrData, len(r.base))
	}
	r.last = len(r.base) - 2

	need := r.inst.BufferSize - 1
	idx := make([]int, len(r.tfs))
	for k := range idx {
		idx[k] = -1
	}
	r.start = -1
	for i := 0; i <= r.last; i++ {
		t := r.base[i].Time
		ok := true
		for k, tf := range r.tfs {
			for idx[k]+1 < len(tf) && tf[idx[k]+1].Time <= t {
				idx[k]++
			}
			if idx[k] < need {
				ok = false
			}
		}
		if ok && (from <= 0 || i == r.last || r.base[i+1].Time > from) {
			r.start = i
			break
		}
	}
	if r.start < 0 {
		return fmt.Errorf("%w: not enough history for a buffer of %d bars", model.ErrData, r.inst.BufferSize)
	}

	r.tfIdx = make([]int, len(r.tfs))
	r.buffers = make([][]model.Bar, len(r.tfs))
	for k := range r.tfIdx {
		r.tfIdx[k] = -1
		r.buffers[k] = make([]model.Bar, 0, r.inst.BufferSize)
	}
	r.synth = r.start
	r.phase = phaseWaitingTick
	return nil
}

func (r *runner) active() bool { return r.phase != phaseFinished && r.phase != phaseAborted }

func (r *runner) abort(err error) {
	r.phase = phaseAborted
	r.err = err
	r.hasNext = false
	r.log.Error("instrument aborted", zap.Int("bar", r.cursor), zap.Error(err))
}

func (r *runner) finish() {
	if r.phase == phaseAborted {
		return
	}
	r.phase = phaseFinished
	r.hasNext = false
}

// fetch loads the next tick. Ticks before the first usable bar are skipped and
// a tick at or after the open of the final bar ends the instrument.
func (r *runner) fetch() {
	if !r.active() {
		return
	}
	if r.synthetic {
		if r.synth > r.last {
			r.finish()
			return
		}
		b := r.base[r.synth]
		r.next = model.Tick{Time: b.Time, Bid: b.Close, Ask: b.Close + r.inst.Spread}
		r.synth++
		r.hasNext = true
		return
	}
	for {
		tk, err := r.inst.Ticks.Next()
		if errors.Is(err, io.EOF) {
			r.finish()
			return
		}
		if err != nil {
			r.abort(err)
			return
		}
		if tk.Time < r.base[r.start].Time {
			continue
		}
		if tk.Time >= r.base[r.last+1].Time {
			r.finish()
			return
		}
		r.next = tk
		r.hasNext = true
		return
	}
}

// advance moves the bar cursor to the bar containing tk and refreshes the
// rolling buffers: rebuilt when a timeframe starts a new bar, otherwise the
// forming bar is updated in place.
func (r *runner) advance(tk model.Tick) error {
	r.phase = phaseBarAdvance
	r.tick = tk

	c := r.cursor
	if c < r.start {
		c = r.start
	}
	for c+1 <= r.last && tk.Time >= r.base[c+1].Time {
		c++
	}
	if tk.Time < r.base[c].Time {
		return fmt.Errorf("%w: tick %d before bar %d open %d", model.ErrData, tk.Time, c, r.base[c].Time)
	}
	r.cursor = c

	u := barUpdate{high: tk.Bid, low: tk.Bid, close: tk.Bid, volume: 1}
	if r.synthetic {
		b := r.base[c]
		u = barUpdate{high: b.High, low: b.Low, close: b.Close, volume: b.Volume}
	}

	need := r.inst.BufferSize - 1
	for k, tf := range r.tfs {
		j := r.tfIdx[k]
		for j+1 < len(tf) && tf[j+1].Time <= tk.Time {
			j++
		}
		if j < need {
			return fmt.Errorf("%w: timeframe %d index %d below buffer size %d", model.ErrData, k, j, r.inst.BufferSize)
		}
		if j != r.tfIdx[k] {
			buf := append(r.buffers[k][:0], tf[j-need:j]...)
			r.buffers[k] = append(buf, forming(tf[j], u))
			r.tfIdx[k] = j
			continue
		}
		cur := &r.buffers[k][len(r.buffers[k])-1]
		if u.high > cur.High {
			cur.High = u.high
		}
		if u.low < cur.Low {
			cur.Low = u.low
		}
		cur.Close = u.close
		cur.Volume += u.volume
	}
	return nil
}

// forming starts a bar from its known open and the first update seen in it.
func forming(b model.Bar, u barUpdate) model.Bar {
	f := model.Bar{Time: b.Time, Open: b.Open, High: b.Open, Low: b.Open, Close: u.close, Volume: u.volume}
	if u.high > f.High {
		f.High = u.high
	}
	if u.low < f.Low {
		f.Low = u.low
	}
	return f
}

// percent is the share of the tradable bars start..last the cursor has
// reached.
func (r *runner) percent() float64 {
	if r.last <= r.start || r.cursor >= r.last {
		return 100
	}
	if r.cursor <= r.start {
		return 0
	}
	return 100 * float64(r.cursor-r.start) / float64(r.last-r.start)
}

// currentBar is the forming base timeframe bar.
func (r *runner) currentBar() model.Bar {
	return r.buffers[0][len(r.buffers[0])-1]
}
