package strategy

import (
	"portfolio-backtest/internal/model"
)

// Context is what a strategy sees on every tick of one instance.
type Context struct {
	InstanceID int
	Symbol     string
	Time       int64
	Bid        float64
	Ask        float64
	Account    model.Account

	// Rates holds one buffer per timeframe, oldest bar first. The last bar of
	// each buffer is the one still forming.
	Rates [][]model.Bar

	// Orders are this instance's open and pending orders.
	Orders []model.Order
}

// Closes returns the close prices of timeframe tf.
func (c Context) Closes(tf int) []float64 {
	if tf < 0 || tf >= len(c.Rates) {
		return nil
	}
	out := make([]float64, len(c.Rates[tf]))
	for i, b := range c.Rates[tf] {
		out[i] = b.Close
	}
	return out
}

// CountOrders counts this instance's orders of type t.
func (c Context) CountOrders(t model.OrderType) int {
	n := 0
	for _, o := range c.Orders {
		if o.Type == t {
			n++
		}
	}
	return n
}

// Result is one instruction slot. Lots and EntryPrice apply to Open signals,
// StopLoss and TakeProfit to Open and Update signals, Ticket to Close and
// Update (model.AnyTicket for all matching orders).
type Result struct {
	Lots       float64
	EntryPrice float64
	StopLoss   float64
	TakeProfit float64
	Ticket     int
	Signals    []Signal
}

type Strategy interface {
	Name() string
	Run(ctx Context) ([]Result, error)
}

// Signal is one of Open, Close or Update.
type Signal interface {
	OrderType() model.OrderType
	signal()
}

type Open struct{ Type model.OrderType }
type Close struct{ Type model.OrderType }
type Update struct{ Type model.OrderType }

func (s Open) OrderType() model.OrderType   { return s.Type }
func (s Close) OrderType() model.OrderType  { return s.Type }
func (s Update) OrderType() model.OrderType { return s.Type }

func (Open) signal()   {}
func (Close) signal()  {}
func (Update) signal() {}

// Legacy bitmask layout: one bit per order type, shifted by 0 for open, 8 for
// close and 16 for update.
const (
	maskOpenShift   = 0
	maskCloseShift  = 8
	maskUpdateShift = 16
)

// DecodeMask converts a legacy signal bitmask. Signals come back grouped as
// closes, then updates, then opens, each in order type order.
func DecodeMask(mask uint32) []Signal {
	var out []Signal
	for t := model.Buy; t <= model.SellStop; t++ {
		if mask&(1<<(maskCloseShift+uint(t))) != 0 {
			out = append(out, Close{Type: t})
		}
	}
	for t := model.Buy; t <= model.SellStop; t++ {
		if mask&(1<<(maskUpdateShift+uint(t))) != 0 {
			out = append(out, Update{Type: t})
		}
	}
	for t := model.Buy; t <= model.SellStop; t++ {
		if mask&(1<<(maskOpenShift+uint(t))) != 0 {
			out = append(out, Open{Type: t})
		}
	}
	return out
}

// EncodeMask is the inverse of DecodeMask.
func EncodeMask(signals []Signal) uint32 {
	var mask uint32
	for _, s := range signals {
		shift := maskOpenShift
		switch s.(type) {
		case Close:
			shift = maskCloseShift
		case Update:
			shift = maskUpdateShift
		}
		mask |= 1 << (uint(shift) + uint(s.OrderType()))
	}
	return mask
}
