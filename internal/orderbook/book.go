// Package orderbook holds the simulated orders of one backtest run and
// implements their lifecycle: open, modify, close, pending triggers, stop-loss
// and take-profit hits and swap accrual.
//
// A Book belongs to exactly one run. It is not safe for concurrent use and
// must never be shared between runs.
package orderbook

import (
	"fmt"

	"go.uber.org/zap"

	"portfolio-backtest/internal/analysis"
	"portfolio-backtest/internal/model"
)

// DefaultCapacity is the number of simultaneously open orders a Book accepts
// when none is configured.
const DefaultCapacity = 10000

// stopEpsilon absorbs float noise when comparing a stop distance with the
// broker minimum.
const stopEpsilon = 1e-9

// Listener receives every open, modify and close event.
type Listener interface {
	TradeSignal(model.TradeSignal)
}

type Book struct {
	testID   int
	capacity int

	// open keeps live and pending orders in insertion order.
	open []model.Order
	// history keeps closed orders in close order.
	history []model.Order

	counts [2]int
	ticket int
	seq    int

	listener Listener
	log      *zap.Logger
}

// New creates an empty book. listener and log may be nil.
func New(testID, capacity int, listener Listener, log *zap.Logger) *Book {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Book{
		testID:   testID,
		capacity: capacity,
		open:     make([]model.Order, 0, 64),
		listener: listener,
		log:      log,
	}
}

// OpenRequest describes a new market or pending order. Price is the fill
// price for market orders and the requested trigger price for pending ones.
type OpenRequest struct {
	InstanceID int
	Type       model.OrderType
	Lots       float64
	Price      float64
	StopLoss   float64
	TakeProfit float64

	MinLotSize  float64
	MinimumStop float64

	Time int64
	// Balance is reported on the emitted event.
	Balance float64
}

// Open validates and records a new order. A lot size below MinLotSize is
// rejected outright; stops closer than MinimumStop to the entry price are
// dropped with a warning while the order itself goes through.
func (b *Book) Open(req OpenRequest) (model.Order, error) {
	log := b.log.With(zap.Int("instance", req.InstanceID), zap.Stringer("type", req.Type), zap.Int64("time", req.Time))

	if req.Lots < req.MinLotSize || req.Lots <= 0 {
		log.Warn("lot size below minimum, order not opened",
			zap.Float64("lots", req.Lots), zap.Float64("min_lot", req.MinLotSize))
		return model.Order{}, fmt.Errorf("%w: lot size %g below minimum %g", model.ErrOrderRejected, req.Lots, req.MinLotSize)
	}
	if len(b.open) >= b.capacity {
		log.Error("order book full", zap.Int("capacity", b.capacity))
		return model.Order{}, fmt.Errorf("%w: order book capacity %d reached", model.ErrResource, b.capacity)
	}

	sl, tp := req.StopLoss, req.TakeProfit
	if sl != 0 && !stopLossValid(req.Type.Side(), req.Price, sl, req.MinimumStop) {
		log.Warn("stop loss too close to entry, dropped",
			zap.Float64("price", req.Price), zap.Float64("sl", sl), zap.Float64("min_stop", req.MinimumStop))
		sl = 0
	}
	if tp != 0 && !takeProfitValid(req.Type.Side(), req.Price, tp, req.MinimumStop) {
		log.Warn("take profit too close to entry, dropped",
			zap.Float64("price", req.Price), zap.Float64("tp", tp), zap.Float64("min_stop", req.MinimumStop))
		tp = 0
	}

	b.ticket++
	o := model.Order{
		Ticket:     b.ticket,
		InstanceID: req.InstanceID,
		Type:       req.Type,
		OpenTime:   req.Time,
		OpenPrice:  req.Price,
		Lots:       analysis.RoundN(req.Lots, analysis.LotDecimals(req.MinLotSize)),
		StopLoss:   sl,
		TakeProfit: tp,
		IsOpen:     true,
	}
	b.open = append(b.open, o)
	b.counts[req.Type.Side()]++

	b.emit(model.TradeSignal{
		OrderID:    o.Ticket,
		Type:       model.SignalFromOrderType(o.Type),
		Price:      o.OpenPrice,
		Lots:       o.Lots,
		StopLoss:   o.StopLoss,
		TakeProfit: o.TakeProfit,
		Balance:    req.Balance,
		Timestamp:  req.Time,
	})
	log.Debug("order opened", zap.Int("ticket", o.Ticket), zap.Float64("price", o.OpenPrice), zap.Float64("lots", o.Lots))
	return o, nil
}

// UpdateRequest revises stops of every open order matching
// {InstanceID, Ticket or model.AnyTicket, Type}. A zero StopLoss or TakeProfit
// clears that level.
type UpdateRequest struct {
	InstanceID int
	Ticket     int
	Type       model.OrderType
	StopLoss   float64
	TakeProfit float64

	Bid, Ask    float64
	MinimumStop float64

	Time    int64
	Balance float64
}

// Update applies the same minimum distance rule as Open, measured from the
// current closing price for market orders and from the open price for
// pending ones. A rejected level keeps its previous value. It returns the
// number of orders that were modified; when every attempted change was
// rejected the error wraps ErrOrderRejected.
func (b *Book) Update(req UpdateRequest) (int, error) {
	updated, rejected := 0, 0
	for i := range b.open {
		o := &b.open[i]
		if !matches(*o, req.InstanceID, req.Ticket, req.Type) {
			continue
		}
		side := o.Type.Side()
		ref := o.OpenPrice
		if o.Type.IsMarket() {
			ref = closingPrice(side, req.Bid, req.Ask)
		}

		changed := false
		if req.StopLoss != o.StopLoss {
			if req.StopLoss == 0 || stopLossValid(side, ref, req.StopLoss, req.MinimumStop) {
				o.StopLoss = req.StopLoss
				changed = true
			} else {
				rejected++
				b.log.Warn("stop loss modification rejected",
					zap.Int("instance", o.InstanceID), zap.Int("ticket", o.Ticket),
					zap.Float64("attempted", req.StopLoss), zap.Float64("allowed", allowedStopLoss(side, ref, req.MinimumStop)),
					zap.Float64("kept", o.StopLoss))
			}
		}
		if req.TakeProfit != o.TakeProfit {
			if req.TakeProfit == 0 || takeProfitValid(side, ref, req.TakeProfit, req.MinimumStop) {
				o.TakeProfit = req.TakeProfit
				changed = true
			} else {
				rejected++
				b.log.Warn("take profit modification rejected",
					zap.Int("instance", o.InstanceID), zap.Int("ticket", o.Ticket),
					zap.Float64("attempted", req.TakeProfit), zap.Float64("allowed", allowedTakeProfit(side, ref, req.MinimumStop)),
					zap.Float64("kept", o.TakeProfit))
			}
		}
		if !changed {
			continue
		}
		updated++
		b.emit(model.TradeSignal{
			OrderID:    o.Ticket,
			Type:       model.SignalModify,
			Price:      ref,
			Lots:       o.Lots,
			StopLoss:   o.StopLoss,
			TakeProfit: o.TakeProfit,
			Balance:    req.Balance,
			Timestamp:  req.Time,
		})
	}
	if updated == 0 && rejected > 0 {
		return 0, fmt.Errorf("%w: stop levels too close to market", model.ErrOrderRejected)
	}
	return updated, nil
}

// CloseRequest closes every open order matching
// {InstanceID, Ticket or model.AnyTicket, Type} at Price. Conversion is the
// quote-to-account rate at close time.
type CloseRequest struct {
	InstanceID int
	Ticket     int
	Type       model.OrderType
	Price      float64
	Time       int64

	ContractSize float64
	Conversion   float64

	Balance float64
}

// CloseResult lists the orders a close or trigger pass realised.
type CloseResult struct {
	Closed []model.Order
	// Profit is the sum of profit plus swap over Closed.
	Profit float64
}

// Close realises matching orders. An order whose open time is after the
// close time is left open; if that leaves nothing closed the call fails with
// ErrOrderRejected.
func (b *Book) Close(req CloseRequest) (CloseResult, error) {
	var res CloseResult
	rejected := 0
	for i := 0; i < len(b.open); {
		o := b.open[i]
		if !matches(o, req.InstanceID, req.Ticket, req.Type) {
			i++
			continue
		}
		if req.Time < o.OpenTime {
			rejected++
			b.log.Warn("close before open rejected",
				zap.Int("instance", o.InstanceID), zap.Int("ticket", o.Ticket),
				zap.Int64("open_time", o.OpenTime), zap.Int64("close_time", req.Time))
			i++
			continue
		}
		profit := model.OrderProfit(o, req.Price, req.ContractSize, req.Conversion)
		closed := b.realise(i, req.Price, req.Time, profit)
		res.Closed = append(res.Closed, closed)
		res.Profit += closed.Profit + closed.Swap
		b.emit(model.TradeSignal{
			OrderID:    closed.Ticket,
			Type:       model.SignalClose,
			Price:      closed.ClosePrice,
			Lots:       closed.Lots,
			StopLoss:   closed.StopLoss,
			TakeProfit: closed.TakeProfit,
			Profit:     closed.Profit + closed.Swap,
			Balance:    req.Balance + res.Profit,
			Timestamp:  req.Time,
		})
	}
	if len(res.Closed) == 0 && rejected > 0 {
		return res, fmt.Errorf("%w: %d order(s) opened after close time %d", model.ErrOrderRejected, rejected, req.Time)
	}
	return res, nil
}

// realise marks the order at index i closed, removes it from the open list
// keeping the relative order of the rest and appends it to the history.
func (b *Book) realise(i int, price float64, t int64, profit float64) model.Order {
	o := b.open[i]
	o.ClosePrice = price
	o.CloseTime = t
	o.Profit = profit
	o.IsOpen = false

	copy(b.open[i:], b.open[i+1:])
	b.open[len(b.open)-1] = model.Order{}
	b.open = b.open[:len(b.open)-1]

	b.counts[o.Type.Side()]--
	b.history = append(b.history, o)
	return o
}

func (b *Book) emit(s model.TradeSignal) {
	if b.listener == nil {
		return
	}
	b.seq++
	s.Sequence = b.seq
	s.TestID = b.testID
	b.listener.TradeSignal(s)
}

// Count returns the number of open orders (live or pending) on side, which
// must be model.Buy or model.Sell.
func (b *Book) Count(side model.OrderType) int { return b.counts[side.Side()] }

// Len is the number of open orders.
func (b *Book) Len() int { return len(b.open) }

// Orders returns a copy of the open orders of one instance.
func (b *Book) Orders(instanceID int) []model.Order {
	out := make([]model.Order, 0, len(b.open))
	for _, o := range b.open {
		if o.InstanceID == instanceID {
			out = append(out, o)
		}
	}
	return out
}

// OpenOrders returns a copy of every open order.
func (b *Book) OpenOrders() []model.Order {
	return append([]model.Order(nil), b.open...)
}

// History returns a copy of the closed orders.
func (b *Book) History() []model.Order {
	return append([]model.Order(nil), b.history...)
}

// Floating is the mark-to-market profit plus swap of an instance's market
// orders.
func (b *Book) Floating(instanceID int, bid, ask, contractSize, conversion float64) float64 {
	total := 0.0
	for _, o := range b.open {
		if o.InstanceID != instanceID || !o.Type.IsMarket() {
			continue
		}
		total += model.OrderProfit(o, closingPrice(o.Type, bid, ask), contractSize, conversion) + o.Swap
	}
	return total
}

func matches(o model.Order, instanceID, ticket int, t model.OrderType) bool {
	return o.InstanceID == instanceID && o.Type == t && (ticket == model.AnyTicket || o.Ticket == ticket)
}

// closingPrice is the side of the quote a position closes at.
func closingPrice(side model.OrderType, bid, ask float64) float64 {
	if side.Side() == model.Buy {
		return bid
	}
	return ask
}

func stopLossValid(side model.OrderType, ref, sl, minStop float64) bool {
	if side == model.Buy {
		return ref-sl >= minStop-stopEpsilon
	}
	return sl-ref >= minStop-stopEpsilon
}

func takeProfitValid(side model.OrderType, ref, tp, minStop float64) bool {
	if side == model.Buy {
		return tp-ref >= minStop-stopEpsilon
	}
	return ref-tp >= minStop-stopEpsilon
}

func allowedStopLoss(side model.OrderType, ref, minStop float64) float64 {
	if side == model.Buy {
		return ref - minStop
	}
	return ref + minStop
}

func allowedTakeProfit(side model.OrderType, ref, minStop float64) float64 {
	if side == model.Buy {
		return ref + minStop
	}
	return ref - minStop
}
