package orderbook

import (
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"portfolio-backtest/internal/model"
	"portfolio-backtest/internal/timeutil"
)

// TriggerContext is the market state a trigger pass is evaluated against.
// Bar is the current, possibly still forming, base timeframe bar.
type TriggerContext struct {
	InstanceID int
	Bid, Ask   float64
	Bar        model.Bar
	Time       int64

	ContractSize float64
	Conversion   float64

	Balance float64
}

// extremes returns the bid-side low and high an order may have seen. Orders
// opened inside the current bar only saw the current price.
func (tc TriggerContext) extremes(o model.Order) (low, high float64) {
	if o.OpenTime >= tc.Bar.Time {
		return tc.Bid, tc.Bid
	}
	return math.Min(tc.Bar.Low, tc.Bid), math.Max(tc.Bar.High, tc.Bid)
}

// CheckTPSL closes the instance's market orders whose stop loss or take
// profit was reached. The stop loss wins when both were touched. Fills happen
// at the level, or at the current price when it has already moved past a stop.
func (b *Book) CheckTPSL(tc TriggerContext) (CloseResult, error) {
	var res CloseResult
	rejected := 0
	spread := tc.Ask - tc.Bid

	for i := 0; i < len(b.open); {
		o := b.open[i]
		if o.InstanceID != tc.InstanceID || !o.Type.IsMarket() || (o.StopLoss == 0 && o.TakeProfit == 0) {
			i++
			continue
		}
		low, high := tc.extremes(o)

		price, hit := 0.0, false
		if o.Type == model.Buy {
			switch {
			case o.StopLoss != 0 && low <= o.StopLoss:
				price, hit = math.Min(o.StopLoss, tc.Bid), true
			case o.TakeProfit != 0 && high >= o.TakeProfit:
				price, hit = o.TakeProfit, true
			}
		} else {
			lowAsk, highAsk := low+spread, high+spread
			switch {
			case o.StopLoss != 0 && highAsk >= o.StopLoss:
				price, hit = math.Max(o.StopLoss, tc.Ask), true
			case o.TakeProfit != 0 && lowAsk <= o.TakeProfit:
				price, hit = o.TakeProfit, true
			}
		}
		if !hit {
			i++
			continue
		}
		if tc.Time < o.OpenTime {
			rejected++
			b.log.Warn("stop hit before open time, order kept",
				zap.Int("instance", o.InstanceID), zap.Int("ticket", o.Ticket),
				zap.Int64("open_time", o.OpenTime), zap.Int64("close_time", tc.Time))
			i++
			continue
		}

		profit := model.OrderProfit(o, price, tc.ContractSize, tc.Conversion)
		closed := b.realise(i, price, tc.Time, profit)
		res.Closed = append(res.Closed, closed)
		res.Profit += closed.Profit + closed.Swap

		kind := model.SignalCloseSL
		if closed.Profit > 0 {
			kind = model.SignalCloseTP
		}
		b.emit(model.TradeSignal{
			OrderID:    closed.Ticket,
			Type:       kind,
			Price:      closed.ClosePrice,
			Lots:       closed.Lots,
			StopLoss:   closed.StopLoss,
			TakeProfit: closed.TakeProfit,
			Profit:     closed.Profit + closed.Swap,
			Balance:    tc.Balance + res.Profit,
			Timestamp:  tc.Time,
		})
	}
	if len(res.Closed) == 0 && rejected > 0 {
		return res, fmt.Errorf("%w: %d stop(s) hit before open time", model.ErrOrderRejected, rejected)
	}
	return res, nil
}

// CheckPending converts the instance's pending orders whose trigger price was
// crossed into market orders filled at the requested price. It returns the
// converted orders.
func (b *Book) CheckPending(tc TriggerContext) []model.Order {
	var filled []model.Order
	for i := range b.open {
		o := &b.open[i]
		if o.InstanceID != tc.InstanceID || !o.Type.IsPending() {
			continue
		}
		low, high := tc.extremes(*o)
		var trigger bool
		switch o.Type {
		case model.BuyLimit, model.SellStop:
			trigger = low < o.OpenPrice
		case model.BuyStop, model.SellLimit:
			trigger = high > o.OpenPrice
		}
		if !trigger {
			continue
		}
		b.log.Debug("pending order triggered",
			zap.Int("instance", o.InstanceID), zap.Int("ticket", o.Ticket),
			zap.Stringer("type", o.Type), zap.Float64("price", o.OpenPrice))
		o.Type = o.Type.Side()
		o.OpenTime = tc.Time
		filled = append(filled, *o)
	}
	return filled
}

// InterestRequest carries the swap parameters of one instrument. SwapLong and
// SwapShort are annual rates in percent.
type InterestRequest struct {
	InstanceID int
	Time       int64
	// LastAddition is the time of the previous accrual.
	LastAddition int64

	ContractSize float64
	Conversion   float64
	SwapLong     float64
	SwapShort    float64
}

// AddInterest accrues one hour of swap on every open market order of the
// instance once more than an hour has passed since LastAddition. Wednesday
// accruals count triple. It returns the new last-addition time.
func (b *Book) AddInterest(req InterestRequest) int64 {
	if req.Time-req.LastAddition <= timeutil.SecondsPerHour {
		return req.LastAddition
	}
	mult := 1.0
	if timeutil.Weekday(req.Time) == time.Wednesday {
		mult = 3
	}
	for i := range b.open {
		o := &b.open[i]
		if o.InstanceID != req.InstanceID || !o.Type.IsMarket() {
			continue
		}
		rate := req.SwapLong
		if o.Type == model.Sell {
			rate = req.SwapShort
		}
		o.Swap += o.Lots * req.ContractSize * o.OpenPrice * rate / 100 / 8760 * req.Conversion * mult
	}
	return req.Time
}
