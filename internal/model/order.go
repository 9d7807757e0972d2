package model

import "fmt"

// OrderType is the kind of a simulated order. Market types (Buy, Sell) are
// live positions; the *Limit/*Stop types are pending until triggered.
type OrderType int

const (
	Buy OrderType = iota
	Sell
	BuyLimit
	SellLimit
	BuyStop
	SellStop
)

// AnyTicket matches every ticket in order book lookups.
const AnyTicket = -1

var orderTypeNames = [...]string{"BUY", "SELL", "BUYLIMIT", "SELLLIMIT", "BUYSTOP", "SELLSTOP"}

func (t OrderType) String() string {
	if t < Buy || t > SellStop {
		return fmt.Sprintf("OrderType(%d)", int(t))
	}
	return orderTypeNames[t]
}

// ParseOrderType is the inverse of String.
func ParseOrderType(s string) (OrderType, error) {
	for i, name := range orderTypeNames {
		if name == s {
			return OrderType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown order type %q", s)
}

func (t OrderType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *OrderType) UnmarshalText(b []byte) error {
	v, err := ParseOrderType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

func (t OrderType) IsMarket() bool  { return t == Buy || t == Sell }
func (t OrderType) IsPending() bool { return t >= BuyLimit && t <= SellStop }

// Side collapses pending types onto the market side they fill as.
func (t OrderType) Side() OrderType {
	switch t {
	case Buy, BuyLimit, BuyStop:
		return Buy
	default:
		return Sell
	}
}

// Order is a simulated position or pending order.
// StopLoss and TakeProfit of 0 mean "not set".
type Order struct {
	Ticket     int       `json:"ticket"`
	InstanceID int       `json:"instance_id"`
	Type       OrderType `json:"type"`

	OpenTime  int64 `json:"open_time"`
	CloseTime int64 `json:"close_time"`

	OpenPrice  float64 `json:"open_price"`
	ClosePrice float64 `json:"close_price"`
	Lots       float64 `json:"lots"`

	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`

	Swap   float64 `json:"swap"`
	Profit float64 `json:"profit"`

	IsOpen bool `json:"is_open"`
}

// Duration returns the holding time in seconds of a closed order.
func (o Order) Duration() int64 {
	if o.IsOpen {
		return 0
	}
	return o.CloseTime - o.OpenTime
}

// OrderProfit is the realised profit of closing o at closePrice:
// (close-open)*lots*contractSize*conversion for a BUY, sign-flipped for a SELL
// and zero for pending types. conversion must be the rate at close time.
func OrderProfit(o Order, closePrice, contractSize, conversion float64) float64 {
	switch o.Type {
	case Buy:
		return (closePrice - o.OpenPrice) * o.Lots * contractSize * conversion
	case Sell:
		return (o.OpenPrice - closePrice) * o.Lots * contractSize * conversion
	default:
		return 0
	}
}
