package model

// SignalType is the kind of trade event reported to observers.
// Keep these values stable; they are intended for CSV and JSON output.
type SignalType string

const (
	SignalBuy     SignalType = "BUY"
	SignalSell    SignalType = "SELL"
	SignalModify  SignalType = "MODIFY"
	SignalClose   SignalType = "CLOSE"
	SignalCloseTP SignalType = "CLOSE_TP"
	SignalCloseSL SignalType = "CLOSE_SL"
)

// SignalFromOrderType maps an opened order onto its event type.
func SignalFromOrderType(t OrderType) SignalType {
	if t.Side() == Buy {
		return SignalBuy
	}
	return SignalSell
}

// TradeSignal is emitted on every open, modify and close.
type TradeSignal struct {
	Sequence   int        `json:"sequence"`
	OrderID    int        `json:"order_id"`
	Type       SignalType `json:"type"`
	Price      float64    `json:"price"`
	Lots       float64    `json:"lots"`
	StopLoss   float64    `json:"sl"`
	TakeProfit float64    `json:"tp"`
	Profit     float64    `json:"profit"`
	Balance    float64    `json:"balance"`
	Timestamp  int64      `json:"timestamp"`
	TestID     int        `json:"test_id"`
}
