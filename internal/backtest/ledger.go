package backtest

import (
	"portfolio-backtest/internal/model"
)

// LedgerRow is one realised trade, in close-time order.
// This is the primary artifact for "what happened" in a backtest.
type LedgerRow struct {
	Index      int             `json:"index"`
	InstanceID int             `json:"instance_id"`
	Symbol     string          `json:"symbol"`
	Ticket     int             `json:"ticket"`
	Type       model.OrderType `json:"type"`

	OpenTime  int64 `json:"open_time"`
	CloseTime int64 `json:"close_time"`

	OpenPrice  float64 `json:"open_price"`
	ClosePrice float64 `json:"close_price"`
	Lots       float64 `json:"lots"`

	Profit float64 `json:"profit"`
	Swap   float64 `json:"swap"`

	Balance   float64 `json:"balance"`
	CumProfit float64 `json:"cum_profit"`
}

// Excursion is the maximum adverse and favourable price movement a trade saw
// while open, in price units.
type Excursion struct {
	InstanceID int             `json:"instance_id"`
	Ticket     int             `json:"ticket"`
	Type       model.OrderType `json:"type"`
	OpenTime   int64           `json:"open_time"`
	CloseTime  int64           `json:"close_time"`
	OpenPrice  float64         `json:"open_price"`
	ClosePrice float64         `json:"close_price"`
	MAE        float64         `json:"mae"`
	MFE        float64         `json:"mfe"`
	Profit     float64         `json:"profit"`
}

// OpenPosition is an order still open when the data ran out, marked to the
// last price seen.
type OpenPosition struct {
	Order     model.Order `json:"order"`
	Symbol    string      `json:"symbol"`
	MarkPrice float64     `json:"mark_price"`
	MarkTime  int64       `json:"mark_time"`
	Floating  float64     `json:"floating"`
}

type Report struct {
	TestID int
	Result model.TestResult

	Ledger     []LedgerRow
	// Trades are the closed market orders. Cancelled pending orders are left out.
	Trades     []model.Order
	Open       []OpenPosition
	Excursions []Excursion

	// Aborted is set when the balance was wiped out or the run was cancelled.
	Aborted          bool
	AbortedInstances []int
	// Warnings counts rejected order operations.
	Warnings int

	FirstTime int64
	LastTime  int64
}
