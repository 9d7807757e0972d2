package backtest

import "portfolio-backtest/internal/model"

// Progress is reported after every realised trade. Percent is how far the
// instrument that closed the trade has moved through its bars, 0 to 100.
type Progress struct {
	TestID     int         `json:"test_id"`
	InstanceID int         `json:"instance_id"`
	Symbol     string      `json:"symbol"`
	Percent    float64     `json:"percent"`
	Time       int64       `json:"time"`
	Balance    float64     `json:"balance"`
	Trades     int         `json:"trades"`
	Order      model.Order `json:"order"`
}

// Observer receives run events. It is held only for the duration of Run and
// called from the goroutine executing it.
type Observer interface {
	Progress(Progress)
	Signal(model.TradeSignal)
	Complete(*Report)
}

// ObserverFuncs adapts optional callbacks to Observer.
type ObserverFuncs struct {
	OnProgress func(Progress)
	OnSignal   func(model.TradeSignal)
	OnComplete func(*Report)
}

func (o ObserverFuncs) Progress(p Progress) {
	if o.OnProgress != nil {
		o.OnProgress(p)
	}
}

func (o ObserverFuncs) Signal(s model.TradeSignal) {
	if o.OnSignal != nil {
		o.OnSignal(s)
	}
}

func (o ObserverFuncs) Complete(r *Report) {
	if o.OnComplete != nil {
		o.OnComplete(r)
	}
}

// signalRelay forwards order book events to the observer.
type signalRelay struct{ obs Observer }

func (s signalRelay) TradeSignal(sig model.TradeSignal) { s.obs.Signal(sig) }
