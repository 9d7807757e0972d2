package model

// InvalidTime marks a bar whose timestamp could not be read. The driver stops
// an instrument when it reaches one.
const InvalidTime int64 = -1

// Bar is one OHLCV candle. Time is the bar open in broker epoch seconds.
// Prices are bid prices.
type Bar struct {
	Time   int64   `json:"time"`
	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`
}

func (b Bar) Valid() bool { return b.Time != InvalidTime }

// Tick is a single bid/ask quote.
type Tick struct {
	Time int64
	Bid  float64
	Ask  float64
}

func (t Tick) Spread() float64 { return t.Ask - t.Bid }

// Quote is one row of a currency conversion series.
type Quote struct {
	Time int64
	Rate float64
}

// MaxTimeframes is the number of rate buffers handed to a strategy.
const MaxTimeframes = 10
