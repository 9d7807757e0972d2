package backtest

import "portfolio-backtest/internal/data"

// Converter yields the quote-to-account currency rate at time t. bid and ask
// are the instrument's own current prices.
type Converter interface {
	Rate(t int64, bid, ask float64) float64
}

// FixedRate is a constant conversion; zero or negative means 1.
type FixedRate float64

func (f FixedRate) Rate(int64, float64, float64) float64 {
	if f <= 0 {
		return 1
	}
	return float64(f)
}

// InverseRate converts with the instrument's own price, for pairs quoted in
// units of the account currency's counterpart (USDJPY on a USD account).
type InverseRate struct{}

func (InverseRate) Rate(_ int64, bid, _ float64) float64 {
	if bid <= 0 {
		return 1
	}
	return 1 / bid
}

// SeriesRate looks the rate up in a quote file.
type SeriesRate struct {
	Series *data.QuoteSeries
	Invert bool
}

func (s SeriesRate) Rate(t int64, _, _ float64) float64 {
	if s.Series == nil {
		return 1
	}
	rate, _ := s.Series.At(t)
	if rate <= 0 {
		return 1
	}
	if s.Invert {
		return 1 / rate
	}
	return rate
}
