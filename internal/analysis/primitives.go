// Package analysis turns the trade ledger of a backtest into performance
// statistics.
package analysis

import (
	"math"

	"github.com/shopspring/decimal"
)

// StdDev is the sample standard deviation (n-1 denominator).
// It returns 0 for fewer than two values.
func StdDev(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	m := Mean(xs)
	ss := 0.0
	for _, x := range xs {
		d := x - m
		ss += d * d
	}
	return math.Sqrt(ss / float64(n-1))
}

func Mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range xs {
		s += x
	}
	return s / float64(len(xs))
}

// RoundN rounds x to n decimals, half away from zero. The value goes through
// its shortest decimal representation, so 0.125 rounds to 0.13 even though its
// binary form is slightly below.
func RoundN(x float64, n int) float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return x
	}
	f, _ := decimal.NewFromFloat(x).Round(int32(n)).Float64()
	return f
}

// LotDecimals is the number of decimals implied by a minimum lot size:
// 0.01 -> 2, 0.1 -> 1, 1 -> 0.
func LotDecimals(minLot float64) int {
	if minLot <= 0 || math.IsNaN(minLot) || math.IsInf(minLot, 0) {
		return 0
	}
	exp := decimal.NewFromFloat(minLot).Exponent()
	if exp >= 0 {
		return 0
	}
	return int(-exp)
}
