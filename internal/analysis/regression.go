package analysis

import "math"

// Regression is an ordinary least squares fit y = Intercept + Slope*x.
type Regression struct {
	Slope     float64
	Intercept float64
	// R2 is floored at 0 and is 0 when either series has no variance.
	R2 float64
	// ResidualStd is the sample standard deviation of y - fit(x).
	ResidualStd float64
}

func LinearRegression(xs, ys []float64) Regression {
	n := len(xs)
	if n == 0 || n != len(ys) {
		return Regression{}
	}
	mx, my := Mean(xs), Mean(ys)
	var sxx, syy, sxy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}
	r := Regression{Intercept: my}
	if sxx == 0 {
		return r
	}
	r.Slope = sxy / sxx
	r.Intercept = my - r.Slope*mx
	if syy > 0 {
		r.R2 = (sxy * sxy) / (sxx * syy)
		if r.R2 < 0 || math.IsNaN(r.R2) {
			r.R2 = 0
		}
		if r.R2 > 1 {
			r.R2 = 1
		}
	}
	res := make([]float64, n)
	for i := range xs {
		res[i] = ys[i] - (r.Intercept + r.Slope*xs[i])
	}
	r.ResidualStd = StdDev(res)
	return r
}
