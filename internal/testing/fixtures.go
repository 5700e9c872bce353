package testing

import "math"

// SampleLogReturns is a short, mixed-sign daily log-return series.
var SampleLogReturns = []float64{0.01, -0.02, 0.015, 0.005, -0.01, 0.02}

// PricesFromLogReturns compounds returns from start into a chronological price
// series of len(returns)+1 values.
func PricesFromLogReturns(start float64, returns []float64) []float64 {
	prices := make([]float64, len(returns)+1)
	prices[0] = start
	for i, r := range returns {
		prices[i+1] = prices[i] * math.Exp(r)
	}
	return prices
}

// RepeatReturns concatenates returns n times.
func RepeatReturns(returns []float64, n int) []float64 {
	out := make([]float64, 0, len(returns)*n)
	for i := 0; i < n; i++ {
		out = append(out, returns...)
	}
	return out
}
