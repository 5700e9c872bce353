// Package formulas holds the small statistical helpers shared by the simulation
// and optimization modules.
package formulas

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Mean calculates the arithmetic mean of a slice of float64 values
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	return stat.Mean(data, nil)
}

// PopulationMeanVariance returns the mean and the population variance
// (divisor n, not n-1) of data.
//
// A flat series reports a variance of exactly zero even when the floating point
// mean differs from the values in the last bit.
func PopulationMeanVariance(data []float64) (float64, float64) {
	switch len(data) {
	case 0:
		return 0, 0
	case 1:
		return data[0], 0
	}

	if IsFlat(data) {
		return data[0], 0
	}

	mean, variance := stat.PopMeanVariance(data, nil)
	if variance < 0 || math.IsNaN(variance) {
		variance = 0
	}
	return mean, variance
}

// PopulationStdDev returns the population standard deviation of data.
func PopulationStdDev(data []float64) float64 {
	_, variance := PopulationMeanVariance(data)
	return math.Sqrt(variance)
}

// IsFlat reports whether every element of data is identical.
func IsFlat(data []float64) bool {
	if len(data) == 0 {
		return true
	}
	return floats.Max(data) == floats.Min(data)
}

// LogReturns converts a chronological price series into log-returns:
// r[i] = ln(p[i+1]) - ln(p[i]).
func LogReturns(prices []float64) ([]float64, error) {
	if len(prices) < 2 {
		return []float64{}, nil
	}

	for i, p := range prices {
		if p <= 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, fmt.Errorf("price at index %d is not a positive finite value: %v", i, p)
		}
	}

	logPrices := talib.Ln(prices)
	returns := make([]float64, len(prices)-1)
	for i := 1; i < len(logPrices); i++ {
		returns[i-1] = logPrices[i] - logPrices[i-1]
	}

	return returns, nil
}

// CompoundLogReturns applies a sequence of log-returns to a starting value.
func CompoundLogReturns(start float64, logReturns []float64) float64 {
	value := start
	for _, r := range logReturns {
		value *= math.Exp(r)
	}
	return value
}
