// Package optimization turns a matrix of simulated arrival values into portfolio
// weights: it evaluates the Sharpe ratio of a weighted portfolio and searches
// the probability simplex for the weights that maximize it.
package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/mbbfolio/internal/modules/simulation"
	"github.com/aristath/mbbfolio/pkg/formulas"
	"gonum.org/v1/gonum/mat"
)

// EvaluationPenalty is the objective value reported when the portfolio
// distribution cannot be computed.
const EvaluationPenalty = 1e6

// PortfolioReturns returns the portfolio value of every simulation: row s of
// arrival (one column per asset) dotted with weights. Weights are used as
// given, without normalization.
func PortfolioReturns(weights []float64, arrival mat.Matrix) ([]float64, error) {
	if arrival == nil {
		return nil, fmt.Errorf("%w: nil arrival matrix", simulation.ErrInvalidInput)
	}
	rows, cols := arrival.Dims()
	if rows == 0 || cols == 0 {
		return nil, fmt.Errorf("%w: empty arrival matrix", simulation.ErrInvalidInput)
	}
	if len(weights) != cols {
		return nil, fmt.Errorf("%w: %d weights for %d assets", simulation.ErrInvalidInput, len(weights), cols)
	}

	values := make([]float64, rows)
	out := mat.NewVecDense(rows, values)
	out.MulVec(arrival, mat.NewVecDense(cols, weights))
	return values, nil
}

// SharpeRatio returns (mean - riskFreeRate) / std over values using the
// population standard deviation. Fewer than two values, or a flat
// distribution, yield 0.
func SharpeRatio(values []float64, riskFreeRate float64) float64 {
	if len(values) < 2 {
		return 0
	}

	mean, variance := formulas.PopulationMeanVariance(values)
	std := math.Sqrt(variance)
	if std == 0 {
		return 0
	}

	return (mean - riskFreeRate) / std
}

// NegatedSharpe is the minimization objective. It returns EvaluationPenalty
// when the portfolio distribution cannot be computed.
func NegatedSharpe(weights []float64, arrival mat.Matrix, riskFreeRate float64) float64 {
	values, err := PortfolioReturns(weights, arrival)
	if err != nil {
		return EvaluationPenalty
	}
	return -SharpeRatio(values, riskFreeRate)
}

// PortfolioStats summarizes the outcome distribution of a weighted portfolio.
type PortfolioStats struct {
	Mean   float64 `json:"mean" msgpack:"mean"`
	StdDev float64 `json:"std_dev" msgpack:"std_dev"`
	Sharpe float64 `json:"sharpe" msgpack:"sharpe"`
}

// Evaluate computes mean, population standard deviation and Sharpe ratio of
// the portfolio defined by weights.
func Evaluate(weights []float64, arrival mat.Matrix, riskFreeRate float64) (PortfolioStats, error) {
	values, err := PortfolioReturns(weights, arrival)
	if err != nil {
		return PortfolioStats{}, err
	}

	mean, variance := formulas.PopulationMeanVariance(values)
	return PortfolioStats{
		Mean:   mean,
		StdDev: math.Sqrt(variance),
		Sharpe: SharpeRatio(values, riskFreeRate),
	}, nil
}
