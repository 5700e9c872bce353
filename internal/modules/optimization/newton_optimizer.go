package optimization

import (
	"fmt"
	"math"

	"github.com/aristath/mbbfolio/internal/modules/simulation"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

const (
	// finiteDifferenceStep is h in the central difference formulas.
	finiteDifferenceStep = 1e-6
	// hessianRegularization is added to every diagonal Hessian entry.
	hessianRegularization = 1e-6
	lineSearchAttempts    = 10
)

// Result is the outcome of a simplex optimization.
//
// Weights, Sharpe, Mean and StdDev describe the returned weights: by default
// the best round boundary seen, or the final round with WithLastIterate.
// Iterations, Converged and GradientNorm always describe the final round,
// which may differ from the returned weights.
type Result struct {
	Weights       []float64 `json:"weights" msgpack:"weights"`
	Sharpe        float64   `json:"sharpe" msgpack:"sharpe"`
	InitialSharpe float64   `json:"initial_sharpe" msgpack:"initial_sharpe"`
	Mean          float64   `json:"mean" msgpack:"mean"`
	StdDev        float64   `json:"std_dev" msgpack:"std_dev"`
	Iterations    int       `json:"iterations" msgpack:"iterations"`
	Converged     bool      `json:"converged" msgpack:"converged"`
	GradientNorm  float64   `json:"gradient_norm" msgpack:"gradient_norm"`
}

// Round describes one completed Newton round.
type Round struct {
	Iteration    int
	Before       float64 // objective at the start of the line search
	After        float64 // objective at the weights the round ended on
	Alpha        float64 // step scale of the last attempt
	Accepted     bool
	GradientNorm float64

	// Gradient, Hessian (its diagonal) and Delta are the round's Newton
	// quantities at the starting weights.
	Gradient []float64
	Hessian  []float64
	Delta    []float64
}

// RoundObserver is called after every round.
type RoundObserver func(Round)

// SimplexOptimizer maximizes the Sharpe ratio of a portfolio over weights
// constrained to the probability simplex, using Newton-Raphson steps with a
// diagonal Hessian, projection by clamp-and-renormalize, and a backtracking
// line search.
type SimplexOptimizer struct {
	maxScratch  int
	lastIterate bool
	observer    RoundObserver
}

// NewSimplexOptimizer creates an optimizer with the default scratch budget.
// It returns the best weights seen at a round boundary, the starting point
// included.
func NewSimplexOptimizer() *SimplexOptimizer {
	return &SimplexOptimizer{maxScratch: simulation.DefaultMaxCells}
}

// WithLastIterate makes Optimize return the weights of the final round even
// when an earlier round, or the starting point, scored better.
func (o *SimplexOptimizer) WithLastIterate() *SimplexOptimizer {
	o.lastIterate = true
	return o
}

// WithObserver registers fn to be called after every round.
func (o *SimplexOptimizer) WithObserver(fn RoundObserver) *SimplexOptimizer {
	o.observer = fn
	return o
}

// WithMaxScratch overrides the per-round scratch budget, in float64 cells.
func (o *SimplexOptimizer) WithMaxScratch(cells int) *SimplexOptimizer {
	o.maxScratch = cells
	return o
}

// Optimize runs at most maxIterations rounds starting from initialWeights and
// stops early once the gradient norm drops below tolerance.
//
// Within a round the line search accumulates updates: every attempt adds
// alpha*delta on top of the previous, already projected, attempt. A round
// whose attempts all fail still leaves the weights at the last attempt.
//
// If the per-round scratch cannot be obtained the whole run fails with
// ErrAllocation and no weights are returned, not even those of earlier rounds.
func (o *SimplexOptimizer) Optimize(
	arrival mat.Matrix,
	initialWeights []float64,
	riskFreeRate float64,
	maxIterations int,
	tolerance float64,
) (*Result, error) {
	if arrival == nil {
		return nil, fmt.Errorf("%w: nil arrival matrix", simulation.ErrInvalidInput)
	}
	nSims, nAssets := arrival.Dims()
	if nSims == 0 || nAssets == 0 {
		return nil, fmt.Errorf("%w: empty arrival matrix", simulation.ErrInvalidInput)
	}
	if len(initialWeights) != nAssets {
		return nil, fmt.Errorf("%w: %d initial weights for %d assets", simulation.ErrInvalidInput, len(initialWeights), nAssets)
	}
	if maxIterations < 1 {
		return nil, fmt.Errorf("%w: max iterations must be at least 1, got %d", simulation.ErrInvalidInput, maxIterations)
	}

	objective := func(w []float64) float64 {
		return NegatedSharpe(w, arrival, riskFreeRate)
	}

	weights := make([]float64, nAssets)
	copy(weights, initialWeights)

	result := &Result{InitialSharpe: -objective(weights)}

	best := make([]float64, nAssets)
	copy(best, weights)
	projectToSimplex(best)
	bestObjective := objective(best)

	for iter := 0; iter < maxIterations; iter++ {
		gradient, hessian, delta, err := o.scratch(nAssets, nSims)
		if err != nil {
			return nil, fmt.Errorf("round %d: %w", iter+1, err)
		}

		h := finiteDifferenceStep
		f := objective(weights)
		for i := range weights {
			original := weights[i]

			weights[i] = original + h
			forward := objective(weights)

			weights[i] = original - h
			backward := objective(weights)

			weights[i] = original

			gradient[i] = (forward - backward) / (2 * h)
			hessian[i] = (forward+backward-2*f)/(h*h) + hessianRegularization
		}

		for i := range delta {
			delta[i] = -gradient[i] / hessian[i]
		}

		alpha := 1.0
		current := objective(weights)
		round := Round{Iteration: iter + 1, Before: current}
		for attempt := 0; attempt < lineSearchAttempts; attempt++ {
			floats.AddScaled(weights, alpha, delta)
			projectToSimplex(weights)

			round.After = objective(weights)
			round.Alpha = alpha
			if round.After < current {
				round.Accepted = true
				break
			}
			alpha *= 0.5
		}

		if round.After < bestObjective && floats.Sum(weights) > 0 {
			copy(best, weights)
			bestObjective = round.After
		}

		result.Iterations = iter + 1
		result.GradientNorm = floats.Norm(gradient, 2)
		round.GradientNorm = result.GradientNorm
		if o.observer != nil {
			round.Gradient = append([]float64(nil), gradient...)
			round.Hessian = append([]float64(nil), hessian...)
			round.Delta = append([]float64(nil), delta...)
			o.observer(round)
		}
		if result.GradientNorm < tolerance {
			result.Converged = true
			break
		}
	}

	if !o.lastIterate {
		weights = best
	}

	stats, err := Evaluate(weights, arrival, riskFreeRate)
	if err != nil {
		return nil, err
	}

	result.Weights = weights
	result.Sharpe = stats.Sharpe
	result.Mean = stats.Mean
	result.StdDev = stats.StdDev
	return result, nil
}

// scratch allocates the per-round gradient, Hessian diagonal and step
// vectors, accounting for the portfolio values each objective call needs.
func (o *SimplexOptimizer) scratch(nAssets, nSims int) ([]float64, []float64, []float64, error) {
	if nAssets > (o.maxScratch-nSims)/3 || nSims > o.maxScratch {
		return nil, nil, nil, fmt.Errorf("%w: scratch for %d assets and %d simulations exceeds budget of %d",
			simulation.ErrAllocation, nAssets, nSims, o.maxScratch)
	}
	buf := make([]float64, 3*nAssets)
	return buf[:nAssets:nAssets], buf[nAssets : 2*nAssets : 2*nAssets], buf[2*nAssets:], nil
}

// projectToSimplex clamps negative weights to zero and rescales to unit sum.
// An all-zero vector is left as is.
func projectToSimplex(weights []float64) {
	sum := 0.0
	for i, w := range weights {
		weights[i] = math.Max(w, 0)
		sum += weights[i]
	}
	if sum > 0 {
		for i := range weights {
			weights[i] /= sum
		}
	}
}

// EqualWeights returns n weights of 1/n.
func EqualWeights(n int) []float64 {
	weights := make([]float64, n)
	for i := range weights {
		weights[i] = 1 / float64(n)
	}
	return weights
}
