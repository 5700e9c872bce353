package simulation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// SimulatedPaths holds the outcome of a Monte Carlo run for one asset.
type SimulatedPaths struct {
	S0       float64
	Terminal []float64
	// Paths is nil unless full trajectories were requested. Row i, column t is
	// the price after step t+1 of iteration i.
	Paths *mat.Dense
}

// Iterations returns the number of simulated trajectories.
func (p *SimulatedPaths) Iterations() int {
	return len(p.Terminal)
}

// Path returns trajectory i without copying, or nil when paths were not kept.
func (p *SimulatedPaths) Path(i int) []float64 {
	if p.Paths == nil {
		return nil
	}
	return p.Paths.RawRowView(i)
}

// PathSimulator compounds bootstrap rows into price trajectories.
type PathSimulator struct {
	rng      RandomSource
	sink     DiagnosticSink
	maxCells int
}

// NewPathSimulator creates a simulator. sink may be nil.
func NewPathSimulator(rng RandomSource, sink DiagnosticSink) *PathSimulator {
	if sink == nil {
		sink = NopSink{}
	}
	return &PathSimulator{
		rng:      rng,
		sink:     sink,
		maxCells: DefaultMaxCells,
	}
}

// WithMaxCells overrides the allocation budget for kept paths.
func (s *PathSimulator) WithMaxCells(maxCells int) *PathSimulator {
	s.maxCells = maxCells
	return s
}

// Simulate runs iterations trajectories starting at s0. Each iteration picks
// one bootstrap row uniformly at random and walks it in order, multiplying the
// running price by exp(r_t). Requesting more iterations than rows is allowed
// and reported as a warning since rows will be reused.
func (s *PathSimulator) Simulate(s0 float64, set *SampleSet, iterations int, keepPaths bool) (*SimulatedPaths, error) {
	if !(s0 > 0) || math.IsInf(s0, 0) {
		return nil, fmt.Errorf("%w: starting price must be positive and finite, got %v", ErrInvalidInput, s0)
	}
	if set.Rows() == 0 || set.Cols() == 0 {
		return nil, fmt.Errorf("%w: empty bootstrap sample set", ErrInvalidInput)
	}
	if iterations <= 0 {
		return nil, fmt.Errorf("%w: iterations must be positive, got %d", ErrInvalidInput, iterations)
	}

	nBootstrap, sampleSize := set.Rows(), set.Cols()
	if iterations > nBootstrap {
		warn(s.sink, CodeIterationsExceedBootstrap,
			"more iterations (%d) than bootstrap samples (%d); samples will be reused", iterations, nBootstrap)
	}

	if err := checkBudget(iterations, 1, s.maxCells); err != nil {
		return nil, fmt.Errorf("terminal prices: %w", err)
	}
	var paths []float64
	if keepPaths {
		if err := checkBudget(iterations, sampleSize, s.maxCells); err != nil {
			return nil, fmt.Errorf("price paths: %w", err)
		}
		paths = make([]float64, iterations*sampleSize)
	}

	result := &SimulatedPaths{
		S0:       s0,
		Terminal: make([]float64, iterations),
	}

	for iter := 0; iter < iterations; iter++ {
		row := set.Row(s.rng.IntN(nBootstrap))
		price := s0
		for t, logReturn := range row {
			price *= math.Exp(logReturn)
			if paths != nil {
				paths[iter*sampleSize+t] = price
			}
		}
		result.Terminal[iter] = price
	}

	if paths != nil {
		result.Paths = mat.NewDense(iterations, sampleSize, paths)
	}

	return result, nil
}
