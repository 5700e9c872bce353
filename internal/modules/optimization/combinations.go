package optimization

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/aristath/mbbfolio/internal/modules/simulation"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/combin"
)

// maxCombinations bounds the number of subsets a single search may try.
const maxCombinations = 100000

// CombinationResult is the optimized portfolio of one asset subset.
type CombinationResult struct {
	Assets  []int     `json:"assets" msgpack:"assets"`
	Success bool      `json:"success" msgpack:"success"`
	Weights []float64 `json:"weights,omitempty" msgpack:"weights"`
	Sharpe  float64   `json:"sharpe" msgpack:"sharpe"`
	Mean    float64   `json:"mean" msgpack:"mean"`
	StdDev  float64   `json:"std_dev" msgpack:"std_dev"`
	Error   string    `json:"error,omitempty" msgpack:"error"`

	Iterations int  `json:"iterations" msgpack:"iterations"`
	Converged  bool `json:"converged" msgpack:"converged"`
}

// SearchOptions configures a combination search.
type SearchOptions struct {
	Size          int
	RiskFreeRate  float64
	MaxIterations int
	Tolerance     float64
}

// SearchResult holds every tried subset and the best successful one.
type SearchResult struct {
	Best         *CombinationResult  `json:"best"`
	Combinations []CombinationResult `json:"combinations"`
}

// CombinationSearch optimizes every Size-subset of the asset columns from
// equal initial weights and keeps the subset with the highest Sharpe ratio.
type CombinationSearch struct {
	optimizer *SimplexOptimizer
}

// NewCombinationSearch creates a search driven by optimizer.
func NewCombinationSearch(optimizer *SimplexOptimizer) *CombinationSearch {
	if optimizer == nil {
		optimizer = NewSimplexOptimizer()
	}
	return &CombinationSearch{optimizer: optimizer}
}

// Search runs the optimizer on each subset. A failed subset is recorded with a
// Sharpe of -Inf and does not stop the search; ctx is checked between subsets.
func (s *CombinationSearch) Search(ctx context.Context, arrival mat.Matrix, opts SearchOptions) (*SearchResult, error) {
	if arrival == nil {
		return nil, fmt.Errorf("%w: nil arrival matrix", simulation.ErrInvalidInput)
	}
	nSims, nAssets := arrival.Dims()
	if nSims == 0 || nAssets == 0 {
		return nil, fmt.Errorf("%w: empty arrival matrix", simulation.ErrInvalidInput)
	}
	if opts.Size < 1 || opts.Size > nAssets {
		return nil, fmt.Errorf("%w: portfolio size %d out of range for %d assets", simulation.ErrInvalidInput, opts.Size, nAssets)
	}
	if n := combinationCount(nAssets, opts.Size); n > maxCombinations {
		return nil, fmt.Errorf("%w: %.0f combinations exceeds limit of %d", simulation.ErrInvalidInput, n, maxCombinations)
	}

	subsets := combin.Combinations(nAssets, opts.Size)
	result := &SearchResult{Combinations: make([]CombinationResult, 0, len(subsets))}

	for _, assets := range subsets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result.Combinations = append(result.Combinations, s.optimizeSubset(arrival, assets, opts))
	}

	for i := range result.Combinations {
		c := &result.Combinations[i]
		if !c.Success {
			continue
		}
		if result.Best == nil || c.Sharpe > result.Best.Sharpe {
			result.Best = c
		}
	}
	if result.Best == nil {
		return result, fmt.Errorf("no successful portfolio optimization among %d combinations", len(subsets))
	}

	return result, nil
}

func (s *CombinationSearch) optimizeSubset(arrival mat.Matrix, assets []int, opts SearchOptions) CombinationResult {
	out := CombinationResult{Assets: assets}

	res, err := s.optimizer.Optimize(selectColumns(arrival, assets), EqualWeights(len(assets)),
		opts.RiskFreeRate, opts.MaxIterations, opts.Tolerance)
	if err != nil {
		out.Sharpe = math.Inf(-1)
		out.Error = err.Error()
		return out
	}

	out.Success = true
	out.Weights = res.Weights
	out.Sharpe = res.Sharpe
	out.Mean = res.Mean
	out.StdDev = res.StdDev
	out.Iterations = res.Iterations
	out.Converged = res.Converged
	return out
}

// Ranked returns the successful combinations ordered by descending Sharpe.
func (r *SearchResult) Ranked() []CombinationResult {
	ranked := make([]CombinationResult, 0, len(r.Combinations))
	for _, c := range r.Combinations {
		if c.Success {
			ranked = append(ranked, c)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Sharpe > ranked[j].Sharpe
	})
	return ranked
}

// combinationCount returns n choose k as a float64. combin.Binomial overflows
// int silently for large n.
func combinationCount(n, k int) float64 {
	return math.Round(combin.GeneralizedBinomial(float64(n), float64(k)))
}

func selectColumns(m mat.Matrix, cols []int) *mat.Dense {
	rows, _ := m.Dims()
	out := mat.NewDense(rows, len(cols), nil)
	for j, c := range cols {
		for i := 0; i < rows; i++ {
			out.Set(i, j, m.At(i, c))
		}
	}
	return out
}
