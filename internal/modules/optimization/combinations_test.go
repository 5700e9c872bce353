package optimization

import (
	"context"
	"math"
	"testing"

	"github.com/aristath/mbbfolio/internal/modules/simulation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func searchArrival(t *testing.T) mat.Matrix {
	t.Helper()
	return simulatedArrival(t, 1987, 150,
		[]float64{0.01, -0.02, 0.015, 0.005, -0.01, 0.02},
		[]float64{0.004, -0.001, 0.002, 0.001, -0.003, 0.002},
		[]float64{0.03, -0.025, 0.01, -0.02, 0.035, -0.01},
	)
}

func TestCombinationSearch_Search(t *testing.T) {
	arrival := searchArrival(t)

	result, err := NewCombinationSearch(nil).Search(context.Background(), arrival, SearchOptions{
		Size:          2,
		MaxIterations: 20,
		Tolerance:     1e-6,
	})
	require.NoError(t, err)
	require.Len(t, result.Combinations, 3)
	require.NotNil(t, result.Best)

	assert.Equal(t, []int{0, 1}, result.Combinations[0].Assets)
	assert.Equal(t, []int{0, 2}, result.Combinations[1].Assets)
	assert.Equal(t, []int{1, 2}, result.Combinations[2].Assets)

	for _, c := range result.Combinations {
		require.True(t, c.Success)
		assert.Len(t, c.Weights, 2)
		assert.LessOrEqual(t, c.Sharpe, result.Best.Sharpe)
	}

	ranked := result.Ranked()
	require.Len(t, ranked, 3)
	assert.Equal(t, result.Best.Sharpe, ranked[0].Sharpe)
	assert.GreaterOrEqual(t, ranked[0].Sharpe, ranked[1].Sharpe)
	assert.GreaterOrEqual(t, ranked[1].Sharpe, ranked[2].Sharpe)
}

func TestCombinationSearch_FullSizeMatchesDirectOptimize(t *testing.T) {
	arrival := searchArrival(t)
	opts := SearchOptions{Size: 3, MaxIterations: 10, Tolerance: 1e-6}

	result, err := NewCombinationSearch(nil).Search(context.Background(), arrival, opts)
	require.NoError(t, err)
	require.Len(t, result.Combinations, 1)

	direct, err := NewSimplexOptimizer().Optimize(arrival, EqualWeights(3), 0, 10, 1e-6)
	require.NoError(t, err)
	assert.InDelta(t, direct.Sharpe, result.Best.Sharpe, 1e-12)
	assert.InDeltaSlice(t, direct.Weights, result.Best.Weights, 1e-12)
}

func TestCombinationSearch_FailuresRecorded(t *testing.T) {
	arrival := searchArrival(t)
	search := NewCombinationSearch(NewSimplexOptimizer().WithMaxScratch(1))

	result, err := search.Search(context.Background(), arrival, SearchOptions{Size: 1, MaxIterations: 5, Tolerance: 1e-6})
	require.Error(t, err)
	require.NotNil(t, result)
	assert.Nil(t, result.Best)
	require.Len(t, result.Combinations, 3)
	for _, c := range result.Combinations {
		assert.False(t, c.Success)
		assert.True(t, math.IsInf(c.Sharpe, -1))
		assert.NotEmpty(t, c.Error)
	}
	assert.Empty(t, result.Ranked())
}

func TestCombinationSearch_InvalidSize(t *testing.T) {
	arrival := searchArrival(t)

	for _, size := range []int{0, 4} {
		_, err := NewCombinationSearch(nil).Search(context.Background(), arrival, SearchOptions{Size: size, MaxIterations: 5})
		assert.ErrorIs(t, err, simulation.ErrInvalidInput)
	}
}

func TestCombinationSearch_TooManyCombinations(t *testing.T) {
	// C(70, 35) does not fit in an int
	arrival := mat.NewDense(3, 70, nil)
	for j := 0; j < 70; j++ {
		arrival.SetCol(j, []float64{100, 101 + float64(j%3), 99})
	}

	var result *SearchResult
	var err error
	require.NotPanics(t, func() {
		result, err = NewCombinationSearch(nil).Search(context.Background(), arrival, SearchOptions{
			Size:          35,
			MaxIterations: 5,
			Tolerance:     1e-6,
		})
	})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, simulation.ErrInvalidInput)
}

func TestCombinationCount(t *testing.T) {
	assert.Equal(t, 3.0, combinationCount(3, 2))
	assert.Equal(t, 1.0, combinationCount(5, 5))
	assert.Equal(t, 184756.0, combinationCount(20, 10))
	assert.Greater(t, combinationCount(70, 35), float64(maxCombinations))
}

func TestCombinationSearch_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewCombinationSearch(nil).Search(ctx, searchArrival(t), SearchOptions{Size: 2, MaxIterations: 5})
	assert.ErrorIs(t, err, context.Canceled)
}
