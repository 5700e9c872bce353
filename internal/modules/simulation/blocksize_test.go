package simulation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTheoreticalBlockSize(t *testing.T) {
	testCases := []struct {
		n        int
		expected int
	}{
		{0, 1},
		{3, 1},
		{8, 2},     // 1.5*2 = 3, capped at 8/4
		{65, 6},    // 1.5*4.02
		{252, 9},   // 1.5*6.316
		{1001, 15}, // 1.5*10.003
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, TheoreticalBlockSize(tc.n), "n=%d", tc.n)
	}
}

func TestEmpiricalBlockSize_WithinCandidateRange(t *testing.T) {
	series := make([]float64, 252)
	rng := NewSource(11)
	for i := range series {
		series[i] = (rng.Float64() - 0.5) / 50
	}

	for _, statistic := range []BlockStatistic{StatisticMean, StatisticVariance, StatisticSharpe} {
		block, err := EmpiricalBlockSize(series, statistic, NewSource(1987))
		require.NoError(t, err)
		// max candidate is min(max(2, floor(2*cbrt(252))), 63) = 12
		assert.GreaterOrEqual(t, block, 2, string(statistic))
		assert.LessOrEqual(t, block, 12, string(statistic))
	}
}

func TestEmpiricalBlockSize_ShortSeriesFallsBack(t *testing.T) {
	block, err := EmpiricalBlockSize([]float64{0.01, 0.02, 0.03}, StatisticMean, NewSource(1))
	require.NoError(t, err)
	assert.Equal(t, TheoreticalBlockSize(3), block)
}

func TestChooseBlockSize(t *testing.T) {
	series := make([]float64, 100)
	for i := range series {
		series[i] = float64(i%7-3) / 100
	}

	theoretical, err := ChooseBlockSize(series, BlockSizeTheoretical, StatisticMean, NewSource(1))
	require.NoError(t, err)
	assert.Equal(t, TheoreticalBlockSize(100), theoretical)

	empirical, err := ChooseBlockSize(series, BlockSizeEmpirical, StatisticMean, NewSource(1))
	require.NoError(t, err)

	auto, err := ChooseBlockSize(series, BlockSizeAuto, StatisticMean, NewSource(1))
	require.NoError(t, err)
	assert.Equal(t, min(theoretical, empirical), auto)
}

func TestChooseBlockSize_InvalidInput(t *testing.T) {
	_, err := ChooseBlockSize(nil, BlockSizeAuto, StatisticMean, NewSource(1))
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = ChooseBlockSize([]float64{1, 2}, BlockSizeMethod("magic"), StatisticMean, NewSource(1))
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestParseBlockSizeMethod(t *testing.T) {
	m, err := ParseBlockSizeMethod("")
	require.NoError(t, err)
	assert.Equal(t, BlockSizeAuto, m)

	m, err = ParseBlockSizeMethod("empirical")
	require.NoError(t, err)
	assert.Equal(t, BlockSizeEmpirical, m)

	_, err = ParseBlockSizeMethod("nope")
	assert.ErrorIs(t, err, ErrInvalidInput)

	s, err := ParseBlockStatistic("sharpe")
	require.NoError(t, err)
	assert.Equal(t, StatisticSharpe, s)

	_, err = ParseBlockStatistic("median")
	assert.ErrorIs(t, err, ErrInvalidInput)
}
