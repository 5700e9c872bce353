package simulation

import (
	"fmt"
	"math"

	"github.com/aristath/mbbfolio/pkg/formulas"
)

// BlockSizeMethod selects how ChooseBlockSize picks a block length.
type BlockSizeMethod string

const (
	BlockSizeTheoretical BlockSizeMethod = "theoretical"
	BlockSizeEmpirical   BlockSizeMethod = "empirical"
	BlockSizeAuto        BlockSizeMethod = "auto"
)

// BlockStatistic is the per-row statistic whose stability the empirical
// search minimizes.
type BlockStatistic string

const (
	StatisticMean     BlockStatistic = "mean"
	StatisticVariance BlockStatistic = "variance"
	StatisticSharpe   BlockStatistic = "sharpe"
)

const (
	empiricalBootstrapRows = 100
	empiricalMaxSampleSize = 63
)

// ParseBlockSizeMethod validates a method name. Empty means auto.
func ParseBlockSizeMethod(s string) (BlockSizeMethod, error) {
	switch BlockSizeMethod(s) {
	case "", BlockSizeAuto:
		return BlockSizeAuto, nil
	case BlockSizeTheoretical, BlockSizeEmpirical:
		return BlockSizeMethod(s), nil
	}
	return "", fmt.Errorf("%w: unknown block size method %q", ErrInvalidInput, s)
}

// ParseBlockStatistic validates a statistic name. Empty means mean.
func ParseBlockStatistic(s string) (BlockStatistic, error) {
	switch BlockStatistic(s) {
	case "", StatisticMean:
		return StatisticMean, nil
	case StatisticVariance, StatisticSharpe:
		return BlockStatistic(s), nil
	}
	return "", fmt.Errorf("%w: unknown block statistic %q", ErrInvalidInput, s)
}

// TheoreticalBlockSize returns the n^(1/3) rule of thumb,
// min(max(1, floor(1.5*cbrt(n))), n/4), never less than 1.
func TheoreticalBlockSize(n int) int {
	b := int(1.5 * math.Cbrt(float64(n)))
	if b < 1 {
		b = 1
	}
	if quarter := n / 4; b > quarter {
		b = quarter
	}
	if b < 1 {
		return 1
	}
	return b
}

// EmpiricalBlockSize tries every block length in 2..min(max(2, floor(2*cbrt(n))), n/4)
// and returns the one whose bootstrap statistic varies least across rows.
// Series too short to offer a candidate fall back to TheoreticalBlockSize.
func EmpiricalBlockSize(series []float64, statistic BlockStatistic, rng RandomSource) (int, error) {
	n := len(series)
	maxBlock := int(2 * math.Cbrt(float64(n)))
	if maxBlock < 2 {
		maxBlock = 2
	}
	if quarter := n / 4; maxBlock > quarter {
		maxBlock = quarter
	}
	if maxBlock < 2 {
		return TheoreticalBlockSize(n), nil
	}

	sampleSize := n
	if sampleSize > empiricalMaxSampleSize {
		sampleSize = empiricalMaxSampleSize
	}

	resampler := NewBlockResampler(rng)
	best, bestSpread := 0, math.Inf(1)
	for block := 2; block <= maxBlock; block++ {
		set, err := resampler.Generate(series, empiricalBootstrapRows, sampleSize, block)
		if err != nil {
			continue
		}

		stats := make([]float64, set.Rows())
		for i := range stats {
			stats[i] = rowStatistic(set.Row(i), statistic)
		}

		spread := formulas.PopulationStdDev(stats)
		if spread < bestSpread || best == 0 {
			best, bestSpread = block, spread
		}
	}

	if best == 0 {
		return 0, fmt.Errorf("%w: no usable block size for series of length %d", ErrInvalidInput, n)
	}
	return best, nil
}

// ChooseBlockSize picks a block length for series using method. Auto takes the
// smaller of the theoretical and empirical choices.
func ChooseBlockSize(series []float64, method BlockSizeMethod, statistic BlockStatistic, rng RandomSource) (int, error) {
	if len(series) == 0 {
		return 0, fmt.Errorf("%w: empty series", ErrInvalidInput)
	}

	n := len(series)
	switch method {
	case BlockSizeTheoretical:
		return TheoreticalBlockSize(n), nil
	case BlockSizeEmpirical:
		return EmpiricalBlockSize(series, statistic, rng)
	case BlockSizeAuto, "":
		empirical, err := EmpiricalBlockSize(series, statistic, rng)
		if err != nil {
			return 0, err
		}
		return min(TheoreticalBlockSize(n), empirical), nil
	}
	return 0, fmt.Errorf("%w: unknown block size method %q", ErrInvalidInput, method)
}

func rowStatistic(row []float64, statistic BlockStatistic) float64 {
	mean, variance := formulas.PopulationMeanVariance(row)
	switch statistic {
	case StatisticVariance:
		return variance
	case StatisticSharpe:
		std := math.Sqrt(variance)
		if std > 0 {
			return mean / std
		}
		return 0
	default:
		return mean
	}
}
