package simulation

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// SampleSet is the output of the Moving Block Bootstrap: one synthetic
// log-return series per row, all of the same length.
type SampleSet struct {
	data *mat.Dense
}

// NewSampleSet wraps an existing matrix of resampled series.
func NewSampleSet(data *mat.Dense) *SampleSet {
	return &SampleSet{data: data}
}

// Rows returns the number of bootstrap draws.
func (s *SampleSet) Rows() int {
	if s == nil || s.data == nil {
		return 0
	}
	r, _ := s.data.Dims()
	return r
}

// Cols returns the length of each resampled series.
func (s *SampleSet) Cols() int {
	if s == nil || s.data == nil {
		return 0
	}
	_, c := s.data.Dims()
	return c
}

// Row returns row i without copying. Callers must not modify it.
func (s *SampleSet) Row(i int) []float64 {
	return s.data.RawRowView(i)
}

// At returns the j-th log-return of draw i.
func (s *SampleSet) At(i, j int) float64 {
	return s.data.At(i, j)
}

// Matrix exposes the set as a read-only gonum matrix.
func (s *SampleSet) Matrix() mat.Matrix {
	return s.data
}

// BlockResampler draws synthetic series by concatenating uniformly chosen,
// possibly overlapping, contiguous blocks of the original series.
type BlockResampler struct {
	rng      RandomSource
	maxCells int
}

// NewBlockResampler creates a resampler drawing from rng.
func NewBlockResampler(rng RandomSource) *BlockResampler {
	return &BlockResampler{
		rng:      rng,
		maxCells: DefaultMaxCells,
	}
}

// WithMaxCells overrides the allocation budget.
func (r *BlockResampler) WithMaxCells(maxCells int) *BlockResampler {
	r.maxCells = maxCells
	return r
}

// Generate builds nBootstrap series of sampleSize log-returns each.
//
// Every row is filled by repeatedly picking a start index uniformly in
// [0, len(series)-blockSize] and appending blockSize consecutive values; the
// last block is truncated to fit. Blocks are drawn with replacement within and
// across rows.
func (r *BlockResampler) Generate(series []float64, nBootstrap, sampleSize, blockSize int) (*SampleSet, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("%w: block size must be positive, got %d", ErrInvalidInput, blockSize)
	}
	if len(series) < blockSize {
		return nil, fmt.Errorf("%w: series shorter than block size (%d < %d)", ErrInvalidInput, len(series), blockSize)
	}
	if nBootstrap <= 0 {
		return nil, fmt.Errorf("%w: bootstrap count must be positive, got %d", ErrInvalidInput, nBootstrap)
	}
	if sampleSize <= 0 {
		return nil, fmt.Errorf("%w: sample size must be positive, got %d", ErrInvalidInput, sampleSize)
	}
	if err := checkBudget(nBootstrap, sampleSize, r.maxCells); err != nil {
		return nil, fmt.Errorf("bootstrap buffer: %w", err)
	}

	nBlocks := len(series) - blockSize + 1
	data := make([]float64, nBootstrap*sampleSize)

	for b := 0; b < nBootstrap; b++ {
		row := data[b*sampleSize : (b+1)*sampleSize]
		filled := 0
		for filled < sampleSize {
			start := r.rng.IntN(nBlocks)
			filled += copy(row[filled:], series[start:start+blockSize])
		}
	}

	return &SampleSet{data: mat.NewDense(nBootstrap, sampleSize, data)}, nil
}
