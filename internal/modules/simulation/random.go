package simulation

import (
	"math/rand/v2"
)

// RandomSource is the uniform generator consumed by resampling and path
// selection. Implementations are not safe for concurrent use.
type RandomSource interface {
	// IntN returns a uniformly distributed integer in [0, n). n must be > 0.
	IntN(n int) int
	// Float64 returns a uniformly distributed value in [0, 1).
	Float64() float64
}

// seedStream is the fixed PCG stream selector; together with the seed it fully
// determines the sequence.
const seedStream uint64 = 0x9e3779b97f4a7c15

// Source is a PCG-backed RandomSource that can be seeded exactly once.
type Source struct {
	pcg    *rand.PCG
	rng    *rand.Rand
	seeded bool
}

// NewSource creates a generator. A positive seed seeds it deterministically;
// zero or negative leaves it entropy-initialized and still seedable later.
func NewSource(seed int64) *Source {
	pcg := rand.NewPCG(rand.Uint64(), rand.Uint64())
	s := &Source{
		pcg: pcg,
		rng: rand.New(pcg),
	}
	s.Seed(seed)
	return s
}

// Seed initializes the generator. Only the first call with a positive value has
// an effect; later calls and non-positive values are ignored and return false.
func (s *Source) Seed(value int64) bool {
	if value <= 0 || s.seeded {
		return false
	}
	s.pcg.Seed(uint64(value), seedStream)
	s.seeded = true
	return true
}

// Seeded reports whether the source has been deterministically seeded.
func (s *Source) Seeded() bool {
	return s.seeded
}

// IntN returns a uniformly distributed integer in [0, n).
func (s *Source) IntN(n int) int {
	return s.rng.IntN(n)
}

// Float64 returns a uniformly distributed value in [0, 1).
func (s *Source) Float64() float64 {
	return s.rng.Float64()
}

// DerivedSeed returns the seed for the index-th independent stream of a run.
// Unseeded runs (seed <= 0) stay unseeded.
func DerivedSeed(seed int64, index int) int64 {
	if seed <= 0 {
		return 0
	}
	return seed + int64(index)
}
