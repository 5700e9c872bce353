// Package simulation implements the resampling half of the pipeline: the
// Moving Block Bootstrap over historical log-returns and the Monte Carlo price
// paths compounded from the resampled series.
package simulation

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned when arguments violate a precondition.
	// Fatal to the call; no partial result is returned.
	ErrInvalidInput = errors.New("invalid input")

	// ErrAllocation is returned when a buffer cannot be obtained within the
	// configured cell budget.
	ErrAllocation = errors.New("allocation failed")
)

// DefaultMaxCells caps the number of float64 cells a single stage may allocate
// (1 GiB worth of values).
const DefaultMaxCells = 1 << 27

// checkBudget reports ErrAllocation when rows*cols overflows or exceeds maxCells.
func checkBudget(rows, cols, maxCells int) error {
	if rows <= 0 || cols <= 0 {
		return nil
	}
	if rows > maxCells/cols {
		return fmt.Errorf("%w: %d x %d cells exceeds budget of %d", ErrAllocation, rows, cols, maxCells)
	}
	return nil
}
