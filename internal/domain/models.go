// Package domain provides core domain models and types shared by the
// pipeline, persistence and HTTP layers.
package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/aristath/mbbfolio/internal/modules/optimization"
	"github.com/aristath/mbbfolio/internal/modules/simulation"
)

// ErrNotFound is returned by repositories when a record does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus is the terminal state of an optimization run.
type RunStatus string

const (
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// RunParams configures one pipeline run.
type RunParams struct {
	NBootstrap      int     `json:"n_bootstrap" msgpack:"n_bootstrap"`
	SampleSize      int     `json:"sample_size" msgpack:"sample_size"`
	BlockSize       int     `json:"block_size" msgpack:"block_size"` // 0 selects per asset
	BlockSizeMethod string  `json:"block_size_method,omitempty" msgpack:"block_size_method"`
	Iterations      int     `json:"iterations" msgpack:"iterations"`
	Seed            int64   `json:"seed" msgpack:"seed"` // <= 0 leaves the generator unseeded
	RiskFreeRate    float64 `json:"risk_free_rate" msgpack:"risk_free_rate"`
	MaxIterations   int     `json:"max_iterations" msgpack:"max_iterations"`
	Tolerance       float64 `json:"tolerance" msgpack:"tolerance"`
	PortfolioSize   int     `json:"portfolio_size" msgpack:"portfolio_size"` // 0 optimizes all assets together
	LookbackDays    int     `json:"lookback_days" msgpack:"lookback_days"`
}

// Validate checks the sizes and bounds of p.
func (p RunParams) Validate() error {
	switch {
	case p.NBootstrap <= 0:
		return fmt.Errorf("%w: n_bootstrap must be positive", simulation.ErrInvalidInput)
	case p.SampleSize <= 0:
		return fmt.Errorf("%w: sample_size must be positive", simulation.ErrInvalidInput)
	case p.BlockSize < 0:
		return fmt.Errorf("%w: block_size must not be negative", simulation.ErrInvalidInput)
	case p.Iterations <= 0:
		return fmt.Errorf("%w: iterations must be positive", simulation.ErrInvalidInput)
	case p.MaxIterations < 1:
		return fmt.Errorf("%w: max_iterations must be at least 1", simulation.ErrInvalidInput)
	case !(p.Tolerance > 0):
		return fmt.Errorf("%w: tolerance must be positive", simulation.ErrInvalidInput)
	case p.PortfolioSize < 0:
		return fmt.Errorf("%w: portfolio_size must not be negative", simulation.ErrInvalidInput)
	}
	if _, err := simulation.ParseBlockSizeMethod(p.BlockSizeMethod); err != nil {
		return err
	}
	return nil
}

// AssetInput is the history of one asset fed into a run.
type AssetInput struct {
	Symbol     string    `json:"symbol"`
	LogReturns []float64 `json:"log_returns"`
	S0         float64   `json:"s0"`
}

// AssetSummary records how one asset was simulated.
type AssetSummary struct {
	Symbol       string  `json:"symbol" msgpack:"symbol"`
	BlockSize    int     `json:"block_size" msgpack:"block_size"`
	S0           float64 `json:"s0" msgpack:"s0"`
	MeanTerminal float64 `json:"mean_terminal" msgpack:"mean_terminal"`
	StdTerminal  float64 `json:"std_terminal" msgpack:"std_terminal"`
}

// CombinationSummary is a combination search entry keyed by symbol. Sharpe is
// nil for subsets whose optimization failed.
type CombinationSummary struct {
	Symbols []string  `json:"symbols" msgpack:"symbols"`
	Success bool      `json:"success" msgpack:"success"`
	Weights []float64 `json:"weights,omitempty" msgpack:"weights"`
	Sharpe  *float64  `json:"sharpe" msgpack:"sharpe"`
	Mean    float64   `json:"mean" msgpack:"mean"`
	StdDev  float64   `json:"std_dev" msgpack:"std_dev"`
	Error   string    `json:"error,omitempty" msgpack:"error"`
}

// RunDetails is the bulky part of a run, stored as an opaque blob.
type RunDetails struct {
	Params       RunParams                   `json:"params" msgpack:"params"`
	Weights      map[string]float64          `json:"weights" msgpack:"weights"`
	Stats        optimization.PortfolioStats `json:"stats" msgpack:"stats"`
	GradientNorm float64                     `json:"gradient_norm" msgpack:"gradient_norm"`
	Assets       []AssetSummary              `json:"assets" msgpack:"assets"`
	Combinations []CombinationSummary        `json:"combinations,omitempty" msgpack:"combinations"`
	Diagnostics  []simulation.Diagnostic     `json:"diagnostics,omitempty" msgpack:"diagnostics"`
}

// Run is a persisted optimization run.
type Run struct {
	ID            string        `json:"id"`
	CreatedAt     time.Time     `json:"created_at"`
	Status        RunStatus     `json:"status"`
	Symbols       []string      `json:"symbols"`
	Sharpe        float64       `json:"sharpe"`
	InitialSharpe float64       `json:"initial_sharpe"`
	Converged     bool          `json:"converged"`
	Iterations    int           `json:"iterations"`
	Duration      time.Duration `json:"duration_ns"`
	Error         string        `json:"error,omitempty"`
	Details       RunDetails    `json:"details"`
}
