package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/aristath/mbbfolio/internal/domain"
	"github.com/rs/zerolog"
)

// SymbolRunner runs the pipeline over stored price history.
type SymbolRunner interface {
	RunForSymbols(ctx context.Context, symbols []string, params domain.RunParams) (*domain.Run, error)
}

// SymbolLister lists the symbols that have stored prices.
type SymbolLister interface {
	ListSymbols(ctx context.Context) ([]string, error)
}

// OptimizeJob runs a portfolio optimization over a fixed symbol list, or over
// every stored symbol when the list is empty.
type OptimizeJob struct {
	runner  SymbolRunner
	lister  SymbolLister
	symbols []string
	params  domain.RunParams
	timeout time.Duration
	log     zerolog.Logger
}

// NewOptimizeJob creates a new OptimizeJob. lister may be nil when symbols is
// not empty.
func NewOptimizeJob(runner SymbolRunner, lister SymbolLister, symbols []string, params domain.RunParams, log zerolog.Logger) *OptimizeJob {
	return &OptimizeJob{
		runner:  runner,
		lister:  lister,
		symbols: symbols,
		params:  params,
		timeout: 30 * time.Minute,
		log:     log.With().Str("job", "optimize_portfolio").Logger(),
	}
}

// Name returns the job name
func (j *OptimizeJob) Name() string {
	return "optimize_portfolio"
}

// Run executes the optimization
func (j *OptimizeJob) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	symbols := j.symbols
	if len(symbols) == 0 {
		if j.lister == nil {
			return fmt.Errorf("no symbols configured and no symbol lister available")
		}
		listed, err := j.lister.ListSymbols(ctx)
		if err != nil {
			return fmt.Errorf("failed to list symbols: %w", err)
		}
		symbols = listed
	}
	if len(symbols) == 0 {
		j.log.Info().Msg("No symbols with price history, skipping optimization")
		return nil
	}

	run, err := j.runner.RunForSymbols(ctx, symbols, j.params)
	if err != nil {
		return err
	}

	j.log.Info().
		Str("run_id", run.ID).
		Int("symbols", len(symbols)).
		Float64("sharpe", run.Sharpe).
		Msg("Scheduled optimization completed")
	return nil
}
