// Package pipeline runs the full bootstrap, simulation and optimization chain
// for a set of assets and records the outcome.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/aristath/mbbfolio/internal/domain"
	"github.com/aristath/mbbfolio/internal/events"
	"github.com/aristath/mbbfolio/internal/modules/optimization"
	"github.com/aristath/mbbfolio/internal/modules/simulation"
	"github.com/aristath/mbbfolio/pkg/formulas"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/mat"
)

const moduleName = "pipeline"

// Stage names used in metrics and failure events.
const (
	StageLoad     = "load"
	StageSimulate = "simulate"
	StageOptimize = "optimize"
	StagePersist  = "persist"
)

// PriceSource supplies chronological closing prices.
type PriceSource interface {
	GetClosingPrices(ctx context.Context, symbol string, limit int) ([]float64, error)
}

// RunStore persists finished runs.
type RunStore interface {
	Save(ctx context.Context, run *domain.Run) error
}

// Service executes optimization runs.
type Service struct {
	prices  PriceSource
	store   RunStore
	events  *events.Manager
	metrics *Metrics
	log     zerolog.Logger

	parallelism int
}

// NewService creates a pipeline service. prices, store and eventManager may be
// nil; metrics defaults to an unregistered set.
func NewService(prices PriceSource, store RunStore, eventManager *events.Manager, metrics *Metrics, log zerolog.Logger) *Service {
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Service{
		prices:      prices,
		store:       store,
		events:      eventManager,
		metrics:     metrics,
		log:         log.With().Str("service", "pipeline").Logger(),
		parallelism: runtime.GOMAXPROCS(0),
	}
}

// WithParallelism caps the number of assets simulated concurrently.
func (s *Service) WithParallelism(n int) *Service {
	if n > 0 {
		s.parallelism = n
	}
	return s
}

type assetOutcome struct {
	summary  domain.AssetSummary
	terminal []float64
}

// Run simulates every asset, optimizes the portfolio and persists the run.
// Asset i draws from its own generator seeded with DerivedSeed(params.Seed, i),
// so a seeded run is reproducible regardless of scheduling.
//
// A failed run is still persisted with status failed when a store is set.
func (s *Service) Run(ctx context.Context, assets []domain.AssetInput, params domain.RunParams) (*domain.Run, error) {
	start := time.Now()
	run := &domain.Run{
		ID:        uuid.New().String(),
		CreatedAt: start.UTC(),
		Symbols:   symbolsOf(assets),
		Details:   domain.RunDetails{Params: params},
	}

	s.metrics.ActiveRuns.Inc()
	defer s.metrics.ActiveRuns.Dec()

	if err := validateAssets(assets, params); err != nil {
		return nil, s.fail(ctx, run, StageLoad, err)
	}
	method, _ := simulation.ParseBlockSizeMethod(params.BlockSizeMethod)

	s.emit(&events.RunStartedData{
		RunID:      run.ID,
		Assets:     run.Symbols,
		NBootstrap: params.NBootstrap,
		Iterations: params.Iterations,
		Seed:       params.Seed,
	})
	s.log.Info().
		Str("run_id", run.ID).
		Int("assets", len(assets)).
		Int("iterations", params.Iterations).
		Msg("Starting optimization run")

	collector := simulation.NewCollector(simulation.NewLogSink(s.log))

	stageStart := time.Now()
	outcomes, err := s.simulateAll(ctx, run.ID, assets, params, method, collector)
	s.observeStage(StageSimulate, stageStart)
	run.Details.Diagnostics = collector.Diagnostics()
	for _, d := range run.Details.Diagnostics {
		s.metrics.Diagnostics.WithLabelValues(d.Code).Inc()
	}
	if err != nil {
		return nil, s.fail(ctx, run, StageSimulate, err)
	}

	arrival := mat.NewDense(params.Iterations, len(assets), nil)
	for i, o := range outcomes {
		arrival.SetCol(i, o.terminal)
		run.Details.Assets = append(run.Details.Assets, o.summary)
	}

	stageStart = time.Now()
	err = s.optimize(ctx, run, arrival, params)
	s.observeStage(StageOptimize, stageStart)
	if err != nil {
		return nil, s.fail(ctx, run, StageOptimize, err)
	}

	run.Status = domain.RunStatusCompleted
	run.Duration = time.Since(start)

	stageStart = time.Now()
	err = s.save(ctx, run)
	s.observeStage(StagePersist, stageStart)
	if err != nil {
		return nil, s.fail(ctx, run, StagePersist, err)
	}

	s.metrics.RunsTotal.WithLabelValues(string(domain.RunStatusCompleted)).Inc()
	s.metrics.LastSharpe.Set(run.Sharpe)
	s.emit(&events.RunCompletedData{
		RunID:      run.ID,
		Sharpe:     run.Sharpe,
		Weights:    run.Details.Weights,
		Converged:  run.Converged,
		Iterations: run.Iterations,
		DurationMs: run.Duration.Milliseconds(),
	})
	s.log.Info().
		Str("run_id", run.ID).
		Float64("sharpe", run.Sharpe).
		Float64("initial_sharpe", run.InitialSharpe).
		Bool("converged", run.Converged).
		Dur("duration", run.Duration).
		Msg("Optimization run completed")

	return run, nil
}

// RunForSymbols loads the last LookbackDays+1 closes of each symbol from the
// price source and runs the pipeline on their log-returns, starting every path
// at the latest close.
func (s *Service) RunForSymbols(ctx context.Context, symbols []string, params domain.RunParams) (*domain.Run, error) {
	if s.prices == nil {
		return nil, fmt.Errorf("no price source configured")
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("%w: no symbols given", simulation.ErrInvalidInput)
	}

	limit := 0
	if params.LookbackDays > 0 {
		limit = params.LookbackDays + 1
	}

	assets := make([]domain.AssetInput, 0, len(symbols))
	for _, symbol := range symbols {
		closes, err := s.prices.GetClosingPrices(ctx, symbol, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to load prices for %s: %w", symbol, err)
		}
		if len(closes) < 2 {
			return nil, fmt.Errorf("%w: %s has %d closing prices, need at least 2", simulation.ErrInvalidInput, symbol, len(closes))
		}
		returns, err := formulas.LogReturns(closes)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", simulation.ErrInvalidInput, symbol, err)
		}
		assets = append(assets, domain.AssetInput{
			Symbol:     symbol,
			LogReturns: returns,
			S0:         closes[len(closes)-1],
		})
	}

	return s.Run(ctx, assets, params)
}

func (s *Service) simulateAll(
	ctx context.Context,
	runID string,
	assets []domain.AssetInput,
	params domain.RunParams,
	method simulation.BlockSizeMethod,
	collector *simulation.Collector,
) ([]assetOutcome, error) {
	outcomes := make([]assetOutcome, len(assets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.parallelism)
	for i, asset := range assets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			sink := simulation.NewCollector(collector)
			outcome, err := simulateAsset(asset, params, method, simulation.NewSource(simulation.DerivedSeed(params.Seed, i)), sink)
			if err != nil {
				return fmt.Errorf("asset %s: %w", asset.Symbol, err)
			}
			outcomes[i] = outcome

			s.emit(&events.AssetSimulatedData{
				RunID:         runID,
				Asset:         asset.Symbol,
				BlockSize:     outcome.summary.BlockSize,
				S0:            asset.S0,
				MeanTerminal:  outcome.summary.MeanTerminal,
				WarningsCount: len(sink.Diagnostics()),
			})
			s.log.Debug().
				Str("run_id", runID).
				Str("asset", asset.Symbol).
				Int("block_size", outcome.summary.BlockSize).
				Msg("Asset simulated")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return outcomes, nil
}

func simulateAsset(
	asset domain.AssetInput,
	params domain.RunParams,
	method simulation.BlockSizeMethod,
	rng simulation.RandomSource,
	sink simulation.DiagnosticSink,
) (assetOutcome, error) {
	blockSize := params.BlockSize
	if blockSize == 0 {
		chosen, err := simulation.ChooseBlockSize(asset.LogReturns, method, simulation.StatisticMean, rng)
		if err != nil {
			return assetOutcome{}, err
		}
		blockSize = chosen
	}

	set, err := simulation.NewBlockResampler(rng).Generate(asset.LogReturns, params.NBootstrap, params.SampleSize, blockSize)
	if err != nil {
		return assetOutcome{}, err
	}

	paths, err := simulation.NewPathSimulator(rng, sink).Simulate(asset.S0, set, params.Iterations, false)
	if err != nil {
		return assetOutcome{}, err
	}

	mean, variance := formulas.PopulationMeanVariance(paths.Terminal)
	return assetOutcome{
		summary: domain.AssetSummary{
			Symbol:       asset.Symbol,
			BlockSize:    blockSize,
			S0:           asset.S0,
			MeanTerminal: mean,
			StdTerminal:  math.Sqrt(variance),
		},
		terminal: paths.Terminal,
	}, nil
}

// optimize fills the result fields of run. A PortfolioSize strictly between 0
// and the number of assets searches every subset of that size; otherwise all
// assets are optimized together from equal weights.
func (s *Service) optimize(ctx context.Context, run *domain.Run, arrival *mat.Dense, params domain.RunParams) error {
	_, nAssets := arrival.Dims()
	optimizer := optimization.NewSimplexOptimizer()

	equal := optimization.EqualWeights(nAssets)
	initial, err := optimization.Evaluate(equal, arrival, params.RiskFreeRate)
	if err != nil {
		return err
	}
	run.InitialSharpe = initial.Sharpe

	weights := make([]float64, nAssets)
	if params.PortfolioSize > 0 && params.PortfolioSize < nAssets {
		search, err := optimization.NewCombinationSearch(optimizer).Search(ctx, arrival, optimization.SearchOptions{
			Size:          params.PortfolioSize,
			RiskFreeRate:  params.RiskFreeRate,
			MaxIterations: params.MaxIterations,
			Tolerance:     params.Tolerance,
		})
		if search != nil {
			run.Details.Combinations = summarizeCombinations(search.Combinations, run.Symbols)
		}
		if err != nil {
			return err
		}

		best := search.Best
		for j, asset := range best.Assets {
			weights[asset] = best.Weights[j]
		}
		run.Converged = best.Converged
		run.Iterations = best.Iterations
	} else {
		res, err := optimizer.Optimize(arrival, equal, params.RiskFreeRate, params.MaxIterations, params.Tolerance)
		if err != nil {
			return err
		}
		copy(weights, res.Weights)
		run.Converged = res.Converged
		run.Iterations = res.Iterations
		run.Details.GradientNorm = res.GradientNorm
	}

	stats, err := optimization.Evaluate(weights, arrival, params.RiskFreeRate)
	if err != nil {
		return err
	}
	run.Sharpe = stats.Sharpe
	run.Details.Stats = stats
	run.Details.Weights = make(map[string]float64, nAssets)
	for i, symbol := range run.Symbols {
		run.Details.Weights[symbol] = weights[i]
	}
	return nil
}

func (s *Service) fail(ctx context.Context, run *domain.Run, stage string, err error) error {
	run.Status = domain.RunStatusFailed
	run.Error = err.Error()
	run.Duration = time.Since(run.CreatedAt)
	if code := failureCode(err); code != "" {
		run.Details.Diagnostics = append(run.Details.Diagnostics, simulation.Diagnostic{
			Severity: simulation.SeverityError,
			Code:     code,
			Message:  err.Error(),
		})
		s.metrics.Diagnostics.WithLabelValues(code).Inc()
	}

	s.metrics.RunsTotal.WithLabelValues(string(domain.RunStatusFailed)).Inc()
	s.emit(&events.RunFailedData{RunID: run.ID, Stage: stage, Error: run.Error})
	s.log.Error().Err(err).Str("run_id", run.ID).Str("stage", stage).Msg("Optimization run failed")

	if stage != StagePersist && !errors.Is(err, context.Canceled) {
		if saveErr := s.save(ctx, run); saveErr != nil {
			s.log.Warn().Err(saveErr).Str("run_id", run.ID).Msg("Failed to persist failed run")
		}
	}
	return fmt.Errorf("run %s failed during %s: %w", run.ID, stage, err)
}

// failureCode classifies err for the run's diagnostics; other errors get none.
func failureCode(err error) string {
	switch {
	case errors.Is(err, simulation.ErrInvalidInput):
		return simulation.CodeInvalidInput
	case errors.Is(err, simulation.ErrAllocation):
		return simulation.CodeAllocation
	}
	return ""
}

func (s *Service) save(ctx context.Context, run *domain.Run) error {
	if s.store == nil {
		return nil
	}
	return s.store.Save(ctx, run)
}

func (s *Service) emit(data events.EventData) {
	if s.events != nil {
		s.events.EmitTyped(moduleName, data)
	}
}

func (s *Service) observeStage(stage string, since time.Time) {
	s.metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(since).Seconds())
}

func validateAssets(assets []domain.AssetInput, params domain.RunParams) error {
	if len(assets) == 0 {
		return fmt.Errorf("%w: no assets given", simulation.ErrInvalidInput)
	}
	if err := params.Validate(); err != nil {
		return err
	}
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		if a.Symbol == "" {
			return fmt.Errorf("%w: asset without symbol", simulation.ErrInvalidInput)
		}
		if seen[a.Symbol] {
			return fmt.Errorf("%w: duplicate asset %s", simulation.ErrInvalidInput, a.Symbol)
		}
		seen[a.Symbol] = true
	}
	return nil
}

func symbolsOf(assets []domain.AssetInput) []string {
	out := make([]string, len(assets))
	for i, a := range assets {
		out[i] = a.Symbol
	}
	return out
}

func summarizeCombinations(results []optimization.CombinationResult, symbols []string) []domain.CombinationSummary {
	out := make([]domain.CombinationSummary, len(results))
	for i, r := range results {
		names := make([]string, len(r.Assets))
		for j, a := range r.Assets {
			names[j] = symbols[a]
		}
		out[i] = domain.CombinationSummary{
			Symbols: names,
			Success: r.Success,
			Weights: r.Weights,
			Mean:    r.Mean,
			StdDev:  r.StdDev,
			Error:   r.Error,
		}
		if r.Success {
			sharpe := r.Sharpe
			out[i].Sharpe = &sharpe
		}
	}
	return out
}
