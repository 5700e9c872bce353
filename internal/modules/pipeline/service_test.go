package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/aristath/mbbfolio/internal/domain"
	"github.com/aristath/mbbfolio/internal/events"
	"github.com/aristath/mbbfolio/internal/modules/simulation"
	testingpkg "github.com/aristath/mbbfolio/internal/testing"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	mu   sync.Mutex
	runs []*domain.Run
	err  error
}

func (m *memoryStore) Save(_ context.Context, run *domain.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.runs = append(m.runs, run)
	return nil
}

type fakePrices struct {
	closes map[string][]float64
	limits []int
}

func (f *fakePrices) GetClosingPrices(_ context.Context, symbol string, limit int) ([]float64, error) {
	f.limits = append(f.limits, limit)
	return f.closes[symbol], nil
}

type eventRecorder struct {
	mu     sync.Mutex
	counts map[events.EventType]int
	last   map[events.EventType]*events.Event
}

func newEventRecorder(bus *events.Bus) *eventRecorder {
	r := &eventRecorder{
		counts: make(map[events.EventType]int),
		last:   make(map[events.EventType]*events.Event),
	}
	for _, t := range events.AllEventTypes {
		bus.Subscribe(t, func(e *events.Event) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.counts[e.Type]++
			r.last[e.Type] = e
		})
	}
	return r
}

func (r *eventRecorder) count(t events.EventType) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.counts[t]
}

type fixture struct {
	service  *Service
	store    *memoryStore
	recorder *eventRecorder
	metrics  *Metrics
}

func newFixture(prices PriceSource) *fixture {
	log := zerolog.Nop()
	bus := events.NewBus(log)
	store := &memoryStore{}
	metrics := NewMetrics(prometheus.NewRegistry())
	return &fixture{
		service:  NewService(prices, store, events.NewManager(bus, log), metrics, log),
		store:    store,
		recorder: newEventRecorder(bus),
		metrics:  metrics,
	}
}

// syntheticReturns builds a deterministic oscillating series with the given
// drift and amplitude.
func syntheticReturns(n int, drift, amplitude, phase float64) []float64 {
	out := make([]float64, n)
	for t := range out {
		out[t] = drift + amplitude*math.Sin(float64(t)*0.7+phase)
	}
	return out
}

func sampleAssets() []domain.AssetInput {
	return []domain.AssetInput{
		{Symbol: "AAA", LogReturns: syntheticReturns(120, 0.001, 0.01, 0), S0: 100},
		{Symbol: "BBB", LogReturns: syntheticReturns(120, 0.0005, 0.02, 1.3), S0: 50},
		{Symbol: "CCC", LogReturns: syntheticReturns(120, 0.0002, 0.005, 2.1), S0: 20},
	}
}

func sampleParams() domain.RunParams {
	return domain.RunParams{
		NBootstrap:    300,
		SampleSize:    20,
		BlockSize:     3,
		Iterations:    300,
		Seed:          1987,
		MaxIterations: 50,
		Tolerance:     1e-6,
	}
}

func sumWeights(w map[string]float64) float64 {
	sum := 0.0
	for _, v := range w {
		sum += v
	}
	return sum
}

func TestService_Run(t *testing.T) {
	f := newFixture(nil)

	run, err := f.service.Run(context.Background(), sampleAssets(), sampleParams())
	require.NoError(t, err)

	assert.NotEmpty(t, run.ID)
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
	assert.Equal(t, []string{"AAA", "BBB", "CCC"}, run.Symbols)
	assert.GreaterOrEqual(t, run.Sharpe, run.InitialSharpe-1e-12)
	assert.Equal(t, run.Sharpe, run.Details.Stats.Sharpe)
	assert.Positive(t, run.Iterations)

	require.Len(t, run.Details.Weights, 3)
	assert.InDelta(t, 1.0, sumWeights(run.Details.Weights), 1e-9)
	for symbol, w := range run.Details.Weights {
		assert.GreaterOrEqual(t, w, 0.0, symbol)
	}

	require.Len(t, run.Details.Assets, 3)
	for i, a := range run.Details.Assets {
		assert.Equal(t, run.Symbols[i], a.Symbol)
		assert.Equal(t, 3, a.BlockSize)
		assert.Positive(t, a.MeanTerminal)
	}
	assert.Empty(t, run.Details.Diagnostics)

	require.Len(t, f.store.runs, 1)
	assert.Equal(t, run.ID, f.store.runs[0].ID)

	assert.Equal(t, 1, f.recorder.count(events.RunStarted))
	assert.Equal(t, 3, f.recorder.count(events.AssetSimulated))
	assert.Equal(t, 1, f.recorder.count(events.RunCompleted))
	assert.Equal(t, 0, f.recorder.count(events.RunFailed))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("completed")))
	assert.Equal(t, run.Sharpe, testutil.ToFloat64(f.metrics.LastSharpe))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.ActiveRuns))
}

func TestService_Run_SeededRunsAreReproducible(t *testing.T) {
	params := sampleParams()
	params.BlockSize = 0
	params.BlockSizeMethod = "auto"

	first, err := newFixture(nil).service.WithParallelism(1).Run(context.Background(), sampleAssets(), params)
	require.NoError(t, err)
	second, err := newFixture(nil).service.WithParallelism(3).Run(context.Background(), sampleAssets(), params)
	require.NoError(t, err)

	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, first.Details.Weights, second.Details.Weights)
	assert.Equal(t, first.Sharpe, second.Sharpe)
	assert.Equal(t, first.Details.Assets, second.Details.Assets)
	for _, a := range first.Details.Assets {
		assert.GreaterOrEqual(t, a.BlockSize, 1)
	}
}

func TestService_Run_ReportsBootstrapReuse(t *testing.T) {
	f := newFixture(nil)
	params := sampleParams()
	params.NBootstrap = 50
	params.Iterations = 200

	run, err := f.service.Run(context.Background(), sampleAssets(), params)
	require.NoError(t, err)

	require.Len(t, run.Details.Diagnostics, 3)
	for _, d := range run.Details.Diagnostics {
		assert.Equal(t, simulation.SeverityWarning, d.Severity)
		assert.Equal(t, simulation.CodeIterationsExceedBootstrap, d.Code)
	}
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Diagnostics.WithLabelValues(simulation.CodeIterationsExceedBootstrap)))
	assert.Equal(t, domain.RunStatusCompleted, run.Status)
}

func TestService_Run_CombinationSearch(t *testing.T) {
	f := newFixture(nil)
	params := sampleParams()
	params.PortfolioSize = 2

	run, err := f.service.Run(context.Background(), sampleAssets(), params)
	require.NoError(t, err)

	require.Len(t, run.Details.Combinations, 3)
	assert.Equal(t, []string{"AAA", "BBB"}, run.Details.Combinations[0].Symbols)
	assert.Equal(t, []string{"BBB", "CCC"}, run.Details.Combinations[2].Symbols)

	best := math.Inf(-1)
	for _, c := range run.Details.Combinations {
		require.True(t, c.Success)
		require.NotNil(t, c.Sharpe)
		best = math.Max(best, *c.Sharpe)
	}
	assert.InDelta(t, best, run.Sharpe, 1e-9)

	zeros := 0
	for _, w := range run.Details.Weights {
		if w == 0 {
			zeros++
		}
	}
	assert.GreaterOrEqual(t, zeros, 1)
	assert.InDelta(t, 1.0, sumWeights(run.Details.Weights), 1e-9)
}

func TestService_Run_SimulationFailure(t *testing.T) {
	f := newFixture(nil)
	assets := sampleAssets()
	assets[1].LogReturns = []float64{0.01, 0.02}

	run, err := f.service.Run(context.Background(), assets, sampleParams())
	assert.Nil(t, run)
	require.Error(t, err)
	assert.ErrorIs(t, err, simulation.ErrInvalidInput)
	assert.Contains(t, err.Error(), "BBB")

	require.Len(t, f.store.runs, 1)
	failed := f.store.runs[0]
	assert.Equal(t, domain.RunStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)
	require.NotEmpty(t, failed.Details.Diagnostics)
	last := failed.Details.Diagnostics[len(failed.Details.Diagnostics)-1]
	assert.Equal(t, simulation.SeverityError, last.Severity)
	assert.Equal(t, simulation.CodeInvalidInput, last.Code)

	assert.Equal(t, 1, f.recorder.count(events.RunFailed))
	assert.Equal(t, 0, f.recorder.count(events.RunCompleted))
	assert.Equal(t, StageSimulate, f.recorder.last[events.RunFailed].Data["stage"])
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RunsTotal.WithLabelValues("failed")))
}

func TestService_Run_PersistFailure(t *testing.T) {
	f := newFixture(nil)
	f.store.err = errors.New("disk full")

	_, err := f.service.Run(context.Background(), sampleAssets(), sampleParams())
	require.Error(t, err)
	assert.Contains(t, err.Error(), StagePersist)
	assert.Equal(t, 1, f.recorder.count(events.RunFailed))
}

func TestService_Run_InvalidInput(t *testing.T) {
	tests := []struct {
		name   string
		assets []domain.AssetInput
		modify func(*domain.RunParams)
	}{
		{name: "no assets", assets: nil},
		{name: "duplicate symbol", assets: []domain.AssetInput{
			{Symbol: "AAA", LogReturns: testingpkg.SampleLogReturns, S0: 1},
			{Symbol: "AAA", LogReturns: testingpkg.SampleLogReturns, S0: 1},
		}},
		{name: "missing symbol", assets: []domain.AssetInput{{LogReturns: testingpkg.SampleLogReturns, S0: 1}}},
		{name: "zero iterations", assets: sampleAssets(), modify: func(p *domain.RunParams) { p.Iterations = 0 }},
		{name: "unknown block method", assets: sampleAssets(), modify: func(p *domain.RunParams) { p.BlockSizeMethod = "magic" }},
		{name: "non-positive start price", assets: []domain.AssetInput{
			{Symbol: "AAA", LogReturns: syntheticReturns(60, 0, 0.01, 0), S0: 0},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(nil)
			params := sampleParams()
			if tt.modify != nil {
				tt.modify(&params)
			}

			_, err := f.service.Run(context.Background(), tt.assets, params)
			assert.ErrorIs(t, err, simulation.ErrInvalidInput)
		})
	}
}

func TestService_Run_Cancelled(t *testing.T) {
	f := newFixture(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.service.Run(ctx, sampleAssets(), sampleParams())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, f.store.runs)
}

func TestService_RunForSymbols(t *testing.T) {
	returnsA := syntheticReturns(80, 0.001, 0.01, 0)
	returnsB := syntheticReturns(80, 0.0004, 0.015, 0.8)
	pricesA := testingpkg.PricesFromLogReturns(100, returnsA)
	pricesB := testingpkg.PricesFromLogReturns(40, returnsB)

	prices := &fakePrices{closes: map[string][]float64{"AAA": pricesA, "BBB": pricesB}}
	f := newFixture(prices)

	params := sampleParams()
	params.LookbackDays = 252

	run, err := f.service.RunForSymbols(context.Background(), []string{"AAA", "BBB"}, params)
	require.NoError(t, err)

	assert.Equal(t, []int{253, 253}, prices.limits)
	require.Len(t, run.Details.Assets, 2)
	assert.Equal(t, pricesA[len(pricesA)-1], run.Details.Assets[0].S0)
	assert.Equal(t, pricesB[len(pricesB)-1], run.Details.Assets[1].S0)
	assert.InDelta(t, 1.0, sumWeights(run.Details.Weights), 1e-9)
}

func TestService_RunForSymbols_InsufficientHistory(t *testing.T) {
	prices := &fakePrices{closes: map[string][]float64{"AAA": {100}}}
	f := newFixture(prices)

	_, err := f.service.RunForSymbols(context.Background(), []string{"AAA"}, sampleParams())
	assert.ErrorIs(t, err, simulation.ErrInvalidInput)
	assert.Empty(t, f.store.runs)
}

func TestService_RunForSymbols_NoSource(t *testing.T) {
	_, err := newFixture(nil).service.RunForSymbols(context.Background(), []string{"AAA"}, sampleParams())
	assert.Error(t, err)
}
