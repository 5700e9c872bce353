package simulation

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestPathSimulator_Simulate_Compounding(t *testing.T) {
	set := NewSampleSet(mat.NewDense(1, 3, []float64{0.1, -0.05, 0.02}))

	result, err := NewPathSimulator(NewSource(1), nil).Simulate(100, set, 1, true)
	require.NoError(t, err)

	p1 := 100 * math.Exp(0.1)
	p2 := p1 * math.Exp(-0.05)
	p3 := p2 * math.Exp(0.02)

	path := result.Path(0)
	require.Len(t, path, 3)
	assert.InDelta(t, p1, path[0], 1e-9)
	assert.InDelta(t, p2, path[1], 1e-9)
	assert.InDelta(t, p3, path[2], 1e-9)
	assert.InDelta(t, p3, result.Terminal[0], 1e-9)
	assert.Equal(t, 100.0, result.S0)
}

func TestPathSimulator_Simulate_PricesStrictlyPositive(t *testing.T) {
	series := []float64{0.01, -0.02, 0.015, 0.005, -0.01, 0.02}
	rng := NewSource(42)
	set, err := NewBlockResampler(rng).Generate(series, 100, 6, 2)
	require.NoError(t, err)

	result, err := NewPathSimulator(rng, nil).Simulate(100, set, 50, true)
	require.NoError(t, err)

	assert.Equal(t, 50, result.Iterations())
	for i := 0; i < result.Iterations(); i++ {
		assert.Greater(t, result.Terminal[i], 0.0)
		for _, price := range result.Path(i) {
			assert.Greater(t, price, 0.0)
		}
		assert.Equal(t, result.Path(i)[5], result.Terminal[i])
	}
}

func TestPathSimulator_Simulate_TerminalOnly(t *testing.T) {
	set := NewSampleSet(mat.NewDense(2, 2, []float64{0, 0, 0, 0}))

	result, err := NewPathSimulator(NewSource(3), nil).Simulate(50, set, 4, false)
	require.NoError(t, err)

	assert.Nil(t, result.Paths)
	assert.Nil(t, result.Path(0))
	assert.Equal(t, []float64{50, 50, 50, 50}, result.Terminal)
}

func TestPathSimulator_Simulate_WarnsWhenIterationsExceedRows(t *testing.T) {
	set := NewSampleSet(mat.NewDense(2, 2, []float64{0.01, 0.01, -0.01, -0.01}))
	collector := NewCollector(nil)

	result, err := NewPathSimulator(NewSource(3), collector).Simulate(10, set, 5, false)
	require.NoError(t, err, "warning must not abort")
	assert.Len(t, result.Terminal, 5)

	diags := collector.Diagnostics()
	require.Len(t, diags, 1)
	assert.Equal(t, SeverityWarning, diags[0].Severity)
	assert.Equal(t, CodeIterationsExceedBootstrap, diags[0].Code)
}

func TestPathSimulator_Simulate_NoWarningWithinRows(t *testing.T) {
	set := NewSampleSet(mat.NewDense(3, 1, []float64{0.01, 0.02, 0.03}))
	collector := NewCollector(nil)

	_, err := NewPathSimulator(NewSource(3), collector).Simulate(10, set, 3, false)
	require.NoError(t, err)
	assert.Empty(t, collector.Diagnostics())
}

func TestPathSimulator_Simulate_InvalidInput(t *testing.T) {
	set := NewSampleSet(mat.NewDense(1, 1, []float64{0.01}))
	sim := NewPathSimulator(NewSource(1), nil)

	_, err := sim.Simulate(0, set, 1, false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = sim.Simulate(-1, set, 1, false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = sim.Simulate(100, set, 0, false)
	assert.ErrorIs(t, err, ErrInvalidInput)

	_, err = sim.Simulate(100, nil, 1, false)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestPathSimulator_Simulate_Budget(t *testing.T) {
	set := NewSampleSet(mat.NewDense(2, 10, make([]float64, 20)))

	result, err := NewPathSimulator(NewSource(1), nil).WithMaxCells(50).Simulate(100, set, 10, true)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrAllocation)
}
