// Package pricing values European options against the terminal price
// distribution produced by the Monte Carlo simulation.
package pricing

import (
	"fmt"
	"math"
	"sort"

	"github.com/aristath/mbbfolio/internal/modules/simulation"
	"github.com/aristath/mbbfolio/pkg/formulas"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// TradingDaysPerYear annualizes daily quantities.
const TradingDaysPerYear = 252

// OptionType is either a call or a put.
type OptionType string

const (
	Call OptionType = "call"
	Put  OptionType = "put"
)

// Quote is a listed strike with its observed market price.
type Quote struct {
	Type        OptionType `json:"type"`
	Strike      float64    `json:"strike"`
	MarketPrice float64    `json:"market_price"`
}

// Greeks are Black-Scholes sensitivities evaluated at the simulated volatility.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Vega  float64 `json:"vega"`
	Theta float64 `json:"theta"`
	Sigma float64 `json:"sigma"`
}

// OptionPrice is the simulated valuation of a single quote.
type OptionPrice struct {
	Quote
	TheoreticalPrice float64 `json:"theoretical_price"`
	Difference       float64 `json:"difference"`
	PctDifference    float64 `json:"pct_difference"`
	ProbExercise     float64 `json:"prob_exercise"`
	Greeks
}

// Pricer discounts expected payoffs over a set of simulated terminal prices.
type Pricer struct {
	terminal []float64
	s0       float64
	rate     float64
	years    float64
	sigma    float64
}

// NewPricer prepares a pricer for terminal prices simulated from s0. rate is
// the annual risk-free rate and years the time to expiry.
func NewPricer(terminal []float64, s0, rate, years float64) (*Pricer, error) {
	if len(terminal) == 0 {
		return nil, fmt.Errorf("%w: no terminal prices", simulation.ErrInvalidInput)
	}
	if !(s0 > 0) {
		return nil, fmt.Errorf("%w: spot price must be positive, got %v", simulation.ErrInvalidInput, s0)
	}
	if !(years > 0) {
		return nil, fmt.Errorf("%w: expiry must be in the future, got %v years", simulation.ErrInvalidInput, years)
	}

	return &Pricer{
		terminal: terminal,
		s0:       s0,
		rate:     rate,
		years:    years,
		sigma:    SimulatedVolatility(terminal),
	}, nil
}

// Sigma returns the annualized volatility used for the greeks.
func (p *Pricer) Sigma() float64 {
	return p.sigma
}

// Price values one quote.
func (p *Pricer) Price(q Quote) (OptionPrice, error) {
	if !(q.Strike > 0) {
		return OptionPrice{}, fmt.Errorf("%w: strike must be positive, got %v", simulation.ErrInvalidInput, q.Strike)
	}

	var payoff float64
	var exercised int
	switch q.Type {
	case Call:
		for _, s := range p.terminal {
			payoff += math.Max(0, s-q.Strike)
			if s > q.Strike {
				exercised++
			}
		}
	case Put:
		for _, s := range p.terminal {
			payoff += math.Max(0, q.Strike-s)
			if s < q.Strike {
				exercised++
			}
		}
	default:
		return OptionPrice{}, fmt.Errorf("%w: unknown option type %q", simulation.ErrInvalidInput, q.Type)
	}

	n := float64(len(p.terminal))
	theoretical := math.Exp(-p.rate*p.years) * payoff / n

	out := OptionPrice{
		Quote:            q,
		TheoreticalPrice: theoretical,
		Difference:       q.MarketPrice - theoretical,
		ProbExercise:     float64(exercised) / n,
		Greeks:           ComputeGreeks(q.Type, p.s0, q.Strike, p.years, p.rate, p.sigma),
	}
	if theoretical > 0 {
		out.PctDifference = out.Difference / theoretical * 100
	}
	return out, nil
}

// PriceAll values every quote, stopping at the first invalid one.
func (p *Pricer) PriceAll(quotes []Quote) ([]OptionPrice, error) {
	out := make([]OptionPrice, 0, len(quotes))
	for _, q := range quotes {
		price, err := p.Price(q)
		if err != nil {
			return nil, fmt.Errorf("strike %v: %w", q.Strike, err)
		}
		out = append(out, price)
	}
	return out, nil
}

// SimulatedVolatility annualizes the population standard deviation of the
// simple returns between consecutive terminal prices.
func SimulatedVolatility(terminal []float64) float64 {
	if len(terminal) < 2 {
		return 0
	}
	returns := make([]float64, len(terminal)-1)
	for i := range returns {
		returns[i] = (terminal[i+1] - terminal[i]) / terminal[i]
	}
	return formulas.PopulationStdDev(returns) * math.Sqrt(TradingDaysPerYear)
}

// ComputeGreeks evaluates delta, gamma, vega (per 1% vol) and theta (per
// trading day). A zero sigma collapses d1 and d2 to zero.
func ComputeGreeks(kind OptionType, s0, strike, years, rate, sigma float64) Greeks {
	g := Greeks{Sigma: sigma}
	if years <= 0 {
		switch {
		case kind == Call && s0 > strike:
			g.Delta = 1
		case kind == Put && s0 < strike:
			g.Delta = -1
		}
		return g
	}

	sqrtT := math.Sqrt(years)
	var d1, d2 float64
	if sigma > 0 {
		d1 = (math.Log(s0/strike) + (rate+0.5*sigma*sigma)*years) / (sigma * sqrtT)
		d2 = d1 - sigma*sqrtT
	}

	n := distuv.UnitNormal
	pdf := n.Prob(d1)
	discount := strike * math.Exp(-rate*years)

	if sigma > 0 {
		g.Gamma = pdf / (s0 * sigma * sqrtT)
	}
	g.Vega = s0 * pdf * sqrtT / 100

	decay := -(s0 * pdf * sigma) / (2 * sqrtT)
	if kind == Put {
		g.Delta = n.CDF(d1) - 1
		g.Theta = (decay + rate*discount*n.CDF(-d2)) / TradingDaysPerYear
	} else {
		g.Delta = n.CDF(d1)
		g.Theta = (decay - rate*discount*n.CDF(d2)) / TradingDaysPerYear
	}
	return g
}

// TerminalStatistics summarizes the simulated terminal price distribution.
type TerminalStatistics struct {
	Mean         float64 `json:"mean"`
	Median       float64 `json:"median"`
	StdDev       float64 `json:"std"`
	Min          float64 `json:"min"`
	Max          float64 `json:"max"`
	Percentile5  float64 `json:"percentile_5"`
	Percentile25 float64 `json:"percentile_25"`
	Percentile75 float64 `json:"percentile_75"`
	Percentile95 float64 `json:"percentile_95"`
}

// BootstrapStatistics summarizes the resampled series behind a simulation.
type BootstrapStatistics struct {
	Samples    int     `json:"n_samples"`
	SampleSize int     `json:"sample_size"`
	MeanOfMean float64 `json:"mean_of_means"`
	StdOfMeans float64 `json:"std_of_means"`
	MeanOfStds float64 `json:"mean_of_stds"`
}

// Summarize computes distribution statistics for terminal prices. Quantiles
// use linear interpolation.
func Summarize(terminal []float64) TerminalStatistics {
	if len(terminal) == 0 {
		return TerminalStatistics{}
	}

	sorted := make([]float64, len(terminal))
	copy(sorted, terminal)
	sort.Float64s(sorted)

	mean, variance := formulas.PopulationMeanVariance(sorted)
	q := func(p float64) float64 {
		return stat.Quantile(p, stat.LinInterp, sorted, nil)
	}

	return TerminalStatistics{
		Mean:         mean,
		Median:       q(0.5),
		StdDev:       math.Sqrt(variance),
		Min:          sorted[0],
		Max:          sorted[len(sorted)-1],
		Percentile5:  q(0.05),
		Percentile25: q(0.25),
		Percentile75: q(0.75),
		Percentile95: q(0.95),
	}
}

// SummarizeBootstrap computes per-row mean and deviation statistics of set.
func SummarizeBootstrap(set *simulation.SampleSet) BootstrapStatistics {
	out := BootstrapStatistics{Samples: set.Rows(), SampleSize: set.Cols()}
	if out.Samples == 0 {
		return out
	}

	means := make([]float64, out.Samples)
	stds := make([]float64, out.Samples)
	for i := range means {
		mean, variance := formulas.PopulationMeanVariance(set.Row(i))
		means[i] = mean
		stds[i] = math.Sqrt(variance)
	}

	out.MeanOfMean = formulas.Mean(means)
	out.StdOfMeans = formulas.PopulationStdDev(means)
	out.MeanOfStds = formulas.Mean(stds)
	return out
}
