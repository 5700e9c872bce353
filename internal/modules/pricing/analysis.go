package pricing

import (
	"fmt"

	"github.com/aristath/mbbfolio/internal/modules/simulation"
)

// terminalSampleSize is how many terminal prices an Analysis carries for
// plotting.
const terminalSampleSize = 100

// Request describes an option chain valuation for one underlying.
type Request struct {
	S0           float64   `json:"s0"`
	LogReturns   []float64 `json:"log_returns"`
	NBootstrap   int       `json:"n_bootstrap"`
	SampleSize   int       `json:"sample_size"`
	BlockSize    int       `json:"block_size"` // 0 selects one automatically
	Iterations   int       `json:"iterations"`
	Seed         int64     `json:"seed"`
	RiskFreeRate float64   `json:"risk_free_rate"`
	DaysToExpiry int       `json:"days_to_expiry"`
	Quotes       []Quote   `json:"quotes"`
}

// Statistics groups the distribution summaries of an Analysis.
type Statistics struct {
	MonteCarlo TerminalStatistics  `json:"monte_carlo"`
	Bootstrap  BootstrapStatistics `json:"bootstrap"`
}

// Analysis is the valuation of every quote in a Request.
type Analysis struct {
	S0             float64       `json:"current_price"`
	BlockSize      int           `json:"block_size"`
	DaysToExpiry   int           `json:"days_to_expiry"`
	RiskFreeRate   float64       `json:"risk_free_rate"`
	Sigma          float64       `json:"sigma"`
	Calls          []OptionPrice `json:"calls"`
	Puts           []OptionPrice `json:"puts"`
	Statistics     Statistics    `json:"statistics"`
	TerminalSample []float64     `json:"final_prices_sample"`
}

// Analyze bootstraps the return history, simulates terminal prices from S0 and
// prices every quote against them. sink may be nil.
func Analyze(req Request, sink simulation.DiagnosticSink) (*Analysis, error) {
	if req.DaysToExpiry <= 0 {
		return nil, fmt.Errorf("%w: days to expiry must be positive, got %d", simulation.ErrInvalidInput, req.DaysToExpiry)
	}
	if len(req.Quotes) == 0 {
		return nil, fmt.Errorf("%w: no quotes to price", simulation.ErrInvalidInput)
	}

	rng := simulation.NewSource(req.Seed)

	blockSize := req.BlockSize
	if blockSize == 0 {
		chosen, err := simulation.ChooseBlockSize(req.LogReturns, simulation.BlockSizeAuto, simulation.StatisticMean, rng)
		if err != nil {
			return nil, err
		}
		blockSize = chosen
	}

	set, err := simulation.NewBlockResampler(rng).Generate(req.LogReturns, req.NBootstrap, req.SampleSize, blockSize)
	if err != nil {
		return nil, err
	}
	paths, err := simulation.NewPathSimulator(rng, sink).Simulate(req.S0, set, req.Iterations, false)
	if err != nil {
		return nil, err
	}

	pricer, err := NewPricer(paths.Terminal, req.S0, req.RiskFreeRate, float64(req.DaysToExpiry)/TradingDaysPerYear)
	if err != nil {
		return nil, err
	}
	priced, err := pricer.PriceAll(req.Quotes)
	if err != nil {
		return nil, err
	}

	out := &Analysis{
		S0:           req.S0,
		BlockSize:    blockSize,
		DaysToExpiry: req.DaysToExpiry,
		RiskFreeRate: req.RiskFreeRate,
		Sigma:        pricer.Sigma(),
		Calls:        []OptionPrice{},
		Puts:         []OptionPrice{},
		Statistics: Statistics{
			MonteCarlo: Summarize(paths.Terminal),
			Bootstrap:  SummarizeBootstrap(set),
		},
	}
	for _, p := range priced {
		if p.Type == Call {
			out.Calls = append(out.Calls, p)
		} else {
			out.Puts = append(out.Puts, p)
		}
	}

	n := min(terminalSampleSize, len(paths.Terminal))
	out.TerminalSample = append([]float64(nil), paths.Terminal[:n]...)

	return out, nil
}
