package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors updated by the pipeline.
type Metrics struct {
	RunsTotal     *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	Diagnostics   *prometheus.CounterVec
	ActiveRuns    prometheus.Gauge
	LastSharpe    prometheus.Gauge
}

// NewMetrics creates the pipeline collectors and registers them with reg.
// A nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mbbfolio_runs_total",
				Help: "Total number of optimization runs by final status",
			},
			[]string{"status"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mbbfolio_stage_duration_seconds",
				Help:    "Duration of each pipeline stage in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		Diagnostics: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mbbfolio_diagnostics_total",
				Help: "Total number of diagnostics reported by code",
			},
			[]string{"code"},
		),
		ActiveRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mbbfolio_active_runs",
				Help: "Number of runs currently executing",
			},
		),
		LastSharpe: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "mbbfolio_last_sharpe_ratio",
				Help: "Sharpe ratio of the most recent completed run",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(m.RunsTotal, m.StageDuration, m.Diagnostics, m.ActiveRuns, m.LastSharpe)
	}
	return m
}
