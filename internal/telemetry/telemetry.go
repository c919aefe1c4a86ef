// Package telemetry exposes Prometheus collectors for backtest runs.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/marginsim/internal/domain"
)

const namespace = "marginsim"

// Metrics owns a registry and the run collectors registered on it.
type Metrics struct {
	registry *prometheus.Registry

	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	activeRuns   prometheus.Gauge
	ticks        *prometheus.CounterVec
	trades       *prometheus.CounterVec
	liquidations *prometheus.CounterVec
	returnPct    *prometheus.GaugeVec
}

// New registers every collector, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		runsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Backtest runs started.",
		}, []string{"strategy"}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_finished_total",
			Help:      "Backtest runs that reached a terminal status.",
		}, []string{"strategy", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of a run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		}, []string{"strategy"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Runs currently executing.",
		}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Simulated timestamps, by outcome.",
		}, []string{"outcome"}),
		trades: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trades_total",
			Help:      "Ledger trade records, by action and close reason.",
		}, []string{"action", "reason"}),
		liquidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "liquidations_total",
			Help:      "Forced closes, by margin mode.",
		}, []string{"mode"}),
		returnPct: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_return_pct",
			Help:      "Total return of the most recent completed run per strategy.",
		}, []string{"strategy"}),
	}
	reg.MustRegister(
		m.runsStarted, m.runsFinished, m.runDuration, m.activeRuns,
		m.ticks, m.trades, m.liquidations, m.returnPct,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RunStarted counts a run and marks it active.
func (m *Metrics) RunStarted(strategy string) {
	m.runsStarted.WithLabelValues(strategy).Inc()
	m.activeRuns.Inc()
}

// RunFinished records the terminal status and duration of a run.
func (m *Metrics) RunFinished(strategy string, status domain.RunStatus, took time.Duration) {
	m.activeRuns.Dec()
	m.runsFinished.WithLabelValues(strategy, string(status)).Inc()
	m.runDuration.WithLabelValues(strategy).Observe(took.Seconds())
}

// Ticks adds processed and skipped tick counts.
func (m *Metrics) Ticks(processed, skipped int) {
	m.ticks.WithLabelValues("processed").Add(float64(processed))
	m.ticks.WithLabelValues("skipped").Add(float64(skipped))
}

// Trades counts ledger records and liquidations.
func (m *Metrics) Trades(trades []domain.Trade, liquidations []domain.LiquidationEvent) {
	for _, t := range trades {
		m.trades.WithLabelValues(string(t.Action), string(t.Reason)).Inc()
	}
	for _, l := range liquidations {
		m.liquidations.WithLabelValues(string(l.Mode)).Inc()
	}
}

// Return sets the latest return of a strategy.
func (m *Metrics) Return(strategy string, pct float64) {
	m.returnPct.WithLabelValues(strategy).Set(pct)
}
