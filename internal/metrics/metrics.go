// Package metrics exposes Prometheus instrumentation for the fetch
// chain, the tool executor and agent runs.
//
// Every method is safe to call on a nil *Metrics so components can be
// built without instrumentation in tests and one-shot CLI commands.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "whim"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	gatherer prometheus.Gatherer

	FetchAttempts *prometheus.CounterVec   // tier, outcome
	FetchDuration *prometheus.HistogramVec // tier
	CacheLookups  *prometheus.CounterVec   // result
	CacheSize     prometheus.Gauge
	ToolCalls     *prometheus.CounterVec   // tool, status
	ToolDuration  *prometheus.HistogramVec // tool
	Iterations    prometheus.Counter
	Runs          *prometheus.CounterVec // termination
	RunCost       prometheus.Histogram
}

// New registers the collectors with reg. A nil reg uses a fresh
// private registry, which keeps parallel tests independent.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)

	return &Metrics{
		gatherer: reg,
		FetchAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Fetch tier attempts by tier and outcome (success or failure kind).",
		}, []string{"tier", "outcome"}),
		FetchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Time spent in each fetch tier.",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"tier"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "lookups_total",
			Help:      "Content cache lookups by result (hit, miss, expired).",
		}, []string{"result"}),
		CacheSize: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "entries",
			Help:      "Entries currently held by the content cache.",
		}),
		ToolCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "calls_total",
			Help:      "Tool calls by tool and status.",
		}, []string{"tool", "status"}),
		ToolDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tools",
			Name:      "duration_seconds",
			Help:      "Tool execution time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
		Iterations: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "iterations_total",
			Help:      "Reasoning iterations executed across all runs.",
		}),
		Runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "runs_total",
			Help:      "Completed agent runs by termination reason.",
		}, []string{"termination"}),
		RunCost: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "agent",
			Name:      "run_cost_usd",
			Help:      "Total cost of each agent run in USD.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .25, .5, 1},
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveFetch records one tier attempt.
func (m *Metrics) ObserveFetch(tier, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.FetchAttempts.WithLabelValues(tier, outcome).Inc()
	m.FetchDuration.WithLabelValues(tier).Observe(d.Seconds())
}

// ObserveCache records a cache lookup and the current entry count.
func (m *Metrics) ObserveCache(result string, size int) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(result).Inc()
	m.CacheSize.Set(float64(size))
}

// ObserveTool records one tool execution.
func (m *Metrics) ObserveTool(tool string, success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "error"
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
	m.ToolDuration.WithLabelValues(tool).Observe(d.Seconds())
}

// ObserveIteration counts one reasoning iteration.
func (m *Metrics) ObserveIteration() {
	if m == nil {
		return
	}
	m.Iterations.Inc()
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(termination string, cost float64) {
	if m == nil {
		return
	}
	m.Runs.WithLabelValues(termination).Inc()
	m.RunCost.Observe(cost)
}
