package graph

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusMetrics collects Prometheus metrics for graph execution.
//
// Metrics exposed (all namespaced with "hive_"):
//
//  1. inflight_nodes (gauge): node invocations currently executing.
//  2. ready_nodes (gauge): size of the current round.
//  3. invocation_latency_ms (histogram): invocation duration, retries
//     included. Labels: node_id, status (complete/failed/timeout).
//  4. retries_total (counter): retry attempts. Labels: node_id, reason.
//  5. node_failures_total (counter): failed invocations. Labels: node_id.
//  6. runs_total (counter): finished runs. Labels: status.
//
// Usage:
//
//	registry := prometheus.NewRegistry()
//	metrics := graph.NewPrometheusMetrics(registry)
//	engine, _ := graph.New(g, graph.WithMetrics(metrics))
//	http.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
//
// Safe for concurrent use.
type PrometheusMetrics struct {
	inflightNodes prometheus.Gauge
	readyNodes    prometheus.Gauge

	latency *prometheus.HistogramVec

	retries  *prometheus.CounterVec
	failures *prometheus.CounterVec
	runs     *prometheus.CounterVec

	enabled atomic.Bool
}

// NewPrometheusMetrics creates and registers all graph execution metrics
// with registry. A nil registry uses prometheus.DefaultRegisterer.
//
// Registering twice with the same registry panics, as with any promauto
// collector; use one PrometheusMetrics per registry.
func NewPrometheusMetrics(registry prometheus.Registerer) *PrometheusMetrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)
	pm := &PrometheusMetrics{}
	pm.enabled.Store(true)

	pm.inflightNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "hive",
		Name:      "inflight_nodes",
		Help:      "Number of node invocations currently executing",
	})

	pm.readyNodes = factory.NewGauge(prometheus.GaugeOpts{
		Namespace: "hive",
		Name:      "ready_nodes",
		Help:      "Number of nodes scheduled in the current round",
	})

	pm.latency = factory.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "hive",
		Name:      "invocation_latency_ms",
		Help:      "Node invocation duration in milliseconds, retries included",
		Buckets:   []float64{1, 5, 10, 50, 100, 500, 1000, 5000, 10000, 60000},
	}, []string{"node_id", "status"})

	pm.retries = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "retries_total",
		Help:      "Cumulative count of node retry attempts",
	}, []string{"node_id", "reason"})

	pm.failures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "node_failures_total",
		Help:      "Invocations committed as failed messages",
	}, []string{"node_id"})

	pm.runs = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "hive",
		Name:      "runs_total",
		Help:      "Finished runs by completion status",
	}, []string{"status"})

	return pm
}

// RecordInvocation observes the latency of one committed invocation.
func (pm *PrometheusMetrics) RecordInvocation(nodeID string, latency time.Duration, status string) {
	if !pm.enabled.Load() {
		return
	}
	pm.latency.WithLabelValues(nodeID, status).Observe(float64(latency.Milliseconds()))
}

// IncrementRetries counts one retry of nodeID.
func (pm *PrometheusMetrics) IncrementRetries(nodeID, reason string) {
	if !pm.enabled.Load() {
		return
	}
	pm.retries.WithLabelValues(nodeID, reason).Inc()
}

// IncrementFailures counts one failed invocation of nodeID.
func (pm *PrometheusMetrics) IncrementFailures(nodeID string) {
	if !pm.enabled.Load() {
		return
	}
	pm.failures.WithLabelValues(nodeID).Inc()
}

// RecordRun counts a finished run.
func (pm *PrometheusMetrics) RecordRun(status string) {
	if !pm.enabled.Load() {
		return
	}
	pm.runs.WithLabelValues(status).Inc()
}

// UpdateReadyNodes sets the size of the current round.
func (pm *PrometheusMetrics) UpdateReadyNodes(n int) {
	if !pm.enabled.Load() {
		return
	}
	pm.readyNodes.Set(float64(n))
}

// AddInflight adjusts the in-flight invocation gauge by delta.
func (pm *PrometheusMetrics) AddInflight(delta int) {
	if !pm.enabled.Load() {
		return
	}
	pm.inflightNodes.Add(float64(delta))
}

// Disable stops metric recording (useful for testing).
func (pm *PrometheusMetrics) Disable() {
	pm.enabled.Store(false)
}

// Enable re-enables metric recording after Disable.
func (pm *PrometheusMetrics) Enable() {
	pm.enabled.Store(true)
}

// Reset zeroes the gauges. Counters and histograms are cumulative and are
// left untouched.
func (pm *PrometheusMetrics) Reset() {
	pm.inflightNodes.Set(0)
	pm.readyNodes.Set(0)
}
