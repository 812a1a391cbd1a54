// Package metrics wraps the Prometheus collectors CES exposes: session
// lifecycle, executions, streaming, verifier rejections, and compaction.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps the Prometheus collectors for a running CES instance.
type Metrics struct {
	registry *prometheus.Registry

	sessionsCreatedTotal  prometheus.Counter
	sessionsStoppedTotal  prometheus.Counter
	sessionsActive        prometheus.Gauge
	executionsTotal       *prometheus.CounterVec // status=success|failure
	executionDuration     prometheus.Histogram
	verifierRejections    prometheus.Counter
	streamsOpen           prometheus.Gauge
	streamKeepalivesTotal prometheus.Counter
	compactionRunsTotal   *prometheus.CounterVec // outcome=compacted|skipped|failed
	pluginLoadsTotal      *prometheus.CounterVec // status=ok|failed
}

var defaultBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

var global *Metrics

// Init initializes the global Metrics instance. Safe to call once at
// daemon startup; nil receivers are safe no-ops so callers need not guard
// every call site when metrics are disabled.
func Init(namespace string, buckets []float64) {
	if len(buckets) == 0 {
		buckets = defaultBuckets
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	registry.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := &Metrics{
		registry: registry,
		sessionsCreatedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_created_total", Help: "Total sessions created.",
		}),
		sessionsStoppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_stopped_total", Help: "Total sessions stopped.",
		}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active", Help: "Currently running sessions.",
		}),
		executionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "executions_total", Help: "Total executions by outcome.",
		}, []string{"status"}),
		executionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "execution_duration_ms", Help: "Execution wall time in milliseconds.",
			Buckets: buckets,
		}),
		verifierRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "verifier_rejections_total", Help: "Executions rejected by the verifier before running.",
		}),
		streamsOpen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "streams_open", Help: "Currently open SSE execution streams.",
		}),
		streamKeepalivesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "stream_keepalives_total", Help: "Total SSE keepalive comments sent.",
		}),
		compactionRunsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "compaction_runs_total", Help: "Compactor worker passes by outcome.",
		}, []string{"outcome"}),
		pluginLoadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "plugin_loads_total", Help: "Plugin load attempts by status.",
		}, []string{"status"}),
	}

	registry.MustRegister(
		m.sessionsCreatedTotal, m.sessionsStoppedTotal, m.sessionsActive,
		m.executionsTotal, m.executionDuration, m.verifierRejections,
		m.streamsOpen, m.streamKeepalivesTotal, m.compactionRunsTotal, m.pluginLoadsTotal,
	)

	global = m
}

// Global returns the process-wide Metrics instance, or nil if Init was
// never called (all methods below are nil-safe).
func Global() *Metrics { return global }

// Handler returns the Prometheus exposition HTTP handler.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreatedTotal.Inc()
	m.sessionsActive.Inc()
}

func (m *Metrics) SessionStopped() {
	if m == nil {
		return
	}
	m.sessionsStoppedTotal.Inc()
	m.sessionsActive.Dec()
}

func (m *Metrics) ExecutionCompleted(success bool, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if !success {
		status = "failure"
	}
	m.executionsTotal.WithLabelValues(status).Inc()
	m.executionDuration.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) VerifierRejected() {
	if m == nil {
		return
	}
	m.verifierRejections.Inc()
}

func (m *Metrics) StreamOpened() {
	if m == nil {
		return
	}
	m.streamsOpen.Inc()
}

func (m *Metrics) StreamClosed() {
	if m == nil {
		return
	}
	m.streamsOpen.Dec()
}

func (m *Metrics) StreamKeepalive() {
	if m == nil {
		return
	}
	m.streamKeepalivesTotal.Inc()
}

func (m *Metrics) CompactionRun(outcome string) {
	if m == nil {
		return
	}
	m.compactionRunsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PluginLoad(ok bool) {
	if m == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "failed"
	}
	m.pluginLoadsTotal.WithLabelValues(status).Inc()
}
