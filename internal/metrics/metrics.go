// Package metrics wires the process's Prometheus instrumentation: ingest
// outcome counters and HTTP request duration/status histograms, served at
// /metrics via promhttp.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry bundles every metric the service exports. Callers pass it
// explicitly rather than reaching for prometheus.DefaultRegisterer, so tests
// can construct an isolated instance per case.
type Registry struct {
	reg *prometheus.Registry

	ingestTotal   *prometheus.CounterVec
	ingestLatency *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpLatency  *prometheus.HistogramVec

	shardsOpen prometheus.Gauge
}

// New builds a Registry with every metric registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	m := &Registry{
		reg: reg,
		ingestTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "issuewatch",
			Subsystem: "ingest",
			Name:      "events_total",
			Help:      "Events processed by the ingestion coordinator, by outcome.",
		}, []string{"outcome"}),
		ingestLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "issuewatch",
			Subsystem: "ingest",
			Name:      "latency_seconds",
			Help:      "Time to decode, fingerprint, and persist one event.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		httpRequests: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Namespace: "issuewatch",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests served, by route, method, and status code.",
		}, []string{"route", "method", "status"}),
		httpLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "issuewatch",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration, by route and method.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route", "method"}),
		shardsOpen: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Namespace: "issuewatch",
			Subsystem: "shard",
			Name:      "pool_open_handles",
			Help:      "Number of project shard handles currently open in the pool.",
		}),
	}
	return m
}

// ObserveIngest records the outcome and latency of one ingest attempt.
// outcome is a small fixed vocabulary: "ok", "decode_error", "rejected",
// "store_error".
func (m *Registry) ObserveIngest(outcome string, dur time.Duration) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestLatency.WithLabelValues(outcome).Observe(dur.Seconds())
}

// SetShardsOpen reports the current number of pooled shard handles.
func (m *Registry) SetShardsOpen(n int) {
	if m == nil {
		return
	}
	m.shardsOpen.Set(float64(n))
}

// Handler returns the /metrics HTTP handler for this registry.
func (m *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

// Middleware wraps next, recording request counts and latency per route.
// routeName should be a low-cardinality label (e.g. the mux route template,
// not the raw path) to keep the metric's label set bounded.
func (m *Registry) Middleware(routeName string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		dur := time.Since(start)
		m.httpRequests.WithLabelValues(routeName, r.Method, strconv.Itoa(sw.status)).Inc()
		m.httpLatency.WithLabelValues(routeName, r.Method).Observe(dur.Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}
