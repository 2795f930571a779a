// Package monitoring exposes Prometheus metrics and the health endpoint.
package monitoring

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/datamcp/datamcp"
)

// Metrics bundles the server's Prometheus collectors behind a private
// registry so tests can run several instances side by side.
type Metrics struct {
	registry *prometheus.Registry

	requestCount   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	dispatchTotal  *prometheus.CounterVec
	activeStreams  prometheus.Gauge

	service string
	version string
}

// New creates the collector set for one server instance.
func New(service, version string) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requestCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_request_count",
			Help: "Number of HTTP requests by method and endpoint.",
		}, []string{"method", "endpoint"}),
		requestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "mcp_request_latency_seconds",
			Help:    "HTTP request latency by method and endpoint.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		dispatchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "mcp_dispatch_total",
			Help: "Dispatched JSON-RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),
		activeStreams: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "mcp_active_streams",
			Help: "Number of open event streams.",
		}),
		service: service,
		version: version,
	}

	m.registry.MustRegister(
		m.requestCount,
		m.requestLatency,
		m.dispatchTotal,
		m.activeStreams,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the /metrics scrape endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency per method and endpoint.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured := httpsnoop.CaptureMetrics(next, w, r)
		m.requestCount.WithLabelValues(r.Method, r.URL.Path).Inc()
		m.requestLatency.WithLabelValues(r.Method, r.URL.Path).
			Observe(captured.Duration.Seconds())
	})
}

// DispatchObserver feeds per-call dispatch outcomes into the counters.
func (m *Metrics) DispatchObserver() datamcp.Observer {
	return func(method string, _ time.Duration, outcome string) {
		m.dispatchTotal.WithLabelValues(method, outcome).Inc()
	}
}

// StreamOpened records a newly opened event stream.
func (m *Metrics) StreamOpened() { m.activeStreams.Inc() }

// StreamClosed records a closed event stream.
func (m *Metrics) StreamClosed() { m.activeStreams.Dec() }

// HealthHandler reports liveness along with service identity.
func (m *Metrics) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		body, err := json.Marshal(map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"service":   m.service,
			"version":   m.version,
		})
		if err != nil {
			http.Error(w, "health check failed", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write(body)
	})
}
