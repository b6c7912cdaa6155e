package app

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewMetricsRegistry builds the process-wide registry with runtime collectors.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// HTTPMetrics counts requests by method and status class.
type HTTPMetrics struct {
	requests *prometheus.CounterVec
	inflight prometheus.Gauge
}

// NewHTTPMetrics builds and registers the HTTP server metrics.
func NewHTTPMetrics(reg prometheus.Registerer) *HTTPMetrics {
	m := &HTTPMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method and status class.",
		}, []string{"method", "class"}),
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "HTTP requests currently being served.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.requests, m.inflight)
	}
	return m
}

// WithHTTPMetrics wraps a handler with request counting. A nil *HTTPMetrics
// passes the handler through unchanged.
func WithHTTPMetrics(next http.Handler, m *HTTPMetrics) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m.inflight.Inc()
		defer m.inflight.Dec()

		lrw := &loggingResponseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(lrw, r)
		m.requests.WithLabelValues(r.Method, statusClass(lrw.status)).Inc()
	})
}

// MetricsHandler exposes the registry in Prometheus text format.
func MetricsHandler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
