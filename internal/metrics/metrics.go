// Package metrics provides Prometheus instrumentation for the rewards engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// EpochsComputed counts completed epoch runs by outcome.
	EpochsComputed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewards_epochs_computed_total",
		Help: "Total epoch computation runs",
	}, []string{"outcome"})

	// ComputeDuration tracks end-to-end epoch computation time.
	ComputeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rewards_epoch_compute_duration_seconds",
		Help:    "Epoch computation duration in seconds",
		Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
	})

	// IntegrityFailures counts runs aborted on inconsistent position data.
	IntegrityFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rewards_integrity_failures_total",
		Help: "Epoch runs aborted by position data integrity violations",
	})

	// SoftAnomalies counts non-fatal data issues observed during runs.
	SoftAnomalies = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewards_soft_anomalies_total",
		Help: "Non-fatal data anomalies observed during epoch runs",
	}, []string{"kind"})

	// ScaleFactor records the cap scale factor applied per token per run.
	ScaleFactor = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "rewards_cap_scale_factor",
		Help: "Cap scale factor applied in the most recent run (1 = uncapped)",
	}, []string{"token"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rewards_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rewards_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rewards_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
