// Package metrics provides Prometheus instrumentation for the squeeth engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Computations counts engine computations by kind (pnl, funding, crab,
	// band) and outcome (ok, invalid, missing_price, error).
	Computations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squeeth_computations_total",
		Help: "Total number of engine computations",
	}, []string{"kind", "outcome"})

	// ComputationLatency tracks computation time, price resolution included.
	ComputationLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "squeeth_computation_latency_seconds",
		Help:    "Engine computation latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"kind"})

	// PriceLookups counts historical price lookups by source and outcome
	// (hit, miss, error, skipped).
	PriceLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squeeth_price_lookups_total",
		Help: "Historical ETH price lookups",
	}, []string{"source", "outcome"})

	// EventsRecorded counts position events persisted, by kind.
	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squeeth_events_recorded_total",
		Help: "Position events recorded",
	}, []string{"kind"})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "squeeth_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "squeeth_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "squeeth_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// ObserveSince records the latency of a computation that started at start.
func ObserveSince(kind string, start time.Time) {
	ComputationLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}

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

		// Route patterns keep user and position IDs out of the labels.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
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

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
