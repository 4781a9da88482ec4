// Package metrics provides Prometheus metrics for the backend API
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts total HTTP requests by method, path, and status
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duelcam",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method, path, and status code",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration measures HTTP request duration in seconds
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "duelcam",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks current in-flight requests
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "duelcam",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Current number of HTTP requests being processed",
		},
	)
)

var (
	// EventsRecordedTotal counts events inserted into the in-memory store by type
	EventsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duelcam",
			Subsystem: "events",
			Name:      "recorded_total",
			Help:      "Total number of events recorded in the delivery store by type",
		},
		[]string{"type"},
	)

	// EventsDeliveredTotal counts events delivered over the stream
	EventsDeliveredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "duelcam",
			Subsystem: "events",
			Name:      "delivered_total",
			Help:      "Total number of events delivered to clients over the stream",
		},
	)

	// EscalationsTotal counts push notification escalations by result
	EscalationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duelcam",
			Subsystem: "events",
			Name:      "escalations_total",
			Help:      "Total number of timeout escalations to push notifications by result",
		},
		[]string{"result"},
	)

	// PushSendsTotal counts individual push target deliveries by outcome
	PushSendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "duelcam",
			Subsystem: "push",
			Name:      "sends_total",
			Help:      "Total number of Web Push sends by outcome",
		},
		[]string{"outcome"},
	)
)

var (
	// StreamConnectionsActive tracks active event stream connections
	StreamConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "duelcam",
			Subsystem: "stream",
			Name:      "connections_active",
			Help:      "Number of active event stream connections",
		},
	)

	// StreamBatchesEmitted counts event batches emitted to clients
	StreamBatchesEmitted = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "duelcam",
			Subsystem: "stream",
			Name:      "batches_emitted_total",
			Help:      "Total number of event batches emitted over the stream",
		},
	)
)

// responseWriter wraps http.ResponseWriter to capture status code and size
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int
}

// newResponseWriter creates a new responseWriter
func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.size += n
	return n, err
}

// Flush forwards flushes so the wrapper stays usable on streaming routes
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware returns a chi middleware that records HTTP metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		HTTPRequestsInFlight.Inc()
		defer HTTPRequestsInFlight.Dec()

		rw := newResponseWriter(w)
		next.ServeHTTP(rw, r)

		duration := time.Since(start).Seconds()
		path := getRoutePattern(r)

		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rw.statusCode)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// getRoutePattern returns the route pattern from chi context
// Falls back to URL path if pattern not available
func getRoutePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx != nil && rctx.RoutePattern() != "" {
		return rctx.RoutePattern()
	}
	return r.URL.Path
}

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
