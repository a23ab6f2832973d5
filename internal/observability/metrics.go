package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	httpRequestSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_http_request_size_bytes",
			Help:    "HTTP request size in bytes",
			Buckets: prometheus.ExponentialBuckets(100, 10, 8),
		},
		[]string{"method", "path"},
	)

	// GraphQL metrics
	graphqlRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_graphql_requests_total",
			Help: "Total number of GraphQL requests by operation type and status",
		},
		[]string{"operation", "status"},
	)

	graphqlRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gateway_graphql_request_duration_seconds",
			Help:    "GraphQL request pipeline latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	graphqlErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_graphql_errors_total",
			Help: "Total number of GraphQL requests that failed before execution",
		},
		[]string{"class"},
	)

	// Subscription metrics
	subscriptionSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_subscription_sessions_active",
			Help: "Number of running subscription operations",
		},
	)

	websocketConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		},
	)

	websocketMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_websocket_messages_total",
			Help: "Total number of WebSocket messages",
		},
		[]string{"direction"}, // sent, received
	)

	// SSE metrics
	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)

	sseEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_sse_events_total",
			Help: "Total number of SSE events sent",
		},
	)

	configReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_config_reloads_total",
			Help: "Total number of configuration reloads",
		},
		[]string{"result"},
	)
)

// MetricsMiddleware wraps an HTTP handler with metrics collection
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapped := &responseWriter{
			ResponseWriter: w,
			statusCode:     http.StatusOK,
		}

		if r.ContentLength > 0 {
			httpRequestSize.WithLabelValues(r.Method, r.URL.Path).Observe(float64(r.ContentLength))
		}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(wrapped.statusCode)

		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		httpRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
	})
}

// responseWriter captures the status code. It forwards Flush and Hijack
// so streaming and socket upgrades work behind the middleware.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *responseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *responseWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := w.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("response writer does not support hijacking")
}

// RecordGraphQLRequest records a finished GraphQL HTTP request
func RecordGraphQLRequest(operation string, status int, elapsed time.Duration) {
	graphqlRequestsTotal.WithLabelValues(operation, strconv.Itoa(status)).Inc()
	graphqlRequestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordGraphQLError records a request rejected with the given error class
func RecordGraphQLError(class string) {
	graphqlErrorsTotal.WithLabelValues(class).Inc()
}

// RecordSubscriptionSession records subscription operation changes
func RecordSubscriptionSession(delta int) {
	subscriptionSessionsActive.Add(float64(delta))
}

// RecordWebSocketConnection records WebSocket connection changes
func RecordWebSocketConnection(delta int) {
	websocketConnectionsActive.Add(float64(delta))
}

// RecordWebSocketMessage records a WebSocket message
func RecordWebSocketMessage(direction string) {
	websocketMessagesTotal.WithLabelValues(direction).Inc()
}

// RecordSSEConnection records SSE connection changes
func RecordSSEConnection(delta int) {
	sseConnectionsActive.Add(float64(delta))
}

// RecordSSEEvent records an SSE event
func RecordSSEEvent() {
	sseEventsTotal.Inc()
}

// RecordConfigReload records a configuration reload attempt
func RecordConfigReload(ok bool) {
	result := "success"
	if !ok {
		result = "failure"
	}
	configReloadsTotal.WithLabelValues(result).Inc()
}

// MetricsHandler returns the Prometheus metrics HTTP handler
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
