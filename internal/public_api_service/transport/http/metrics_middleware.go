package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	forwardingHTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "forwarding_api_http_requests_total",
			Help: "Total number of forwarding API HTTP requests.",
		},
		[]string{"method", "path", "status_code", "platform"},
	)

	forwardingHTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "forwarding_api_http_request_duration_seconds",
			Help:    "Duration of forwarding API HTTP requests. Includes backend round trips.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)
)

// PrometheusMetricsMiddleware records request counts by route pattern, status and device platform.
func PrometheusMetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		path := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			path = rctx.RoutePattern()
		}
		statusCode := ww.Status()
		if statusCode == 0 {
			statusCode = http.StatusOK
		}

		forwardingHTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		forwardingHTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(statusCode), string(classifyRequest(r).Platform)).Inc()
	})
}
