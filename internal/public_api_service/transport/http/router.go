package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// RouterConfig collects what NewRouter mounts.
type RouterConfig struct {
	Forwarding     *ForwardingHandler
	Contacts       *ContactsHandler // optional; nil when NATS is not configured
	AuthMiddleware func(http.Handler) http.Handler
	MetricsEnabled bool
	ServiceName    string
	Logger         *slog.Logger
}

// NewRouter builds the public API: /health and /metrics are open, /api/v1 requires a session.
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	if cfg.MetricsEnabled {
		r.Use(PrometheusMetricsMiddleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(r.Context(), cfg.Logger, w, http.StatusOK, map[string]string{"status": "ok", "service": cfg.ServiceName})
	})
	if cfg.MetricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cfg.AuthMiddleware)
		cfg.Forwarding.RegisterRoutes(r)
		if cfg.Contacts != nil {
			cfg.Contacts.RegisterRoutes(r)
		}
	})
	return r
}
