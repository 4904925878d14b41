package httptransport

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"authgate/pkg/platform/middleware/admin"
	"authgate/pkg/platform/middleware/metadata"
	"authgate/pkg/platform/middleware/request"
	"authgate/pkg/platform/middleware/requesttime"
)

// RouterConfig carries the transport-level settings of the router.
type RouterConfig struct {
	CORSOrigins     []string
	AdminSigningKey []byte
	// Gatherer backs /metrics. Nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// NewRouter wires the public evaluation API, the admin API and the
// operational endpoints.
func NewRouter(h *Handler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(request.RequestID)
	r.Use(metadata.ClientMetadata)
	r.Use(requesttime.Middleware)
	r.Use(requestLogger(h.logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: []string{"Authorization", "Content-Type", request.HeaderRequestID},
			ExposedHeaders: []string{"Retry-After", request.HeaderRequestID},
			MaxAge:         300,
		}))
	}

	r.Get("/health/live", h.handleLive)
	r.Get("/health/ready", h.handleReady)
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1/policy", func(r chi.Router) {
		r.Use(chimw.Timeout(5 * time.Second))
		r.Post("/evaluate", h.handleEvaluate)
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(admin.RequireAdmin(cfg.AdminSigningKey, h.logger))
		r.Post("/abuse/reset", h.handleAbuseReset)
		r.Get("/abuse/status", h.handleAbuseStatus)
		r.Post("/abuse/cleanup", h.handleAbuseCleanup)
		r.Get("/rate-limit/{category}/{identifier}", h.handleRateLimitStatus)
		r.Delete("/rate-limit/{category}/{identifier}", h.handleRateLimitReset)
	})
	return r
}

// requestLogger logs one line per request with its status and latency. It logs
// the matched route pattern, never the raw path, since path parameters may
// carry emails.
func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"request_id", request.GetRequestID(r.Context()),
				"method", r.Method,
				"route", routePattern(r),
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unmatched"
}
