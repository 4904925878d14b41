// Package httptransport exposes the policy gate and its admin operations over
// HTTP. Handlers only translate between HTTP and the policy packages.
package httptransport

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"authgate/internal/policy/models"
	"authgate/internal/policy/ports"
	"authgate/pkg/platform/httputil"
)

// Evaluator is the policy gate.
type Evaluator interface {
	Evaluate(ctx context.Context, ec models.EvaluationContext) models.Verdict
}

// AbuseAdmin exposes the operator view of the abuse detector.
type AbuseAdmin interface {
	Reset(email, ip string)
	IsAbusive(email, ip string) bool
}

// Sweeper runs one abuse cleanup pass on demand.
type Sweeper interface {
	Sweep(ctx context.Context) int
}

// LimitAdmin reads and clears the rate limit state of one identifier.
type LimitAdmin interface {
	Status(ctx context.Context, category models.RateLimitCategory, identifier string) (*models.RateLimitResult, error)
	Reset(ctx context.Context, category models.RateLimitCategory, identifier string) error
}

// HealthCheck reports whether a dependency is usable.
type HealthCheck func(ctx context.Context) error

type Handler struct {
	gate    Evaluator
	abuse   AbuseAdmin
	sweeper Sweeper
	limits  LimitAdmin

	logger         *slog.Logger
	auditPublisher ports.AuditPublisher
	checks         map[string]HealthCheck
}

type Option func(*Handler)

func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		h.logger = logger
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(h *Handler) {
		h.auditPublisher = publisher
	}
}

// WithHealthCheck adds a named dependency to /health/ready.
func WithHealthCheck(name string, check HealthCheck) Option {
	return func(h *Handler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

func New(gate Evaluator, abuse AbuseAdmin, sweeper Sweeper, limits LimitAdmin, opts ...Option) (*Handler, error) {
	if gate == nil {
		return nil, errors.New("policy gate is required")
	}
	if abuse == nil {
		return nil, errors.New("abuse detector is required")
	}
	if sweeper == nil {
		return nil, errors.New("abuse sweeper is required")
	}
	if limits == nil {
		return nil, errors.New("rate limit admin is required")
	}

	h := &Handler{
		gate:    gate,
		abuse:   abuse,
		sweeper: sweeper,
		limits:  limits,
		logger:  slog.Default(),
		checks:  make(map[string]HealthCheck),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

func (h *Handler) handleLive(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readiness struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func (h *Handler) handleReady(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := readiness{Status: "ready", Components: make(map[string]string, len(names))}
	for _, name := range names {
		if err := h.checks[name](r.Context()); err != nil {
			h.logger.WarnContext(r.Context(), "readiness check failed", "component", name, "error", err)
			resp.Components[name] = "unavailable"
			resp.Status = "degraded"
			continue
		}
		resp.Components[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ready" {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
