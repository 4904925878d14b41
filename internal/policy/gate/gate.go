// Package gate evaluates the admission policies for sensitive identity
// actions. Policies run in a fixed order (feature flags, account status, rate
// limit, abuse) and the first block wins. Any collaborator failure, including
// a panic, blocks the request.
package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"authgate/internal/policy/metrics"
	"authgate/internal/policy/models"
	"authgate/internal/policy/ports"
	"authgate/internal/settings"
	"authgate/pkg/platform/audit"
	"authgate/pkg/platform/privacy"
	"authgate/pkg/requestcontext"
)

const tracerName = "authgate/internal/policy/gate"

// DefaultRetryAfterSeconds is reported for rate-limit blocks whose end is unknown.
const DefaultRetryAfterSeconds = 900

const (
	reasonRegistrationDisabled = "User registration is currently disabled"
	reasonLoginDisabled        = "Login is currently disabled"
	reasonMagicLinkDisabled    = "Magic link authentication is currently disabled"
	reasonActionDisabled       = "This action is currently disabled"
	reasonAccountSuspended     = "Account has been suspended"
	reasonAccountInactive      = "Account is inactive"
	reasonTooManyAttempts      = "Too many attempts. Please try again later."
	reasonSuspiciousActivity   = "Request blocked due to suspicious activity"

	reasonFlagsUnavailable   = "Unable to verify feature availability"
	reasonAccountUnavailable = "Unable to verify account status"
	reasonLimitUnavailable   = "Unable to verify rate limit"
	reasonAbuseUnavailable   = "Unable to verify request safety"
)

var errNoSettings = errors.New("flag source returned no settings")

// Gate is stateless between calls and safe for concurrent use.
type Gate struct {
	flags    ports.FlagSource
	accounts ports.AccountStore
	limiter  ports.RateLimiter
	abuse    ports.AbuseChecker

	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher ports.AuditPublisher
	tracer         trace.Tracer
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(g *Gate) {
		g.auditPublisher = publisher
	}
}

func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(g *Gate) {
		if tp != nil {
			g.tracer = tp.Tracer(tracerName)
		}
	}
}

func New(
	flags ports.FlagSource,
	accounts ports.AccountStore,
	limiter ports.RateLimiter,
	abuse ports.AbuseChecker,
	opts ...Option,
) (*Gate, error) {
	if flags == nil {
		return nil, fmt.Errorf("flag source is required")
	}
	if accounts == nil {
		return nil, fmt.Errorf("account store is required")
	}
	if limiter == nil {
		return nil, fmt.Errorf("rate limiter is required")
	}
	if abuse == nil {
		return nil, fmt.Errorf("abuse checker is required")
	}

	g := &Gate{
		flags:    flags,
		accounts: accounts,
		limiter:  limiter,
		abuse:    abuse,
		logger:   slog.Default(),
		tracer:   otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// step is one policy check. failReason is the generic reason reported when
// check errors or panics.
type step struct {
	kind       models.PolicyKind
	failReason string
	check      func(ctx context.Context, ec models.EvaluationContext) (models.Verdict, error)
}

// Evaluate runs the policy chain and returns the first blocking verdict, or
// an allow verdict if every policy passes. It never panics.
func (g *Gate) Evaluate(ctx context.Context, ec models.EvaluationContext) models.Verdict {
	start := time.Now()
	ctx, span := g.tracer.Start(ctx, "policy.Evaluate",
		trace.WithAttributes(attribute.String("policy.action", string(ec.Action))))
	defer span.End()

	steps := []step{
		{kind: models.PolicyFeatureFlag, failReason: reasonFlagsUnavailable, check: g.checkFeatureFlags},
		{kind: models.PolicyAccountStatus, failReason: reasonAccountUnavailable, check: g.checkAccountStatus},
		{kind: models.PolicyRateLimit, failReason: reasonLimitUnavailable, check: g.checkRateLimit},
		{kind: models.PolicyAbuse, failReason: reasonAbuseUnavailable, check: g.checkAbuse},
	}

	verdict := models.Allow()
	for _, s := range steps {
		if v := g.runStep(ctx, s, ec); !v.Allowed {
			verdict = v
			break
		}
	}

	outcome := "allowed"
	if !verdict.Allowed {
		outcome = string(verdict.Policy)
		span.SetAttributes(
			attribute.String("policy.blocked_by", outcome),
			attribute.Bool("policy.retryable", verdict.Retryable),
		)
		g.logBlock(ctx, ec, verdict)
	}
	span.SetAttributes(attribute.Bool("policy.allowed", verdict.Allowed))
	if g.metrics != nil {
		g.metrics.ObserveVerdict(string(ec.Action), outcome, time.Since(start))
	}
	return verdict
}

// runStep converts an error or panic from s into a retryable block of the
// step's kind.
func (g *Gate) runStep(ctx context.Context, s step, ec models.EvaluationContext) (verdict models.Verdict) {
	ctx, span := g.tracer.Start(ctx, "policy.step."+string(s.kind))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			g.logger.ErrorContext(ctx, "policy step panicked",
				"policy", string(s.kind),
				"action", string(ec.Action),
				"panic", fmt.Sprint(r),
			)
			span.SetStatus(codes.Error, "panic")
			g.recordFailure(s.kind)
			verdict = models.Block(s.kind, s.failReason, true)
		}
	}()

	v, err := s.check(ctx, ec)
	if err != nil {
		g.logger.WarnContext(ctx, "policy step failed",
			"policy", string(s.kind),
			"action", string(ec.Action),
			"error", err,
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, "collaborator failure")
		g.recordFailure(s.kind)
		return models.Block(s.kind, s.failReason, true)
	}
	return v
}

func (g *Gate) recordFailure(kind models.PolicyKind) {
	if g.metrics != nil {
		g.metrics.IncrementCollaboratorFailure(string(kind))
	}
}

func (g *Gate) checkFeatureFlags(ctx context.Context, ec models.EvaluationContext) (models.Verdict, error) {
	s, err := g.flags.LoadSettings(ctx)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("load settings: %w", err)
	}
	if s == nil {
		return models.Verdict{}, errNoSettings
	}
	if s.ActionEnabled(ec.Action) {
		return models.Allow(), nil
	}

	g.logger.InfoContext(ctx, "action disabled by feature flag",
		"action", string(ec.Action),
		"flag", settings.FlagPath(ec.Action),
	)
	return models.Block(models.PolicyFeatureFlag, disabledReason(ec.Action), true), nil
}

func disabledReason(action models.Action) string {
	switch action {
	case models.ActionRegister:
		return reasonRegistrationDisabled
	case models.ActionLogin:
		return reasonLoginDisabled
	case models.ActionMagicLink:
		return reasonMagicLinkDisabled
	}
	return reasonActionDisabled
}

func (g *Gate) checkAccountStatus(ctx context.Context, ec models.EvaluationContext) (models.Verdict, error) {
	if ec.Action == models.ActionRegister {
		return models.Allow(), nil
	}
	if ec.UserID == "" && ec.Email == "" {
		return models.Allow(), nil
	}

	account, err := g.accounts.FindAccountByIDOrEmail(ctx, ec.UserID, ec.Email)
	if err != nil {
		return models.Verdict{}, fmt.Errorf("find account: %w", err)
	}
	if account == nil {
		return models.Allow(), nil
	}

	if account.Suspended {
		reason := account.SuspendedReason
		if reason == "" {
			reason = reasonAccountSuspended
		}
		return models.Block(models.PolicyAccountStatus, reason, false).WithMetadata(map[string]any{
			"suspended":       true,
			"suspendedReason": account.SuspendedReason,
		}), nil
	}
	if !account.Active {
		return models.Block(models.PolicyAccountStatus, reasonAccountInactive, false).WithMetadata(map[string]any{
			"active": false,
		}), nil
	}
	return models.Allow(), nil
}

func (g *Gate) checkRateLimit(ctx context.Context, ec models.EvaluationContext) (models.Verdict, error) {
	if ec.Action.IsLowRisk() {
		return models.Allow(), nil
	}
	category, ok := models.CategoryForAction(ec.Action)
	if !ok {
		return models.Allow(), nil
	}

	result, err := g.limiter.RecordAttempt(ctx, category, Identifier(ec))
	if err != nil {
		return models.Verdict{}, fmt.Errorf("record attempt: %w", err)
	}
	if result == nil {
		return models.Verdict{}, errors.New("rate limiter returned no result")
	}
	if result.Allowed {
		return models.Allow(), nil
	}

	v := models.Block(models.PolicyRateLimit, reasonTooManyAttempts, true)
	if result.BlockedUntil == nil {
		return v.WithRetryAfter(DefaultRetryAfterSeconds), nil
	}
	return v.
		WithRetryAfter(RetryAfterSeconds(*result.BlockedUntil, requestcontext.Now(ctx))).
		WithMetadata(map[string]any{"blockedUntil": result.BlockedUntil.UnixMilli()}), nil
}

func (g *Gate) checkAbuse(ctx context.Context, ec models.EvaluationContext) (models.Verdict, error) {
	ip := ec.IP
	if ip == "" {
		ip = "unknown"
	}
	abusive, err := g.abuse.CheckRequest(ctx, ports.AbuseRequest{
		IP:        ip,
		Email:     ec.Email,
		UserID:    ec.UserID,
		Action:    ec.Action,
		UserAgent: ec.UserAgent,
	})
	if err != nil {
		return models.Verdict{}, fmt.Errorf("check request: %w", err)
	}
	if abusive {
		return models.Block(models.PolicyAbuse, reasonSuspiciousActivity, false), nil
	}
	return models.Allow(), nil
}

// Identifier picks the rate-limit identifier: user id, then email, then IP,
// then "unknown".
func Identifier(ec models.EvaluationContext) string {
	switch {
	case ec.UserID != "":
		return ec.UserID
	case ec.Email != "":
		return ec.Email
	case ec.IP != "":
		return ec.IP
	}
	return "unknown"
}

// RetryAfterSeconds rounds the time remaining until blockedUntil up to whole
// seconds, never below one.
func RetryAfterSeconds(blockedUntil, now time.Time) int {
	secs := int(math.Ceil(blockedUntil.Sub(now).Seconds()))
	return max(secs, 1)
}

func (g *Gate) logBlock(ctx context.Context, ec models.EvaluationContext, v models.Verdict) {
	ports.LogAudit(ctx, g.logger, g.auditPublisher, audit.EventPolicyBlocked,
		"subject", subject(ec),
		"ip", privacy.AnonymizeIP(ec.IP),
		"decision", "blocked",
		"reason", string(v.Policy),
		"action", string(ec.Action),
		"retryable", v.Retryable,
	)
}

// subject is a privacy-safe label for the request's principal.
func subject(ec models.EvaluationContext) string {
	switch {
	case ec.UserID != "":
		return ec.UserID
	case ec.Email != "":
		return privacy.HashEmail(ec.Email)
	}
	return privacy.AnonymizeIP(ec.IP)
}
