// Package service records rate-limited authentication attempts per category
// and escalates repeat offenders through progressively longer blocks.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"authgate/internal/policy/metrics"
	policymodels "authgate/internal/policy/models"
	"authgate/internal/policy/ports"
	"authgate/internal/ratelimit/config"
	"authgate/internal/ratelimit/models"
	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/platform/audit"
	"authgate/pkg/requestcontext"
)

type BucketStore interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.BucketResult, error)
	Reset(ctx context.Context, key string) error
	GetCurrentCount(ctx context.Context, key string) (int, error)
}

type BlockStore interface {
	GetBlock(ctx context.Context, key string) (*time.Time, error)
	SetBlock(ctx context.Context, key string, until time.Time) error
	IncrementOffense(ctx context.Context, key string, ttl time.Duration) (int, error)
	Clear(ctx context.Context, blockKey, offenseKey string) error
}

type Service struct {
	buckets        BucketStore
	blocks         BlockStore
	config         *config.Config
	logger         *slog.Logger
	metrics        *metrics.Metrics
	auditPublisher ports.AuditPublisher
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.config = cfg
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithAuditPublisher(publisher ports.AuditPublisher) Option {
	return func(s *Service) {
		s.auditPublisher = publisher
	}
}

func New(buckets BucketStore, blocks BlockStore, opts ...Option) (*Service, error) {
	if buckets == nil {
		return nil, errors.New("bucket store is required")
	}
	if blocks == nil {
		return nil, errors.New("block store is required")
	}

	svc := &Service{
		buckets: buckets,
		blocks:  blocks,
		config:  config.DefaultConfig(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc, nil
}

// RecordAttempt counts one attempt for (category, identifier). While a block
// is active the attempt is refused without being counted. Exceeding the
// category limit applies the next block on the offense ladder.
func (s *Service) RecordAttempt(ctx context.Context, category policymodels.RateLimitCategory, identifier string) (*policymodels.RateLimitResult, error) {
	policy, ok := s.config.Categories[category]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown rate limit category %q", category))
	}

	key := models.NewAttemptKey(category, identifier)
	now := requestcontext.Now(ctx)

	until, err := s.blocks.GetBlock(ctx, key.BlockKey())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rate limit block")
	}
	if until != nil && until.After(now) {
		return &policymodels.RateLimitResult{
			Allowed:      false,
			Limit:        policy.MaxAttempts,
			Remaining:    0,
			BlockedUntil: until,
		}, nil
	}

	res, err := s.buckets.Allow(ctx, key.String(), policy.MaxAttempts, policy.Window)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record rate limit attempt")
	}
	if res.Allowed {
		return &policymodels.RateLimitResult{
			Allowed:   true,
			Limit:     res.Limit,
			Remaining: res.Remaining,
		}, nil
	}

	blockedUntil, err := s.escalate(ctx, category, key, now)
	if err != nil {
		return nil, err
	}
	return &policymodels.RateLimitResult{
		Allowed:      false,
		Limit:        policy.MaxAttempts,
		Remaining:    0,
		BlockedUntil: &blockedUntil,
	}, nil
}

func (s *Service) escalate(ctx context.Context, category policymodels.RateLimitCategory, key models.AttemptKey, now time.Time) (time.Time, error) {
	offenses, err := s.blocks.IncrementOffense(ctx, key.OffenseKey(), s.config.OffenseResetAfter)
	if err != nil {
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to record rate limit offense")
	}
	duration := s.config.BlockDuration(offenses)
	until := now.Add(duration)
	if err := s.blocks.SetBlock(ctx, key.BlockKey(), until); err != nil {
		return time.Time{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to apply rate limit block")
	}

	if s.metrics != nil {
		s.metrics.IncrementRateLimitBlock(string(category))
	}
	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitBlocked,
		"subject", key.String(),
		"decision", "blocked",
		"reason", "rate_limit_exceeded",
		"category", string(category),
		"offense", offenses,
		"block_seconds", int(duration.Seconds()),
	)
	return until, nil
}

// Status reports the limiter state of (category, identifier) without
// recording an attempt.
func (s *Service) Status(ctx context.Context, category policymodels.RateLimitCategory, identifier string) (*policymodels.RateLimitResult, error) {
	policy, ok := s.config.Categories[category]
	if !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown rate limit category %q", category))
	}
	if identifier == "" {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}

	key := models.NewAttemptKey(category, identifier)
	until, err := s.blocks.GetBlock(ctx, key.BlockKey())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rate limit block")
	}
	if until != nil && until.After(requestcontext.Now(ctx)) {
		return &policymodels.RateLimitResult{Allowed: false, Limit: policy.MaxAttempts, BlockedUntil: until}, nil
	}

	count, err := s.buckets.GetCurrentCount(ctx, key.String())
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to read rate limit bucket")
	}
	remaining := max(policy.MaxAttempts-count, 0)
	return &policymodels.RateLimitResult{
		Allowed:   remaining > 0,
		Limit:     policy.MaxAttempts,
		Remaining: remaining,
	}, nil
}

// Reset clears the attempts, any active block and the offense history for
// (category, identifier).
func (s *Service) Reset(ctx context.Context, category policymodels.RateLimitCategory, identifier string) error {
	if !category.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown rate limit category %q", category))
	}
	if identifier == "" {
		return dErrors.New(dErrors.CodeInvalidInput, "identifier is required")
	}

	key := models.NewAttemptKey(category, identifier)
	if err := s.buckets.Reset(ctx, key.String()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to reset rate limit bucket")
	}
	if err := s.blocks.Clear(ctx, key.BlockKey(), key.OffenseKey()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear rate limit block")
	}

	ports.LogAudit(ctx, s.logger, s.auditPublisher, audit.EventRateLimitReset,
		"subject", key.String(),
		"category", string(category),
	)
	return nil
}
