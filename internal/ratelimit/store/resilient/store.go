// Package resilient fronts the shared rate-limit stores with a circuit breaker
// and falls back to process-local stores while the primary is failing.
package resilient

import (
	"context"
	"log/slog"
	"time"

	"authgate/internal/policy/metrics"
	"authgate/internal/ratelimit/models"
	"authgate/pkg/platform/circuit"
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

// Store satisfies both BucketStore and BlockStore. Below the breaker's failure
// threshold primary errors are returned to the caller; once the breaker opens
// the fallback answers until the primary recovers.
type Store struct {
	primaryBuckets  BucketStore
	primaryBlocks   BlockStore
	fallbackBuckets BucketStore
	fallbackBlocks  BlockStore

	breaker *circuit.Breaker
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Store)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(s *Store) {
		if b != nil {
			s.breaker = b
		}
	}
}

func New(primaryBuckets BucketStore, primaryBlocks BlockStore, fallbackBuckets BucketStore, fallbackBlocks BlockStore, opts ...Option) *Store {
	s := &Store{
		primaryBuckets:  primaryBuckets,
		primaryBlocks:   primaryBlocks,
		fallbackBuckets: fallbackBuckets,
		fallbackBlocks:  fallbackBlocks,
		breaker:         circuit.New("ratelimit-store"),
		logger:          slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Degraded reports whether the fallback is currently serving.
func (s *Store) Degraded() bool {
	return s.breaker.IsOpen()
}

func (s *Store) Allow(ctx context.Context, key string, limit int, window time.Duration) (*models.BucketResult, error) {
	return call(ctx, s, "allow",
		func() (*models.BucketResult, error) { return s.primaryBuckets.Allow(ctx, key, limit, window) },
		func() (*models.BucketResult, error) { return s.fallbackBuckets.Allow(ctx, key, limit, window) },
	)
}

// Reset clears both the primary and the fallback so no stale fallback state
// survives an administrative reset.
func (s *Store) Reset(ctx context.Context, key string) error {
	_ = s.fallbackBuckets.Reset(ctx, key)
	_, err := call(ctx, s, "reset",
		func() (struct{}, error) { return struct{}{}, s.primaryBuckets.Reset(ctx, key) },
		func() (struct{}, error) { return struct{}{}, nil },
	)
	return err
}

func (s *Store) GetCurrentCount(ctx context.Context, key string) (int, error) {
	return call(ctx, s, "count",
		func() (int, error) { return s.primaryBuckets.GetCurrentCount(ctx, key) },
		func() (int, error) { return s.fallbackBuckets.GetCurrentCount(ctx, key) },
	)
}

func (s *Store) GetBlock(ctx context.Context, key string) (*time.Time, error) {
	return call(ctx, s, "get_block",
		func() (*time.Time, error) { return s.primaryBlocks.GetBlock(ctx, key) },
		func() (*time.Time, error) { return s.fallbackBlocks.GetBlock(ctx, key) },
	)
}

func (s *Store) SetBlock(ctx context.Context, key string, until time.Time) error {
	_, err := call(ctx, s, "set_block",
		func() (struct{}, error) { return struct{}{}, s.primaryBlocks.SetBlock(ctx, key, until) },
		func() (struct{}, error) { return struct{}{}, s.fallbackBlocks.SetBlock(ctx, key, until) },
	)
	return err
}

func (s *Store) IncrementOffense(ctx context.Context, key string, ttl time.Duration) (int, error) {
	return call(ctx, s, "increment_offense",
		func() (int, error) { return s.primaryBlocks.IncrementOffense(ctx, key, ttl) },
		func() (int, error) { return s.fallbackBlocks.IncrementOffense(ctx, key, ttl) },
	)
}

func (s *Store) Clear(ctx context.Context, blockKey, offenseKey string) error {
	_ = s.fallbackBlocks.Clear(ctx, blockKey, offenseKey)
	_, err := call(ctx, s, "clear",
		func() (struct{}, error) { return struct{}{}, s.primaryBlocks.Clear(ctx, blockKey, offenseKey) },
		func() (struct{}, error) { return struct{}{}, nil },
	)
	return err
}

func call[T any](ctx context.Context, s *Store, op string, primary, fallback func() (T, error)) (T, error) {
	v, err := primary()
	if err == nil {
		if _, change := s.breaker.RecordSuccess(); change.Closed {
			s.logger.InfoContext(ctx, "rate limit store recovered, leaving fallback", "breaker", s.breaker.Name())
			if s.metrics != nil {
				s.metrics.SetBackendDegraded(false)
			}
		}
		return v, nil
	}

	useFallback, change := s.breaker.RecordFailure()
	if change.Opened {
		s.logger.WarnContext(ctx, "rate limit store failing, switching to fallback",
			"breaker", s.breaker.Name(),
			"op", op,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.SetBackendDegraded(true)
		}
	}
	if !useFallback {
		var zero T
		return zero, err
	}
	return fallback()
}
