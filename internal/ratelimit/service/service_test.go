package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"authgate/internal/policy/metrics"
	policymodels "authgate/internal/policy/models"
	"authgate/internal/ratelimit/models"
	"authgate/internal/ratelimit/store/block"
	"authgate/internal/ratelimit/store/bucket"
	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/platform/audit"
	"authgate/pkg/platform/audit/publisher"
	auditmemory "authgate/pkg/platform/audit/store/memory"
	"authgate/pkg/requestcontext"
)

// =============================================================================
// Rate limit service suite
// =============================================================================
// Uses the in-memory stores on a shared fake clock so block escalation can be
// walked through deterministically.

type ServiceSuite struct {
	suite.Suite
	now     time.Time
	events  *auditmemory.InMemoryStore
	metrics *metrics.Metrics
	service *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.now = time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return s.now }
	s.events = auditmemory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())

	svc, err := New(
		bucket.NewInMemoryBucketStore(bucket.WithClock(clock)),
		block.NewInMemoryStore(block.WithClock(clock)),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithMetrics(s.metrics),
		WithAuditPublisher(publisher.NewPublisher(s.events)),
	)
	s.Require().NoError(err)
	s.service = svc
}

func (s *ServiceSuite) ctx() context.Context {
	return requestcontext.WithTime(context.Background(), s.now)
}

func (s *ServiceSuite) attempt(identifier string) *policymodels.RateLimitResult {
	res, err := s.service.RecordAttempt(s.ctx(), policymodels.CategoryLogin, identifier)
	s.Require().NoError(err)
	return res
}

// exhaust uses up the login allowance and returns the blocking result.
func (s *ServiceSuite) exhaust(identifier string) *policymodels.RateLimitResult {
	for i := range 5 {
		res := s.attempt(identifier)
		s.Require().True(res.Allowed, "attempt %d", i+1)
	}
	res := s.attempt(identifier)
	s.Require().False(res.Allowed)
	return res
}

func (s *ServiceSuite) TestNew() {
	_, err := New(nil, block.NewInMemoryStore())
	s.ErrorContains(err, "bucket store is required")
	_, err = New(bucket.NewInMemoryBucketStore(), nil)
	s.ErrorContains(err, "block store is required")
}

func (s *ServiceSuite) TestAllowsWithinLimit() {
	res := s.attempt("user-1")
	s.True(res.Allowed)
	s.Equal(5, res.Limit)
	s.Equal(4, res.Remaining)
	s.Nil(res.BlockedUntil)
}

func (s *ServiceSuite) TestFirstOffenseBlocksFifteenMinutes() {
	res := s.exhaust("user-1")

	s.Require().NotNil(res.BlockedUntil)
	s.Equal(s.now.Add(15*time.Minute), *res.BlockedUntil)
	s.Equal(0, res.Remaining)
	s.Equal(1.0, testutil.ToFloat64(s.metrics.RateLimitBlocks.WithLabelValues("login")))

	events, err := s.events.ListByAction(context.Background(), audit.EventRateLimitBlocked)
	s.Require().NoError(err)
	s.Require().Len(events, 1)
	s.Equal("1", events[0].Attributes["offense"])
	s.Equal("900", events[0].Attributes["block_seconds"])
}

func (s *ServiceSuite) TestBlockedAttemptsAreRefused() {
	first := s.exhaust("user-1")

	s.now = s.now.Add(5 * time.Minute)
	res := s.attempt("user-1")
	s.False(res.Allowed)
	s.Equal(*first.BlockedUntil, *res.BlockedUntil, "an active block is not extended")

	s.now = first.BlockedUntil.Add(time.Second)
	s.True(s.attempt("user-1").Allowed)
}

func (s *ServiceSuite) TestProgressiveEscalation() {
	want := []time.Duration{15 * time.Minute, time.Hour, 24 * time.Hour}
	for i, d := range want {
		res := s.exhaust("user-1")
		s.Require().NotNil(res.BlockedUntil)
		s.Equal(s.now.Add(d), *res.BlockedUntil, "offense %d", i+1)
		s.now = res.BlockedUntil.Add(time.Second)
	}
}

func (s *ServiceSuite) TestOffensesForgottenAfterADay() {
	res := s.exhaust("user-1")
	s.now = res.BlockedUntil.Add(24 * time.Hour)

	res = s.exhaust("user-1")
	s.Equal(s.now.Add(15*time.Minute), *res.BlockedUntil)
}

func (s *ServiceSuite) TestIdentifiersAndCategoriesAreIsolated() {
	s.exhaust("user-1")

	s.True(s.attempt("user-2").Allowed)
	res, err := s.service.RecordAttempt(s.ctx(), policymodels.CategoryMagicLink, "user-1")
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(3, res.Limit)
}

func (s *ServiceSuite) TestEmailIdentifiersShareABucketAcrossCase() {
	for range 5 {
		s.attempt("Person@Example.com")
	}
	s.False(s.attempt("person@example.com").Allowed)
}

func (s *ServiceSuite) TestReset() {
	s.exhaust("user-1")

	s.Require().NoError(s.service.Reset(s.ctx(), policymodels.CategoryLogin, "user-1"))
	s.True(s.attempt("user-1").Allowed)

	events, err := s.events.ListByAction(context.Background(), audit.EventRateLimitReset)
	s.Require().NoError(err)
	s.Len(events, 1)

	s.Run("offense history is cleared", func() {
		res := s.exhaust("user-1")
		s.Equal(s.now.Add(15*time.Minute), *res.BlockedUntil)
	})

	s.Run("validation", func() {
		err := s.service.Reset(s.ctx(), "bogus", "user-1")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		err = s.service.Reset(s.ctx(), policymodels.CategoryLogin, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestStatus() {
	res, err := s.service.Status(s.ctx(), policymodels.CategoryLogin, "user-1")
	s.Require().NoError(err)
	s.True(res.Allowed)
	s.Equal(5, res.Remaining)
	s.Nil(res.BlockedUntil)

	s.attempt("user-1")
	s.attempt("user-1")
	res, err = s.service.Status(s.ctx(), policymodels.CategoryLogin, "user-1")
	s.Require().NoError(err)
	s.Equal(3, res.Remaining)

	s.Run("reading does not count as an attempt", func() {
		again, err := s.service.Status(s.ctx(), policymodels.CategoryLogin, "user-1")
		s.Require().NoError(err)
		s.Equal(3, again.Remaining)
	})

	s.Run("active block is reported", func() {
		s.exhaust("user-2")
		res, err := s.service.Status(s.ctx(), policymodels.CategoryLogin, "user-2")
		s.Require().NoError(err)
		s.False(res.Allowed)
		s.Require().NotNil(res.BlockedUntil)
		s.Equal(s.now.Add(15*time.Minute), *res.BlockedUntil)
	})

	s.Run("validation", func() {
		_, err := s.service.Status(s.ctx(), "bogus", "user-1")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		_, err = s.service.Status(s.ctx(), policymodels.CategoryLogin, "")
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestUnknownCategory() {
	_, err := s.service.RecordAttempt(s.ctx(), "bogus", "user-1")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

type brokenBuckets struct{}

func (brokenBuckets) Allow(context.Context, string, int, time.Duration) (*models.BucketResult, error) {
	return nil, errors.New("connection reset")
}

func (brokenBuckets) Reset(context.Context, string) error {
	return errors.New("connection reset")
}

func (brokenBuckets) GetCurrentCount(context.Context, string) (int, error) {
	return 0, errors.New("connection reset")
}

func (s *ServiceSuite) TestStoreErrorsAreWrapped() {
	svc, err := New(brokenBuckets{}, block.NewInMemoryStore())
	s.Require().NoError(err)

	_, err = svc.RecordAttempt(s.ctx(), policymodels.CategoryLogin, "user-1")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
	s.ErrorContains(err, "connection reset")

	_, err = svc.Status(s.ctx(), policymodels.CategoryLogin, "user-1")
	s.True(dErrors.HasCode(err, dErrors.CodeInternal))
}
