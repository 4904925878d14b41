package bucket

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"authgate/internal/ratelimit/models"
)

const (
	testLimit  = 5
	testWindow = 15 * time.Minute
)

type InMemoryBucketStoreSuite struct {
	suite.Suite
	now   time.Time
	store *InMemoryBucketStore
	ctx   context.Context
}

func TestInMemoryBucketStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryBucketStoreSuite))
}

func (s *InMemoryBucketStoreSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewInMemoryBucketStore(WithClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *InMemoryBucketStoreSuite) TestAllow() {
	s.Run("first attempt allowed", func() {
		result, err := s.store.Allow(s.ctx, "test:allow:first", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit, result.Limit)
		s.Equal(testLimit-1, result.Remaining)
		s.Equal(s.now.Add(testWindow), result.ResetAt)
	})

	s.Run("attempts up to limit allowed", func() {
		var result *models.BucketResult
		var err error
		for range testLimit {
			result, err = s.store.Allow(s.ctx, "test:allow:limit", testLimit, testWindow)
		}
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(0, result.Remaining)
	})

	s.Run("attempt over limit denied and not recorded", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "test:allow:over", testLimit, testWindow)
			s.Require().NoError(err)
		}
		result, err := s.store.Allow(s.ctx, "test:allow:over", testLimit, testWindow)
		s.Require().NoError(err)
		s.False(result.Allowed)
		s.Equal(0, result.Remaining)

		count, err := s.store.GetCurrentCount(s.ctx, "test:allow:over")
		s.Require().NoError(err)
		s.Equal(testLimit, count)
	})

	s.Run("attempts leave the window", func() {
		for range testLimit {
			_, err := s.store.Allow(s.ctx, "test:allow:slide", testLimit, testWindow)
			s.Require().NoError(err)
		}
		s.now = s.now.Add(testWindow)

		result, err := s.store.Allow(s.ctx, "test:allow:slide", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed)
		s.Equal(testLimit-1, result.Remaining)
	})
}

func (s *InMemoryBucketStoreSuite) TestReset() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "test:reset", testLimit, testWindow)
		s.Require().NoError(err)
	}

	s.Require().NoError(s.store.Reset(s.ctx, "test:reset"))

	result, err := s.store.Allow(s.ctx, "test:reset", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.NoError(s.store.Reset(s.ctx, "test:never-seen"))
}

func (s *InMemoryBucketStoreSuite) TestCleanup() {
	_, err := s.store.Allow(s.ctx, "test:cleanup:old", testLimit, testWindow)
	s.Require().NoError(err)
	s.now = s.now.Add(10 * time.Minute)
	_, err = s.store.Allow(s.ctx, "test:cleanup:new", testLimit, testWindow)
	s.Require().NoError(err)

	s.now = s.now.Add(6 * time.Minute)
	s.Equal(1, s.store.Cleanup())

	count, err := s.store.GetCurrentCount(s.ctx, "test:cleanup:new")
	s.Require().NoError(err)
	s.Equal(1, count)
}

func (s *InMemoryBucketStoreSuite) TestConcurrent() {
	limit := 100
	key := "test:concurrent"
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for range 200 {
		wg.Go(func() {
			result, err := s.store.Allow(s.ctx, key, limit, testWindow)
			if err != nil || !result.Allowed {
				return
			}
			mu.Lock()
			allowedCount++
			mu.Unlock()
		})
	}

	wg.Wait()
	s.Equal(limit, allowedCount)
}
