package bucket

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

type RedisStoreSuite struct {
	suite.Suite
	mr     *miniredis.Miniredis
	client *redis.Client
	now    time.Time
	store  *RedisStore
	ctx    context.Context
}

func TestRedisStoreSuite(t *testing.T) {
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupTest() {
	s.mr = miniredis.RunT(s.T())
	s.client = redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store = NewRedisStore(s.client, WithRedisClock(func() time.Time { return s.now }))
	s.ctx = context.Background()
}

func (s *RedisStoreSuite) TearDownTest() {
	s.client.Close()
}

func (s *RedisStoreSuite) TestAllowUpToLimit() {
	start := s.now
	for i := 1; i <= testLimit; i++ {
		result, err := s.store.Allow(s.ctx, "auth:ratelimit:login:u1", testLimit, testWindow)
		s.Require().NoError(err)
		s.True(result.Allowed, "attempt %d", i)
		s.Equal(testLimit-i, result.Remaining)
		s.WithinDuration(start.Add(testWindow), result.ResetAt, 0)
		s.now = s.now.Add(time.Second)
	}

	result, err := s.store.Allow(s.ctx, "auth:ratelimit:login:u1", testLimit, testWindow)
	s.Require().NoError(err)
	s.False(result.Allowed)
	s.Equal(0, result.Remaining)

	count, err := s.store.GetCurrentCount(s.ctx, "auth:ratelimit:login:u1")
	s.Require().NoError(err)
	s.Equal(testLimit, count, "denied attempts are not stored")
}

func (s *RedisStoreSuite) TestWindowSlides() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "auth:ratelimit:login:u2", testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.now = s.now.Add(testWindow)

	result, err := s.store.Allow(s.ctx, "auth:ratelimit:login:u2", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
	s.Equal(testLimit-1, result.Remaining)
}

func (s *RedisStoreSuite) TestKeyExpires() {
	_, err := s.store.Allow(s.ctx, "auth:ratelimit:login:u3", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(s.mr.Exists("auth:ratelimit:login:u3"))
	s.Equal(testWindow, s.mr.TTL("auth:ratelimit:login:u3"))

	s.mr.FastForward(testWindow + time.Second)
	s.False(s.mr.Exists("auth:ratelimit:login:u3"))
}

func (s *RedisStoreSuite) TestReset() {
	for range testLimit {
		_, err := s.store.Allow(s.ctx, "auth:ratelimit:login:u4", testLimit, testWindow)
		s.Require().NoError(err)
	}
	s.Require().NoError(s.store.Reset(s.ctx, "auth:ratelimit:login:u4"))

	result, err := s.store.Allow(s.ctx, "auth:ratelimit:login:u4", testLimit, testWindow)
	s.Require().NoError(err)
	s.True(result.Allowed)
}

func (s *RedisStoreSuite) TestUnavailable() {
	s.mr.Close()
	_, err := s.store.Allow(s.ctx, "auth:ratelimit:login:u5", testLimit, testWindow)
	s.Error(err)
}
