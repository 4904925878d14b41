package block

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/suite"
)

// Store is the behaviour shared by both implementations.
type Store interface {
	GetBlock(ctx context.Context, key string) (*time.Time, error)
	SetBlock(ctx context.Context, key string, until time.Time) error
	IncrementOffense(ctx context.Context, key string, ttl time.Duration) (int, error)
	Clear(ctx context.Context, blockKey, offenseKey string) error
}

type BlockStoreSuite struct {
	suite.Suite
	newStore func(s *BlockStoreSuite) Store
	advance  func(s *BlockStoreSuite, d time.Duration)

	now   time.Time
	mr    *miniredis.Miniredis
	store Store
	ctx   context.Context
}

func TestInMemoryBlockStore(t *testing.T) {
	suite.Run(t, &BlockStoreSuite{
		newStore: func(s *BlockStoreSuite) Store {
			return NewInMemoryStore(WithClock(func() time.Time { return s.now }))
		},
		advance: func(s *BlockStoreSuite, d time.Duration) {
			s.now = s.now.Add(d)
		},
	})
}

func TestRedisBlockStore(t *testing.T) {
	suite.Run(t, &BlockStoreSuite{
		newStore: func(s *BlockStoreSuite) Store {
			s.mr = miniredis.RunT(s.T())
			client := redis.NewClient(&redis.Options{Addr: s.mr.Addr()})
			s.T().Cleanup(func() { client.Close() })
			return NewRedisStore(client, WithRedisClock(func() time.Time { return s.now }))
		},
		advance: func(s *BlockStoreSuite, d time.Duration) {
			s.now = s.now.Add(d)
			s.mr.FastForward(d)
		},
	})
}

func (s *BlockStoreSuite) SetupTest() {
	s.now = time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = context.Background()
	s.store = s.newStore(s)
}

func (s *BlockStoreSuite) TestBlockLifecycle() {
	until, err := s.store.GetBlock(s.ctx, "k:block")
	s.Require().NoError(err)
	s.Nil(until)

	end := s.now.Add(15 * time.Minute)
	s.Require().NoError(s.store.SetBlock(s.ctx, "k:block", end))

	until, err = s.store.GetBlock(s.ctx, "k:block")
	s.Require().NoError(err)
	s.Require().NotNil(until)
	s.True(end.Equal(*until))

	s.advance(s, 15*time.Minute)
	until, err = s.store.GetBlock(s.ctx, "k:block")
	s.Require().NoError(err)
	s.Nil(until, "block ends at its deadline")
}

func (s *BlockStoreSuite) TestOffenseEscalationAndReset() {
	for want := 1; want <= 3; want++ {
		n, err := s.store.IncrementOffense(s.ctx, "k:offenses", 24*time.Hour)
		s.Require().NoError(err)
		s.Equal(want, n)
	}

	s.advance(s, 24*time.Hour+time.Second)
	n, err := s.store.IncrementOffense(s.ctx, "k:offenses", 24*time.Hour)
	s.Require().NoError(err)
	s.Equal(1, n, "offenses are forgotten after the reset period")
}

func (s *BlockStoreSuite) TestClear() {
	s.Require().NoError(s.store.SetBlock(s.ctx, "k:block", s.now.Add(time.Hour)))
	_, err := s.store.IncrementOffense(s.ctx, "k:offenses", time.Hour)
	s.Require().NoError(err)

	s.Require().NoError(s.store.Clear(s.ctx, "k:block", "k:offenses"))

	until, err := s.store.GetBlock(s.ctx, "k:block")
	s.Require().NoError(err)
	s.Nil(until)
	n, err := s.store.IncrementOffense(s.ctx, "k:offenses", time.Hour)
	s.Require().NoError(err)
	s.Equal(1, n)

	s.NoError(s.store.Clear(s.ctx, "missing:block", "missing:offenses"))
}

func TestInMemoryCleanup(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	st := NewInMemoryStore(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	_ = st.SetBlock(ctx, "a:block", now.Add(time.Minute))
	_ = st.SetBlock(ctx, "b:block", now.Add(time.Hour))
	_, _ = st.IncrementOffense(ctx, "a:offenses", time.Minute)

	now = now.Add(2 * time.Minute)
	if removed := st.Cleanup(); removed != 2 {
		t.Fatalf("expected 2 removed, got %d", removed)
	}
}
