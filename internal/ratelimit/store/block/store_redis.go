package block

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var incrementScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// RedisStore keeps blocks as keys holding the block end in unix milliseconds,
// expiring when the block does.
type RedisStore struct {
	client redis.UniversalClient
	now    func() time.Time
}

type RedisOption func(*RedisStore)

func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) GetBlock(ctx context.Context, key string) (*time.Time, error) {
	raw, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get block %s: %w", key, err)
	}
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("redis block %s holds %q: %w", key, raw, err)
	}
	until := time.UnixMilli(ms)
	if !until.After(s.now()) {
		return nil, nil
	}
	return &until, nil
}

func (s *RedisStore) SetBlock(ctx context.Context, key string, until time.Time) error {
	ttl := until.Sub(s.now())
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, key, until.UnixMilli(), ttl).Err(); err != nil {
		return fmt.Errorf("redis set block %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) IncrementOffense(ctx context.Context, key string, ttl time.Duration) (int, error) {
	n, err := incrementScript.Run(ctx, s.client, []string{key}, ttl.Milliseconds()).Int()
	if err != nil {
		return 0, fmt.Errorf("redis increment offense %s: %w", key, err)
	}
	return n, nil
}

func (s *RedisStore) Clear(ctx context.Context, blockKey, offenseKey string) error {
	if err := s.client.Del(ctx, blockKey, offenseKey).Err(); err != nil {
		return fmt.Errorf("redis clear block %s: %w", blockKey, err)
	}
	return nil
}
