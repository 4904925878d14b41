// Package block persists progressive rate-limit blocks and the offense counts
// that escalate them.
package block

import (
	"context"
	"sync"
	"time"
)

type offense struct {
	count     int
	expiresAt time.Time
}

// InMemoryStore keeps blocks in process.
type InMemoryStore struct {
	mu       sync.Mutex
	blocks   map[string]time.Time
	offenses map[string]offense
	now      func() time.Time
}

type Option func(*InMemoryStore)

func WithClock(now func() time.Time) Option {
	return func(s *InMemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewInMemoryStore(opts ...Option) *InMemoryStore {
	s := &InMemoryStore{
		blocks:   make(map[string]time.Time),
		offenses: make(map[string]offense),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetBlock returns the block end for key, or nil when no unexpired block exists.
func (s *InMemoryStore) GetBlock(_ context.Context, key string) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	until, ok := s.blocks[key]
	if !ok {
		return nil, nil
	}
	if !until.After(s.now()) {
		delete(s.blocks, key)
		return nil, nil
	}
	return &until, nil
}

func (s *InMemoryStore) SetBlock(_ context.Context, key string, until time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[key] = until
	return nil
}

// IncrementOffense bumps the offense counter for key. The counter starts over
// once ttl has passed since the first offense.
func (s *InMemoryStore) IncrementOffense(_ context.Context, key string, ttl time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	o, ok := s.offenses[key]
	if !ok || !o.expiresAt.After(now) {
		o = offense{expiresAt: now.Add(ttl)}
	}
	o.count++
	s.offenses[key] = o
	return o.count, nil
}

// Clear removes the block and offense history.
func (s *InMemoryStore) Clear(_ context.Context, blockKey, offenseKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, blockKey)
	delete(s.offenses, offenseKey)
	return nil
}

// Cleanup drops expired blocks and offense counters.
func (s *InMemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for key, until := range s.blocks {
		if !until.After(now) {
			delete(s.blocks, key)
			removed++
		}
	}
	for key, o := range s.offenses {
		if !o.expiresAt.After(now) {
			delete(s.offenses, key)
			removed++
		}
	}
	return removed
}
