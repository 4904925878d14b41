package settings

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"authgate/pkg/platform/sentinel"
)

// FileSource loads Settings from a YAML file and caches the parsed document
// for ttl. A failed reload is returned as an error; the cached document is not
// served past its ttl.
type FileSource struct {
	path string
	ttl  time.Duration
	now  func() time.Time

	mu       sync.Mutex
	cached   *Settings
	loadedAt time.Time
}

type Option func(*FileSource)

func WithTTL(ttl time.Duration) Option {
	return func(s *FileSource) {
		s.ttl = ttl
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *FileSource) {
		if now != nil {
			s.now = now
		}
	}
}

func NewFileSource(path string, opts ...Option) (*FileSource, error) {
	if path == "" {
		return nil, errors.New("settings path is required")
	}
	s := &FileSource{
		path: path,
		ttl:  30 * time.Second,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *FileSource) LoadSettings(ctx context.Context) (*Settings, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if s.cached != nil && now.Sub(s.loadedAt) < s.ttl {
		return s.cached, nil
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		s.cached = nil
		return nil, fmt.Errorf("read settings %s: %w", s.path, errors.Join(sentinel.ErrUnavailable, err))
	}
	parsed, err := Parse(raw)
	if err != nil {
		s.cached = nil
		return nil, err
	}
	s.cached = parsed
	s.loadedAt = now
	return parsed, nil
}

// Parse decodes a settings document, rejecting unknown fields.
func Parse(raw []byte) (*Settings, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	var out Settings
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("settings document is empty: %w", sentinel.ErrInvalidState)
		}
		return nil, fmt.Errorf("decode settings: %w", errors.Join(sentinel.ErrInvalidState, err))
	}
	return &out, nil
}

// StaticSource serves a fixed document. Used in development and tests.
type StaticSource struct {
	Settings *Settings
	Err      error
}

func (s StaticSource) LoadSettings(context.Context) (*Settings, error) {
	if s.Err != nil {
		return nil, s.Err
	}
	return s.Settings, nil
}
