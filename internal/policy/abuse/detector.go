// Package abuse tracks recent authentication attempts per IP and per hashed
// email and classifies them against four behavioural patterns.
//
// Raw email addresses are never retained: they are hashed with
// privacy.HashEmail before touching either store.
package abuse

import (
	"sync"
	"time"

	"authgate/pkg/platform/privacy"
)

const (
	// BurstWindow bounds the burst_attack count.
	BurstWindow = time.Minute
	// RetentionWindow bounds stored attempts and the slow_attack count.
	RetentionWindow = time.Hour
)

// Pattern names one abuse classification.
type Pattern string

const (
	PatternMultiIP    Pattern = "multi_ip"
	PatternMultiEmail Pattern = "multi_email"
	PatternBurst      Pattern = "burst_attack"
	PatternSlowAttack Pattern = "slow_attack"
)

// Thresholds are compared with strict greater-than: a count equal to the
// threshold is still compliant.
type Thresholds struct {
	// MultiIP is the number of distinct IPs one email may be seen from.
	MultiIP int
	// MultiEmail is the number of distinct emails one IP may present.
	MultiEmail int
	// Burst is the number of attempts allowed within BurstWindow.
	Burst int
	// SlowAttack is the number of attempts allowed within RetentionWindow.
	SlowAttack int
}

func DefaultThresholds() Thresholds {
	return Thresholds{MultiIP: 3, MultiEmail: 5, Burst: 10, SlowAttack: 20}
}

// Normalize replaces non-positive values with their defaults.
func (t Thresholds) Normalize() Thresholds {
	def := DefaultThresholds()
	if t.MultiIP <= 0 {
		t.MultiIP = def.MultiIP
	}
	if t.MultiEmail <= 0 {
		t.MultiEmail = def.MultiEmail
	}
	if t.Burst <= 0 {
		t.Burst = def.Burst
	}
	if t.SlowAttack <= 0 {
		t.SlowAttack = def.SlowAttack
	}
	return t
}

// Result is the classification of one recorded attempt.
type Result struct {
	IsAbuse  bool
	Patterns []Pattern
}

// Detector holds the two attempt stores. Construct one per process with New
// and share it by pointer.
type Detector struct {
	thresholds Thresholds
	now        func() time.Time

	byIP    *entryStore
	byEmail *entryStore
}

type Option func(*Detector)

func WithThresholds(t Thresholds) Option {
	return func(d *Detector) {
		d.thresholds = t.Normalize()
	}
}

// WithClock overrides the time source used for attempt timestamps and window
// pruning.
func WithClock(now func() time.Time) Option {
	return func(d *Detector) {
		if now != nil {
			d.now = now
		}
	}
}

func New(opts ...Option) *Detector {
	d := &Detector{
		thresholds: DefaultThresholds(),
		now:        time.Now,
		byIP:       newEntryStore(),
		byEmail:    newEntryStore(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Thresholds returns the thresholds fixed at construction.
func (d *Detector) Thresholds() Thresholds {
	return d.thresholds
}

// RecordAttempt records one attempt for the (email, ip) pair and classifies the
// updated entries. Patterns are reported in the order multi_ip, multi_email,
// burst_attack, slow_attack.
func (d *Detector) RecordAttempt(email, ip string) Result {
	now := d.now()
	emailKey := privacy.HashEmail(email)

	ipSnap := d.byIP.record(ip, emailKey, now)
	emailSnap := d.byEmail.record(emailKey, ip, now)

	var patterns []Pattern
	if emailSnap.associated > d.thresholds.MultiIP {
		patterns = append(patterns, PatternMultiIP)
	}
	if ipSnap.associated > d.thresholds.MultiEmail {
		patterns = append(patterns, PatternMultiEmail)
	}
	if ipSnap.recent > d.thresholds.Burst || emailSnap.recent > d.thresholds.Burst {
		patterns = append(patterns, PatternBurst)
	}
	if ipSnap.total > d.thresholds.SlowAttack || emailSnap.total > d.thresholds.SlowAttack {
		patterns = append(patterns, PatternSlowAttack)
	}

	return Result{IsAbuse: len(patterns) > 0, Patterns: patterns}
}

// IsAbusive re-checks the thresholds for whichever identifiers are non-empty
// without recording an attempt.
func (d *Detector) IsAbusive(email, ip string) bool {
	now := d.now()
	if email != "" {
		snap := d.byEmail.inspect(privacy.HashEmail(email), now)
		if snap.associated > d.thresholds.MultiIP || d.exceedsVolume(snap) {
			return true
		}
	}
	if ip != "" {
		snap := d.byIP.inspect(ip, now)
		if snap.associated > d.thresholds.MultiEmail || d.exceedsVolume(snap) {
			return true
		}
	}
	return false
}

func (d *Detector) exceedsVolume(s snapshot) bool {
	return s.recent > d.thresholds.Burst || s.total > d.thresholds.SlowAttack
}

// Reset deletes the entries for whichever identifiers are non-empty. Resetting
// an untracked identifier is a no-op.
func (d *Detector) Reset(email, ip string) {
	if email != "" {
		d.byEmail.remove(privacy.HashEmail(email))
	}
	if ip != "" {
		d.byIP.remove(ip)
	}
}

// Cleanup prunes every entry and deletes those left without attempts. It
// returns the number of entries removed across both stores.
func (d *Detector) Cleanup() int {
	now := d.now()
	return d.byIP.sweep(now) + d.byEmail.sweep(now)
}

// EntryCount reports the number of physically stored entries per store.
func (d *Detector) EntryCount() (byIP, byEmail int) {
	return d.byIP.size(), d.byEmail.size()
}

// entry is one tracked key. associated holds values of the other dimension
// seen together with the key.
type entry struct {
	associated map[string]struct{}
	attempts   []time.Time
}

// prune drops attempts older than the retention window. An entry left without
// attempts forgets its associations so it reads as never seen.
func (e *entry) prune(now time.Time) {
	cutoff := now.Add(-RetentionWindow)
	i := 0
	for ; i < len(e.attempts); i++ {
		if !e.attempts[i].Before(cutoff) {
			break
		}
	}
	e.attempts = e.attempts[i:]
	if len(e.attempts) == 0 && len(e.associated) > 0 {
		clear(e.associated)
	}
}

type snapshot struct {
	associated int
	recent     int
	total      int
}

func (e *entry) snapshot(now time.Time) snapshot {
	cutoff := now.Add(-BurstWindow)
	recent := 0
	for i := len(e.attempts) - 1; i >= 0; i-- {
		if !e.attempts[i].After(cutoff) {
			break
		}
		recent++
	}
	return snapshot{associated: len(e.associated), recent: recent, total: len(e.attempts)}
}

type entryStore struct {
	mu      sync.Mutex
	entries map[string]*entry
}

func newEntryStore() *entryStore {
	return &entryStore{entries: make(map[string]*entry)}
}

// record is the fetch-or-create, mutate and prune sequence as one critical
// section.
func (s *entryStore) record(key, other string, now time.Time) snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.getOrCreate(key)
	e.prune(now)
	e.associated[other] = struct{}{}
	e.attempts = append(e.attempts, now)
	return e.snapshot(now)
}

func (s *entryStore) inspect(key string, now time.Time) snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.entries[key]
	if e == nil {
		return snapshot{}
	}
	e.prune(now)
	return e.snapshot(now)
}

func (s *entryStore) remove(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
}

func (s *entryStore) sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, e := range s.entries {
		e.prune(now)
		if len(e.attempts) == 0 {
			delete(s.entries, key)
			removed++
		}
	}
	return removed
}

func (s *entryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// getOrCreate must be called with s.mu held.
func (s *entryStore) getOrCreate(key string) *entry {
	if e := s.entries[key]; e != nil {
		return e
	}
	e := &entry{associated: make(map[string]struct{})}
	s.entries[key] = e
	return e
}
