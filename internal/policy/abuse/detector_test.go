package abuse

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type DetectorSuite struct {
	suite.Suite
	clock    *fakeClock
	detector *Detector
}

func TestDetectorSuite(t *testing.T) {
	suite.Run(t, new(DetectorSuite))
}

func (s *DetectorSuite) SetupTest() {
	s.clock = &fakeClock{now: time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)}
	s.detector = New(WithClock(s.clock.Now))
}

func (s *DetectorSuite) TestMultiIP() {
	s.Run("same email from four IPs is flagged on the fourth", func() {
		var last Result
		for i := 1; i <= 4; i++ {
			last = s.detector.RecordAttempt("victim@example.com", fmt.Sprintf("10.0.0.%d", i))
			if i < 4 {
				s.False(last.IsAbuse, "attempt %d", i)
			}
		}
		s.True(last.IsAbuse)
		s.Contains(last.Patterns, PatternMultiIP)
	})

	s.Run("two IPs stay compliant", func() {
		s.SetupTest()
		s.detector.RecordAttempt("user@example.com", "10.0.1.1")
		res := s.detector.RecordAttempt("user@example.com", "10.0.1.2")
		s.False(res.IsAbuse)
		s.Empty(res.Patterns)
	})

	s.Run("email comparison ignores case", func() {
		s.SetupTest()
		s.detector.RecordAttempt("Mixed@Example.com", "10.0.2.1")
		s.detector.RecordAttempt("mixed@example.com", "10.0.2.2")
		s.detector.RecordAttempt("MIXED@EXAMPLE.COM", "10.0.2.3")
		res := s.detector.RecordAttempt("mixed@EXAMPLE.com", "10.0.2.4")
		s.Contains(res.Patterns, PatternMultiIP)
	})
}

func (s *DetectorSuite) TestMultiEmail() {
	s.Run("six emails from one IP is flagged", func() {
		var last Result
		for i := 1; i <= 6; i++ {
			last = s.detector.RecordAttempt(fmt.Sprintf("user%d@example.com", i), "192.0.2.1")
		}
		s.True(last.IsAbuse)
		s.Equal([]Pattern{PatternMultiEmail}, last.Patterns)
	})

	s.Run("threshold value itself is compliant", func() {
		s.SetupTest()
		var last Result
		for i := 1; i <= 5; i++ {
			last = s.detector.RecordAttempt(fmt.Sprintf("user%d@example.com", i), "192.0.2.2")
		}
		s.False(last.IsAbuse)
	})

	s.Run("three emails are compliant", func() {
		s.SetupTest()
		var last Result
		for i := 1; i <= 3; i++ {
			last = s.detector.RecordAttempt(fmt.Sprintf("user%d@example.com", i), "192.0.2.3")
		}
		s.False(last.IsAbuse)
	})
}

func (s *DetectorSuite) TestBurst() {
	s.Run("eleven attempts within a minute", func() {
		var last Result
		for range 11 {
			last = s.detector.RecordAttempt("burst@example.com", "198.51.100.1")
			s.clock.Advance(time.Second)
		}
		s.True(last.IsAbuse)
		s.Equal([]Pattern{PatternBurst}, last.Patterns)
	})

	s.Run("five attempts within a minute", func() {
		s.SetupTest()
		var last Result
		for range 5 {
			last = s.detector.RecordAttempt("calm@example.com", "198.51.100.2")
		}
		s.False(last.IsAbuse)
	})

	s.Run("attempts exactly one minute old fall outside the burst window", func() {
		s.SetupTest()
		for range 10 {
			s.detector.RecordAttempt("edge@example.com", "198.51.100.3")
		}
		s.clock.Advance(BurstWindow)
		res := s.detector.RecordAttempt("edge@example.com", "198.51.100.3")
		s.NotContains(res.Patterns, PatternBurst)
	})
}

func (s *DetectorSuite) TestSlowAttack() {
	s.Run("twenty-one attempts spread across an hour", func() {
		var last Result
		for range 21 {
			last = s.detector.RecordAttempt("slow@example.com", "203.0.113.1")
			s.clock.Advance(2 * time.Minute)
		}
		s.True(last.IsAbuse)
		s.Equal([]Pattern{PatternSlowAttack}, last.Patterns)
	})

	s.Run("ten attempts across an hour", func() {
		s.SetupTest()
		var last Result
		for range 10 {
			last = s.detector.RecordAttempt("slow@example.com", "203.0.113.2")
			s.clock.Advance(5 * time.Minute)
		}
		s.False(last.IsAbuse)
	})

	s.Run("attempts older than an hour are pruned", func() {
		s.SetupTest()
		for range 20 {
			s.detector.RecordAttempt("old@example.com", "203.0.113.3")
			s.clock.Advance(2 * time.Minute)
		}
		s.clock.Advance(RetentionWindow)
		res := s.detector.RecordAttempt("old@example.com", "203.0.113.3")
		s.False(res.IsAbuse)
	})
}

func (s *DetectorSuite) TestPatternOrder() {
	for i := 1; i <= 3; i++ {
		s.detector.RecordAttempt("target@example.com", fmt.Sprintf("10.1.0.%d", i))
	}
	for i := 1; i <= 5; i++ {
		s.detector.RecordAttempt(fmt.Sprintf("e%d@example.com", i), "10.1.9.9")
	}
	for range 6 {
		s.detector.RecordAttempt("e1@example.com", "10.1.9.9")
	}

	last := s.detector.RecordAttempt("target@example.com", "10.1.9.9")
	s.Require().True(last.IsAbuse)
	s.Equal([]Pattern{PatternMultiIP, PatternMultiEmail, PatternBurst}, last.Patterns)
}

func (s *DetectorSuite) TestIsAbusive() {
	for i := 1; i <= 4; i++ {
		s.detector.RecordAttempt("flagged@example.com", fmt.Sprintf("10.2.0.%d", i))
	}

	s.True(s.detector.IsAbusive("flagged@example.com", ""))
	s.True(s.detector.IsAbusive("FLAGGED@example.com", "10.9.9.9"))
	s.False(s.detector.IsAbusive("", "10.2.0.1"))
	s.False(s.detector.IsAbusive("unknown@example.com", ""))
	s.False(s.detector.IsAbusive("", ""))

	byIP, byEmail := s.detector.EntryCount()
	s.Equal(4, byIP, "read-only check never creates entries")
	s.Equal(1, byEmail)

	s.clock.Advance(RetentionWindow + time.Second)
	s.False(s.detector.IsAbusive("flagged@example.com", ""), "stale entries read as never seen")
}

func (s *DetectorSuite) TestReset() {
	for i := 1; i <= 4; i++ {
		s.detector.RecordAttempt("reset@example.com", fmt.Sprintf("10.3.0.%d", i))
	}
	s.Require().True(s.detector.IsAbusive("reset@example.com", ""))

	s.detector.Reset("reset@example.com", "")
	s.False(s.detector.IsAbusive("reset@example.com", ""))

	s.NotPanics(func() {
		s.detector.Reset("never-seen@example.com", "192.0.2.200")
		s.detector.Reset("", "")
	})

	s.detector.Reset("", "10.3.0.1")
	byIP, byEmail := s.detector.EntryCount()
	s.Equal(3, byIP)
	s.Equal(0, byEmail)
}

func (s *DetectorSuite) TestCleanup() {
	s.detector.RecordAttempt("a@example.com", "10.4.0.1")
	s.detector.RecordAttempt("b@example.com", "10.4.0.2")

	s.Equal(0, s.detector.Cleanup(), "fresh entries survive")

	s.clock.Advance(30 * time.Minute)
	s.detector.RecordAttempt("a@example.com", "10.4.0.1")

	s.clock.Advance(31 * time.Minute)
	removed := s.detector.Cleanup()
	s.Equal(2, removed, "b's IP and email entries expire")

	byIP, byEmail := s.detector.EntryCount()
	s.Equal(1, byIP)
	s.Equal(1, byEmail)

	s.clock.Advance(RetentionWindow)
	s.Equal(2, s.detector.Cleanup())
	byIP, byEmail = s.detector.EntryCount()
	s.Zero(byIP)
	s.Zero(byEmail)
}

func (s *DetectorSuite) TestStaleEntryForgetsAssociations() {
	for i := 1; i <= 3; i++ {
		s.detector.RecordAttempt("drift@example.com", fmt.Sprintf("10.5.0.%d", i))
	}
	s.clock.Advance(RetentionWindow + time.Minute)

	res := s.detector.RecordAttempt("drift@example.com", "10.5.0.4")
	s.False(res.IsAbuse)
}

func (s *DetectorSuite) TestConcurrentRecordingCountsEveryAttempt() {
	d := New(WithThresholds(Thresholds{Burst: 1000, SlowAttack: 1000}))

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 10 {
				d.RecordAttempt("shared@example.com", "10.6.0.1")
			}
		}()
	}
	wg.Wait()

	snap := d.byIP.inspect("10.6.0.1", time.Now())
	s.Equal(500, snap.total)
}

func (s *DetectorSuite) TestThresholds() {
	s.Equal(DefaultThresholds(), New().Thresholds())

	d := New(WithThresholds(Thresholds{MultiIP: 1, Burst: -4}))
	s.Equal(Thresholds{MultiIP: 1, MultiEmail: 5, Burst: 10, SlowAttack: 20}, d.Thresholds())

	d.RecordAttempt("low@example.com", "10.7.0.1")
	res := d.RecordAttempt("low@example.com", "10.7.0.2")
	s.Equal([]Pattern{PatternMultiIP}, res.Patterns)
}

func (s *DetectorSuite) TestRawEmailNeverStored() {
	s.detector.RecordAttempt("secret@example.com", "10.8.0.1")

	s.detector.byEmail.mu.Lock()
	defer s.detector.byEmail.mu.Unlock()
	_, raw := s.detector.byEmail.entries["secret@example.com"]
	s.False(raw)
	s.Len(s.detector.byEmail.entries, 1)

	s.detector.byIP.mu.Lock()
	defer s.detector.byIP.mu.Unlock()
	_, rawAssoc := s.detector.byIP.entries["10.8.0.1"].associated["secret@example.com"]
	s.False(rawAssoc)
}
