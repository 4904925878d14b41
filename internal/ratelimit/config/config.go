package config

import (
	"time"

	"authgate/internal/policy/models"
	"authgate/internal/settings"
)

// Policy allows MaxAttempts within Window.
type Policy struct {
	MaxAttempts int
	Window      time.Duration
}

// Config is the rate-limit policy for every category plus the progressive
// block ladder.
type Config struct {
	Categories map[models.RateLimitCategory]Policy
	// BlockDurations[i] is applied on offense i+1; the last entry repeats.
	BlockDurations []time.Duration
	// OffenseResetAfter is how long an offense counts toward escalation.
	OffenseResetAfter time.Duration
}

func DefaultConfig() *Config {
	return &Config{
		Categories: map[models.RateLimitCategory]Policy{
			models.CategoryLogin:         {MaxAttempts: 5, Window: 15 * time.Minute},
			models.CategorySignup:        {MaxAttempts: 5, Window: time.Hour},
			models.CategoryMagicLink:     {MaxAttempts: 3, Window: time.Hour},
			models.CategoryPasswordReset: {MaxAttempts: 3, Window: time.Hour},
		},
		BlockDurations:    []time.Duration{15 * time.Minute, time.Hour, 24 * time.Hour},
		OffenseResetAfter: 24 * time.Hour,
	}
}

// FromSettings overlays the rate_limit section of the settings document on
// the defaults. Unknown categories and non-positive values are ignored.
func FromSettings(rl settings.RateLimit) *Config {
	cfg := DefaultConfig()
	for name, p := range rl.Auth {
		category := models.RateLimitCategory(name)
		if !category.IsValid() || p.MaxAttempts <= 0 || p.Window <= 0 {
			continue
		}
		cfg.Categories[category] = Policy{MaxAttempts: p.MaxAttempts, Window: p.Window}
	}

	var ladder []time.Duration
	for _, d := range rl.BlockDurations {
		if d > 0 {
			ladder = append(ladder, d)
		}
	}
	if len(ladder) > 0 {
		cfg.BlockDurations = ladder
	}
	return cfg
}

// BlockDuration returns the block length for the nth offense (1-based).
func (c *Config) BlockDuration(offense int) time.Duration {
	if len(c.BlockDurations) == 0 {
		return 15 * time.Minute
	}
	idx := min(max(offense, 1), len(c.BlockDurations)) - 1
	return c.BlockDurations[idx]
}
