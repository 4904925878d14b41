// Package settings holds the dynamic configuration document the policy gate
// reads on every evaluation: feature flags per action, abuse thresholds and the
// rate-limit policy.
package settings

import (
	"time"

	"authgate/internal/policy/models"
)

type Settings struct {
	FeatureFlags   FeatureFlags   `yaml:"feature_flags"`
	Auth           AuthSettings   `yaml:"auth"`
	AbuseDetection AbuseDetection `yaml:"abuse_detection"`
	RateLimit      RateLimit      `yaml:"rate_limit"`
}

type FeatureFlags struct {
	EnableUserRegistration bool `yaml:"enable_user_registration"`
}

type AuthSettings struct {
	Login     Toggle `yaml:"login"`
	MagicLink Toggle `yaml:"magic_link"`
}

type Toggle struct {
	Enabled bool `yaml:"enabled"`
}

type AbuseDetection struct {
	Thresholds AbuseThresholds `yaml:"thresholds"`
}

// AbuseThresholds mirrors the detector thresholds. Zero means "use the default".
type AbuseThresholds struct {
	MultiIP    int `yaml:"multi_ip"`
	MultiEmail int `yaml:"multi_email"`
	Burst      int `yaml:"burst"`
	SlowAttack int `yaml:"slow_attack"`
}

type RateLimit struct {
	Auth           map[string]CategoryPolicy `yaml:"auth"`
	BlockDurations []time.Duration           `yaml:"block_durations"`
}

// CategoryPolicy allows MaxAttempts per Window for one rate-limit category.
type CategoryPolicy struct {
	Window      time.Duration `yaml:"window"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// FlagPath returns the dotted settings path that gates action, or "" when the
// action has no flag.
func FlagPath(action models.Action) string {
	switch action {
	case models.ActionLogin:
		return "auth.login.enabled"
	case models.ActionRegister:
		return "feature_flags.enable_user_registration"
	case models.ActionMagicLink:
		return "auth.magic_link.enabled"
	}
	return ""
}

// ActionEnabled reports whether action is enabled. A nil document enables
// nothing. Actions without a flag are enabled.
func (s *Settings) ActionEnabled(action models.Action) bool {
	if s == nil {
		return false
	}
	switch action {
	case models.ActionLogin:
		return s.Auth.Login.Enabled
	case models.ActionRegister:
		return s.FeatureFlags.EnableUserRegistration
	case models.ActionMagicLink:
		return s.Auth.MagicLink.Enabled
	}
	return true
}

// Default enables every action and leaves thresholds and rate-limit policy to
// their built-in defaults.
func Default() *Settings {
	return &Settings{
		FeatureFlags: FeatureFlags{EnableUserRegistration: true},
		Auth: AuthSettings{
			Login:     Toggle{Enabled: true},
			MagicLink: Toggle{Enabled: true},
		},
	}
}
