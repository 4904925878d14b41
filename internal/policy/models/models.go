package models

import "time"

// Action is the identity action being admitted.
type Action string

const (
	ActionLogin     Action = "login"
	ActionRegister  Action = "register"
	ActionMagicLink Action = "magic_link"

	// Low-risk actions are never accepted from callers of the gate; they exist so
	// the rate-limit step can recognize and skip them if a caller forwards one.
	ActionLogout       Action = "logout"
	ActionTokenRefresh Action = "token_refresh"
)

// IsValid reports whether the action is one callers may submit for evaluation.
func (a Action) IsValid() bool {
	switch a {
	case ActionLogin, ActionRegister, ActionMagicLink:
		return true
	}
	return false
}

func (a Action) IsLowRisk() bool {
	return a == ActionLogout || a == ActionTokenRefresh
}

func (a Action) String() string {
	return string(a)
}

// ParseAction validates a caller-supplied action name.
func ParseAction(s string) (Action, bool) {
	a := Action(s)
	return a, a.IsValid()
}

// PolicyKind names the policy that produced a block.
type PolicyKind string

const (
	PolicyFeatureFlag   PolicyKind = "feature_flag"
	PolicyAccountStatus PolicyKind = "account_status"
	PolicyRateLimit     PolicyKind = "rate_limit"
	PolicyAbuse         PolicyKind = "abuse"
)

// EvaluationContext is the input to one gate evaluation. The gate never mutates it.
type EvaluationContext struct {
	Action    Action
	IP        string
	Email     string
	UserID    string
	UserAgent string
	Metadata  map[string]any
}

// Verdict is the allow/deny decision of the gate or of a single policy step.
// When Allowed is true, Policy is empty and RetryAfterSeconds is nil.
type Verdict struct {
	Allowed           bool           `json:"allowed"`
	Policy            PolicyKind     `json:"policy,omitempty"`
	Reason            string         `json:"reason,omitempty"`
	Retryable         bool           `json:"retryable"`
	RetryAfterSeconds *int           `json:"retry_after_seconds,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

func Allow() Verdict {
	return Verdict{Allowed: true, Retryable: false}
}

func Block(kind PolicyKind, reason string, retryable bool) Verdict {
	return Verdict{Allowed: false, Policy: kind, Reason: reason, Retryable: retryable}
}

// WithRetryAfter returns a copy of v carrying a retry hint in seconds.
func (v Verdict) WithRetryAfter(seconds int) Verdict {
	v.RetryAfterSeconds = &seconds
	return v
}

// WithMetadata returns a copy of v carrying md.
func (v Verdict) WithMetadata(md map[string]any) Verdict {
	v.Metadata = md
	return v
}

// Account is the subset of an account record the gate needs.
type Account struct {
	ID              string
	Email           string
	Active          bool
	Suspended       bool
	SuspendedReason string
}

// RateLimitCategory selects a rate-limit bucket policy.
type RateLimitCategory string

const (
	CategoryLogin         RateLimitCategory = "login"
	CategorySignup        RateLimitCategory = "signup"
	CategoryMagicLink     RateLimitCategory = "magic_link"
	CategoryPasswordReset RateLimitCategory = "password_reset"
)

func (c RateLimitCategory) IsValid() bool {
	switch c {
	case CategoryLogin, CategorySignup, CategoryMagicLink, CategoryPasswordReset:
		return true
	}
	return false
}

// CategoryForAction maps an action to its rate-limit bucket. Unmapped actions
// are not rate limited.
func CategoryForAction(a Action) (RateLimitCategory, bool) {
	switch a {
	case ActionLogin:
		return CategoryLogin, true
	case ActionRegister:
		return CategorySignup, true
	case ActionMagicLink:
		return CategoryMagicLink, true
	}
	return "", false
}

// RateLimitResult is the rate limiter's answer for one recorded attempt.
// BlockedUntil is nil when the limiter does not know when the block ends.
type RateLimitResult struct {
	Allowed      bool       `json:"allowed"`
	Limit        int        `json:"limit"`
	Remaining    int        `json:"remaining"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}
