package models

import (
	"strings"

	policymodels "authgate/internal/policy/models"
	"authgate/pkg/platform/privacy"
)

const keyPrefix = "auth:ratelimit"

// SanitizeKeySegment escapes delimiter characters in rate limit key segments
// so a user-controlled identifier containing ':' cannot address another
// bucket.
func SanitizeKeySegment(s string) string {
	return strings.ReplaceAll(s, ":", "_")
}

// AttemptKey names the sliding-window bucket for one (category, identifier).
// Email identifiers are stored hashed.
type AttemptKey string

func NewAttemptKey(category policymodels.RateLimitCategory, identifier string) AttemptKey {
	return AttemptKey(keyPrefix + ":" + SanitizeKeySegment(string(category)) + ":" + identifierSegment(identifier))
}

func identifierSegment(identifier string) string {
	if strings.Contains(identifier, "@") {
		return "email:" + privacy.HashEmail(identifier)
	}
	return SanitizeKeySegment(identifier)
}

func (k AttemptKey) String() string {
	return string(k)
}

// BlockKey holds the active progressive block for the bucket.
func (k AttemptKey) BlockKey() string {
	return string(k) + ":block"
}

// OffenseKey counts how many times the bucket has been blocked recently.
func (k AttemptKey) OffenseKey() string {
	return string(k) + ":offenses"
}
