package audit

import "time"

// EventCategory classifies audit events by their primary purpose so sinks can
// route and retain them differently.
type EventCategory string

const (
	// CategorySecurity covers blocks, abuse detections and lockouts. These feed
	// SIEM and alerting pipelines.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers administrative actions and housekeeping.
	CategoryOperations EventCategory = "operations"
)

// Severity levels for SIEM routing.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is emitted from policy logic. Subject is always a privacy-safe form
// (hashed email, anonymized IP, or opaque user id), never a raw address.
type Event struct {
	Category   EventCategory     `json:"category"`
	Timestamp  time.Time         `json:"timestamp"`
	Action     string            `json:"action"`
	Subject    string            `json:"subject,omitempty"`
	IP         string            `json:"ip,omitempty"`
	Decision   string            `json:"decision,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	Severity   Severity          `json:"severity,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type AuditEvent string

const (
	// Policy gate events
	EventPolicyBlocked AuditEvent = "policy_blocked"

	// Abuse detection events
	EventAbuseDetected AuditEvent = "auth.abuse.detected"
	EventAbuseReset    AuditEvent = "abuse_reset"
	EventAbuseCleanup  AuditEvent = "abuse_cleanup"

	// Rate limit events
	EventRateLimitExceeded AuditEvent = "rate_limit_exceeded"
	EventRateLimitBlocked  AuditEvent = "rate_limit_progressive_block"
	EventRateLimitReset    AuditEvent = "rate_limit_reset"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventPolicyBlocked:     CategorySecurity,
	EventAbuseDetected:     CategorySecurity,
	EventRateLimitExceeded: CategorySecurity,
	EventRateLimitBlocked:  CategorySecurity,

	EventAbuseReset:     CategoryOperations,
	EventAbuseCleanup:   CategoryOperations,
	EventRateLimitReset: CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// NewEvent builds an event for action with its category filled in.
func NewEvent(action AuditEvent, now time.Time) Event {
	return Event{
		Category:  action.Category(),
		Timestamp: now,
		Action:    string(action),
	}
}
