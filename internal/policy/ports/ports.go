// Package ports defines the collaborators the policy gate consumes. Each is an
// interface so the gate can be wired against real adapters in the server and
// against mocks in tests.
package ports

import (
	"context"
	"fmt"
	"log/slog"

	"authgate/internal/policy/models"
	"authgate/internal/settings"
	"authgate/pkg/platform/audit"
	"authgate/pkg/requestcontext"
)

// FlagSource loads the current settings document.
type FlagSource interface {
	LoadSettings(ctx context.Context) (*settings.Settings, error)
}

// AccountStore looks up an account by user id or email. It returns (nil, nil)
// when no account matches.
type AccountStore interface {
	FindAccountByIDOrEmail(ctx context.Context, userID, email string) (*models.Account, error)
}

// RateLimiter records one attempt against the bucket for (category, identifier).
type RateLimiter interface {
	RecordAttempt(ctx context.Context, category models.RateLimitCategory, identifier string) (*models.RateLimitResult, error)
}

// AbuseRequest carries what the abuse check needs to know about a request.
type AbuseRequest struct {
	IP        string
	Email     string
	UserID    string
	Action    models.Action
	UserAgent string
}

// AbuseChecker reports whether a request matches an abuse pattern.
type AbuseChecker interface {
	CheckRequest(ctx context.Context, req AbuseRequest) (bool, error)
}

// AuditPublisher emits audit events for security-relevant operations.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// LogAudit logs an audit line and forwards it to the publisher when one is
// configured. attrs are slog-style key/value pairs; the keys "subject", "ip",
// "decision" and "reason" populate the matching event fields and everything
// else lands in Attributes.
func LogAudit(ctx context.Context, logger *slog.Logger, publisher AuditPublisher, event audit.AuditEvent, attrs ...any) {
	requestID := requestcontext.RequestID(ctx)
	if requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}

	args := append(attrs, "event", string(event), "log_type", "audit")
	if logger != nil {
		logger.InfoContext(ctx, string(event), args...)
	}

	if publisher == nil {
		return
	}

	ev := audit.NewEvent(event, requestcontext.Now(ctx))
	ev.RequestID = requestID
	ev.Severity = audit.SeverityInfo
	if event.Category() == audit.CategorySecurity {
		ev.Severity = audit.SeverityWarning
	}
	for i := 0; i+1 < len(attrs); i += 2 {
		key, ok := attrs[i].(string)
		if !ok || key == "request_id" {
			continue
		}
		val := fmt.Sprint(attrs[i+1])
		switch key {
		case "subject":
			ev.Subject = val
		case "ip":
			ev.IP = val
		case "decision":
			ev.Decision = val
		case "reason":
			ev.Reason = val
		case "actor_id":
			ev.ActorID = val
		default:
			if ev.Attributes == nil {
				ev.Attributes = make(map[string]string)
			}
			ev.Attributes[key] = val
		}
	}

	if err := publisher.Emit(ctx, ev); err != nil && logger != nil {
		logger.WarnContext(ctx, "failed to emit audit event", "event", string(event), "error", err)
	}
}
