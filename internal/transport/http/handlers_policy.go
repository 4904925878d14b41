package httptransport

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"authgate/internal/policy/models"
	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/platform/httputil"
	"authgate/pkg/platform/middleware/request"
	"authgate/pkg/requestcontext"
)

const maxBodyBytes = 16 << 10

// Client-facing slugs per blocking policy.
const (
	SlugAuthDisabled     = "AUTH_DISABLED"
	SlugAccountSuspended = "ACCOUNT_SUSPENDED"
	SlugAccountBlocked   = "ACCOUNT_BLOCKED"
	SlugRateLimited      = "POLICY_RATE_LIMITED"
	SlugAbuseDetected    = "POLICY_ABUSE_DETECTED"
)

// EvaluateRequest is submitted by the calling service before it performs a
// sensitive action. IP and UserAgent default to the caller's own connection
// when omitted.
type EvaluateRequest struct {
	Action    string         `json:"action"`
	Email     string         `json:"email,omitempty"`
	UserID    string         `json:"user_id,omitempty"`
	IP        string         `json:"ip,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

type EvaluateResponse struct {
	Allowed           bool   `json:"allowed"`
	Policy            string `json:"policy,omitempty"`
	Slug              string `json:"slug,omitempty"`
	Reason            string `json:"reason,omitempty"`
	Retryable         bool   `json:"retryable"`
	RetryAfterSeconds *int   `json:"retry_after_seconds,omitempty"`
	RequestID         string `json:"request_id,omitempty"`
}

func (h *Handler) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	var req EvaluateRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		h.logger.WarnContext(ctx, "invalid evaluate request",
			"request_id", requestID,
			"error", err.Error(),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}

	ec, err := req.toContext()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if ec.IP == "" {
		ec.IP = requestcontext.ClientIP(ctx)
	}
	if ec.UserAgent == "" {
		ec.UserAgent = requestcontext.UserAgent(ctx)
	}

	verdict := h.gate.Evaluate(ctx, ec)
	status, resp := renderVerdict(verdict)
	resp.RequestID = requestID
	if resp.RetryAfterSeconds != nil {
		w.Header().Set("Retry-After", strconv.Itoa(*resp.RetryAfterSeconds))
	}
	httputil.WriteJSON(w, status, resp)
}

func (req EvaluateRequest) toContext() (models.EvaluationContext, error) {
	action, ok := models.ParseAction(strings.TrimSpace(req.Action))
	if !ok {
		return models.EvaluationContext{}, dErrors.New(dErrors.CodeInvalidInput, "action must be one of login, register, magic_link")
	}
	if len(req.Email) > 320 {
		return models.EvaluationContext{}, dErrors.New(dErrors.CodeInvalidInput, "email too long")
	}
	if len(req.UserID) > 255 {
		return models.EvaluationContext{}, dErrors.New(dErrors.CodeInvalidInput, "user_id too long")
	}
	return models.EvaluationContext{
		Action:    action,
		IP:        strings.TrimSpace(req.IP),
		Email:     strings.TrimSpace(req.Email),
		UserID:    strings.TrimSpace(req.UserID),
		UserAgent: req.UserAgent,
		Metadata:  req.Metadata,
	}, nil
}

// renderVerdict maps a verdict onto a status code and response body.
// Account-status reasons are withheld so the endpoint cannot be used to
// probe which accounts exist or why they are suspended.
func renderVerdict(v models.Verdict) (int, EvaluateResponse) {
	resp := EvaluateResponse{
		Allowed:   v.Allowed,
		Policy:    string(v.Policy),
		Reason:    v.Reason,
		Retryable: v.Retryable,
	}
	if v.Allowed {
		return http.StatusOK, resp
	}

	switch v.Policy {
	case models.PolicyFeatureFlag:
		resp.Slug = SlugAuthDisabled
		return http.StatusServiceUnavailable, resp
	case models.PolicyAccountStatus:
		resp.Reason = ""
		resp.Slug = SlugAccountBlocked
		if suspended, _ := v.Metadata["suspended"].(bool); suspended {
			resp.Slug = SlugAccountSuspended
		}
		return http.StatusForbidden, resp
	case models.PolicyRateLimit:
		resp.Slug = SlugRateLimited
		resp.RetryAfterSeconds = v.RetryAfterSeconds
		return http.StatusTooManyRequests, resp
	default:
		resp.Slug = SlugAbuseDetected
		return http.StatusForbidden, resp
	}
}
