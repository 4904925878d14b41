package httptransport

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"authgate/internal/policy/models"
	"authgate/internal/policy/ports"
	dErrors "authgate/pkg/domain-errors"
	"authgate/pkg/platform/audit"
	"authgate/pkg/platform/httputil"
	"authgate/pkg/platform/middleware/request"
	"authgate/pkg/platform/privacy"
)

// AbuseTarget names the detector entries an admin operation applies to.
// At least one of Email or IP is required.
type AbuseTarget struct {
	Email string `json:"email,omitempty"`
	IP    string `json:"ip,omitempty"`
}

func (t AbuseTarget) normalize() (AbuseTarget, error) {
	t.Email = strings.TrimSpace(t.Email)
	t.IP = strings.TrimSpace(t.IP)
	if t.Email == "" && t.IP == "" {
		return t, dErrors.New(dErrors.CodeInvalidInput, "email or ip is required")
	}
	return t, nil
}

type AbuseStatusResponse struct {
	Abusive bool `json:"abusive"`
}

type CleanupResponse struct {
	Removed int `json:"removed"`
}

type RateLimitStatusResponse struct {
	Allowed      bool       `json:"allowed"`
	Limit        int        `json:"limit"`
	Remaining    int        `json:"remaining"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
}

func (h *Handler) handleAbuseReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var target AbuseTarget
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&target); err != nil {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "invalid request body"))
		return
	}
	target, err := target.normalize()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	h.abuse.Reset(target.Email, target.IP)

	subject := ""
	if target.Email != "" {
		subject = privacy.HashEmail(target.Email)
	}
	ports.LogAudit(ctx, h.logger, h.auditPublisher, audit.EventAbuseReset,
		"subject", subject,
		"ip", privacy.AnonymizeIP(target.IP),
		"decision", "reset",
	)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleAbuseStatus(w http.ResponseWriter, r *http.Request) {
	target, err := AbuseTarget{
		Email: r.URL.Query().Get("email"),
		IP:    r.URL.Query().Get("ip"),
	}.normalize()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, AbuseStatusResponse{
		Abusive: h.abuse.IsAbusive(target.Email, target.IP),
	})
}

func (h *Handler) handleAbuseCleanup(w http.ResponseWriter, r *http.Request) {
	removed := h.sweeper.Sweep(r.Context())
	httputil.WriteJSON(w, http.StatusOK, CleanupResponse{Removed: removed})
}

func (h *Handler) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category := models.RateLimitCategory(chi.URLParam(r, "category"))

	res, err := h.limits.Status(ctx, category, chi.URLParam(r, "identifier"))
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			h.logger.ErrorContext(ctx, "failed to read rate limit status",
				"request_id", request.GetRequestID(ctx),
				"category", string(category),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, RateLimitStatusResponse{
		Allowed:      res.Allowed,
		Limit:        res.Limit,
		Remaining:    res.Remaining,
		BlockedUntil: res.BlockedUntil,
	})
}

func (h *Handler) handleRateLimitReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	category := models.RateLimitCategory(chi.URLParam(r, "category"))
	identifier := chi.URLParam(r, "identifier")

	if err := h.limits.Reset(ctx, category, identifier); err != nil {
		if !dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			h.logger.ErrorContext(ctx, "failed to reset rate limit",
				"request_id", request.GetRequestID(ctx),
				"category", string(category),
				"error", err,
			)
		}
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
