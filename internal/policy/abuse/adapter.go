package abuse

import (
	"context"
	"log/slog"
	"strings"

	"github.com/mssola/useragent"

	"authgate/internal/policy/metrics"
	"authgate/internal/policy/ports"
	"authgate/pkg/platform/audit"
	"authgate/pkg/platform/privacy"
)

const unknownIP = "unknown"

var patternRisk = map[Pattern]int{
	PatternMultiIP:    30,
	PatternMultiEmail: 25,
	PatternBurst:      30,
	PatternSlowAttack: 15,
}

// RiskScore sums the weight of each matched pattern, capped at 100.
func RiskScore(patterns []Pattern) int {
	score := 0
	for _, p := range patterns {
		score += patternRisk[p]
	}
	return min(score, 100)
}

// Adapter exposes a Detector as a ports.AbuseChecker.
type Adapter struct {
	detector  *Detector
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher ports.AuditPublisher
}

type AdapterOption func(*Adapter)

func WithLogger(logger *slog.Logger) AdapterOption {
	return func(a *Adapter) {
		a.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) AdapterOption {
	return func(a *Adapter) {
		a.metrics = m
	}
}

func WithAuditPublisher(p ports.AuditPublisher) AdapterOption {
	return func(a *Adapter) {
		a.publisher = p
	}
}

func NewAdapter(detector *Detector, opts ...AdapterOption) *Adapter {
	a := &Adapter{
		detector: detector,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CheckRequest records the attempt and reports whether it matched any
// pattern. Requests without an email are only checked against the IP store.
func (a *Adapter) CheckRequest(ctx context.Context, req ports.AbuseRequest) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	ip := req.IP
	if ip == "" {
		ip = unknownIP
	}

	if req.Email == "" {
		return a.detector.IsAbusive("", ip), nil
	}

	result := a.detector.RecordAttempt(req.Email, ip)
	if !result.IsAbuse {
		return false, nil
	}

	names := make([]string, len(result.Patterns))
	for i, p := range result.Patterns {
		names[i] = string(p)
		if a.metrics != nil {
			a.metrics.IncrementAbusePattern(string(p))
		}
	}

	ua := useragent.New(req.UserAgent)
	browser, _ := ua.Browser()

	ports.LogAudit(ctx, a.logger, a.publisher, audit.EventAbuseDetected,
		"subject", privacy.HashEmail(req.Email),
		"ip", anonymize(ip),
		"decision", "blocked",
		"reason", strings.Join(names, ","),
		"risk_score", RiskScore(result.Patterns),
		"action", string(req.Action),
		"user_id", req.UserID,
		"bot", ua.Bot(),
		"browser", browser,
		"os", ua.OS(),
	)
	return true, nil
}

func anonymize(ip string) string {
	if ip == unknownIP {
		return ip
	}
	return privacy.AnonymizeIP(ip)
}
