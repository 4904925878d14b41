package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the policy gate and abuse detector collectors.
type Metrics struct {
	Verdicts              *prometheus.CounterVec
	EvaluationDuration    *prometheus.HistogramVec
	AbusePatterns         *prometheus.CounterVec
	AbuseTrackedEntries   *prometheus.GaugeVec
	CollaboratorFailures  *prometheus.CounterVec
	RateLimitBlocks       *prometheus.CounterVec
	RateLimitBackendState prometheus.Gauge
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests
// to keep registrations isolated.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Verdicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_policy_verdicts_total",
			Help: "Policy gate verdicts by action and outcome",
		}, []string{"action", "outcome"}),
		EvaluationDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "authgate_policy_evaluation_duration_seconds",
			Help:    "Time spent evaluating the policy chain",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"action"}),
		AbusePatterns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_abuse_patterns_detected_total",
			Help: "Abuse patterns detected by pattern name",
		}, []string{"pattern"}),
		AbuseTrackedEntries: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "authgate_abuse_tracked_entries",
			Help: "Entries currently tracked by the abuse detector",
		}, []string{"store"}),
		CollaboratorFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_policy_collaborator_failures_total",
			Help: "Errors and panics raised by policy collaborators, by policy kind",
		}, []string{"policy"}),
		RateLimitBlocks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authgate_ratelimit_blocks_total",
			Help: "Progressive rate-limit blocks applied, by category",
		}, []string{"category"}),
		RateLimitBackendState: factory.NewGauge(prometheus.GaugeOpts{
			Name: "authgate_ratelimit_backend_degraded",
			Help: "1 while the rate-limit backend circuit is open and the in-memory fallback serves requests",
		}),
	}
}

// ObserveVerdict records the outcome of one evaluation. outcome is "allowed" or
// the blocking policy kind.
func (m *Metrics) ObserveVerdict(action, outcome string, elapsed time.Duration) {
	m.Verdicts.WithLabelValues(action, outcome).Inc()
	m.EvaluationDuration.WithLabelValues(action).Observe(elapsed.Seconds())
}

func (m *Metrics) IncrementAbusePattern(pattern string) {
	m.AbusePatterns.WithLabelValues(pattern).Inc()
}

func (m *Metrics) SetTrackedEntries(byIP, byEmail int) {
	m.AbuseTrackedEntries.WithLabelValues("ip").Set(float64(byIP))
	m.AbuseTrackedEntries.WithLabelValues("email").Set(float64(byEmail))
}

func (m *Metrics) IncrementCollaboratorFailure(policy string) {
	m.CollaboratorFailures.WithLabelValues(policy).Inc()
}

func (m *Metrics) IncrementRateLimitBlock(category string) {
	m.RateLimitBlocks.WithLabelValues(category).Inc()
}

func (m *Metrics) SetBackendDegraded(degraded bool) {
	if degraded {
		m.RateLimitBackendState.Set(1)
		return
	}
	m.RateLimitBackendState.Set(0)
}
