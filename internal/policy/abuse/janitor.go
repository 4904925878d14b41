package abuse

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"authgate/internal/policy/metrics"
	"authgate/internal/policy/ports"
	"authgate/pkg/platform/audit"
)

const DefaultCleanupInterval = 10 * time.Minute

// Janitor periodically calls Detector.Cleanup. It touches detector state only,
// so stopping it never waits on a collaborator.
type Janitor struct {
	detector  *Detector
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	publisher ports.AuditPublisher

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type JanitorOption func(*Janitor)

func WithInterval(interval time.Duration) JanitorOption {
	return func(j *Janitor) {
		if interval > 0 {
			j.interval = interval
		}
	}
}

func WithJanitorLogger(logger *slog.Logger) JanitorOption {
	return func(j *Janitor) {
		j.logger = logger
	}
}

func WithJanitorMetrics(m *metrics.Metrics) JanitorOption {
	return func(j *Janitor) {
		j.metrics = m
	}
}

func WithJanitorAuditPublisher(p ports.AuditPublisher) JanitorOption {
	return func(j *Janitor) {
		j.publisher = p
	}
}

func NewJanitor(detector *Detector, opts ...JanitorOption) *Janitor {
	j := &Janitor{
		detector: detector,
		interval: DefaultCleanupInterval,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run sweeps the detector every interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.Sweep(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Start runs the janitor in the background. Calling Start on a running
// janitor is a no-op.
func (j *Janitor) Start(ctx context.Context) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	j.cancel = cancel
	j.done = done

	go func() {
		defer close(done)
		_ = j.Run(runCtx)
	}()
}

// Stop cancels the background loop and waits for it to exit.
func (j *Janitor) Stop() {
	j.mu.Lock()
	cancel, done := j.cancel, j.done
	j.cancel, j.done = nil, nil
	j.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Sweep runs one cleanup pass and reports what it removed.
func (j *Janitor) Sweep(ctx context.Context) int {
	removed := j.detector.Cleanup()
	byIP, byEmail := j.detector.EntryCount()
	if j.metrics != nil {
		j.metrics.SetTrackedEntries(byIP, byEmail)
	}
	if removed > 0 {
		ports.LogAudit(ctx, j.logger, j.publisher, audit.EventAbuseCleanup,
			"removed", removed,
			"tracked_ips", byIP,
			"tracked_emails", byEmail,
		)
	}
	return removed
}
