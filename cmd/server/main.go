package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	accountstore "authgate/internal/account/store"
	"authgate/internal/platform/config"
	"authgate/internal/platform/httpserver"
	"authgate/internal/platform/logger"
	"authgate/internal/platform/redis"
	"authgate/internal/policy/abuse"
	"authgate/internal/policy/gate"
	"authgate/internal/policy/metrics"
	"authgate/internal/policy/ports"
	ratelimitconfig "authgate/internal/ratelimit/config"
	ratelimitsvc "authgate/internal/ratelimit/service"
	"authgate/internal/ratelimit/store/block"
	"authgate/internal/ratelimit/store/bucket"
	"authgate/internal/ratelimit/store/resilient"
	"authgate/internal/settings"
	httptransport "authgate/internal/transport/http"
	"authgate/pkg/platform/audit/publisher"
	"authgate/pkg/platform/audit/publishers/kafka"
	auditmemory "authgate/pkg/platform/audit/store/memory"
)

const (
	shutdownTimeout    = 10 * time.Second
	localSweepInterval = time.Minute
)

// main wires the policy gate and its collaborators and runs the HTTP server
// alongside the background sweepers until SIGINT or SIGTERM.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("authgate exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	auditStore, closeAudit, err := buildAuditStore(ctx, cfg.Audit)
	if err != nil {
		return err
	}
	defer closeAudit()
	pub := publisher.NewPublisher(auditStore,
		publisher.WithAsyncBuffer(cfg.Audit.BufferSize),
		publisher.WithLogger(log),
	)
	defer pub.Close()

	flags, err := buildFlagSource(cfg)
	if err != nil {
		return err
	}
	initial, err := flags.LoadSettings(ctx)
	if err != nil {
		return err
	}

	var handlerOpts []httptransport.Option

	var accounts ports.AccountStore = accountstore.NewInMemoryStore()
	if cfg.Accounts.DSN != "" {
		sqlStore, err := accountstore.Open(ctx, cfg.Accounts)
		if err != nil {
			return err
		}
		defer sqlStore.Close()
		accounts = sqlStore
		handlerOpts = append(handlerOpts, httptransport.WithHealthCheck("accounts", sqlStore.Ping))
	} else {
		log.Warn("ACCOUNTS_DB_DSN not set, account status checks use an empty in-memory store")
	}

	localBuckets := bucket.NewInMemoryBucketStore()
	localBlocks := block.NewInMemoryStore()
	var (
		buckets ratelimitsvc.BucketStore = localBuckets
		blocks  ratelimitsvc.BlockStore  = localBlocks
	)
	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rc != nil {
		defer rc.Close()
		shared := resilient.New(
			bucket.NewRedisStore(rc.Client),
			block.NewRedisStore(rc.Client),
			localBuckets,
			localBlocks,
			resilient.WithLogger(log),
			resilient.WithMetrics(m),
		)
		buckets, blocks = shared, shared
		handlerOpts = append(handlerOpts, httptransport.WithHealthCheck("redis", rc.Health))
	}

	limiter, err := ratelimitsvc.New(buckets, blocks,
		ratelimitsvc.WithLogger(log),
		ratelimitsvc.WithConfig(ratelimitconfig.FromSettings(initial.RateLimit)),
		ratelimitsvc.WithMetrics(m),
		ratelimitsvc.WithAuditPublisher(pub),
	)
	if err != nil {
		return err
	}

	t := initial.AbuseDetection.Thresholds
	detector := abuse.New(abuse.WithThresholds(abuse.Thresholds{
		MultiIP:    t.MultiIP,
		MultiEmail: t.MultiEmail,
		Burst:      t.Burst,
		SlowAttack: t.SlowAttack,
	}.Normalize()))
	adapter := abuse.NewAdapter(detector,
		abuse.WithLogger(log),
		abuse.WithMetrics(m),
		abuse.WithAuditPublisher(pub),
	)
	janitor := abuse.NewJanitor(detector,
		abuse.WithInterval(cfg.AbuseCleanupInterval),
		abuse.WithJanitorLogger(log),
		abuse.WithJanitorMetrics(m),
		abuse.WithJanitorAuditPublisher(pub),
	)

	policyGate, err := gate.New(flags, accounts, limiter, adapter,
		gate.WithLogger(log),
		gate.WithMetrics(m),
		gate.WithAuditPublisher(pub),
	)
	if err != nil {
		return err
	}

	handlerOpts = append(handlerOpts,
		httptransport.WithLogger(log),
		httptransport.WithAuditPublisher(pub),
	)
	handler, err := httptransport.New(policyGate, detector, janitor, limiter, handlerOpts...)
	if err != nil {
		return err
	}
	if cfg.AdminSigningKey == "" {
		log.Warn("AUTHGATE_ADMIN_SIGNING_KEY is not set, admin endpoints will reject every request")
	}
	srv := httpserver.New(cfg.Addr, httptransport.NewRouter(handler, httptransport.RouterConfig{
		CORSOrigins:     cfg.CORSOrigins,
		AdminSigningKey: []byte(cfg.AdminSigningKey),
		Gatherer:        registry,
	}))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting authgate", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return ignoreCanceled(janitor.Run(gctx))
	})
	g.Go(func() error {
		sweepLocalStores(gctx, log, localBuckets, localBlocks)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		log.Info("shutting down authgate")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func buildFlagSource(cfg config.Server) (ports.FlagSource, error) {
	if cfg.SettingsPath == "" {
		return settings.StaticSource{Settings: settings.Default()}, nil
	}
	return settings.NewFileSource(cfg.SettingsPath, settings.WithTTL(cfg.SettingsTTL))
}

func buildAuditStore(ctx context.Context, cfg config.AuditConfig) (publisher.Store, func(), error) {
	if len(cfg.KafkaBrokers) == 0 {
		return auditmemory.NewInMemoryStore(), func() {}, nil
	}
	store, err := kafka.New(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, nil, err
	}
	if err := store.EnsureTopic(ctx, 0, 0); err != nil {
		store.Close()
		return nil, nil, err
	}
	return store, store.Close, nil
}

// sweepLocalStores drops expired windows and blocks from the process-local
// rate limit stores. They serve as the primary without redis and as the
// fallback with it.
func sweepLocalStores(ctx context.Context, log *slog.Logger, buckets *bucket.InMemoryBucketStore, blocks *block.InMemoryStore) {
	ticker := time.NewTicker(localSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := buckets.Cleanup() + blocks.Cleanup(); n > 0 {
				log.Debug("swept local rate limit state", "removed", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
