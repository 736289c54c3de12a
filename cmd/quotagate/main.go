package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/kailas-cloud/quotagate/internal/capability/template"
	"github.com/kailas-cloud/quotagate/internal/config"
	"github.com/kailas-cloud/quotagate/internal/db"
	dbRedis "github.com/kailas-cloud/quotagate/internal/db/redis"
	"github.com/kailas-cloud/quotagate/internal/domain"
	"github.com/kailas-cloud/quotagate/internal/events"
	"github.com/kailas-cloud/quotagate/internal/ledger"
	"github.com/kailas-cloud/quotagate/internal/ledger/backend"
	logpkg "github.com/kailas-cloud/quotagate/internal/logger"
	"github.com/kailas-cloud/quotagate/internal/metrics"
	anomalyrepo "github.com/kailas-cloud/quotagate/internal/repository/anomaly"
	receiptrepo "github.com/kailas-cloud/quotagate/internal/repository/receipt"
	usagerepo "github.com/kailas-cloud/quotagate/internal/repository/usage"
	chiTransport "github.com/kailas-cloud/quotagate/internal/transport/chi"
	openaiChat "github.com/kailas-cloud/quotagate/internal/transport/openai"
	accessuc "github.com/kailas-cloud/quotagate/internal/usecase/access"
	entitlementuc "github.com/kailas-cloud/quotagate/internal/usecase/entitlement"
	healthuc "github.com/kailas-cloud/quotagate/internal/usecase/health"
	pricinguc "github.com/kailas-cloud/quotagate/internal/usecase/pricing"
	"github.com/kailas-cloud/quotagate/internal/usecase/ratelimit"
	receiptuc "github.com/kailas-cloud/quotagate/internal/usecase/receipt"
	usageuc "github.com/kailas-cloud/quotagate/internal/usecase/usage"
	"github.com/kailas-cloud/quotagate/internal/version"
)

// receiptStore is what both the controller and the HTTP layer need from receipts.
type receiptStore interface {
	accessuc.ReceiptStore
	chiTransport.ReceiptReader
}

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting quotagate API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("ledger_driver", cfg.Ledger.Driver),
		zap.String("capability_driver", cfg.Capability.Driver),
		zap.Strings("db_addrs", cfg.Database.Addrs),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// Register access metrics explicitly (no init())
	metrics.RegisterAccessMetrics()

	// Ledger backend + seed grants
	ledgerBackend, closeLedger, err := backend.Open(ctx, cfg.Ledger.Driver, cfg.Ledger.DSN)
	if err != nil {
		logger.Fatal("Failed to open ledger", zap.Error(err))
	}
	defer closeLedger()
	if err := seedLedger(ctx, ledgerBackend, cfg.Ledger.Seed); err != nil {
		logger.Fatal("Failed to seed ledger", zap.Error(err))
	}

	ledgerClient := ledger.NewClient(ledgerBackend, ledger.Config{
		ReadTimeout:   cfg.Ledger.ReadTimeout,
		CommitTimeout: cfg.Ledger.CommitTimeout,
		RetryBackoff:  cfg.Ledger.RetryBackoff,
		Breaker: ledger.BreakerConfig{
			MaxRequests:      cfg.Ledger.Breaker.HalfOpenRequests,
			Interval:         cfg.Ledger.Breaker.Interval,
			Timeout:          cfg.Ledger.Breaker.OpenTimeout,
			FailureThreshold: cfg.Ledger.Breaker.FailureThreshold,
		},
	}, ledger.Metrics{
		Requests:     metrics.LedgerRequestsTotal,
		Duration:     metrics.LedgerRequestDuration,
		BreakerState: metrics.LedgerBreakerState,
	}, logger.Named("ledger"))

	cache := entitlementuc.New(ledgerClient, entitlementuc.Config{
		TTL:         cfg.Cache.TTLOrDefault(),
		StalePolicy: entitlementuc.StalePolicy(cfg.Cache.StalePolicy),
		MaxStale:    cfg.Cache.MaxStale,
	}, metrics.EntitlementCacheTotal, logger)

	limiter := ratelimit.New(cfg.RateLimit.MaxRequests, cfg.RateLimit.Window)
	go limiter.Run(ctx, cfg.RateLimit.SweepInterval)

	pricer := pricinguc.New(pricinguc.Config{
		BaseCost:             cfg.Pricing.BaseCost,
		LongPayloadThreshold: cfg.Pricing.LongPayloadThreshold,
		LongPayloadIncrement: cfg.Pricing.LongPayloadIncrement,
		MarkerIncrement:      cfg.Pricing.MarkerIncrement,
		ExpensiveMarkers:     cfg.Pricing.ExpensiveMarkers,
		BlockedTerms:         cfg.Pricing.BlockedTerms,
		MaxPayloadLength:     cfg.Pricing.MaxPayloadLength,
	})
	issuer := receiptuc.New()

	// Optional Redis store for receipts and usage counters
	var store db.Store
	if cfg.Database.Enabled() {
		store, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Database.Addrs,
			Password: cfg.Database.Password,
		})
		if err != nil {
			logger.Fatal("Failed to create database store", zap.Error(err))
		}
		defer store.Close()

		if err := store.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			logger.Fatal("Database not ready", zap.Error(err))
		}
		logger.Info("Connected to database")
	}

	var receipts receiptStore
	if store != nil {
		receipts = receiptrepo.New(store, cfg.Receipts.Retention)
	} else {
		receipts = receiptrepo.NewMemory(cfg.Receipts.Retention)
	}

	journal, err := anomalyrepo.Open(ctx, cfg.Anomaly.SQLitePath)
	if err != nil {
		logger.Fatal("Failed to open anomaly journal", zap.Error(err))
	}
	defer func() { _ = journal.Close() }()

	// Analytics events: usage aggregation and optional broker forwarding
	bus := events.NewBus(cfg.Events.Buffer, metrics.EventsPublishedTotal, logger.Named("events"))
	defer bus.Close()

	// Pass nil interface (not typed nil pointer!) when no store is configured.
	var sink usageuc.UnitsSink
	if store != nil {
		sink = usagerepo.New(store, 48*time.Hour, cfg.Usage.Retention)
	}
	aggregator := usageuc.NewAggregator(cfg.Usage.DedupeSize, sink, logger.Named("usage"))
	usageEvents, unsubscribe := bus.Subscribe()
	defer unsubscribe()
	go aggregator.Run(ctx, usageEvents)
	go pruneUsage(ctx, aggregator, cfg.Usage.Retention)

	if cfg.Events.AMQPURL != "" {
		pub, err := events.NewAMQPPublisher(cfg.Events.AMQPURL, cfg.Events.Exchange, logger.Named("amqp"))
		if err != nil {
			logger.Fatal("Failed to connect event broker", zap.Error(err))
		}
		defer func() { _ = pub.Close() }()
		brokerEvents, unsubscribe := bus.Subscribe()
		defer unsubscribe()
		go events.Forward(ctx, brokerEvents, pub, logger.Named("amqp"))
	}

	// Capability
	capability, capabilityHealth := buildCapability(cfg.Capability, logger)

	controller := accessuc.New(accessuc.Deps{
		Limiter:      limiter,
		Entitlements: cache,
		Pricer:       pricer,
		Ledger:       ledgerClient,
		Capability:   capability,
		Issuer:       issuer,
		Receipts:     receipts,
		Anomalies:    journal,
		Events:       bus,
	}, accessuc.Config{
		Tiers:            cfg.TierCatalog(),
		ExecutionTimeout: cfg.Capability.Timeout,
		JournalTimeout:   cfg.Ledger.CommitTimeout,
	}, accessuc.Metrics{
		Outcomes:  metrics.AccessOutcomesTotal,
		Units:     metrics.QuotaUnitsCommittedTotal,
		Anomalies: metrics.CommitAnomaliesTotal,
	}, logger.Named("access"))

	usageSvc := usageuc.New(aggregator, cache)

	// Health service
	var dbPinger healthuc.Pinger
	if store != nil {
		dbPinger = store
	}
	healthSvc := healthuc.New(ledgerClient, dbPinger, capabilityHealth)

	// Create chi server
	server := chiTransport.NewServer(controller, cache, receipts, issuer, usageSvc, healthSvc, logger)
	r := chiTransport.NewRouter(server, cfg.Auth.APIKeys, logger)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}
	stop()

	logger.Info("Server stopped gracefully")
}

// seedLedger grants the configured entitlements. Grants overwrite, so
// restarting with the same seed resets those subscribers.
func seedLedger(ctx context.Context, g ledger.Granter, seeds []config.SeedConfig) error {
	now := time.Now()
	for _, s := range seeds {
		err := g.Grant(ctx, ledger.Grant{
			SubscriberID:   s.SubscriberID,
			TierID:         s.Tier,
			ExpiresAt:      now.Add(s.ValidFor),
			Quota:          s.Quota,
			SourceRecordID: "seed",
		})
		if err != nil {
			return fmt.Errorf("seed %s: %w", s.SubscriberID, err)
		}
	}
	return nil
}

// buildCapability returns the configured capability and, when it has one,
// its health checker.
func buildCapability(cfg config.CapabilityConfig, logger *zap.Logger) (domain.Capability, healthuc.CapabilityChecker) {
	if cfg.Driver == "openai" {
		chat := openaiChat.NewChat(&openaiChat.Config{
			APIKey:       cfg.OpenAI.APIKey,
			BaseURL:      cfg.OpenAI.BaseURL,
			Model:        cfg.OpenAI.Model,
			SystemPrompt: cfg.OpenAI.SystemPrompt,
			MaxTokens:    cfg.OpenAI.MaxTokens,
			Provider:     cfg.OpenAI.Provider,
			Logger:       logger.Named("capability"),
		})
		logger.Info("Capability created",
			zap.String("provider", cfg.OpenAI.Provider),
			zap.String("model", cfg.OpenAI.Model),
		)
		return chat, chat
	}
	return template.New(nil), nil
}

// pruneUsage drops aggregated buckets older than retention once an hour.
func pruneUsage(ctx context.Context, agg *usageuc.Aggregator, retention time.Duration) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			agg.Prune(now.Add(-retention))
		}
	}
}
