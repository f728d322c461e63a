package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/V4T54L/honeyledger/internal/adapter/api"
	"github.com/V4T54L/honeyledger/internal/adapter/api/handler"
	"github.com/V4T54L/honeyledger/internal/adapter/broadcast"
	"github.com/V4T54L/honeyledger/internal/adapter/ledger"
	"github.com/V4T54L/honeyledger/internal/adapter/metrics"
	"github.com/V4T54L/honeyledger/internal/adapter/repository/memory"
	"github.com/V4T54L/honeyledger/internal/adapter/repository/postgres"
	redisrepo "github.com/V4T54L/honeyledger/internal/adapter/repository/redis"
	"github.com/V4T54L/honeyledger/internal/adapter/repository/wal"
	"github.com/V4T54L/honeyledger/internal/domain"
	"github.com/V4T54L/honeyledger/internal/pkg/config"
	"github.com/V4T54L/honeyledger/internal/pkg/logger"
	"github.com/V4T54L/honeyledger/internal/usecase"

	_ "github.com/lib/pq" // Keep for postgres driver
)

const (
	sourceInterval      = time.Second
	sourceHealthCheck   = 5 * time.Second
	apiKeyPruneInterval = time.Minute
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logger.New(cfg.LogLevel)
	slog.SetDefault(logger)

	m := metrics.NewPipelineMetrics(prometheus.DefaultRegisterer)

	// --- Graceful Shutdown Context ---
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Ledger ---
	led, closeLedger, err := ledger.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize ledger", "driver", cfg.LedgerDriver, "error", err)
		os.Exit(1)
	}
	defer closeLedger()
	networkID, err := led.NetworkID(ctx)
	if err != nil {
		logger.Warn("ledger network id unavailable", "error", err)
	}
	logger.Info("ledger ready", "driver", cfg.LedgerDriver, "network", networkID)

	// --- Failed-commit journal ---
	journal, err := wal.NewJournal(cfg.JournalPath, cfg.JournalSegmentSize, cfg.JournalMaxDiskSize, logger)
	if err != nil {
		logger.Error("failed to initialize failed-commit journal", "error", err)
		os.Exit(1)
	}
	defer journal.Close()

	// --- Pipeline ---
	validator, err := usecase.NewValidator(cfg.ThreatLevels)
	if err != nil {
		logger.Error("failed to initialize validator", "error", err)
		os.Exit(1)
	}
	store := memory.NewRecordStore()
	broker := broadcast.NewBroker(cfg.ObserverBuffer, logger, m)
	committer := usecase.NewCommitter(led, usecase.CommitterConfig{
		QueueSize:      cfg.CommitQueueSize,
		MaxAttempts:    cfg.LedgerMaxAttempts,
		RetryInitial:   cfg.LedgerRetryInitial,
		RetryMax:       cfg.LedgerRetryMax,
		ConfirmTimeout: cfg.LedgerConfirmTimeout,
		SubmitRate:     cfg.LedgerSubmitRate,
	}, logger, m)
	coordinator := usecase.NewCoordinator(validator, usecase.NewSequencer(), store, broker, committer, journal, logger, m)
	committer.Start()

	// --- Optional API key store ---
	var apiKeys domain.APIKeyRepository
	if cfg.IngestAuthPostgresURL != "" {
		db, err := sql.Open("postgres", cfg.IngestAuthPostgresURL)
		if err != nil {
			logger.Error("failed to open postgres connection", "error", err)
			os.Exit(1)
		}
		defer db.Close()

		repo := postgres.NewAPIKeyRepository(db, logger, cfg.APIKeyCacheTTL, m)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare api key schema", "error", err)
			os.Exit(1)
		}
		go repo.StartCachePruner(ctx, apiKeyPruneInterval)
		apiKeys = repo
		logger.Info("ingest authentication enabled")
	}

	// --- Optional stream source ---
	var (
		source   handler.SourceStatus
		sourceWg sync.WaitGroup
	)
	if cfg.SourceRedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.SourceRedisURL)
		if err != nil {
			logger.Error("failed to parse redis url", "error", err)
			os.Exit(1)
		}
		redisClient := redis.NewClient(redisOpts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warn("could not connect to redis, source will retry", "error", err)
		}

		consumerName, err := os.Hostname()
		if err != nil {
			logger.Warn("could not get hostname for consumer name, using default", "error", err)
			consumerName = "relay-default"
		}

		eventSource := redisrepo.NewEventSource(redisClient, logger, cfg.SourceStream, cfg.SourceGroup, consumerName, cfg.SourceDLQStream)
		eventSource.SetClaimMinIdle(cfg.SourceClaimMinIdle)
		go eventSource.StartHealthCheck(ctx, sourceHealthCheck)
		source = eventSource

		consumer := usecase.NewConsumeSourceUseCase(eventSource, coordinator, logger, cfg.SourceBatchSize)
		sourceWg.Add(1)
		go func() {
			defer sourceWg.Done()
			consumer.Run(ctx, sourceInterval)
		}()
	}

	// --- Admin and Metrics Server ---
	var verifier handler.ChainVerifier
	if chain, ok := led.(*ledger.LocalChain); ok {
		verifier = chain
	}
	adminServer := &http.Server{
		Addr:    cfg.AdminAddr,
		Handler: api.NewAdminRouter(handler.NewAdminHandler(verifier, journal, source, logger), prometheus.DefaultGatherer, logger),
	}

	// --- Relay Server ---
	relayServer := &http.Server{
		Addr: cfg.ServerAddr,
		Handler: api.NewRouter(cfg, logger, api.RelayDeps{
			Coordinator: coordinator,
			Store:       store,
			Broker:      broker,
			Ledger:      led,
			APIKeys:     apiKeys,
			Source:      source,
			Metrics:     m,
		}),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("starting admin & metrics server", "addr", adminServer.Addr)
		if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("admin & metrics server failed", "error", err)
		}
	}()
	go func() {
		logger.Info("starting relay server", "addr", relayServer.Addr)
		if err := relayServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("relay server failed", "error", err)
			stop() // Trigger shutdown on server error
		}
	}()

	// --- Wait for shutdown signal ---
	<-ctx.Done()
	logger.Info("shutting down relay...")

	// Stop intake, let the committer drain, then release observers so streaming
	// handlers return before the servers wait on them. Observers stay through the
	// drain so they receive the aborted notices.
	coordinator.Close()
	sourceWg.Wait()
	committer.Stop(cfg.ShutdownDrainTimeout)
	broker.Close()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	if err := relayServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("relay server shutdown failed", "error", err)
	}
	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin server shutdown failed", "error", err)
	}

	logger.Info("relay shut down gracefully", "records", store.Len(), "journal_bytes", journal.Size())
}
