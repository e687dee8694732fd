package main

import (
	"context"
	"flag"
	"log"

	"go.uber.org/zap"

	"batchzip/internal/auth"
	"batchzip/internal/batch"
	"batchzip/internal/circuitbreaker"
	"batchzip/internal/config"
	"batchzip/internal/database"
	"batchzip/internal/fetch"
	"batchzip/internal/handlers"
	"batchzip/internal/metrics"
	"batchzip/internal/notify"
	"batchzip/internal/server"
	"batchzip/internal/storage"
)

func main() {
	// Parse command-line flags
	configFile := flag.String("config", "", "Path to config file (overrides CONFIG_FILE env var)")
	flag.Parse()

	// Load environment variables from file
	if loaded, err := config.LoadEnvFile(*configFile); err != nil {
		log.Fatal(err)
	} else if loaded != "" {
		log.Printf("loaded config from: %s", loaded)
	}

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("failed to init logger:", err)
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	// Runs execute under ctx; it is cancelled after the drain at shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize metrics
	m := metrics.New()
	m.StartRuntimeMetricsCollector()

	// Initialize circuit breakers
	storageBreaker := circuitbreaker.New("storage", cfg, m)
	logger.Info("initialized circuit breaker", zap.String("name", storageBreaker.Name()))

	// Initialize run store
	db, err := database.New(ctx, cfg, m)
	if err != nil {
		logger.Fatal("failed to initialize database", zap.Error(err))
	}
	defer db.Close()
	logger.Info("initialized database", zap.String("engine", cfg.DBEngine))

	// Initialize storage sink
	sink, err := storage.New(ctx, cfg, m, storageBreaker)
	if err != nil {
		logger.Fatal("failed to initialize storage sink", zap.Error(err))
	}
	if closer, ok := sink.(interface{ Close() }); ok {
		defer closer.Close()
	}
	logger.Info("initialized storage sink", zap.String("type", sink.Type()))

	// Initialize fetcher and orchestrator
	fetcher := fetch.New(nil, fetch.Options{
		Timeout:     cfg.FetchTimeout,
		MaxAttempts: cfg.FetchMaxAttempts,
		RetryDelay:  cfg.FetchRetryDelay,
		MaxBytes:    cfg.FetchMaxBytes,
	}, logger, m)
	orchestrator := batch.New(fetcher, sink, batch.OptionsFromConfig(cfg), logger, m)

	// Initialize auth verifier and callback notifier
	verifier := auth.NewVerifier(cfg.SigningSecret, cfg.EnforceSigning, m)
	notifier := notify.New(nil, logger, m, cfg.CallbackMaxRetries, cfg.CallbackRetryDelay)

	// Initialize handlers
	runsHandler := handlers.NewRunsHandler(ctx, logger, db, orchestrator, verifier, notifier, m, handlers.RunLimits{
		DefaultBatchSize: cfg.BatchSize,
		MaxURLsPerRun:    cfg.MaxURLsPerRun,
		MaxActiveRuns:    cfg.MaxActiveRuns,
	})
	healthHandler := handlers.NewHealthHandler(logger, db, sink, m)

	// Initialize and start server
	srv := server.New(logger, cfg, m, runsHandler, healthHandler)
	if err := srv.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	// Wait for shutdown signal
	if err := srv.WaitForShutdown(); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}

	// Drop pending status clears before the store closes
	cancel()
}
