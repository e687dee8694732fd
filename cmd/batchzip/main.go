// Command batchzip downloads a list of media URLs and packs them into
// numbered ZIP archives, one batch at a time.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"batchzip/internal/batch"
	"batchzip/internal/circuitbreaker"
	"batchzip/internal/config"
	"batchzip/internal/fetch"
	"batchzip/internal/metrics"
	"batchzip/internal/storage"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal("failed to init logger:", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := run(ctx, os.Args[1:], os.Stderr, logger); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Error("batchzip failed", zap.Error(err))
		os.Exit(1)
	}
}

// run parses args, executes one run and returns its summary. Only setup
// problems are errors: failed files and batches are part of the summary.
func run(ctx context.Context, args []string, stderr io.Writer, logger *zap.Logger) (batch.Summary, error) {
	fs := flag.NewFlagSet("batchzip", flag.ContinueOnError)
	fs.SetOutput(stderr)
	urlsPath := fs.String("urls", "", "Path to the URL list (one URL per line, or YAML with a urls: key)")
	batchSize := fs.Int("batch-size", 0, "Files per archive (default BATCH_SIZE or 25)")
	outDir := fs.String("out", "", "Write archives to this directory (overrides STORAGE_TYPE)")
	configFile := fs.String("config", "", "Path to config file (overrides CONFIG_FILE env var)")
	if err := fs.Parse(args); err != nil {
		return batch.Summary{}, err
	}

	if *urlsPath == "" {
		fs.Usage()
		return batch.Summary{}, errors.New("-urls is required")
	}

	if loaded, err := config.LoadEnvFile(*configFile); err != nil {
		return batch.Summary{}, err
	} else if loaded != "" {
		logger.Info("loaded config", zap.String("path", loaded))
	}

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			return batch.Summary{}, fmt.Errorf("failed to create output directory: %w", err)
		}
		os.Setenv("STORAGE_TYPE", "local")
		os.Setenv("STORAGE_PATH", *outDir)
	}

	cfg, err := config.Load()
	if err != nil {
		return batch.Summary{}, fmt.Errorf("failed to load config: %w", err)
	}

	urls, listBatchSize, err := readURLs(*urlsPath)
	if err != nil {
		return batch.Summary{}, err
	}

	size := cfg.BatchSize
	switch {
	case *batchSize > 0:
		size = *batchSize
	case listBatchSize > 0:
		size = listBatchSize
	}

	m := metrics.New()
	sink, err := storage.New(ctx, cfg, m, circuitbreaker.New("storage", cfg, m))
	if err != nil {
		return batch.Summary{}, fmt.Errorf("failed to initialize storage sink: %w", err)
	}
	if closer, ok := sink.(interface{ Close() }); ok {
		defer closer.Close()
	}

	fetcher := fetch.New(nil, fetch.Options{
		Timeout:     cfg.FetchTimeout,
		MaxAttempts: cfg.FetchMaxAttempts,
		RetryDelay:  cfg.FetchRetryDelay,
		MaxBytes:    cfg.FetchMaxBytes,
	}, logger, m)

	logger = logger.With(zap.String("run_id", uuid.NewString()))
	orchestrator := batch.New(fetcher, sink, batch.OptionsFromConfig(cfg), logger, m)

	summary := orchestrator.Run(ctx, urls, size, batch.ReportFunc(func(status string) {
		if status != "" {
			logger.Info(status)
		}
	}))

	logger.Info("run finished",
		zap.String("sink", sink.Type()),
		zap.Int("files", summary.Files),
		zap.Int("failed", summary.Failed),
		zap.Int("archives", summary.Archives),
		zap.Int("unsaved_batches", summary.UnsavedBatches),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}
