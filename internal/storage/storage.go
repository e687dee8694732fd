package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"batchzip/internal/circuitbreaker"
	"batchzip/internal/config"
	"batchzip/internal/metrics"
)

// Sink persists finished archives
type Sink interface {
	// Save stores payload under name. name is a bare file name such as
	// grok_media_1700000000000_part_1_of_2.zip.
	Save(ctx context.Context, name string, payload []byte) error

	// HealthCheck performs a lightweight connectivity check
	HealthCheck(ctx context.Context) error

	// Type returns the sink's metrics label
	Type() string
}

// New creates a new storage sink based on configuration
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, cb *circuitbreaker.Breaker) (Sink, error) {
	switch cfg.StorageType {
	case "s3":
		sink, err := NewS3Sink(ctx, cfg, m, cb)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "obs":
		sink, err := NewOBSSink(cfg, m, cb)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, fmt.Errorf("WEBHOOK_URL required for webhook storage")
		}
		client := &http.Client{Timeout: cfg.StorageWriteTimeout}
		return NewWebhookSink(cfg.WebhookURL, client, m, cb, cfg.StorageMaxRetries, cfg.StorageRetryDelay), nil
	case "local":
		if cfg.StoragePath == "" {
			return nil, fmt.Errorf("STORAGE_PATH required for local storage")
		}
		sink, err := NewLocalSink(cfg.StoragePath, m, cb, cfg.StorageMaxRetries, cfg.StorageRetryDelay)
		if err != nil {
			return nil, err
		}
		return sink, nil
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.StorageType)
	}
}

// retryPolicy runs one write with exponential backoff:
// retryDelay * 2^(attempt-1) before each retry.
type retryPolicy struct {
	maxRetries int
	retryDelay time.Duration
	retryable  func(error) bool
}

func (p retryPolicy) do(ctx context.Context, attempt func(ctx context.Context) error) error {
	var lastErr error
	for i := 0; i <= p.maxRetries; i++ {
		if i > 0 {
			delay := p.retryDelay * time.Duration(1<<(i-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		// Check context cancellation
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = attempt(ctx)
		if lastErr == nil {
			return nil
		}

		if !p.retryable(lastErr) {
			break
		}
	}
	return lastErr
}

// observeWrite records the outcome of a sink write
func observeWrite(m *metrics.Metrics, sinkType string, start time.Time, err error) {
	result := "success"
	if err != nil {
		result = "error"
	}
	m.SinkWritesTotal.WithLabelValues(sinkType, result).Inc()
	m.SinkWriteDuration.WithLabelValues(sinkType, result).Observe(time.Since(start).Seconds())
}
