package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"batchzip/internal/circuitbreaker"
	"batchzip/internal/metrics"
)

// LocalSink writes archives into a directory on the local filesystem
type LocalSink struct {
	basePath       string
	circuitBreaker *circuitbreaker.Breaker
	metrics        *metrics.Metrics
	policy         retryPolicy
}

// NewLocalSink creates a new local filesystem sink
func NewLocalSink(basePath string, m *metrics.Metrics, cb *circuitbreaker.Breaker, maxRetries int, retryDelay time.Duration) (*LocalSink, error) {
	// Ensure base path exists and is a directory
	info, err := os.Stat(basePath)
	if err != nil {
		return nil, fmt.Errorf("base path error: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("base path is not a directory: %s", basePath)
	}

	// Get absolute path for security checks
	absPath, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve base path: %w", err)
	}

	return &LocalSink{
		basePath:       absPath,
		circuitBreaker: cb,
		metrics:        m,
		policy: retryPolicy{
			maxRetries: maxRetries,
			retryDelay: retryDelay,
			retryable:  isLocalRetryableError,
		},
	}, nil
}

// Type returns "local"
func (l *LocalSink) Type() string { return "local" }

// Save writes payload to <basePath>/<name>. The file appears atomically:
// it is written under a temporary name and renamed into place.
func (l *LocalSink) Save(ctx context.Context, name string, payload []byte) error {
	start := time.Now()

	fullPath := filepath.Clean(filepath.Join(l.basePath, name))

	// Security: ensure the resolved path is still within basePath
	if !strings.HasPrefix(fullPath, l.basePath+string(filepath.Separator)) {
		err := fmt.Errorf("path traversal attempt detected: name=%s", name)
		observeWrite(l.metrics, l.Type(), start, err)
		return err
	}

	err := l.circuitBreaker.Do(func() error {
		return l.policy.do(ctx, func(ctx context.Context) error {
			return writeAtomic(fullPath, payload)
		})
	})
	observeWrite(l.metrics, l.Type(), start, err)
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	return nil
}

func writeAtomic(path string, payload []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".batchzip-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}

// isLocalRetryableError determines if a local filesystem error should trigger a retry
func isLocalRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Context errors are not retryable
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	// Missing directory and permission errors will not fix themselves
	if os.IsNotExist(err) || os.IsPermission(err) {
		return false
	}

	// A full disk stays full for the length of a retry window
	if errors.Is(err, syscall.ENOSPC) {
		return false
	}

	// Most other errors (network filesystems, I/O errors) might be transient
	return true
}

// HealthCheck verifies the base path is still accessible
func (l *LocalSink) HealthCheck(ctx context.Context) error {
	// Stat the base path to ensure mount is still accessible
	_, err := os.Stat(l.basePath)
	if err != nil {
		return fmt.Errorf("base path unavailable: %w", err)
	}
	return nil
}
