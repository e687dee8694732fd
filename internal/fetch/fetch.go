package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"batchzip/internal/metrics"
	"batchzip/internal/models"
)

// Defaults for a single file fetch
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxAttempts = 3
	DefaultRetryDelay  = time.Second
)

var (
	// ErrEmptyPayload is returned when a 2xx response carries no body
	ErrEmptyPayload = errors.New("empty payload")
	// ErrTooLarge is returned when a body exceeds Options.MaxBytes. It is not retried.
	ErrTooLarge = errors.New("payload exceeds size limit")
)

// StatusError reports a non-2xx response
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("bad status: %d", e.StatusCode)
}

// FailureError is returned once every attempt for a URL has failed
type FailureError struct {
	URL      string
	Attempts int
	Err      error // last attempt's error
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("fetch %s failed after %d attempts: %v", e.URL, e.Attempts, e.Err)
}

func (e *FailureError) Unwrap() error {
	return e.Err
}

// Options tunes the retry loop
type Options struct {
	Timeout     time.Duration // per attempt
	MaxAttempts int           // total, including the first
	RetryDelay  time.Duration // fixed, between attempts
	MaxBytes    int64         // 0 = unlimited
}

func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.RetryDelay < 0 {
		o.RetryDelay = 0
	}
	return o
}

// Fetcher downloads a single URL into memory with bounded retries.
// It keeps no state between calls and is safe for concurrent use.
type Fetcher struct {
	client  *http.Client
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a Fetcher. A nil client uses http.DefaultClient.
func New(client *http.Client, opts Options, logger *zap.Logger, m *metrics.Metrics) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{
		client:  client,
		opts:    opts.withDefaults(),
		logger:  logger,
		metrics: m,
	}
}

// Fetch returns the body of url. Every failure mode short of ErrTooLarge is
// retried after a fixed delay until MaxAttempts is reached.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= f.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			f.metrics.FetchRetriesTotal.Inc()
			select {
			case <-ctx.Done():
				return nil, &FailureError{URL: url, Attempts: attempt - 1, Err: ctx.Err()}
			case <-time.After(f.opts.RetryDelay):
			}
			f.logger.Debug("retrying fetch", zap.String("url", url), zap.Int("attempt", attempt))
		}

		data, err := f.attempt(ctx, url)
		if err == nil {
			return data, nil
		}
		lastErr = err

		if errors.Is(err, ErrTooLarge) {
			return nil, &FailureError{URL: url, Attempts: attempt, Err: err}
		}

		f.logger.Debug("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
	}

	return nil, &FailureError{URL: url, Attempts: f.opts.MaxAttempts, Err: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, url string) ([]byte, error) {
	start := time.Now()
	f.metrics.FetchAttemptsTotal.Inc()
	f.metrics.ActiveFileFetches.Inc()
	defer f.metrics.ActiveFileFetches.Dec()

	ctx, cancel := context.WithTimeout(ctx, f.opts.Timeout)
	defer cancel()

	data, err := f.get(ctx, url)

	result := "success"
	if err != nil {
		result = "error"
	}
	f.metrics.FetchDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())

	return data, err
}

func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("request creation error: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return nil, &StatusError{StatusCode: resp.StatusCode}
	}

	if f.opts.MaxBytes > 0 && resp.ContentLength > f.opts.MaxBytes {
		return nil, ErrTooLarge
	}

	var body io.Reader = resp.Body
	if f.opts.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, f.opts.MaxBytes+1)
	}

	var buf bytes.Buffer
	bc := &models.ByteCounter{Writer: &buf}
	if _, err := io.Copy(bc, body); err != nil {
		return nil, fmt.Errorf("read error: %w", err)
	}
	if f.opts.MaxBytes > 0 && bc.Count > f.opts.MaxBytes {
		return nil, ErrTooLarge
	}

	f.metrics.FetchedBytesHist.Observe(float64(bc.Count))
	return buf.Bytes(), nil
}
