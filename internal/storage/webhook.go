package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"batchzip/internal/archive"
	"batchzip/internal/circuitbreaker"
	"batchzip/internal/metrics"
)

// WebhookRequest is the body POSTed for each archive. URL carries the whole
// archive as a data URI.
type WebhookRequest struct {
	Filename string `json:"filename"`
	URL      string `json:"url"`
	SaveAs   bool   `json:"save_as"`
}

// WebhookStatusError reports a non-2xx webhook response
type WebhookStatusError struct {
	StatusCode int
}

func (e *WebhookStatusError) Error() string {
	return fmt.Sprintf("bad status: %d", e.StatusCode)
}

// WebhookSink hands archives to an HTTP endpoint that saves them as downloads
type WebhookSink struct {
	url            string
	client         *http.Client
	circuitBreaker *circuitbreaker.Breaker
	metrics        *metrics.Metrics
	policy         retryPolicy
}

// NewWebhookSink creates a new webhook sink
func NewWebhookSink(url string, client *http.Client, m *metrics.Metrics, cb *circuitbreaker.Breaker, maxRetries int, retryDelay time.Duration) *WebhookSink {
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	return &WebhookSink{
		url:            url,
		client:         client,
		circuitBreaker: cb,
		metrics:        m,
		policy: retryPolicy{
			maxRetries: maxRetries,
			retryDelay: retryDelay,
			retryable:  isWebhookRetryableError,
		},
	}
}

// Type returns "webhook"
func (w *WebhookSink) Type() string { return "webhook" }

// Save POSTs the archive as a data URI
func (w *WebhookSink) Save(ctx context.Context, name string, payload []byte) error {
	start := time.Now()

	body, err := json.Marshal(WebhookRequest{
		Filename: name,
		URL:      archive.DataURI(payload),
		SaveAs:   false,
	})
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	err = w.circuitBreaker.Do(func() error {
		return w.policy.do(ctx, func(ctx context.Context) error {
			return w.post(ctx, body)
		})
	})
	observeWrite(w.metrics, w.Type(), start, err)
	if err != nil {
		return fmt.Errorf("webhook save %s: %w", name, err)
	}
	return nil
}

func (w *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request creation error: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send error: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &WebhookStatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

func isWebhookRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	var statusErr *WebhookStatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode == http.StatusTooManyRequests || statusErr.StatusCode >= 500
	}
	return true
}

// HealthCheck confirms the endpoint answers. Any HTTP response counts.
func (w *WebhookSink) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodHead, w.url, nil)
	if err != nil {
		return fmt.Errorf("request creation error: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook connectivity check failed: %w", err)
	}
	resp.Body.Close()
	return nil
}
