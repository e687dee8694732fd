package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"batchzip/internal/metrics"
	"batchzip/internal/models"
)

// Notifier POSTs run results to callback URLs
type Notifier struct {
	client     *http.Client
	logger     *zap.Logger
	metrics    *metrics.Metrics
	maxRetries int
	retryDelay time.Duration
}

// New creates a Notifier. A nil client gets a 30 second timeout.
func New(client *http.Client, logger *zap.Logger, m *metrics.Metrics, maxRetries int, retryDelay time.Duration) *Notifier {
	if client == nil {
		// Set a reasonable timeout for callback requests
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Notifier{
		client:     client,
		logger:     logger,
		metrics:    m,
		maxRetries: maxRetries,
		retryDelay: retryDelay,
	}
}

// Send delivers payload to url with exponential backoff retry. It blocks
// until delivery succeeds, retries run out or ctx is done. An empty url is a no-op.
func (n *Notifier) Send(ctx context.Context, url string, payload models.CallbackPayload) error {
	if url == "" {
		return nil
	}

	var err error
	for attempt := 0; attempt <= n.maxRetries; attempt++ {
		if attempt > 0 {
			n.metrics.CallbackRetries.Inc()
			// Exponential backoff: retryDelay * 2^(attempt-1)
			delay := n.retryDelay * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				n.metrics.CallbacksTotal.WithLabelValues("failure").Inc()
				return ctx.Err()
			case <-time.After(delay):
			}
			n.logger.Info("retrying callback", zap.String("url", url), zap.Int("attempt", attempt))
		}

		err = n.send(ctx, url, payload)
		if err == nil {
			n.metrics.CallbacksTotal.WithLabelValues("success").Inc()
			return nil
		}

		n.logger.Warn("callback attempt failed", zap.String("url", url), zap.Int("attempt", attempt), zap.Error(err))
	}

	n.metrics.CallbacksTotal.WithLabelValues("failure").Inc()
	n.logger.Error("callback failed after retries", zap.String("url", url), zap.Int("total_attempts", n.maxRetries+1), zap.Error(err))
	return err
}

// send sends a single callback request
func (n *Notifier) send(ctx context.Context, url string, payload models.CallbackPayload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("request creation error: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send error: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("bad status: %d", resp.StatusCode)
	}

	return nil
}
