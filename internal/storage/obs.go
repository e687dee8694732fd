package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/huaweicloud/huaweicloud-sdk-go-obs/obs"

	"batchzip/internal/circuitbreaker"
	"batchzip/internal/config"
	"batchzip/internal/metrics"
)

// OBSSink uploads archives to a Huawei Cloud OBS bucket
type OBSSink struct {
	client         *obs.ObsClient
	bucket         string
	keyPrefix      string
	circuitBreaker *circuitbreaker.Breaker
	metrics        *metrics.Metrics
	policy         retryPolicy
}

// NewOBSSink creates a new OBS sink
func NewOBSSink(cfg *config.Config, m *metrics.Metrics, cb *circuitbreaker.Breaker) (*OBSSink, error) {
	if cfg.StorageBucket == "" {
		return nil, fmt.Errorf("STORAGE_BUCKET required for obs storage")
	}
	if cfg.OBSEndpoint == "" {
		return nil, fmt.Errorf("OBS_ENDPOINT required for obs storage")
	}

	timeout := int(cfg.StorageWriteTimeout / time.Second)
	if timeout < 1 {
		timeout = 1
	}

	// The SDK retries internally too; ours is the only retry loop
	client, err := obs.New(cfg.OBSAccessKey, cfg.OBSSecretKey, cfg.OBSEndpoint,
		obs.WithSocketTimeout(timeout),
		obs.WithMaxRetryCount(0),
	)
	if err != nil {
		return nil, fmt.Errorf("create obs client: %w", err)
	}

	return &OBSSink{
		client:         client,
		bucket:         cfg.StorageBucket,
		keyPrefix:      cfg.StorageKeyPrefix,
		circuitBreaker: cb,
		metrics:        m,
		policy: retryPolicy{
			maxRetries: cfg.StorageMaxRetries,
			retryDelay: cfg.StorageRetryDelay,
			retryable:  isOBSRetryableError,
		},
	}, nil
}

// Type returns "obs"
func (o *OBSSink) Type() string { return "obs" }

// Save uploads payload to <bucket>/<keyPrefix><name>
func (o *OBSSink) Save(ctx context.Context, name string, payload []byte) error {
	start := time.Now()
	key := o.keyPrefix + name

	err := o.circuitBreaker.Do(func() error {
		return o.policy.do(ctx, func(ctx context.Context) error {
			input := &obs.PutObjectInput{}
			input.Bucket = o.bucket
			input.Key = key
			input.ContentType = "application/zip"
			input.ContentLength = int64(len(payload))
			input.Body = bytes.NewReader(payload)

			_, err := o.client.PutObject(input)
			return err
		})
	})
	observeWrite(o.metrics, o.Type(), start, err)
	if err != nil {
		var obsErr obs.ObsError
		if errors.As(err, &obsErr) {
			return fmt.Errorf("obs put %s: code=%s message=%s", key, obsErr.Code, obsErr.Message)
		}
		return fmt.Errorf("obs put %s: %w", key, err)
	}
	return nil
}

// isOBSRetryableError retries everything except client errors other than throttling
func isOBSRetryableError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var obsErr obs.ObsError
	if errors.As(err, &obsErr) {
		status := obsErr.StatusCode
		return status == http.StatusTooManyRequests || status >= 500
	}
	return true
}

// HealthCheck verifies the bucket exists and is reachable
func (o *OBSSink) HealthCheck(ctx context.Context) error {
	if _, err := o.client.HeadBucket(o.bucket); err != nil {
		return fmt.Errorf("obs connectivity check failed: %w", err)
	}
	return nil
}

// Close releases the underlying client
func (o *OBSSink) Close() {
	if o.client != nil {
		o.client.Close()
	}
}
