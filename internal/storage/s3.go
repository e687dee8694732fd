package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"

	"batchzip/internal/circuitbreaker"
	appconfig "batchzip/internal/config"
	"batchzip/internal/metrics"
)

// s3API is the part of *s3.Client the sink uses
type s3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
}

// S3Sink uploads archives to an S3-compatible bucket
type S3Sink struct {
	client         s3API
	bucket         string
	keyPrefix      string
	circuitBreaker *circuitbreaker.Breaker
	metrics        *metrics.Metrics
	writeTimeout   time.Duration
	policy         retryPolicy
}

// NewS3Sink creates a new S3-compatible sink
func NewS3Sink(ctx context.Context, cfg *appconfig.Config, m *metrics.Metrics, cb *circuitbreaker.Breaker) (*S3Sink, error) {
	if cfg.StorageBucket == "" {
		return nil, fmt.Errorf("STORAGE_BUCKET required for s3 storage")
	}

	region := cfg.S3Region
	if region == "" {
		region = "us-east-1"
	}

	cfgOpts := []func(*config.LoadOptions) error{
		config.WithRegion(region),
	}

	// Static credentials (typical for MinIO and many S3-compatible providers)
	if cfg.S3AccessKeyID != "" && cfg.S3SecretAccessKey != "" {
		cfgOpts = append(cfgOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(
				cfg.S3AccessKeyID,
				cfg.S3SecretAccessKey,
				"",
			),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.S3UsePathStyle
		// Custom endpoint (MinIO, R2, Wasabi, etc.)
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	})

	return newS3Sink(client, cfg, m, cb), nil
}

func newS3Sink(client s3API, cfg *appconfig.Config, m *metrics.Metrics, cb *circuitbreaker.Breaker) *S3Sink {
	return &S3Sink{
		client:         client,
		bucket:         cfg.StorageBucket,
		keyPrefix:      cfg.StorageKeyPrefix,
		circuitBreaker: cb,
		metrics:        m,
		writeTimeout:   cfg.StorageWriteTimeout,
		policy: retryPolicy{
			maxRetries: cfg.StorageMaxRetries,
			retryDelay: cfg.StorageRetryDelay,
			retryable:  isRetryableError,
		},
	}
}

// Type returns "s3"
func (s *S3Sink) Type() string { return "s3" }

// Save uploads payload to <bucket>/<keyPrefix><name>
func (s *S3Sink) Save(ctx context.Context, name string, payload []byte) error {
	start := time.Now()
	key := s.keyPrefix + name

	err := s.circuitBreaker.Do(func() error {
		return s.policy.do(ctx, func(ctx context.Context) error {
			// Apply timeout to this attempt
			putCtx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			defer cancel()

			_, err := s.client.PutObject(putCtx, &s3.PutObjectInput{
				Bucket:        aws.String(s.bucket),
				Key:           aws.String(key),
				Body:          bytes.NewReader(payload),
				ContentLength: aws.Int64(int64(len(payload))),
				ContentType:   aws.String("application/zip"),
			})
			return err
		})
	})
	observeWrite(s.metrics, s.Type(), start, err)
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}

// nonRetryableCodes are S3 error codes a retry cannot fix
var nonRetryableCodes = map[string]bool{
	"AccessDenied":          true,
	"InvalidAccessKeyId":    true,
	"SignatureDoesNotMatch": true,
	"NoSuchBucket":          true,
	"InvalidBucketName":     true,
	"EntityTooLarge":        true,
}

// isRetryableError determines if an error should trigger a retry
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	// Check for context errors (timeout/cancellation)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return !nonRetryableCodes[apiErr.ErrorCode()]
	}

	// Network issues, throttling, etc.
	return true
}

// HealthCheck verifies the bucket is reachable with the configured credentials
func (s *S3Sink) HealthCheck(ctx context.Context) error {
	checkCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	_, err := s.client.HeadBucket(checkCtx, &s3.HeadBucketInput{
		Bucket: aws.String(s.bucket),
	})
	if err != nil {
		return fmt.Errorf("s3 connectivity check failed: %w", err)
	}
	return nil
}
