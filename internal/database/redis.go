package database

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"batchzip/internal/config"
	"batchzip/internal/metrics"
	"batchzip/internal/models"
)

// runTTL bounds how long a finished run stays queryable in Redis
const runTTL = 7 * 24 * time.Hour

// RedisStore implements Store for Redis. Each run is a hash at keyPrefix+id.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// NewRedisStore creates a new Redis store
func NewRedisStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("redis parse url error: %w", err)
	}

	// Configure connection pool
	opts.PoolSize = cfg.DBMaxConnections
	opts.MinIdleConns = min(2, cfg.DBMaxConnections) // Keep a few connections warm (or max if max < 2)
	opts.ConnMaxLifetime = 1 * time.Hour             // Recycle connections after 1 hour
	opts.ConnMaxIdleTime = 30 * time.Minute          // Close idle connections after 30 min

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connect error: %w", err)
	}

	return &RedisStore{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		timeout:   cfg.DatabaseQueryTimeout,
		metrics:   m,
	}, nil
}

func (s *RedisStore) observe(start time.Time) {
	s.metrics.DatabaseQueryDuration.WithLabelValues("redis").Observe(time.Since(start).Seconds())
}

// CreateRun writes the run hash
func (s *RedisStore) CreateRun(ctx context.Context, run *models.RunRecord) error {
	defer s.observe(time.Now())

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.keyPrefix + run.ID
	pipe := s.client.TxPipeline()
	pipe.HSet(queryCtx, key, runToHash(run))
	pipe.Expire(queryCtx, key, runTTL)
	if _, err := pipe.Exec(queryCtx); err != nil {
		return fmt.Errorf("redis create run: %w", err)
	}
	return nil
}

// UpdateProgress overwrites the state and status fields of an existing run
func (s *RedisStore) UpdateProgress(ctx context.Context, id string, state models.RunState, status string) error {
	defer s.observe(time.Now())

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	key := s.keyPrefix + id
	exists, err := s.client.Exists(queryCtx, key).Result()
	if err != nil {
		return fmt.Errorf("redis update run: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	err = s.client.HSet(queryCtx, key,
		"state", string(state),
		"status", status,
		"updated_at", time.Now().UTC().Format(time.RFC3339Nano),
	).Err()
	if err != nil {
		return fmt.Errorf("redis update run: %w", err)
	}
	return nil
}

// GetRun reads the run hash
func (s *RedisStore) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	defer s.observe(time.Now())

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	fields, err := s.client.HGetAll(queryCtx, s.keyPrefix+id).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	run := hashToRun(fields)
	run.ID = id
	return run, nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func runToHash(run *models.RunRecord) map[string]interface{} {
	return map[string]interface{}{
		"stamp":         strconv.FormatInt(run.Stamp, 10),
		"total_files":   strconv.Itoa(run.TotalFiles),
		"batch_size":    strconv.Itoa(run.BatchSize),
		"total_batches": strconv.Itoa(run.TotalBatches),
		"state":         string(run.State),
		"status":        run.Status,
		"callback":      run.Callback,
		"created_at":    run.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    run.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// hashToRun tolerates missing or malformed fields, leaving them zero
func hashToRun(fields map[string]string) *models.RunRecord {
	run := &models.RunRecord{
		State:    models.RunState(fields["state"]),
		Status:   fields["status"],
		Callback: fields["callback"],
	}
	run.Stamp, _ = strconv.ParseInt(fields["stamp"], 10, 64)
	run.TotalFiles, _ = strconv.Atoi(fields["total_files"])
	run.BatchSize, _ = strconv.Atoi(fields["batch_size"])
	run.TotalBatches, _ = strconv.Atoi(fields["total_batches"])
	run.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	run.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return run
}
