package database

import (
	"context"
	"errors"
	"fmt"

	"batchzip/internal/config"
	"batchzip/internal/metrics"
	"batchzip/internal/models"
)

// ErrNotFound is returned when no run exists for an ID
var ErrNotFound = errors.New("run not found")

// Store persists run records. Each progress update overwrites the run's
// state and status; no history is kept.
type Store interface {
	CreateRun(ctx context.Context, run *models.RunRecord) error
	UpdateProgress(ctx context.Context, id string, state models.RunState, status string) error
	GetRun(ctx context.Context, id string) (*models.RunRecord, error)
	Ping(ctx context.Context) error
	Close() error
}

// These indirection variables allow tests to override the concrete
// store constructors so we can exercise New(...) without real DBs.
var (
	newPostgresStoreFunc = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewPostgresStore(ctx, cfg, m)
	}
	newMySQLStoreFunc = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewMySQLStore(ctx, cfg, m)
	}
	newRedisStoreFunc = func(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
		return NewRedisStore(ctx, cfg, m)
	}
)

// New creates a new run store based on the configured engine
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (Store, error) {
	switch cfg.DBEngine {
	case "", "memory":
		return NewMemoryStore(m), nil
	case "postgres", "postgresql":
		return newPostgresStoreFunc(ctx, cfg, m)
	case "mysql":
		return newMySQLStoreFunc(ctx, cfg, m)
	case "redis", "rediss":
		return newRedisStoreFunc(ctx, cfg, m)
	default:
		return nil, fmt.Errorf("unsupported database engine: %s", cfg.DBEngine)
	}
}
