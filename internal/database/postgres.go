package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"batchzip/internal/config"
	"batchzip/internal/metrics"
	"batchzip/internal/models"
)

// PostgresStore implements Store for PostgreSQL
type PostgresStore struct {
	pool      *pgxpool.Pool
	tableName string
	timeout   time.Duration
	metrics   *metrics.Metrics
}

// NewPostgresStore creates a new PostgreSQL store and ensures its table exists
func NewPostgresStore(ctx context.Context, cfg *config.Config, m *metrics.Metrics) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DBURL)
	if err != nil {
		return nil, fmt.Errorf("postgres config error: %w", err)
	}
	if cfg.DBMaxConnections > 0 {
		poolCfg.MaxConns = int32(cfg.DBMaxConnections)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres connect error: %w", err)
	}

	s := &PostgresStore{
		pool:      pool,
		tableName: cfg.TableName,
		timeout:   cfg.DatabaseQueryTimeout,
		metrics:   m,
	}

	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) observe(start time.Time) {
	s.metrics.DatabaseQueryDuration.WithLabelValues("postgres").Observe(time.Since(start).Seconds())
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		stamp BIGINT NOT NULL,
		total_files INTEGER NOT NULL,
		batch_size INTEGER NOT NULL,
		total_batches INTEGER NOT NULL,
		state TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT '',
		callback TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`, s.tableName)

	if _, err := s.pool.Exec(queryCtx, query); err != nil {
		return fmt.Errorf("postgres schema error: %w", err)
	}
	return nil
}

// CreateRun inserts a new run row
func (s *PostgresStore) CreateRun(ctx context.Context, run *models.RunRecord) error {
	defer s.observe(time.Now())

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(
		`INSERT INTO %s (id, stamp, total_files, batch_size, total_batches, state, status, callback, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		s.tableName,
	)

	_, err := s.pool.Exec(queryCtx, query,
		run.ID, run.Stamp, run.TotalFiles, run.BatchSize, run.TotalBatches,
		string(run.State), run.Status, run.Callback, run.CreatedAt, run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres create run: %w", err)
	}
	return nil
}

// UpdateProgress overwrites the run's state and status
func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, state models.RunState, status string) error {
	defer s.observe(time.Now())

	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf("UPDATE %s SET state = $1, status = $2, updated_at = $3 WHERE id = $4", s.tableName)

	tag, err := s.pool.Exec(queryCtx, query, string(state), status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("postgres update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *PostgresStore) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	defer s.observe(time.Now())

	// Apply timeout
	queryCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	query := fmt.Sprintf(
		"SELECT stamp, total_files, batch_size, total_batches, state, status, callback, created_at, updated_at FROM %s WHERE id = $1",
		s.tableName,
	)

	var run models.RunRecord
	var state string
	err := s.pool.QueryRow(queryCtx, query, id).Scan(
		&run.Stamp,
		&run.TotalFiles,
		&run.BatchSize,
		&run.TotalBatches,
		&state,
		&run.Status,
		&run.Callback,
		&run.CreatedAt,
		&run.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	run.ID = id
	run.State = models.RunState(state)
	return &run, nil
}

// Ping checks the connection pool
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
