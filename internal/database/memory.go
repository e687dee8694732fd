package database

import (
	"context"
	"sync"
	"time"

	"batchzip/internal/metrics"
	"batchzip/internal/models"
)

// MemoryStore keeps runs in process memory. It is the default when DB_URL
// is empty; records are lost on restart.
type MemoryStore struct {
	mu      sync.RWMutex
	runs    map[string]models.RunRecord
	metrics *metrics.Metrics
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(m *metrics.Metrics) *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]models.RunRecord),
		metrics: m,
	}
}

func (s *MemoryStore) observe(start time.Time) {
	s.metrics.DatabaseQueryDuration.WithLabelValues("memory").Observe(time.Since(start).Seconds())
}

// CreateRun stores a copy of run
func (s *MemoryStore) CreateRun(ctx context.Context, run *models.RunRecord) error {
	defer s.observe(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = *run
	return nil
}

// UpdateProgress overwrites the run's state and status
func (s *MemoryStore) UpdateProgress(ctx context.Context, id string, state models.RunState, status string) error {
	defer s.observe(time.Now())

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	run.State = state
	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	s.runs[id] = run
	return nil
}

// GetRun returns a copy of the stored run
func (s *MemoryStore) GetRun(ctx context.Context, id string) (*models.RunRecord, error) {
	defer s.observe(time.Now())

	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
