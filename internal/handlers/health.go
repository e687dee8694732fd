package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"batchzip/internal/database"
	"batchzip/internal/metrics"
	"batchzip/internal/storage"
)

// Version is reported by /health
const Version = "1.0.0"

// HealthHandler handles health check requests
type HealthHandler struct {
	logger  *zap.Logger
	db      database.Store
	sink    storage.Sink
	metrics *metrics.Metrics
}

// NewHealthHandler creates a new health check handler
func NewHealthHandler(logger *zap.Logger, db database.Store, sink storage.Sink, m *metrics.Metrics) *HealthHandler {
	return &HealthHandler{
		logger:  logger,
		db:      db,
		sink:    sink,
		metrics: m,
	}
}

type healthResponse struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Version string            `json:"version,omitempty"`
}

// Health returns health status (checks the run store and the storage sink)
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string)
	allHealthy := true

	components := []struct {
		name  string
		check func(context.Context) error
	}{
		{"database", h.db.Ping},
		{"storage", h.sink.HealthCheck},
	}

	for _, c := range components {
		if err := c.check(ctx); err != nil {
			checks[c.name] = "unavailable"
			allHealthy = false
			h.metrics.HealthStatus.WithLabelValues(c.name).Set(0)
			h.metrics.HealthChecksFailed.WithLabelValues(c.name).Inc()
			h.logger.Warn(c.name+" health check failed", zap.Error(err))
			continue
		}
		checks[c.name] = "ok"
		h.metrics.HealthStatus.WithLabelValues(c.name).Set(1)
	}

	w.Header().Set("Content-Type", "application/json")
	if !allHealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(healthResponse{
		Status:  map[bool]string{true: "healthy", false: "unhealthy"}[allHealthy],
		Checks:  checks,
		Version: Version,
	})
}
