package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"batchzip/internal/auth"
	"batchzip/internal/batch"
	"batchzip/internal/config"
	"batchzip/internal/database"
	"batchzip/internal/metrics"
	"batchzip/internal/models"
	"batchzip/internal/notify"
)

// maxRequestBody caps POST /runs bodies
const maxRequestBody = 10 << 20

// Runner executes one run to completion. *batch.Orchestrator implements it.
type Runner interface {
	Stamp() int64
	RunWithStamp(ctx context.Context, stamp int64, urls []string, batchSize int, obs batch.Observer) batch.Summary
}

// RunLimits bounds what a single client can start
type RunLimits struct {
	DefaultBatchSize int
	MaxURLsPerRun    int // 0 = unlimited
	MaxActiveRuns    int // 0 = unlimited
}

// RunsHandler starts runs and reports their progress
type RunsHandler struct {
	baseCtx  context.Context
	logger   *zap.Logger
	store    database.Store
	runner   Runner
	verifier *auth.Verifier
	notifier *notify.Notifier
	metrics  *metrics.Metrics
	limits   RunLimits

	active atomic.Int64
	wg     sync.WaitGroup
}

// NewRunsHandler creates a new runs handler. Runs execute under baseCtx,
// not the request context, so they outlive the POST that started them.
func NewRunsHandler(
	baseCtx context.Context,
	logger *zap.Logger,
	store database.Store,
	runner Runner,
	verifier *auth.Verifier,
	notifier *notify.Notifier,
	m *metrics.Metrics,
	limits RunLimits,
) *RunsHandler {
	if limits.DefaultBatchSize == 0 {
		limits.DefaultBatchSize = config.DefaultBatchSize
	}
	return &RunsHandler{
		baseCtx:  baseCtx,
		logger:   logger,
		store:    store,
		runner:   runner,
		verifier: verifier,
		notifier: notifier,
		metrics:  m,
		limits:   limits,
	}
}

type createRunResponse struct {
	ID           string `json:"id"`
	Stamp        int64  `json:"stamp"`
	TotalBatches int    `json:"total_batches"`
	Status       string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *RunsHandler) fail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
	h.metrics.RequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// Create handles POST /runs
func (h *RunsHandler) Create(w http.ResponseWriter, r *http.Request) {
	logger := h.logger.With(zap.String("request_id", GetRequestID(r.Context())))

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err != nil {
		h.fail(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	// Verify signature and expiry
	if err := h.verifier.Verify(body, r.Header.Get("X-Expiry"), r.Header.Get("X-Signature")); err != nil {
		h.rejectUnverified(w, logger, err)
		return
	}

	var req models.RunRequest
	if err := json.Unmarshal(body, &req); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := h.validate(&req); err != nil {
		h.fail(w, http.StatusBadRequest, err.Error())
		return
	}

	if !h.acquire() {
		logger.Warn("run rejected, too many active runs", zap.Int("max_active_runs", h.limits.MaxActiveRuns))
		h.fail(w, http.StatusTooManyRequests, "too many active runs")
		return
	}

	batchSize := req.BatchSize
	if batchSize == 0 {
		batchSize = h.limits.DefaultBatchSize
	}
	batchSize = config.ClampBatchSize(batchSize)

	now := time.Now().UTC()
	record := &models.RunRecord{
		ID:           uuid.NewString(),
		Stamp:        h.runner.Stamp(),
		TotalFiles:   len(req.URLs),
		BatchSize:    batchSize,
		TotalBatches: (len(req.URLs) + batchSize - 1) / batchSize,
		State:        models.RunStatePreparing,
		Callback:     req.Callback,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := h.store.CreateRun(r.Context(), record); err != nil {
		h.release()
		logger.Error("failed to create run", zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to create run")
		return
	}

	h.wg.Add(1)
	go h.execute(record, req.URLs)

	logger.Info("run accepted",
		zap.String("run_id", record.ID),
		zap.Int("files", record.TotalFiles),
		zap.Int("batches", record.TotalBatches),
	)
	writeJSON(w, http.StatusAccepted, createRunResponse{
		ID:           record.ID,
		Stamp:        record.Stamp,
		TotalBatches: record.TotalBatches,
		Status:       string(record.State),
	})
	h.metrics.RequestsTotal.WithLabelValues("202").Inc()
}

// Get handles GET /runs/{id}
func (h *RunsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if id == "" {
		h.fail(w, http.StatusBadRequest, "missing id")
		return
	}

	query := r.URL.Query()
	if err := h.verifier.Verify([]byte(id), query.Get("expiry"), query.Get("signature")); err != nil {
		h.rejectUnverified(w, h.logger.With(zap.String("run_id", id)), err)
		return
	}

	record, err := h.store.GetRun(r.Context(), id)
	if errors.Is(err, database.ErrNotFound) {
		h.fail(w, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		h.logger.Error("failed to load run", zap.String("run_id", id), zap.Error(err))
		h.fail(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	writeJSON(w, http.StatusOK, record)
	h.metrics.RequestsTotal.WithLabelValues("200").Inc()
}

func (h *RunsHandler) rejectUnverified(w http.ResponseWriter, logger *zap.Logger, err error) {
	statusCode := http.StatusUnauthorized
	if errors.Is(err, auth.ErrExpired) {
		statusCode = http.StatusGone
		logger.Warn("expired request")
	} else {
		logger.Warn("verification failed", zap.Error(err))
	}
	h.fail(w, statusCode, err.Error())
}

func (h *RunsHandler) validate(req *models.RunRequest) error {
	if len(req.URLs) == 0 {
		return errors.New("urls must not be empty")
	}
	if h.limits.MaxURLsPerRun > 0 && len(req.URLs) > h.limits.MaxURLsPerRun {
		return fmt.Errorf("too many urls: %d exceeds limit of %d", len(req.URLs), h.limits.MaxURLsPerRun)
	}
	if req.BatchSize < 0 {
		return errors.New("batch_size must not be negative")
	}
	for i, raw := range req.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("urls[%d]: not an http(s) URL", i)
		}
	}
	if req.Callback != "" {
		u, err := url.Parse(req.Callback)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return errors.New("callback: not an http(s) URL")
		}
	}
	return nil
}

// acquire reserves an active-run slot
func (h *RunsHandler) acquire() bool {
	limit := int64(h.limits.MaxActiveRuns)
	for {
		n := h.active.Load()
		if limit > 0 && n >= limit {
			return false
		}
		if h.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (h *RunsHandler) release() {
	h.active.Add(-1)
}

// ActiveRuns returns the number of runs in flight
func (h *RunsHandler) ActiveRuns() int {
	return int(h.active.Load())
}

func (h *RunsHandler) execute(record *models.RunRecord, urls []string) {
	defer h.wg.Done()
	defer h.release()

	logger := h.logger.With(zap.String("run_id", record.ID))
	obs := newStoreObserver(h.store, record.ID, logger)

	summary := h.runner.RunWithStamp(h.baseCtx, record.Stamp, urls, record.BatchSize, obs)

	err := h.notifier.Send(h.baseCtx, record.Callback, models.CallbackPayload{
		ID:            record.ID,
		Status:        outcome(summary),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Message:       summaryMessage(summary),
		DurationMs:    summary.Duration.Milliseconds(),
		FileCount:     summary.Files,
		FailedCount:   summary.Failed,
		ArchiveCount:  summary.Archives,
		ArchivedBytes: summary.ArchivedBytes,
	})
	if err != nil {
		logger.Warn("callback not delivered", zap.Error(err))
	}
}

// outcome condenses a summary into completed, partial or failed
func outcome(s batch.Summary) string {
	switch {
	case s.Failed == 0 && s.FailedBatches == 0 && s.UnsavedBatches == 0:
		return "completed"
	case s.Archives == 0:
		return "failed"
	default:
		return "partial"
	}
}

func summaryMessage(s batch.Summary) string {
	if s.Failed == 0 && s.FailedBatches == 0 && s.UnsavedBatches == 0 {
		return s.Status
	}
	return fmt.Sprintf("%s %d of %d files failed; %d batches empty, %d failed, %d unsaved",
		s.Status, s.Failed, s.Files, s.EmptyBatches, s.FailedBatches, s.UnsavedBatches)
}

// Drain waits for in-flight runs to finish or ctx to end
func (h *RunsHandler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
