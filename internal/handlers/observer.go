package handlers

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"batchzip/internal/database"
	"batchzip/internal/models"
)

// progressWriteTimeout bounds a single progress write
const progressWriteTimeout = 5 * time.Second

// storeObserver persists every progress report of one run, overwriting the last
type storeObserver struct {
	store  database.Store
	id     string
	logger *zap.Logger

	mu     sync.Mutex
	state  models.RunState
	status string
}

func newStoreObserver(store database.Store, id string, logger *zap.Logger) *storeObserver {
	return &storeObserver{
		store:  store,
		id:     id,
		logger: logger,
		state:  models.RunStatePreparing,
	}
}

func (o *storeObserver) Report(status string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.status = status
	o.persist()
}

func (o *storeObserver) Transition(state models.RunState) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == state {
		return
	}
	o.state = state
	o.persist()
}

// persist must be called with mu held. Writes are ordered by mu, so the
// store never sees an older report after a newer one.
func (o *storeObserver) persist() {
	ctx, cancel := context.WithTimeout(context.Background(), progressWriteTimeout)
	defer cancel()

	if err := o.store.UpdateProgress(ctx, o.id, o.state, o.status); err != nil {
		o.logger.Warn("failed to persist progress",
			zap.String("state", string(o.state)),
			zap.String("status", o.status),
			zap.Error(err),
		)
	}
}
