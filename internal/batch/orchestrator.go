package batch

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"batchzip/internal/archive"
	"batchzip/internal/config"
	"batchzip/internal/metrics"
	"batchzip/internal/models"
)

// Status strings that are not tied to a batch
const (
	StatusComplete = "All batches complete!"
	StatusCleared  = ""
)

// Fetcher downloads one URL with its own retry policy
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Sink persists a serialized archive under the given file name
type Sink interface {
	Save(ctx context.Context, name string, payload []byte) error
}

// Archiver collects one batch's files and serializes them
type Archiver interface {
	Add(name string, data []byte) string
	Len() int
	Size() int64
	Close() ([]byte, error)
}

// Options tunes an Orchestrator
type Options struct {
	Concurrency   int           // fetch workers per batch
	BatchPause    time.Duration // between batches, skipped after the last
	ClearDelay    time.Duration // before the completion status is cleared
	ArchivePrefix string
	DownloadQuery string
	Now           func() time.Time
	NewArchive    func() Archiver // defaults to an in-memory store-only ZIP
}

// OptionsFromConfig maps the batching and fetching settings onto Options
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:   cfg.FetchConcurrency,
		BatchPause:    cfg.BatchPause,
		ClearDelay:    cfg.StatusClearDelay,
		ArchivePrefix: cfg.ArchivePrefix,
		DownloadQuery: cfg.DownloadQuery,
	}
}

// Summary describes a finished run
type Summary struct {
	Stamp          int64
	Status         string // last report before the clear
	Batches        int
	Archives       int // archives handed to the sink successfully
	UnsavedBatches int // archives the sink rejected
	EmptyBatches   int
	FailedBatches  int
	Files          int
	Failed         int
	ArchivedBytes  int64
	Duration       time.Duration
}

// Orchestrator runs URL lists batch by batch. One Orchestrator can serve
// many runs; runs share nothing but the fetcher and sink.
type Orchestrator struct {
	fetcher Fetcher
	sink    Sink
	opts    Options
	logger  *zap.Logger
	metrics *metrics.Metrics

	lastStamp atomic.Int64
}

// New creates an Orchestrator
func New(fetcher Fetcher, sink Sink, opts Options, logger *zap.Logger, m *metrics.Metrics) *Orchestrator {
	if opts.Concurrency < 1 {
		opts.Concurrency = 4
	}
	if opts.ArchivePrefix == "" {
		opts.ArchivePrefix = DefaultArchivePrefix
	}
	if opts.DownloadQuery == "" {
		opts.DownloadQuery = models.DefaultDownloadQuery
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewArchive == nil {
		opts.NewArchive = func() Archiver { return archive.New() }
	}
	return &Orchestrator{
		fetcher: fetcher,
		sink:    sink,
		opts:    opts,
		logger:  logger,
		metrics: m,
	}
}

// Stamp returns a run identifier for archive names: the current unix time in
// milliseconds, bumped past the previous stamp so two runs started in the
// same millisecond never share archive names.
func (o *Orchestrator) Stamp() int64 {
	now := o.opts.Now().UnixMilli()
	for {
		last := o.lastStamp.Load()
		next := now
		if next <= last {
			next = last + 1
		}
		if o.lastStamp.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Run processes urls with a freshly captured stamp. See RunWithStamp.
func (o *Orchestrator) Run(ctx context.Context, urls []string, batchSize int, obs Observer) Summary {
	return o.RunWithStamp(ctx, o.Stamp(), urls, batchSize, obs)
}

// RunWithStamp processes urls in batches of batchSize, strictly in order.
// A failing batch is reported and skipped; the run itself never fails. The
// completion status is cleared after ClearDelay without blocking the caller,
// unless ctx is cancelled first.
func (o *Orchestrator) RunWithStamp(ctx context.Context, stamp int64, urls []string, batchSize int, obs Observer) Summary {
	if obs == nil {
		obs = nopObserver{}
	}
	start := time.Now()
	batchSize = config.ClampBatchSize(batchSize)
	batches := Partition(urls, batchSize)

	o.metrics.RunsTotal.WithLabelValues("started").Inc()
	o.metrics.ActiveRuns.Inc()
	defer o.metrics.ActiveRuns.Dec()
	o.metrics.RunFiles.Observe(float64(len(urls)))

	logger := o.logger.With(zap.Int64("stamp", stamp))
	logger.Info("run started",
		zap.Int("files", len(urls)),
		zap.Int("batch_size", batchSize),
		zap.Int("batches", len(batches)),
	)

	summary := Summary{Stamp: stamp, Batches: len(batches), Files: len(urls)}

	obs.Transition(models.RunStatePreparing)
	obs.Report(fmt.Sprintf("Preparing %d files in %d batches...", len(urls), len(batches)))

	for _, b := range batches {
		obs.Transition(models.RunStateProcessing)
		obs.Report(fmt.Sprintf("Batch %d/%d: Processing...", b.Index, b.Total))

		batchStart := time.Now()
		res, err := o.processBatch(ctx, b, stamp, obs)
		o.metrics.BatchDuration.Observe(time.Since(batchStart).Seconds())
		summary.Failed += res.failed

		switch {
		case err != nil:
			summary.FailedBatches++
			o.metrics.BatchesTotal.WithLabelValues("failed").Inc()
			logger.Error("batch failed", zap.Int("batch", b.Index), zap.Error(err))
			obs.Report(fmt.Sprintf("Error in Batch %d. Continuing...", b.Index))
		case res.empty:
			summary.EmptyBatches++
			o.metrics.BatchesTotal.WithLabelValues("empty").Inc()
		case res.unsaved:
			summary.UnsavedBatches++
			o.metrics.BatchesTotal.WithLabelValues("unsaved").Inc()
		default:
			summary.Archives++
			summary.ArchivedBytes += res.bytes
			o.metrics.BatchesTotal.WithLabelValues("archived").Inc()
		}

		if b.Index < b.Total {
			obs.Transition(models.RunStatePausing)
			o.pause(ctx)
		}
	}

	obs.Transition(models.RunStateCompleted)
	obs.Report(StatusComplete)
	summary.Status = StatusComplete
	summary.Duration = time.Since(start)

	o.scheduleClear(ctx, obs)

	o.metrics.RunsTotal.WithLabelValues("completed").Inc()
	o.metrics.RunDuration.Observe(summary.Duration.Seconds())
	logger.Info("run completed",
		zap.Int("archives", summary.Archives),
		zap.Int("empty_batches", summary.EmptyBatches),
		zap.Int("failed_batches", summary.FailedBatches),
		zap.Int("failed_files", summary.Failed),
		zap.Duration("duration", summary.Duration),
	)

	return summary
}

// scheduleClear resets obs to idle after ClearDelay. Cancelling ctx drops
// the pending clear, so nothing is reported once shutdown has begun.
func (o *Orchestrator) scheduleClear(ctx context.Context, obs Observer) {
	go func() {
		t := time.NewTimer(o.opts.ClearDelay)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		obs.Report(StatusCleared)
		obs.Transition(models.RunStateIdle)
	}()
}

// pause waits BatchPause between batches. Shutdown cuts it short; the
// remaining batches still run and fail fast.
func (o *Orchestrator) pause(ctx context.Context) {
	if o.opts.BatchPause <= 0 {
		return
	}
	t := time.NewTimer(o.opts.BatchPause)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
