package batch

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"batchzip/internal/fetch"
	"batchzip/internal/models"
)

type batchResult struct {
	completed int
	failed    int
	empty     bool
	unsaved   bool
	bytes     int64
}

type fetchResult struct {
	info models.FileInfo
	data []byte
	err  error
}

// processBatch fetches every URL of b with a bounded worker pool, archives
// the successes and hands the archive to the sink. Only archive
// serialization errors are returned; file and sink failures are counted.
func (o *Orchestrator) processBatch(ctx context.Context, b Batch, stamp int64, obs Observer) (batchResult, error) {
	var res batchResult
	logger := o.logger.With(zap.Int64("stamp", stamp), zap.Int("batch", b.Index))

	queue := make(chan models.FileInfo, len(b.URLs))
	for _, u := range b.URLs {
		queue <- models.DeriveFileInfo(u, o.opts.DownloadQuery)
	}
	close(queue)

	workers := o.opts.Concurrency
	if workers > len(b.URLs) {
		workers = len(b.URLs)
	}

	results := make(chan fetchResult)
	var g errgroup.Group
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for info := range queue {
				data, err := o.fetcher.Fetch(ctx, info.DownloadURL)
				if err == nil && len(data) == 0 {
					err = fetch.ErrEmptyPayload
				}
				results <- fetchResult{info: info, data: data, err: err}
			}
			return nil
		})
	}
	go func() {
		g.Wait()
		close(results)
	}()

	arc := o.opts.NewArchive()
	for r := range results {
		res.completed++
		switch {
		case r.err == nil:
			arc.Add(r.info.Filename, r.data)
			o.metrics.FilesFetchTotal.WithLabelValues("success").Inc()
		case errors.Is(r.err, fetch.ErrEmptyPayload):
			res.failed++
			o.metrics.FilesFetchTotal.WithLabelValues("empty").Inc()
			logger.Warn("empty payload", zap.String("file", r.info.Filename), zap.String("url", r.info.DownloadURL))
		default:
			res.failed++
			o.metrics.FilesFetchTotal.WithLabelValues("failed").Inc()
			logger.Warn("file failed", zap.String("file", r.info.Filename), zap.Error(r.err))
		}
		obs.Report(progress(b, res.completed, res.failed))
	}

	if arc.Len() == 0 {
		res.empty = true
		logger.Info("batch empty, nothing to save", zap.Int("failed", res.failed))
		return res, nil
	}

	files, rawBytes := arc.Len(), arc.Size()
	obs.Report(fmt.Sprintf("Batch %d/%d: Zipping...", b.Index, b.Total))
	payload, err := arc.Close()
	if err != nil {
		return res, fmt.Errorf("serialize batch %d: %w", b.Index, err)
	}
	res.bytes = int64(len(payload))
	o.metrics.ArchiveBytesHist.Observe(float64(res.bytes))

	name := ArchiveName(o.opts.ArchivePrefix, stamp, b.Index, b.Total)
	obs.Report(fmt.Sprintf("Batch %d/%d: Saving...", b.Index, b.Total))
	if err := o.sink.Save(ctx, name, payload); err != nil {
		res.unsaved = true
		logger.Warn("sink rejected archive", zap.String("archive", name), zap.Error(err))
		return res, nil
	}

	logger.Info("batch saved",
		zap.String("archive", name),
		zap.Int("files", files),
		zap.Int64("payload_bytes", rawBytes),
		zap.Int64("bytes", res.bytes),
	)
	return res, nil
}

func progress(b Batch, completed, failed int) string {
	s := fmt.Sprintf("Batch %d/%d: %d/%d", b.Index, b.Total, completed, len(b.URLs))
	if failed > 0 {
		s += fmt.Sprintf(" (%d failed)", failed)
	}
	return s
}
