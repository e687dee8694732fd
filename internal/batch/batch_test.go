package batch

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"batchzip/internal/archive"
	"batchzip/internal/metrics"
	"batchzip/internal/models"
)

// fakeFetcher fails any URL containing "fail" and returns an empty body for "empty"
type fakeFetcher struct {
	mu    sync.Mutex
	calls map[string]int
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[url]++
	f.mu.Unlock()

	switch {
	case strings.Contains(url, "fail"):
		return nil, errors.New("boom")
	case strings.Contains(url, "empty"):
		return nil, nil
	}
	return []byte("data:" + url), nil
}

type savedArchive struct {
	name    string
	payload []byte
}

type fakeSink struct {
	mu    sync.Mutex
	saved []savedArchive
	err   error
}

func (s *fakeSink) Save(ctx context.Context, name string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, savedArchive{name: name, payload: payload})
	return s.err
}

func (s *fakeSink) archives() []savedArchive {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]savedArchive(nil), s.saved...)
}

type recorder struct {
	mu      sync.Mutex
	reports []string
	states  []models.RunState
}

func (r *recorder) Report(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, status)
}

func (r *recorder) Transition(state models.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) snapshot() ([]string, []models.RunState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reports...), append([]models.RunState(nil), r.states...)
}

func testOptions() Options {
	return Options{
		Concurrency: 4,
		BatchPause:  time.Millisecond,
		ClearDelay:  20 * time.Millisecond,
		Now:         func() time.Time { return time.UnixMilli(1700000000000) },
	}
}

func newTestOrchestrator(f Fetcher, s Sink, opts Options) *Orchestrator {
	return New(f, s, opts, zap.NewNop(), metrics.New())
}

// failingArchiver serializes normally unless err is set
type failingArchiver struct {
	*archive.Archive
	err error
}

func (a *failingArchiver) Close() ([]byte, error) {
	if a.err != nil {
		a.Archive.Close()
		return nil, a.err
	}
	return a.Archive.Close()
}

func imageURLs(n int, tag string) []string {
	urls := make([]string, n)
	for i := range urls {
		urls[i] = fmt.Sprintf("https://assets.example.com/users/u/%s-%02d.png", tag, i)
	}
	return urls
}

func zipNames(t *testing.T, payload []byte) []string {
	t.Helper()
	zr, err := zip.NewReader(bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		assert.Equal(t, zip.Store, f.Method)
		names = append(names, f.Name)
	}
	return names
}

func TestPartition(t *testing.T) {
	tests := []struct {
		n, size   int
		wantSizes []int
	}{
		{0, 25, nil},
		{1, 25, []int{1}},
		{25, 25, []int{25}},
		{26, 25, []int{25, 1}},
		{30, 25, []int{25, 5}},
		{10, 3, []int{3, 3, 3, 1}},
		{5, 1, []int{1, 1, 1, 1, 1}},
		{3, 0, []int{1, 1, 1}},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d,size=%d", tt.n, tt.size), func(t *testing.T) {
			urls := imageURLs(tt.n, "p")
			batches := Partition(urls, tt.size)
			require.Len(t, batches, len(tt.wantSizes))

			var joined []string
			for i, b := range batches {
				assert.Equal(t, i+1, b.Index)
				assert.Equal(t, len(tt.wantSizes), b.Total)
				assert.Len(t, b.URLs, tt.wantSizes[i])
				joined = append(joined, b.URLs...)
			}
			if tt.n > 0 {
				assert.Equal(t, urls, joined, "batches must cover the input in order")
			}
		})
	}
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "grok_media_42.zip", ArchiveName("", 42, 1, 1))
	assert.Equal(t, "grok_media_42_part_2_of_3.zip", ArchiveName("grok_media", 42, 2, 3))
	assert.Equal(t, "media_42_part_1_of_2.zip", ArchiveName("media", 42, 1, 2))
}

func TestRun_PartialFailuresReportedAndArchived(t *testing.T) {
	urls := imageURLs(7, "ok")
	urls = append(urls, imageURLs(3, "fail")...)

	sink := &fakeSink{}
	rec := &recorder{}
	o := newTestOrchestrator(&fakeFetcher{}, sink, testOptions())

	summary := o.Run(context.Background(), urls, 25, rec)

	assert.Equal(t, 1, summary.Batches)
	assert.Equal(t, 1, summary.Archives)
	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, 10, summary.Files)
	assert.Equal(t, StatusComplete, summary.Status)

	saved := sink.archives()
	require.Len(t, saved, 1)
	assert.Equal(t, "grok_media_1700000000000.zip", saved[0].name)
	assert.Len(t, zipNames(t, saved[0].payload), 7)

	reports, _ := rec.snapshot()
	assert.Contains(t, reports, "Batch 1/1: 10/10 (3 failed)")
	assert.Contains(t, reports, "Batch 1/1: Zipping...")
	assert.Contains(t, reports, "Batch 1/1: Saving...")
	assert.Equal(t, "Preparing 10 files in 1 batches...", reports[0])
	assert.Equal(t, "Batch 1/1: Processing...", reports[1])
}

func TestRun_ProgressIsMonotonic(t *testing.T) {
	urls := imageURLs(12, "ok")
	rec := &recorder{}
	o := newTestOrchestrator(&fakeFetcher{}, &fakeSink{}, testOptions())

	o.Run(context.Background(), urls, 25, rec)

	reports, _ := rec.snapshot()
	next := 1
	for _, r := range reports {
		if r == fmt.Sprintf("Batch 1/1: %d/12", next) {
			next++
		}
	}
	assert.Equal(t, 13, next, "expected every count from 1 to 12 in order")
}

func TestRun_AllFailedBatchSkipsSinkAndContinues(t *testing.T) {
	urls := imageURLs(3, "fail")
	urls = append(urls, imageURLs(3, "ok")...)

	sink := &fakeSink{}
	rec := &recorder{}
	o := newTestOrchestrator(&fakeFetcher{}, sink, testOptions())

	summary := o.Run(context.Background(), urls, 3, rec)

	assert.Equal(t, 2, summary.Batches)
	assert.Equal(t, 1, summary.EmptyBatches)
	assert.Equal(t, 1, summary.Archives)

	saved := sink.archives()
	require.Len(t, saved, 1)
	assert.Equal(t, "grok_media_1700000000000_part_2_of_2.zip", saved[0].name)

	reports, _ := rec.snapshot()
	assert.Contains(t, reports, "Batch 1/2: 3/3 (3 failed)")
	assert.NotContains(t, reports, "Batch 1/2: Zipping...")
	assert.Contains(t, reports, "Batch 2/2: Processing...")
}

func TestRun_EmptyPayloadCountsAsFailure(t *testing.T) {
	urls := []string{
		"https://assets.example.com/users/u/empty-1.png",
		"https://assets.example.com/users/u/ok-1.png",
	}
	sink := &fakeSink{}
	rec := &recorder{}
	o := newTestOrchestrator(&fakeFetcher{}, sink, testOptions())

	summary := o.Run(context.Background(), urls, 25, rec)

	assert.Equal(t, 1, summary.Failed)
	saved := sink.archives()
	require.Len(t, saved, 1)
	assert.Equal(t, []string{"ok-1.png"}, zipNames(t, saved[0].payload))
}

func TestRun_MultiBatchNaming(t *testing.T) {
	sink := &fakeSink{}
	rec := &recorder{}
	o := newTestOrchestrator(&fakeFetcher{}, sink, testOptions())

	summary := o.Run(context.Background(), imageURLs(30, "ok"), 25, rec)
	assert.Equal(t, 2, summary.Batches)

	saved := sink.archives()
	require.Len(t, saved, 2)
	assert.Equal(t, "grok_media_1700000000000_part_1_of_2.zip", saved[0].name)
	assert.Equal(t, "grok_media_1700000000000_part_2_of_2.zip", saved[1].name)
	assert.Len(t, zipNames(t, saved[0].payload), 25)
	assert.Len(t, zipNames(t, saved[1].payload), 5)

	reports, _ := rec.snapshot()
	assert.Equal(t, "Preparing 30 files in 2 batches...", reports[0])
	assert.Contains(t, reports, "Batch 2/2: 5/5")
}

func TestRun_DuplicateURLsArchivedIndependently(t *testing.T) {
	url := "https://assets.example.com/users/u/same.png"
	sink := &fakeSink{}
	o := newTestOrchestrator(&fakeFetcher{}, sink, testOptions())

	o.Run(context.Background(), []string{url, url, url}, 25, nil)

	saved := sink.archives()
	require.Len(t, saved, 1)
	assert.ElementsMatch(t, []string{"same.png", "same_2.png", "same_3.png"}, zipNames(t, saved[0].payload))
}

func TestRun_EachURLFetchedOnce(t *testing.T) {
	urls := imageURLs(40, "ok")
	f := &fakeFetcher{}
	o := newTestOrchestrator(f, &fakeSink{}, testOptions())

	o.Run(context.Background(), urls, 7, nil)

	f.mu.Lock()
	defer f.mu.Unlock()
	require.Len(t, f.calls, 40)
	for u, n := range f.calls {
		assert.Equal(t, 1, n, "url %s", u)
		assert.True(t, strings.HasSuffix(u, "?cache=1&dl=1"))
	}
}

func TestRun_SinkFailureDoesNotAbort(t *testing.T) {
	sink := &fakeSink{err: errors.New("disk full")}
	rec := &recorder{}
	o := newTestOrchestrator(&fakeFetcher{}, sink, testOptions())

	summary := o.Run(context.Background(), imageURLs(4, "ok"), 2, rec)

	assert.Len(t, sink.archives(), 2)
	assert.Equal(t, 2, summary.UnsavedBatches)
	assert.Equal(t, 0, summary.Archives)
	assert.Equal(t, StatusComplete, summary.Status)
}

func TestRun_StateMachineAndClear(t *testing.T) {
	rec := &recorder{}
	o := newTestOrchestrator(&fakeFetcher{}, &fakeSink{}, testOptions())

	o.Run(context.Background(), imageURLs(4, "ok"), 2, rec)

	reports, states := rec.snapshot()
	assert.Equal(t, StatusComplete, reports[len(reports)-1], "clear must not block Run")
	assert.Equal(t, []models.RunState{
		models.RunStatePreparing,
		models.RunStateProcessing,
		models.RunStatePausing,
		models.RunStateProcessing,
		models.RunStateCompleted,
	}, states)

	assert.Eventually(t, func() bool {
		reports, states := rec.snapshot()
		return reports[len(reports)-1] == StatusCleared && states[len(states)-1] == models.RunStateIdle
	}, time.Second, 5*time.Millisecond)
}

func TestRun_PauseOnlyBetweenBatches(t *testing.T) {
	opts := testOptions()
	opts.BatchPause = 50 * time.Millisecond
	o := newTestOrchestrator(&fakeFetcher{}, &fakeSink{}, opts)

	start := time.Now()
	o.Run(context.Background(), imageURLs(3, "ok"), 1, nil)
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 100*time.Millisecond)
	assert.Less(t, elapsed, 150*time.Millisecond+100*time.Millisecond)
}

func TestRun_BatchSizeClamped(t *testing.T) {
	sink := &fakeSink{}
	o := newTestOrchestrator(&fakeFetcher{}, sink, testOptions())

	summary := o.Run(context.Background(), imageURLs(3, "ok"), 0, nil)
	assert.Equal(t, 3, summary.Batches)
	assert.Len(t, sink.archives(), 3)
}

func TestRun_EmptyInput(t *testing.T) {
	rec := &recorder{}
	sink := &fakeSink{}
	o := newTestOrchestrator(&fakeFetcher{}, sink, testOptions())

	summary := o.Run(context.Background(), nil, 25, rec)

	assert.Equal(t, 0, summary.Batches)
	assert.Empty(t, sink.archives())
	reports, _ := rec.snapshot()
	assert.Equal(t, []string{"Preparing 0 files in 0 batches...", StatusComplete}, reports[:2])
}

func TestReportFunc(t *testing.T) {
	var got []string
	var obs Observer = ReportFunc(func(s string) { got = append(got, s) })
	obs.Report("a")
	obs.Transition(models.RunStateCompleted)
	obs.Report("b")
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestRun_BatchFailureReportedAndRunContinues(t *testing.T) {
	sink := &fakeSink{}
	rec := &recorder{}
	opts := testOptions()
	built := 0
	opts.NewArchive = func() Archiver {
		built++
		arc := &failingArchiver{Archive: archive.New()}
		if built == 1 {
			arc.err = errors.New("zip writer failed")
		}
		return arc
	}
	o := newTestOrchestrator(&fakeFetcher{}, sink, opts)

	summary := o.Run(context.Background(), imageURLs(4, "ok"), 2, rec)

	assert.Equal(t, 1, summary.FailedBatches)
	assert.Equal(t, 1, summary.Archives)
	assert.Equal(t, StatusComplete, summary.Status)

	saved := sink.archives()
	require.Len(t, saved, 1)
	assert.Equal(t, "grok_media_1700000000000_part_2_of_2.zip", saved[0].name)

	reports, states := rec.snapshot()
	assert.Contains(t, reports, "Error in Batch 1. Continuing...")
	assert.NotContains(t, reports, "Batch 1/2: Saving...")
	assert.Contains(t, reports, "Batch 2/2: Saving...")
	assert.Equal(t, models.RunStateCompleted, states[len(states)-1])
}

func TestStamp_StrictlyIncreasing(t *testing.T) {
	o := newTestOrchestrator(&fakeFetcher{}, &fakeSink{}, testOptions())

	first := o.Stamp()
	assert.Equal(t, int64(1700000000000), first)
	assert.Equal(t, first+1, o.Stamp())

	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
		wg   sync.WaitGroup
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			stamp := o.Stamp()
			mu.Lock()
			defer mu.Unlock()
			assert.False(t, seen[stamp], "stamp %d issued twice", stamp)
			seen[stamp] = true
		}()
	}
	wg.Wait()
	assert.Len(t, seen, 50)
}

func TestRun_SameMillisecondRunsGetDistinctNames(t *testing.T) {
	sink := &fakeSink{}
	o := newTestOrchestrator(&fakeFetcher{}, sink, testOptions())

	o.Run(context.Background(), imageURLs(1, "first"), 25, nil)
	o.Run(context.Background(), imageURLs(1, "second"), 25, nil)

	saved := sink.archives()
	require.Len(t, saved, 2)
	assert.Equal(t, "grok_media_1700000000000.zip", saved[0].name)
	assert.Equal(t, "grok_media_1700000000001.zip", saved[1].name)
}

func TestRun_ClearDroppedOnCancel(t *testing.T) {
	opts := testOptions()
	opts.ClearDelay = 30 * time.Millisecond
	rec := &recorder{}
	o := newTestOrchestrator(&fakeFetcher{}, &fakeSink{}, opts)

	ctx, cancel := context.WithCancel(context.Background())
	o.Run(ctx, imageURLs(2, "ok"), 2, rec)
	cancel()

	time.Sleep(3 * opts.ClearDelay)

	reports, states := rec.snapshot()
	assert.Equal(t, StatusComplete, reports[len(reports)-1])
	assert.Equal(t, models.RunStateCompleted, states[len(states)-1])
}

func TestRun_LogsPayloadAndArchiveSize(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	urls := imageURLs(2, "ok")
	o := New(&fakeFetcher{}, &fakeSink{}, testOptions(), zap.New(core), metrics.New())

	o.Run(context.Background(), urls, 25, nil)

	var want int64
	for _, u := range urls {
		want += int64(len("data:" + u + "?cache=1&dl=1"))
	}

	saved := logs.FilterMessage("batch saved").All()
	require.Len(t, saved, 1)
	fields := saved[0].ContextMap()
	assert.Equal(t, int64(2), fields["files"])
	assert.Equal(t, want, fields["payload_bytes"])
	assert.Greater(t, fields["bytes"], want)
}
