package metrics

import (
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNew_SingletonAndFieldsNonNil(t *testing.T) {
	m1 := New()
	if m1 == nil {
		t.Fatal("New() returned nil metrics instance")
	}

	m2 := New()
	if m1 != m2 {
		t.Fatal("New() did not behave as a singleton – pointers differ")
	}

	// Spot-check a few important fields to ensure they were registered.
	if m1.RunsTotal == nil {
		t.Error("RunsTotal is nil")
	}
	if m1.BatchesTotal == nil {
		t.Error("BatchesTotal is nil")
	}
	if m1.FetchDuration == nil {
		t.Error("FetchDuration is nil")
	}
	if m1.SinkWriteDuration == nil {
		t.Error("SinkWriteDuration is nil")
	}
	if m1.MemoryGauge == nil || m1.GoroutinesGauge == nil || m1.SystemMemoryUsage == nil {
		t.Error("runtime gauges are nil")
	}
}

func TestCollectRuntime_SetsGauges(t *testing.T) {
	m := New()
	m.collectRuntime()

	if got := testutil.ToFloat64(m.GoroutinesGauge); got < 1 {
		t.Errorf("GoroutinesGauge = %v, want >= 1", got)
	}
	if got := testutil.ToFloat64(m.MemoryGauge); got <= 0 {
		t.Errorf("MemoryGauge = %v, want > 0", got)
	}
}

func TestStartRuntimeMetricsCollector_LaunchesGoroutine(t *testing.T) {
	m := New()

	before := runtime.NumGoroutine()
	m.StartRuntimeMetricsCollector()

	// The loop executes immediately, then sleeps 10s, so a small sleep here is fine.
	time.Sleep(100 * time.Millisecond)

	after := runtime.NumGoroutine()
	if after < before {
		t.Fatalf("expected goroutine count to stay the same or increase, before=%d after=%d", before, after)
	}
}
