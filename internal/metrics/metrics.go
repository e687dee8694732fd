package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// HTTP requests
	RequestsTotal *prometheus.CounterVec

	// Runs
	RunsTotal   *prometheus.CounterVec // by event: started, completed
	ActiveRuns  prometheus.Gauge
	RunDuration prometheus.Histogram
	RunFiles    prometheus.Histogram // files requested per run

	// Batches
	BatchesTotal  *prometheus.CounterVec // by outcome: archived, unsaved, empty, failed
	BatchDuration prometheus.Histogram

	// File-level metrics
	FilesFetchTotal    *prometheus.CounterVec // by result: success, failed, empty
	FetchAttemptsTotal prometheus.Counter
	FetchRetriesTotal  prometheus.Counter
	FetchDuration      *prometheus.HistogramVec // per attempt, by result
	ActiveFileFetches  prometheus.Gauge

	// Sizes
	FetchedBytesHist prometheus.Histogram // payload bytes per file
	ArchiveBytesHist prometheus.Histogram // serialized ZIP bytes per batch

	// Storage sink
	SinkWritesTotal   *prometheus.CounterVec   // by sink type and result
	SinkWriteDuration *prometheus.HistogramVec // by sink type and result

	// Run store
	DatabaseQueryDuration *prometheus.HistogramVec // by db_type

	// Authentication/Security
	SignatureFailuresTotal prometheus.Counter
	ExpiredRequestsTotal   prometheus.Counter

	// Callback metrics
	CallbacksTotal  *prometheus.CounterVec // by status: success, failure
	CallbackRetries prometheus.Counter

	// Circuit breaker
	CircuitBreakerState *prometheus.GaugeVec // by backend

	// Health checks
	HealthStatus       *prometheus.GaugeVec   // by component (1=healthy, 0=unhealthy)
	HealthChecksFailed *prometheus.CounterVec // by component

	// System metrics
	MemoryGauge       prometheus.Gauge
	GoroutinesGauge   prometheus.Gauge
	SystemMemoryUsage prometheus.Gauge
}

// New creates and registers all metrics
func New() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = &Metrics{
			RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "batchzip_requests_total",
				Help: "Total number of HTTP requests by status code",
			}, []string{"status"}),

			RunsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "batchzip_runs_total",
				Help: "Total number of runs by event (started, completed)",
			}, []string{"event"}),
			ActiveRuns: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "batchzip_active_runs",
				Help: "Number of runs currently in progress",
			}),
			RunDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "batchzip_run_duration_seconds",
				Help:    "Run duration in seconds",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800, 3600},
			}),
			RunFiles: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "batchzip_run_files",
				Help:    "Number of files requested per run",
				Buckets: []float64{1, 5, 10, 25, 50, 100, 200, 500, 1000, 5000},
			}),

			BatchesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "batchzip_batches_total",
				Help: "Total number of batches by outcome (archived, unsaved, empty, failed)",
			}, []string{"outcome"}),
			BatchDuration: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "batchzip_batch_duration_seconds",
				Help:    "Batch duration in seconds, fetch through sink",
				Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			}),

			FilesFetchTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "batchzip_files_fetch_total",
				Help: "Total file fetches by result (success, failed, empty)",
			}, []string{"result"}),
			FetchAttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "batchzip_fetch_attempts_total",
				Help: "Total number of fetch attempts including retries",
			}),
			FetchRetriesTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "batchzip_fetch_retries_total",
				Help: "Total number of fetch retries",
			}),
			FetchDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "batchzip_fetch_duration_seconds",
				Help:    "Fetch attempt duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			}, []string{"result"}),
			ActiveFileFetches: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "batchzip_active_file_fetches",
				Help: "Number of currently active file fetches",
			}),

			FetchedBytesHist: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "batchzip_fetched_bytes",
				Help:    "Payload bytes per fetched file",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 25), // Up to ~16GB
			}),
			ArchiveBytesHist: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "batchzip_archive_bytes",
				Help:    "Serialized ZIP bytes per batch",
				Buckets: prometheus.ExponentialBuckets(1024, 2, 30), // Up to ~512GB
			}),

			SinkWritesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "batchzip_sink_writes_total",
				Help: "Total archive writes by sink type and result",
			}, []string{"sink_type", "result"}),
			SinkWriteDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "batchzip_sink_write_duration_seconds",
				Help:    "Archive write duration in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			}, []string{"sink_type", "result"}),

			DatabaseQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "batchzip_database_query_duration_seconds",
				Help:    "Run store query duration in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
			}, []string{"db_type"}),

			SignatureFailuresTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "batchzip_signature_failures_total",
				Help: "Total number of failed signature verifications",
			}),
			ExpiredRequestsTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "batchzip_expired_requests_total",
				Help: "Total number of requests with expired timestamps",
			}),

			CallbacksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "batchzip_callbacks_total",
				Help: "Total number of callback attempts by status",
			}, []string{"status"}),
			CallbackRetries: promauto.NewCounter(prometheus.CounterOpts{
				Name: "batchzip_callback_retries_total",
				Help: "Total number of callback retry attempts",
			}),

			CircuitBreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "batchzip_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			}, []string{"backend"}),

			HealthStatus: promauto.NewGaugeVec(prometheus.GaugeOpts{
				Name: "batchzip_health_status",
				Help: "Health status by component (1=healthy, 0=unhealthy)",
			}, []string{"component"}),
			HealthChecksFailed: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "batchzip_health_checks_failed_total",
				Help: "Total number of failed health checks by component",
			}, []string{"component"}),

			MemoryGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "batchzip_memory_heap_alloc_bytes",
				Help: "Current heap allocation in bytes",
			}),
			GoroutinesGauge: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "batchzip_goroutines",
				Help: "Number of goroutines",
			}),
			SystemMemoryUsage: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "batchzip_system_memory_used_percent",
				Help: "Host memory in use, percent",
			}),
		}
	})

	return defaultMetrics
}

// StartRuntimeMetricsCollector starts a goroutine that updates runtime metrics
func (m *Metrics) StartRuntimeMetricsCollector() {
	go func() {
		for {
			m.collectRuntime()
			time.Sleep(10 * time.Second)
		}
	}()
}

func (m *Metrics) collectRuntime() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	m.MemoryGauge.Set(float64(stats.HeapAlloc))
	m.GoroutinesGauge.Set(float64(runtime.NumGoroutine()))

	// Unsupported platforms leave the gauge at its last value
	if vm, err := mem.VirtualMemory(); err == nil {
		m.SystemMemoryUsage.Set(vm.UsedPercent)
	}
}
