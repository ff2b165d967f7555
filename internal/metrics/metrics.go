package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speelycaptor_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speelycaptor_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 60, 300, 600},
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "speelycaptor_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Staging store metrics
var (
	StagingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "speelycaptor_staging_entries",
			Help: "Number of keys currently held in the staging index",
		},
	)

	StagingAllocationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speelycaptor_staging_allocations_total",
			Help: "Total number of staging slots allocated",
		},
	)

	StagingReleasesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speelycaptor_staging_releases_total",
			Help: "Total number of staging slots released explicitly",
		},
	)

	StagingResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speelycaptor_staging_resolve_total",
			Help: "Total number of key lookups by result",
		},
		[]string{"result"}, // "hit", "miss"
	)

	StagingSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speelycaptor_staging_sweeps_total",
			Help: "Total number of expiry sweeps",
		},
	)

	StagingSweepEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speelycaptor_staging_sweep_evictions_total",
			Help: "Total number of entries evicted by expiry sweeps",
		},
	)

	StagingSweepErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speelycaptor_staging_sweep_errors_total",
			Help: "Total number of file deletions that failed during sweeps",
		},
	)

	StagingSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "speelycaptor_staging_sweep_duration_seconds",
			Help:    "Expiry sweep duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
	)

	StagingLastSweepTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "speelycaptor_staging_last_sweep_timestamp",
			Help: "Unix timestamp of the last completed sweep",
		},
	)

	StagingIndexPersistDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speelycaptor_staging_index_persist_duration_seconds",
			Help:    "Time spent writing the staging index to stable storage",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.5, 1},
		},
		[]string{"backend"}, // "json", "sqlite"
	)

	StagingIndexPersistErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speelycaptor_staging_index_persist_errors_total",
			Help: "Total number of failed index writes",
		},
		[]string{"backend"},
	)

	StagingUploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "speelycaptor_staging_upload_bytes_total",
			Help: "Total number of bytes written into staging slots by uploads",
		},
	)
)

// Transcoder metrics
var (
	TranscoderJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speelycaptor_transcoder_jobs_total",
			Help: "Total number of subprocess jobs by kind and status",
		},
		[]string{"kind", "status"}, // kind: "probe", "convert"
	)

	TranscoderJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speelycaptor_transcoder_job_duration_seconds",
			Help:    "Subprocess job duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	TranscoderJobsInProgress = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "speelycaptor_transcoder_jobs_in_progress",
			Help: "Number of subprocess jobs currently running",
		},
		[]string{"kind"},
	)
)

// Filesystem retry metrics
var (
	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speelycaptor_filesystem_retry_attempts_total",
			Help: "Total number of retried filesystem operations",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speelycaptor_filesystem_retry_success_total",
			Help: "Total number of filesystem operations that succeeded after a retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speelycaptor_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that failed after all retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "speelycaptor_filesystem_stale_errors_total",
			Help: "Total number of ESTALE errors observed",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "speelycaptor_filesystem_retry_duration_seconds",
			Help:    "Duration of filesystem operations including retries",
			Buckets: []float64{0.0001, 0.001, 0.01, 0.05, 0.1, 0.5, 1, 2},
		},
		[]string{"operation", "volume"},
	)
)

// Go runtime metrics
var (
	GoGoroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "speelycaptor_goroutines",
			Help: "Number of goroutines",
		},
	)

	GoHeapAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "speelycaptor_go_heap_alloc_bytes",
			Help: "Bytes of allocated heap objects",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "speelycaptor_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
