package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ugoira_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ugoira_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ugoira_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Transcode metrics
var (
	TranscodesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ugoira_transcodes_total",
			Help: "Total number of transcodes by encoder and outcome",
		},
		[]string{"encoder", "status"},
	)

	TranscodeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ugoira_transcode_duration_seconds",
			Help:    "Time spent converting one asset, including the archive download",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"encoder"},
	)

	TranscodesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ugoira_transcodes_in_flight",
			Help: "Number of transcodes currently running",
		},
	)

	TranscodeQueueWait = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ugoira_transcode_queue_wait_seconds",
			Help:    "Time a request waited for a free transcode slot",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 10, 30},
		},
	)

	FramesProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ugoira_frames_processed_total",
			Help: "Total number of frames encoded",
		},
		[]string{"codec"},
	)

	OutputBytes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ugoira_output_bytes",
			Help:    "Size of finished MP4 files in bytes",
			Buckets: prometheus.ExponentialBuckets(16*1024, 4, 8),
		},
	)

	ArchiveBytesRead = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ugoira_archive_bytes_read_total",
			Help: "Total number of archive bytes consumed",
		},
	)
)

// Upstream metrics
var (
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ugoira_upstream_requests_total",
			Help: "Total number of requests to the upstream host",
		},
		[]string{"endpoint", "status"},
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ugoira_upstream_request_duration_seconds",
			Help:    "Upstream request duration until response headers, in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"endpoint"},
	)
)

// Cache metrics
var (
	CacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ugoira_cache_hits_total",
			Help: "Total number of transcode cache hits",
		},
	)

	CacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ugoira_cache_misses_total",
			Help: "Total number of transcode cache misses",
		},
	)

	CacheSizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ugoira_cache_size_bytes",
			Help: "Total size of cached MP4 files in bytes",
		},
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ugoira_cache_entries",
			Help: "Number of cached MP4 files",
		},
	)
)

// Filesystem metrics
var (
	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ugoira_filesystem_stale_errors_total",
			Help: "Total number of NFS stale file handle errors by operation",
		},
		[]string{"operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ugoira_filesystem_retry_attempts_total",
			Help: "Total number of filesystem operation retries",
		},
		[]string{"operation"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ugoira_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that failed after all retries",
		},
		[]string{"operation"},
	)
)

// Database metrics
var (
	DBQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ugoira_db_queries_total",
			Help: "Total number of database queries",
		},
		[]string{"operation", "status"},
	)

	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ugoira_db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ugoira_memory_usage_ratio",
			Help: "Heap allocation as a fraction of the memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "ugoira_memory_paused",
			Help: "Whether new transcodes are held back for memory (1 = paused, 0 = running)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "ugoira_memory_gc_pauses_total",
			Help: "Total number of times memory pressure paused new transcodes",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ugoira_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
