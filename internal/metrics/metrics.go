package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_index_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)
)

// Store metrics
var (
	StoreQueryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_store_queries_total",
			Help: "Total number of index store queries",
		},
		[]string{"operation", "status"},
	)

	StoreQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_index_store_query_duration_seconds",
			Help:    "Index store query duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	StoreTxDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_index_store_transaction_duration_seconds",
			Help:    "Index store transaction duration in seconds",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	StoreSizeBytes = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_index_store_size_bytes",
			Help: "Combined size of open index store files in bytes",
		},
		[]string{"file"}, // "main", "wal", "shm"
	)
)

// Connection pool metrics
var (
	PoolHandlesOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_pool_handles_open",
			Help: "Number of index store handles currently open in the pool",
		},
	)

	PoolAcquiresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_pool_acquires_total",
			Help: "Total number of pool acquire calls",
		},
		[]string{"outcome"}, // "hit", "opened", "error"
	)

	PoolReleasesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_pool_releases_total",
			Help: "Total number of pool release calls",
		},
	)

	PoolHandlesClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_pool_handles_closed_total",
			Help: "Total number of store handles closed by the pool",
		},
		[]string{"reason"}, // "idle", "forced", "shutdown"
	)

	PoolSweepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_pool_sweeps_total",
			Help: "Total number of idle sweep passes",
		},
	)
)

// Scan metrics
var (
	ScanRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_scan_runs_total",
			Help: "Total number of scan runs",
		},
		[]string{"mode", "status"}, // mode: "full", "resume", "sync"
	)

	ScanRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_index_scan_run_duration_seconds",
			Help:    "Scan run duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 600, 1800},
		},
		[]string{"mode"},
	)

	ScanBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_index_scan_batch_duration_seconds",
			Help:    "Duration of a single scan batch in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
	)

	ScanFilesProcessed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_scan_files_processed_total",
			Help: "Total number of files processed by scans",
		},
	)

	ScanFilesPerSecond = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_scan_files_per_second",
			Help: "Processing rate of the most recent scan run",
		},
	)

	ScanErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_scan_errors_total",
			Help: "Total number of per-file scan errors",
		},
	)

	ScansActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_scans_active",
			Help: "Number of scans currently running",
		},
	)

	ScanWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_scan_workers",
			Help: "Number of parallel extraction workers per scan batch",
		},
	)

	ScanLastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_scan_last_run_timestamp",
			Help: "Unix timestamp of the last completed scan run",
		},
	)
)

// Change detector metrics
var (
	DetectorPollCyclesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_detector_poll_cycles_total",
			Help: "Total number of polling detector cycles",
		},
	)

	DetectorPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_index_detector_poll_duration_seconds",
			Help:    "Polling detector cycle duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	DetectorChangesDetected = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_detector_changes_detected_total",
			Help: "Total number of filesystem changes detected",
		},
	)

	DetectorWatcherEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_detector_watcher_events_total",
			Help: "Total number of filesystem watcher events",
		},
		[]string{"event_type"},
	)

	DetectorWatcherErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_detector_watcher_errors_total",
			Help: "Total number of filesystem watcher errors",
		},
	)

	DetectorWatchedDirectories = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_detector_watched_directories",
			Help: "Number of directories currently being watched",
		},
	)

	DetectorBufferedPaths = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_detector_buffered_paths",
			Help: "Number of changed paths buffered awaiting flush",
		},
	)

	DetectorFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_detector_flushes_total",
			Help: "Total number of change set flushes by outcome",
		},
		[]string{"status"}, // "applied", "rejected", "error"
	)

	DetectorRestartsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_detector_restarts_total",
			Help: "Total number of watcher restarts after failure",
		},
	)
)

// Read cache metrics
var (
	CacheHitsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_cache_hits_total",
			Help: "Total number of read cache hits",
		},
		[]string{"scope"}, // "library", "folder"
	)

	CacheMissesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_cache_misses_total",
			Help: "Total number of read cache misses",
		},
		[]string{"scope"},
	)

	CacheStaleTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_cache_stale_total",
			Help: "Total number of cache entries discarded as stale",
		},
		[]string{"scope"},
	)

	CacheWritesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_cache_writes_total",
			Help: "Total number of cache entry writes",
		},
		[]string{"scope", "status"},
	)

	CacheInvalidationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_cache_invalidations_total",
			Help: "Total number of explicit cache invalidations",
		},
		[]string{"scope"},
	)
)

// Metadata extraction metrics
var (
	ExtractionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_extractions_total",
			Help: "Total number of metadata extractions",
		},
		[]string{"type", "status"},
	)

	ExtractionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_index_extraction_duration_seconds",
			Help:    "Metadata extraction duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"type"},
	)

	FileHashComputeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "media_index_file_hash_duration_seconds",
			Help:    "Content hash computation duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5},
		},
	)

	ThumbnailCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_thumbnail_cache_hits_total",
			Help: "Total number of thumbnails reused from the asset store",
		},
	)

	ThumbnailCacheMisses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_thumbnail_cache_misses_total",
			Help: "Total number of thumbnails generated anew",
		},
	)
)

// Filesystem operation metrics
var (
	FilesystemOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_index_filesystem_operation_duration_seconds",
			Help:    "Filesystem operation duration in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"volume", "operation"},
	)

	FilesystemOperationErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_filesystem_operation_errors_total",
			Help: "Total number of filesystem operation errors",
		},
		[]string{"volume", "operation"},
	)

	FilesystemRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_filesystem_retry_attempts_total",
			Help: "Total number of filesystem retry attempts",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetrySuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_filesystem_retry_success_total",
			Help: "Total number of filesystem operations that succeeded after retry",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_filesystem_retry_failures_total",
			Help: "Total number of filesystem operations that failed after all retries",
		},
		[]string{"operation", "volume"},
	)

	FilesystemStaleErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "media_index_filesystem_stale_errors_total",
			Help: "Total number of stale NFS handle errors encountered",
		},
		[]string{"operation", "volume"},
	)

	FilesystemRetryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "media_index_filesystem_retry_duration_seconds",
			Help:    "Total duration of filesystem operations including retries",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5},
		},
		[]string{"operation", "volume"},
	)
)

// Memory metrics
var (
	MemoryUsageRatio = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_memory_usage_ratio",
			Help: "Heap usage as a fraction of the configured memory limit",
		},
	)

	MemoryPaused = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_memory_paused",
			Help: "Whether heavy work is paused due to memory pressure (1 = paused)",
		},
	)

	MemoryGCPauses = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "media_index_memory_gc_pauses_total",
			Help: "Total number of forced GC cycles triggered by memory pressure",
		},
	)

	GoMemLimit = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_gomemlimit_bytes",
			Help: "Configured Go runtime memory limit in bytes",
		},
	)
)

// Library metrics
var (
	LibrariesTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_libraries_total",
			Help: "Number of registered libraries",
		},
	)

	IndexedFilesTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_index_indexed_files_total",
			Help: "Total number of indexed files across libraries by type",
		},
		[]string{"type"},
	)

	IndexedFoldersTotal = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "media_index_indexed_folders_total",
			Help: "Total number of indexed folders across libraries",
		},
	)
)

// Application info metric
var (
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "media_index_app_info",
			Help: "Application information",
		},
		[]string{"version", "commit", "go_version"},
	)
)

// SetAppInfo sets the application info metric
func SetAppInfo(version, commit, goVersion string) {
	AppInfo.WithLabelValues(version, commit, goVersion).Set(1)
}
