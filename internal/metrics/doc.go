// Package metrics provides Prometheus instrumentation for the media index engine.
//
// This package defines and exposes various metrics that can be scraped by Prometheus
// to monitor the health, performance, and behavior of the engine. All metrics
// are prefixed with "media_index_" to avoid naming collisions with other applications.
//
// # Metric Categories
//
// The metrics are organized into the following categories:
//
// ## HTTP Metrics
//
// Track HTTP request performance and error rates:
//   - HTTPRequestsTotal: Counter of total requests by method, path, and status
//   - HTTPRequestDuration: Histogram of request duration by method and path
//   - HTTPRequestsInFlight: Gauge of currently processing requests
//
// ## Store Metrics
//
// Monitor index store query performance and storage:
//   - StoreQueryTotal: Counter of queries by operation and status
//   - StoreQueryDuration: Histogram of query duration by operation
//   - StoreTxDuration: Histogram of transaction duration by type
//   - StoreSizeBytes: Gauge of combined store file sizes (main, WAL, SHM)
//
// ## Pool Metrics
//
// Track the store handle pool:
//   - PoolHandlesOpen: Gauge of currently open store handles
//   - PoolAcquiresTotal: Counter of acquire calls by outcome (hit/opened/error)
//   - PoolReleasesTotal: Counter of release calls
//   - PoolHandlesClosedTotal: Counter of closed handles by reason
//   - PoolSweepsTotal: Counter of idle sweep passes
//
// ## Scan Metrics
//
// Track reconciliation runs:
//   - ScanRunsTotal: Counter of runs by mode (full/resume/sync) and status
//   - ScanRunDuration: Histogram of run duration by mode
//   - ScanBatchDuration: Histogram of per-batch duration
//   - ScanFilesProcessed: Counter of files processed
//   - ScanFilesPerSecond: Gauge of the most recent run's processing rate
//   - ScanErrorsTotal: Counter of per-file scan errors
//   - ScansActive: Gauge of currently running scans
//   - ScanWorkers: Gauge of parallel extraction workers
//   - ScanLastRunTimestamp: Gauge of last completed run time
//
// ## Detector Metrics
//
// Monitor change detection:
//   - DetectorPollCyclesTotal: Counter of polling cycles
//   - DetectorPollDuration: Histogram of polling cycle duration
//   - DetectorChangesDetected: Counter of detected changes
//   - DetectorWatcherEventsTotal: Counter of watcher events by type
//   - DetectorWatcherErrors: Counter of watcher errors
//   - DetectorWatchedDirectories: Gauge of watched directories
//   - DetectorBufferedPaths: Gauge of buffered paths awaiting flush
//   - DetectorFlushesTotal: Counter of flushes by outcome
//   - DetectorRestartsTotal: Counter of watcher restarts
//
// ## Cache Metrics
//
// Monitor the read cache:
//   - CacheHitsTotal / CacheMissesTotal: Counters by scope (library/folder)
//   - CacheStaleTotal: Counter of entries discarded as stale
//   - CacheWritesTotal: Counter of entry writes by scope and status
//   - CacheInvalidationsTotal: Counter of explicit invalidations
//
// ## Extraction Metrics
//
// Monitor metadata extraction and thumbnails:
//   - ExtractionsTotal: Counter by type and status
//   - ExtractionDuration: Histogram of extraction time by type
//   - FileHashComputeDuration: Histogram of content hash time
//   - ThumbnailCacheHits / ThumbnailCacheMisses: Counters of asset reuse
//
// ## Filesystem Metrics
//
// Track low-level filesystem operations including NFS retries; see the
// filesystem package for the Observer that records into these.
//
// ## Memory Metrics
//
// Monitor Go runtime memory and pressure:
//   - GoMemLimit: Gauge of configured GOMEMLIMIT
//   - MemoryUsageRatio: Gauge of memory usage as ratio of limit (0.0-1.0)
//   - MemoryPaused: Gauge indicating if processing is paused due to memory pressure
//   - MemoryGCPauses: Counter of times processing was paused for memory
//
// ## Library Metrics
//
//   - LibrariesTotal: Gauge of registered libraries
//   - IndexedFilesTotal: Gauge of indexed files by type
//   - IndexedFoldersTotal: Gauge of indexed folders
//
// # Usage
//
// Metrics are automatically registered with the default Prometheus registry
// using promauto. To expose them, mount the promhttp.Handler() on your
// metrics endpoint:
//
//	import "github.com/prometheus/client_golang/prometheus/promhttp"
//
//	mux.Handle("/metrics", promhttp.Handler())
//
// # Recording Metrics
//
// To record metrics from other packages, import this package and use the
// exported metric variables:
//
//	import "media-index/internal/metrics"
//
//	// Increment a counter
//	metrics.ScanFilesProcessed.Add(42)
//
//	// Observe a histogram value
//	metrics.StoreQueryDuration.WithLabelValues("upsert_file").Observe(0.002)
//
//	// Set a gauge value
//	metrics.PoolHandlesOpen.Set(3)
//
// # Collector
//
// The package provides a [Collector] type that periodically gathers
// statistics from a [StatsProvider] and updates the corresponding gauges:
//
//	collector := metrics.NewCollector(statsProvider, 1*time.Minute)
//	collector.Start()
//	defer collector.Stop()
//
// # Prometheus Queries
//
// Example PromQL queries for common use cases:
//
// Scan throughput:
//
//	rate(media_index_scan_files_processed_total[5m])
//
// Cache hit rate by scope:
//
//	rate(media_index_cache_hits_total[5m]) /
//	(rate(media_index_cache_hits_total[5m]) + rate(media_index_cache_misses_total[5m]))
//
// P95 store query latency by operation:
//
//	histogram_quantile(0.95, sum(rate(media_index_store_query_duration_seconds_bucket[5m])) by (le, operation))
//
// Detector flush rejection rate:
//
//	rate(media_index_detector_flushes_total{status="rejected"}[1h]) /
//	rate(media_index_detector_flushes_total[1h])
//
// Pool handle churn:
//
//	rate(media_index_pool_handles_closed_total[1h])
package metrics
