package metrics

// InitializeMetrics pre-populates all expected label combinations so that
// every metric is exported from the first Prometheus scrape.
// Call this once at startup after metric registration.
func InitializeMetrics() {
	// --- Store files ---
	for _, file := range []string{"main", "wal", "shm"} {
		StoreSizeBytes.WithLabelValues(file)
	}

	// --- Store query operations ---
	for _, op := range []string{"initialize_schema", "upsert_file", "touch_files",
		"delete_file", "delete_prefix", "delete_stale", "ensure_folder",
		"recount_folders", "list_folder", "folder_tree", "version",
		"begin_transaction", "commit", "rollback"} {
		StoreQueryTotal.WithLabelValues(op, "success")
		StoreQueryTotal.WithLabelValues(op, "error")
		StoreQueryDuration.WithLabelValues(op)
	}

	for _, t := range []string{"commit", "rollback", "batch_apply", "cleanup"} {
		StoreTxDuration.WithLabelValues(t)
	}

	// --- Pool outcomes ---
	for _, outcome := range []string{"hit", "opened", "error"} {
		PoolAcquiresTotal.WithLabelValues(outcome)
	}
	for _, reason := range []string{"idle", "forced", "shutdown"} {
		PoolHandlesClosedTotal.WithLabelValues(reason)
	}

	// --- Scan runs (mode × status) ---
	for _, mode := range []string{"full", "resume", "sync"} {
		for _, status := range []string{"completed", "paused", "stopped", "failed"} {
			ScanRunsTotal.WithLabelValues(mode, status)
		}
		ScanRunDuration.WithLabelValues(mode)
	}

	// --- Detector events and flushes ---
	for _, et := range []string{"create", "write", "remove", "rename", "chmod", "unknown"} {
		DetectorWatcherEventsTotal.WithLabelValues(et)
	}
	for _, status := range []string{"applied", "rejected", "error"} {
		DetectorFlushesTotal.WithLabelValues(status)
	}

	// --- Cache scopes ---
	for _, scope := range []string{"library", "folder"} {
		CacheHitsTotal.WithLabelValues(scope)
		CacheMissesTotal.WithLabelValues(scope)
		CacheStaleTotal.WithLabelValues(scope)
		CacheInvalidationsTotal.WithLabelValues(scope)
		CacheWritesTotal.WithLabelValues(scope, "success")
		CacheWritesTotal.WithLabelValues(scope, "error")
	}

	// --- Extraction types ---
	for _, t := range []string{"image", "video", "other"} {
		ExtractionsTotal.WithLabelValues(t, "success")
		ExtractionsTotal.WithLabelValues(t, "error")
		ExtractionsTotal.WithLabelValues(t, "skipped")
		ExtractionDuration.WithLabelValues(t)
	}

	// --- Filesystem operation metrics (per volume × operation) ---
	volumes := []string{"library", "data", "unknown"}
	fsOps := []string{"read", "write", "stat", "readdir"}

	for _, vol := range volumes {
		for _, op := range fsOps {
			FilesystemOperationDuration.WithLabelValues(vol, op)
			FilesystemOperationErrors.WithLabelValues(vol, op)
		}
	}

	// --- Filesystem retry metrics (per retry-operation × volume) ---
	retryOps := []string{"stat", "open", "readdir", "write"}

	for _, op := range retryOps {
		for _, vol := range volumes {
			FilesystemRetryAttempts.WithLabelValues(op, vol)
			FilesystemRetrySuccess.WithLabelValues(op, vol)
			FilesystemRetryFailures.WithLabelValues(op, vol)
			FilesystemStaleErrors.WithLabelValues(op, vol)
			FilesystemRetryDuration.WithLabelValues(op, vol)
		}
	}

	// --- Indexed files by type ---
	for _, t := range []string{"image", "video"} {
		IndexedFilesTotal.WithLabelValues(t)
	}
}
