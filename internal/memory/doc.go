// Package memory keeps the process inside its container memory budget.
//
// [ConfigureFromEnv] derives GOMEMLIMIT from the MEMORY_LIMIT variable
// (typically the container limit via the Kubernetes Downward API),
// scaled by MEMORY_RATIO to leave headroom for non-heap memory: libvips
// decode buffers, SQLite page caches, mmapped index files. An explicit
// GOMEMLIMIT always wins. Call it first thing in main, before
// significant allocation.
//
// [Monitor] adds backpressure on top of the limit. It samples heap
// usage on an interval and pauses cooperating workers when usage
// crosses the critical watermark, releasing them once a GC brings usage
// back under the high watermark:
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//
//	// between batches of memory-intensive work:
//	if !monitor.WaitIfPaused() {
//	    return // shutting down
//	}
//
// Scans of large libraries hold decoded image data in flight across
// many workers; the pause keeps a burst of oversized originals from
// tripping the container OOM killer. Lower MEMORY_RATIO when decode
// concurrency is high.
package memory
