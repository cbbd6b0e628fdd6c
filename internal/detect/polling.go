package detect

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"media-index/internal/library"
	"media-index/internal/logging"
	"media-index/internal/mediatypes"
	"media-index/internal/metrics"
	"media-index/internal/pool"
)

// PollingDetector re-stats every tracked directory on a fixed interval
// and diffs changed directories against the index. Memory cost is
// O(directories), not O(files); latency is bounded by the interval.
//
// A cycle whose flush is rejected keeps its old timestamps, so the same
// deltas are re-detected next cycle. A fast create+delete missed by one
// cycle is corrected by the next cycle's diff against the index.
type PollingDetector struct {
	sink     Sink
	pool     *pool.Pool
	interval time.Duration

	mu      sync.Mutex
	watches map[string]*pollWatch
}

type pollWatch struct {
	lib *library.Library

	// dirs maps library-relative directory paths ("" is the root) to
	// their last observed modification time. Owned by the watch
	// goroutine after Watch returns.
	dirs     map[string]time.Time
	stopChan chan struct{}

	// done closes when the poll loop has returned, including any cycle
	// that was mid-flush when stopChan closed.
	done chan struct{}
}

// NewPollingDetector creates a polling detector with the given interval.
func NewPollingDetector(sink Sink, p *pool.Pool, interval time.Duration) *PollingDetector {
	if interval <= 0 {
		interval = DefaultConfig().PollInterval
	}
	return &PollingDetector{
		sink:     sink,
		pool:     p,
		interval: interval,
		watches:  make(map[string]*pollWatch),
	}
}

// Watch builds the directory timestamp map for a library and starts its
// polling loop.
func (d *PollingDetector) Watch(lib *library.Library) error {
	dirs, err := buildDirMap(lib.RootPath)
	if err != nil {
		return err
	}

	w := &pollWatch{
		lib:      lib,
		dirs:     dirs,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}

	d.mu.Lock()
	if _, exists := d.watches[lib.ID]; exists {
		d.mu.Unlock()
		close(w.stopChan)
		return nil
	}
	d.watches[lib.ID] = w
	d.mu.Unlock()

	d.updateWatchedGauge()
	logging.Info("Polling detector watching %s (%d directories, interval %v)",
		lib.RootPath, len(dirs), d.interval)

	go d.pollLoop(w)
	return nil
}

// Unwatch stops polling a library.
func (d *PollingDetector) Unwatch(libraryID string) {
	d.mu.Lock()
	w, ok := d.watches[libraryID]
	if ok {
		delete(d.watches, libraryID)
	}
	d.mu.Unlock()

	if ok {
		close(w.stopChan)
		<-w.done
		d.updateWatchedGauge()
	}
}

// Close stops every watch and waits for in-flight cycles to finish, so
// callers can tear down the pool afterwards without racing a flush.
func (d *PollingDetector) Close() {
	d.mu.Lock()
	watches := d.watches
	d.watches = make(map[string]*pollWatch)
	d.mu.Unlock()

	for _, w := range watches {
		close(w.stopChan)
	}
	for _, w := range watches {
		<-w.done
	}
	metrics.DetectorWatchedDirectories.Set(0)
}

func (d *PollingDetector) pollLoop(w *pollWatch) {
	defer close(w.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			d.cycle(w)
		case <-w.stopChan:
			logging.Debug("Polling detector stopped for %s", w.lib.RootPath)
			return
		}
	}
}

// cycle re-stats tracked directories, diffs the changed ones against the
// index, and flushes one coalesced ChangeSet. The timestamp map is only
// committed after a successful flush, so rejected flushes self-heal.
func (d *PollingDetector) cycle(w *pollWatch) {
	start := time.Now()
	defer func() {
		metrics.DetectorPollCyclesTotal.Inc()
		metrics.DetectorPollDuration.Observe(time.Since(start).Seconds())
	}()

	rootInfo, err := os.Stat(w.lib.RootPath)
	if err != nil {
		// Unreachable root reads as a transient unmount, not a deleted
		// tree. Keeping the timestamp map lets the watch pick up where
		// it left off once the root comes back.
		logging.Warn("Polling detector cannot stat root %s, skipping cycle: %v", w.lib.RootPath, err)
		return
	}

	cs := NewChangeSet()
	next := make(map[string]time.Time, len(w.dirs))
	next[""] = rootInfo.ModTime()
	var changed []string
	if !rootInfo.ModTime().Equal(w.dirs[""]) {
		changed = append(changed, "")
	}

	for dir, lastMod := range w.dirs {
		if dir == "" {
			continue
		}
		info, err := os.Stat(filepath.Join(w.lib.RootPath, filepath.FromSlash(dir)))
		if err != nil {
			cs.RemoveDir(dir)
			continue
		}
		next[dir] = info.ModTime()
		if !info.ModTime().Equal(lastMod) {
			changed = append(changed, dir)
		}
	}

	if len(changed) > 0 || !cs.Empty() {
		d.diffChangedDirs(w, cs, next, changed)
	}

	if cs.Empty() {
		w.dirs = next
		return
	}

	metrics.DetectorChangesDetected.Add(float64(cs.Total()))
	logging.Debug("Polling detector found %d changes under %s", cs.Total(), w.lib.RootPath)

	if err := d.sink.ApplyDetected(w.lib, cs); err != nil {
		// Keep the old timestamps; the next cycle re-detects and
		// re-diffs against the then-current index.
		metrics.DetectorFlushesTotal.WithLabelValues("rejected").Inc()
		logging.Debug("Polling flush rejected for %s: %v", w.lib.ID, err)
		return
	}

	metrics.DetectorFlushesTotal.WithLabelValues("applied").Inc()
	w.dirs = next
}

// diffChangedDirs lists each changed directory, discovers new
// subdirectories, and diffs direct media files against the index's
// recorded set for that directory (one lookup each).
func (d *PollingDetector) diffChangedDirs(w *pollWatch, cs *ChangeSet, next map[string]time.Time, changed []string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := d.pool.Acquire(ctx, w.lib.RootPath)
	if err != nil {
		logging.Error("Polling detector could not open index for %s: %v", w.lib.RootPath, err)
		return
	}
	defer d.pool.Release(w.lib.RootPath)

	queue := append([]string(nil), changed...)
	for len(queue) > 0 {
		dir := queue[0]
		queue = queue[1:]

		absDir := filepath.Join(w.lib.RootPath, filepath.FromSlash(dir))
		entries, err := os.ReadDir(absDir)
		if err != nil {
			logging.Warn("Polling detector failed to read %s: %v", absDir, err)
			continue
		}

		onDisk := make(map[string]struct{})
		for _, entry := range entries {
			if skipEntry(entry.Name()) {
				continue
			}
			rel := path.Join(dir, entry.Name())

			if entry.IsDir() {
				if _, tracked := next[rel]; !tracked {
					// Newly discovered directory: track it and list it
					// immediately rather than waiting a cycle.
					if info, statErr := entry.Info(); statErr == nil {
						next[rel] = info.ModTime()
					} else {
						next[rel] = time.Time{}
					}
					cs.AddDir(rel)
					queue = append(queue, rel)
				}
				continue
			}

			ext := strings.ToLower(filepath.Ext(entry.Name()))
			if !mediatypes.IsMediaFile(ext) {
				continue
			}
			onDisk[rel] = struct{}{}
		}

		indexed, err := st.FolderFileSet(ctx, dir)
		if err != nil {
			logging.Warn("Polling detector failed to load index set for %q: %v", dir, err)
			continue
		}

		for p := range onDisk {
			if _, ok := indexed[p]; !ok {
				cs.AddFile(p)
			}
		}
		for p := range indexed {
			if _, ok := onDisk[p]; !ok {
				cs.RemoveFile(p)
			}
		}
	}
}

func (d *PollingDetector) updateWatchedGauge() {
	d.mu.Lock()
	total := 0
	for _, w := range d.watches {
		total += len(w.dirs)
	}
	d.mu.Unlock()
	metrics.DetectorWatchedDirectories.Set(float64(total))
}

// buildDirMap walks a library root and records every directory's
// modification time, skipping hidden entries and the index directory.
func buildDirMap(root string) (map[string]time.Time, error) {
	dirs := make(map[string]time.Time)

	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			logging.Warn("Polling detector skipping %s: %v", p, err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if p == root {
			dirs[""] = info.ModTime()
			return nil
		}
		if skipEntry(info.Name()) {
			return filepath.SkipDir
		}
		if rel, ok := relPath(root, p); ok {
			dirs[rel] = info.ModTime()
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dirs, nil
}
