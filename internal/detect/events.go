package detect

import (
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/fsnotify/fsnotify"

	"media-index/internal/library"
	"media-index/internal/logging"
	"media-index/internal/mediatypes"
	"media-index/internal/metrics"
)

const (
	// Debounce: small batches flush almost immediately, large bursts
	// wait longer (up to the cap) so the burst can finish first.
	flushBaseDelay = 200 * time.Millisecond
	flushPerPath   = 15 * time.Millisecond
	flushMaxDelay  = 2 * time.Second

	// Retry delay after the sink rejects a flush (scan in progress).
	flushRetryDelay = 500 * time.Millisecond

	// Bounded wait for a watch loop to drain on shutdown.
	drainTimeout = 2 * time.Second
)

// EventDetector subscribes to native filesystem notifications, one
// watcher per library inside a supervised goroutine. Raw events
// accumulate in a per-library buffer with set semantics; an adaptive
// debounce timer flushes the buffer to the sink. The buffer survives
// watcher restarts, and rejected flushes are re-buffered until the scan
// gate opens.
type EventDetector struct {
	sink Sink

	mu      sync.Mutex
	watches map[string]*eventWatch
}

type eventWatch struct {
	lib *library.Library

	// Buffer state, shared between the watch loop and Unwatch.
	mu     sync.Mutex
	buffer *ChangeSet

	// knownDirs tracks library-relative directories currently under
	// watch, so Remove events can be classified without a stat.
	knownDirs map[string]struct{}

	stopChan chan struct{}
	stopOnce sync.Once
	doneChan chan struct{}
}

// NewEventDetector creates an event-based detector.
func NewEventDetector(sink Sink) *EventDetector {
	return &EventDetector{
		sink:    sink,
		watches: make(map[string]*eventWatch),
	}
}

// Watch starts the supervised watcher goroutine for a library.
func (d *EventDetector) Watch(lib *library.Library) error {
	w := &eventWatch{
		lib:       lib,
		buffer:    NewChangeSet(),
		knownDirs: make(map[string]struct{}),
		stopChan:  make(chan struct{}),
		doneChan:  make(chan struct{}),
	}

	d.mu.Lock()
	if _, exists := d.watches[lib.ID]; exists {
		d.mu.Unlock()
		return nil
	}
	d.watches[lib.ID] = w
	d.mu.Unlock()

	go d.supervise(w)
	logging.Info("Event detector watching %s", lib.RootPath)
	return nil
}

// Unwatch drains and stops a library's watcher: drain signal, bounded
// wait, then forced termination.
func (d *EventDetector) Unwatch(libraryID string) {
	d.mu.Lock()
	w, ok := d.watches[libraryID]
	if ok {
		delete(d.watches, libraryID)
	}
	d.mu.Unlock()

	if !ok {
		return
	}

	w.stop()
	select {
	case <-w.doneChan:
	case <-time.After(drainTimeout):
		logging.Warn("Event detector for %s did not drain within %v", libraryID, drainTimeout)
	}
}

// Close stops every watcher.
func (d *EventDetector) Close() {
	d.mu.Lock()
	watches := d.watches
	d.watches = make(map[string]*eventWatch)
	d.mu.Unlock()

	for _, w := range watches {
		w.stop()
	}
	deadline := time.After(drainTimeout)
	for _, w := range watches {
		select {
		case <-w.doneChan:
		case <-deadline:
			return
		}
	}
}

func (w *eventWatch) stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
}

// supervise runs the watch loop, restarting it with exponential backoff
// after an internal crash. Already-buffered changes are preserved across
// restarts because the buffer lives on the watch, not the loop.
func (d *EventDetector) supervise(w *eventWatch) {
	defer close(w.doneChan)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = time.Second
	bo.MaxInterval = time.Minute
	bo.MaxElapsedTime = 0

	for {
		err := d.runWatcher(w)
		if err == nil {
			return
		}

		metrics.DetectorRestartsTotal.Inc()
		wait := bo.NextBackOff()
		logging.Warn("Event watcher for %s failed: %v (restarting in %v)", w.lib.RootPath, err, wait)

		select {
		case <-w.stopChan:
			d.drain(w)
			return
		case <-time.After(wait):
		}
	}
}

// runWatcher is one watcher incarnation. Returns nil on clean stop and
// an error when the watcher broke and should be restarted.
func (d *EventDetector) runWatcher(w *eventWatch) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("watch loop panic: %v", r)
		}
	}()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() {
		if closeErr := watcher.Close(); closeErr != nil {
			logging.Warn("failed to close watcher for %s: %v", w.lib.RootPath, closeErr)
		}
	}()

	if err := d.addTree(w, watcher, w.lib.RootPath); err != nil {
		return err
	}

	flushTimer := time.NewTimer(flushMaxDelay)
	if !flushTimer.Stop() {
		<-flushTimer.C
	}
	defer flushTimer.Stop()

	// A restart may have left buffered changes; schedule their flush.
	if pending := w.pendingCount(); pending > 0 {
		flushTimer.Reset(adaptiveDelay(pending))
	}

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("event channel closed")
			}
			if d.handleEvent(w, watcher, event) {
				flushTimer.Stop()
				flushTimer.Reset(adaptiveDelay(w.pendingCount()))
			}

		case werr, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("error channel closed")
			}
			metrics.DetectorWatcherErrors.Inc()
			logging.Error("Watcher error for %s: %v", w.lib.RootPath, werr)

		case <-flushTimer.C:
			if retry := d.flush(w); retry {
				flushTimer.Reset(flushRetryDelay)
			}

		case <-w.stopChan:
			d.drain(w)
			return nil
		}
	}
}

// handleEvent classifies one raw notification into the buffer. Returns
// true when the buffer changed.
func (d *EventDetector) handleEvent(w *eventWatch, watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	metrics.DetectorWatcherEventsTotal.WithLabelValues(eventType(event.Op)).Inc()

	rel, ok := relPath(w.lib.RootPath, event.Name)
	if !ok {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case event.Op&fsnotify.Create != 0:
		info, err := os.Stat(event.Name)
		if err != nil {
			return false
		}
		if info.IsDir() {
			w.buffer.AddDir(rel)
			w.knownDirs[rel] = struct{}{}
			// Contents may have landed before the watch was in place.
			d.bufferNewTree(w, watcher, event.Name, rel)
			if err := watcher.Add(event.Name); err != nil {
				logging.Warn("failed to watch new directory %s: %v", event.Name, err)
			}
			return true
		}
		if isMediaPath(rel) {
			w.buffer.AddFile(rel)
			return true
		}

	case event.Op&fsnotify.Write != 0:
		if isMediaPath(rel) {
			w.buffer.ChangeFile(rel)
			return true
		}

	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		if _, wasDir := w.knownDirs[rel]; wasDir {
			w.buffer.RemoveDir(rel)
			delete(w.knownDirs, rel)
			prefix := rel + "/"
			for dir := range w.knownDirs {
				if strings.HasPrefix(dir, prefix) {
					delete(w.knownDirs, dir)
				}
			}
			return true
		}
		if isMediaPath(rel) {
			w.buffer.RemoveFile(rel)
			return true
		}
	}

	return false
}

// bufferNewTree records the files and subdirectories already present
// inside a newly created directory. Caller holds w.mu.
func (d *EventDetector) bufferNewTree(w *eventWatch, watcher *fsnotify.Watcher, absDir, relDir string) {
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		if skipEntry(entry.Name()) {
			continue
		}
		rel := path.Join(relDir, entry.Name())
		abs := filepath.Join(absDir, entry.Name())
		if entry.IsDir() {
			w.buffer.AddDir(rel)
			w.knownDirs[rel] = struct{}{}
			if err := watcher.Add(abs); err != nil {
				logging.Warn("failed to watch new directory %s: %v", abs, err)
			}
			d.bufferNewTree(w, watcher, abs, rel)
			continue
		}
		if isMediaPath(rel) {
			w.buffer.AddFile(rel)
		}
	}
}

// flush hands the buffered ChangeSet to the sink. Returns true when the
// flush was rejected and the changes were re-buffered for retry.
func (d *EventDetector) flush(w *eventWatch) bool {
	w.mu.Lock()
	cs := w.buffer
	w.buffer = NewChangeSet()
	w.mu.Unlock()

	if cs.Empty() {
		metrics.DetectorBufferedPaths.Set(0)
		return false
	}

	if err := d.sink.ApplyDetected(w.lib, cs); err != nil {
		// Gate closed: merge back under anything buffered meanwhile.
		w.mu.Lock()
		cs.Merge(w.buffer)
		w.buffer = cs
		w.mu.Unlock()
		metrics.DetectorFlushesTotal.WithLabelValues("rejected").Inc()
		logging.Debug("Event flush rejected for %s: %v", w.lib.ID, err)
		return true
	}

	metrics.DetectorFlushesTotal.WithLabelValues("applied").Inc()
	metrics.DetectorChangesDetected.Add(float64(cs.Total()))
	metrics.DetectorBufferedPaths.Set(float64(w.pendingCount()))
	return false
}

// drain makes one final flush attempt before the loop exits.
func (d *EventDetector) drain(w *eventWatch) {
	if w.pendingCount() == 0 {
		return
	}
	logging.Debug("Event detector draining %d buffered paths for %s", w.pendingCount(), w.lib.ID)
	d.flush(w)
}

// addTree registers the root and every eligible subdirectory with the
// watcher.
func (d *EventDetector) addTree(w *eventWatch, watcher *fsnotify.Watcher, root string) error {
	count := 0
	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			logging.Warn("Event detector skipping %s: %v", p, err)
			return nil
		}
		if !info.IsDir() {
			return nil
		}
		if p != root && skipEntry(info.Name()) {
			return filepath.SkipDir
		}
		if addErr := watcher.Add(p); addErr != nil {
			logging.Warn("failed to watch %s: %v", p, addErr)
			metrics.DetectorWatcherErrors.Inc()
			return nil
		}
		count++
		if rel, ok := relPath(root, p); ok {
			w.mu.Lock()
			w.knownDirs[rel] = struct{}{}
			w.mu.Unlock()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk %s: %w", root, err)
	}

	metrics.DetectorWatchedDirectories.Set(float64(count))
	logging.Debug("Event detector watching %d directories under %s", count, root)
	return nil
}

func (w *eventWatch) pendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buffer.Total()
}

// adaptiveDelay scales the debounce window with the pending batch size.
func adaptiveDelay(pending int) time.Duration {
	delay := flushBaseDelay + time.Duration(pending)*flushPerPath
	if delay > flushMaxDelay {
		delay = flushMaxDelay
	}
	metrics.DetectorBufferedPaths.Set(float64(pending))
	return delay
}

func isMediaPath(rel string) bool {
	return mediatypes.IsMediaFile(strings.ToLower(filepath.Ext(rel)))
}

func eventType(op fsnotify.Op) string {
	switch {
	case op&fsnotify.Create != 0:
		return "create"
	case op&fsnotify.Write != 0:
		return "write"
	case op&fsnotify.Remove != 0:
		return "remove"
	case op&fsnotify.Rename != 0:
		return "rename"
	case op&fsnotify.Chmod != 0:
		return "chmod"
	default:
		return "unknown"
	}
}
