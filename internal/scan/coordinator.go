package scan

import (
	"context"
	"sync"
	"time"

	"media-index/internal/cache"
	"media-index/internal/detect"
	"media-index/internal/extract"
	"media-index/internal/library"
	"media-index/internal/logging"
	"media-index/internal/memory"
	"media-index/internal/metrics"
	"media-index/internal/notify"
	"media-index/internal/pool"
	"media-index/internal/reconcile"
	"media-index/internal/store"
)

const (
	// ModeFull rebuilds a library's index from a complete enumeration.
	ModeFull = "full"
	// ModeResume continues a paused full scan from its pending list.
	ModeResume = "resume"
	// ModeSync applies incremental deltas only.
	ModeSync = "sync"
)

// DefaultSettleDelay is the wait before auto-resuming interrupted scans
// at process start, giving mounts and watchers time to come up.
const DefaultSettleDelay = 3 * time.Second

// Coordinator owns the per-library scan state machine: one active scan
// or sync per library, every transition persisted, pause and resume
// exact. It is also the sink for detector flushes.
type Coordinator struct {
	registry  *library.Registry
	pool      *pool.Pool
	cache     *cache.Cache
	extractor extract.Extractor
	bus       *notify.Bus
	stateDir  string
	mem       *memory.Monitor

	mu      sync.Mutex
	states  map[string]*State
	tokens  map[string]*reconcile.CancelToken
	syncing map[string]bool

	wg sync.WaitGroup
}

// NewCoordinator creates the coordinator and its state directory under
// dataDir.
func NewCoordinator(registry *library.Registry, p *pool.Pool, c *cache.Cache, ex extract.Extractor, bus *notify.Bus, dataDir string) (*Coordinator, error) {
	dir, err := stateDir(dataDir)
	if err != nil {
		return nil, err
	}
	return &Coordinator{
		registry:  registry,
		pool:      p,
		cache:     c,
		extractor: ex,
		bus:       bus,
		stateDir:  dir,
		states:    make(map[string]*State),
		tokens:    make(map[string]*reconcile.CancelToken),
		syncing:   make(map[string]bool),
	}, nil
}

// SetMemoryMonitor installs the pressure monitor handed to every
// reconciler this coordinator creates.
func (c *Coordinator) SetMemoryMonitor(m *memory.Monitor) {
	c.mem = m
}

// GetState returns a snapshot of a library's scan state. Libraries
// never scanned report idle.
func (c *Coordinator) GetState(libraryID string) *State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if st, ok := c.states[libraryID]; ok {
		return st.clone()
	}
	return &State{LibraryID: libraryID, Status: StatusIdle, UpdatedAt: time.Now()}
}

// IsBusy reports whether a scan or detector sync is active for the
// library. External mutation subsystems consult this before writing.
func (c *Coordinator) IsBusy(libraryID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[libraryID]
	return (ok && st.Status == StatusScanning) || c.syncing[libraryID]
}

// RequestFullScan starts a full scan. Fails with ErrAlreadyInProgress
// while a scan or sync is active.
func (c *Coordinator) RequestFullScan(libraryID string) error {
	lib, err := c.registry.Get(libraryID)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	token := reconcile.NewCancelToken()

	c.mu.Lock()
	if err := c.gateLocked(libraryID); err != nil {
		c.mu.Unlock()
		return err
	}
	st := &State{
		LibraryID: libraryID,
		Status:    StatusScanning,
		StartedAt: startedAt,
		UpdatedAt: startedAt,
	}
	c.states[libraryID] = st
	c.tokens[libraryID] = token
	persistState(c.stateDir, st)
	c.mu.Unlock()

	c.bus.Publish(libraryID, notify.EventScanStarted, map[string]any{"mode": ModeFull})
	logging.Info("Full scan requested for %s (%s)", lib.Name, lib.RootPath)

	c.wg.Add(1)
	go c.run(lib, token, ModeFull, nil, startedAt, 0)
	return nil
}

// RequestSync starts an incremental sync with deltas derived from an
// enumeration-vs-index diff. Fails with ErrAlreadyInProgress while a
// scan or sync is active.
func (c *Coordinator) RequestSync(libraryID string) error {
	lib, err := c.registry.Get(libraryID)
	if err != nil {
		return err
	}

	startedAt := time.Now()
	token := reconcile.NewCancelToken()

	c.mu.Lock()
	if err := c.gateLocked(libraryID); err != nil {
		c.mu.Unlock()
		return err
	}
	st := &State{
		LibraryID: libraryID,
		Status:    StatusScanning,
		StartedAt: startedAt,
		UpdatedAt: startedAt,
	}
	c.states[libraryID] = st
	c.tokens[libraryID] = token
	persistState(c.stateDir, st)
	c.mu.Unlock()

	c.bus.Publish(libraryID, notify.EventScanStarted, map[string]any{"mode": ModeSync})

	c.wg.Add(1)
	go c.run(lib, token, ModeSync, nil, startedAt, 0)
	return nil
}

// RequestStop sets the abort flag on the active token. The runner
// observes it at the next batch boundary; a stopped full scan pauses, a
// stopped sync discards its remainder.
func (c *Coordinator) RequestStop(libraryID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	st, ok := c.states[libraryID]
	if !ok || st.Status != StatusScanning {
		return ErrInvalidState
	}
	if token, ok := c.tokens[libraryID]; ok {
		token.Abort()
	}
	return nil
}

// RequestResume continues a paused scan over exactly its preserved
// pending list. No re-enumeration happens, so no file is processed
// twice and none is omitted.
func (c *Coordinator) RequestResume(libraryID string) error {
	lib, err := c.registry.Get(libraryID)
	if err != nil {
		return err
	}

	token := reconcile.NewCancelToken()

	c.mu.Lock()
	if c.syncing[libraryID] {
		c.mu.Unlock()
		return ErrAlreadyInProgress
	}
	st, ok := c.states[libraryID]
	if !ok || st.Status != StatusPaused || len(st.PendingFiles) == 0 {
		c.mu.Unlock()
		return ErrInvalidState
	}
	pending := st.PendingFiles
	startedAt := st.StartedAt
	processed := st.Processed

	st.Status = StatusScanning
	st.PendingFiles = nil
	st.UpdatedAt = time.Now()
	c.tokens[libraryID] = token
	persistState(c.stateDir, st)
	c.mu.Unlock()

	c.bus.Publish(libraryID, notify.EventScanResumed, map[string]any{
		"processed": processed,
		"pending":   len(pending),
	})
	logging.Info("Resuming scan for %s: %d processed, %d pending", lib.Name, processed, len(pending))

	c.wg.Add(1)
	go c.run(lib, token, ModeResume, pending, startedAt, processed)
	return nil
}

// ApplyDetected is the detector sink. Flushes are applied synchronously
// on the detector's goroutine; a busy library rejects the flush so the
// detector re-buffers or re-detects per its strategy.
func (c *Coordinator) ApplyDetected(lib *library.Library, cs *detect.ChangeSet) error {
	c.mu.Lock()
	if st, ok := c.states[lib.ID]; (ok && st.Status == StatusScanning) || c.syncing[lib.ID] {
		c.mu.Unlock()
		return ErrAlreadyInProgress
	}
	c.syncing[lib.ID] = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.syncing, lib.ID)
		c.mu.Unlock()
	}()

	start := time.Now()
	res, err := c.withStore(lib, func(st *store.Store, rec *reconcile.Reconciler) (*reconcile.Result, error) {
		return rec.ApplyChangeSet(context.Background(), nil, cs)
	})
	if err != nil {
		metrics.ScanRunsTotal.WithLabelValues(ModeSync, "failed").Inc()
		logging.Error("Detected-change sync failed for %s: %v", lib.RootPath, err)
		return err
	}

	metrics.ScanRunsTotal.WithLabelValues(ModeSync, "completed").Inc()
	metrics.ScanRunDuration.WithLabelValues(ModeSync).Observe(time.Since(start).Seconds())
	c.bus.Publish(lib.ID, notify.EventSyncApplied, map[string]any{
		"indexed": res.Indexed,
		"removed": res.Removed,
	})
	return nil
}

// run executes one scan in its own goroutine and applies the resulting
// state transition.
func (c *Coordinator) run(lib *library.Library, token *reconcile.CancelToken, mode string, pending []string, startedAt time.Time, processedBase int) {
	defer c.wg.Done()

	metrics.ScansActive.Inc()
	defer metrics.ScansActive.Dec()
	runStart := time.Now()

	onProgress := func(p reconcile.Progress) {
		c.updateProgress(lib.ID, processedBase+p.Processed, processedBase+p.Total)
	}

	res, err := c.withStore(lib, func(st *store.Store, rec *reconcile.Reconciler) (*reconcile.Result, error) {
		switch mode {
		case ModeResume:
			return rec.Resume(context.Background(), token, pending, startedAt)
		case ModeSync:
			return rec.Sync(context.Background(), token, nil)
		default:
			return rec.FullScan(context.Background(), token, startedAt)
		}
	}, reconcile.ProgressFunc(onProgress))

	status := c.transition(lib, mode, res, err, processedBase)
	metrics.ScanRunsTotal.WithLabelValues(mode, status).Inc()
	metrics.ScanRunDuration.WithLabelValues(mode).Observe(time.Since(runStart).Seconds())
	if res != nil && res.Processed > 0 {
		metrics.ScanFilesPerSecond.Set(float64(res.Processed) / time.Since(runStart).Seconds())
	}
}

// transition applies the post-run state change and notification.
// Returns the status label for metrics.
func (c *Coordinator) transition(lib *library.Library, mode string, res *reconcile.Result, err error, processedBase int) string {
	c.mu.Lock()
	st, ok := c.states[lib.ID]
	if !ok {
		// Library was reset mid-run.
		c.mu.Unlock()
		return "stopped"
	}
	delete(c.tokens, lib.ID)
	st.UpdatedAt = time.Now()

	switch {
	case err != nil:
		st.Status = StatusIdle
		st.PendingFiles = nil
		persistState(c.stateDir, st)
		c.mu.Unlock()

		logging.Error("Scan (%s) failed for %s: %v", mode, lib.RootPath, err)
		c.bus.Publish(lib.ID, notify.EventScanFailed, map[string]any{"error": err.Error()})
		return "failed"

	case res.Aborted && mode != ModeSync:
		st.Status = StatusPaused
		st.Processed = processedBase + res.Processed
		st.PendingFiles = res.Pending
		snapshot := st.clone()
		persistState(c.stateDir, st)
		c.mu.Unlock()

		logging.Info("Scan paused for %s: %d processed, %d pending",
			lib.RootPath, snapshot.Processed, len(snapshot.PendingFiles))
		c.bus.Publish(lib.ID, notify.EventScanPaused, map[string]any{
			"processed": snapshot.Processed,
			"pending":   len(snapshot.PendingFiles),
		})
		return "paused"

	case res.Aborted:
		// Stopped sync: discard the remainder, the next sync re-derives.
		st.Status = StatusIdle
		st.PendingFiles = nil
		persistState(c.stateDir, st)
		c.mu.Unlock()
		return "stopped"

	default:
		st.Status = StatusCompleted
		st.Processed = processedBase + res.Processed
		st.Total = st.Processed
		st.Percent = 100
		st.PendingFiles = nil
		persistState(c.stateDir, st)
		c.mu.Unlock()

		c.cache.InvalidateLibrary(lib.RootPath)
		logging.Info("Scan (%s) completed for %s: %d indexed, %d touched, %d removed, %d skipped",
			mode, lib.RootPath, res.Indexed, res.Touched, res.Removed, res.Skipped)
		c.bus.Publish(lib.ID, notify.EventScanCompleted, map[string]any{
			"indexed": res.Indexed,
			"removed": res.Removed,
			"skipped": res.Skipped,
		})
		return "completed"
	}
}

// withStore acquires the library's store for the duration of one
// reconciliation.
func (c *Coordinator) withStore(lib *library.Library, fn func(*store.Store, *reconcile.Reconciler) (*reconcile.Result, error), onProgress ...reconcile.ProgressFunc) (*reconcile.Result, error) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	st, err := c.pool.Acquire(ctx, lib.RootPath)
	cancel()
	if err != nil {
		return nil, err
	}
	defer c.pool.Release(lib.RootPath)

	var progress reconcile.ProgressFunc
	if len(onProgress) > 0 {
		progress = onProgress[0]
	}
	rec := reconcile.New(st, lib, c.extractor, progress)
	if c.mem != nil {
		rec.SetMemoryMonitor(c.mem)
	}
	return fn(st, rec)
}

// updateProgress records and publishes a progress snapshot. Persisted
// per batch so a crash mid-scan resumes close to where it stopped.
func (c *Coordinator) updateProgress(libraryID string, processed, total int) {
	c.mu.Lock()
	st, ok := c.states[libraryID]
	if !ok {
		c.mu.Unlock()
		return
	}
	st.Processed = processed
	st.Total = total
	if total > 0 {
		st.Percent = float64(processed) / float64(total) * 100
	}
	st.UpdatedAt = time.Now()
	snapshot := st.clone()
	persistState(c.stateDir, st)
	c.mu.Unlock()

	c.bus.Publish(libraryID, notify.EventScanProgress, map[string]any{
		"processed": snapshot.Processed,
		"total":     snapshot.Total,
		"percent":   snapshot.Percent,
	})
}

// gateLocked enforces the one-active-scan rule. Caller holds c.mu.
func (c *Coordinator) gateLocked(libraryID string) error {
	if st, ok := c.states[libraryID]; ok && st.Status == StatusScanning {
		return ErrAlreadyInProgress
	}
	if c.syncing[libraryID] {
		return ErrAlreadyInProgress
	}
	return nil
}

// ReloadStates loads every persisted scan record into memory. Call once
// at process start before serving requests.
func (c *Coordinator) ReloadStates() error {
	states, err := loadStates(c.stateDir)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.states = states
	c.mu.Unlock()

	logging.Info("Scan states reloaded: %d libraries", len(states))
	return nil
}

// AutoResume restarts scans that were interrupted by a process exit.
// Each library found scanning re-announces its last known progress
// immediately (so observers never see a false idle gap), then restarts
// a full scan after the settle delay.
func (c *Coordinator) AutoResume(settle time.Duration) {
	c.mu.Lock()
	var interrupted []*State
	for _, st := range c.states {
		if st.Status == StatusScanning {
			interrupted = append(interrupted, st.clone())
		}
	}
	c.mu.Unlock()

	for _, st := range interrupted {
		c.bus.Publish(st.LibraryID, notify.EventScanProgress, map[string]any{
			"processed": st.Processed,
			"total":     st.Total,
			"percent":   st.Percent,
		})
	}

	if len(interrupted) == 0 {
		return
	}
	logging.Info("Auto-resuming %d interrupted scans after %v settle", len(interrupted), settle)

	go func() {
		time.Sleep(settle)
		for _, st := range interrupted {
			// Reset to idle first so the full-scan gate passes; the
			// interrupted run's progress is superseded by the new scan.
			c.mu.Lock()
			if cur, ok := c.states[st.LibraryID]; ok && cur.Status == StatusScanning {
				cur.Status = StatusIdle
			}
			c.mu.Unlock()

			if err := c.RequestFullScan(st.LibraryID); err != nil {
				logging.Warn("Auto-resume failed for %s: %v", st.LibraryID, err)
			}
		}
	}()
}

// ResetLibrary aborts any active scan and discards the library's scan
// state. Called when a library is removed.
func (c *Coordinator) ResetLibrary(libraryID string) {
	c.mu.Lock()
	if token, ok := c.tokens[libraryID]; ok {
		token.Abort()
		delete(c.tokens, libraryID)
	}
	delete(c.states, libraryID)
	delete(c.syncing, libraryID)
	c.mu.Unlock()

	removeState(c.stateDir, libraryID)
}

// Shutdown aborts active scans (they pause durably) and waits for the
// runners to finish within the context deadline.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	for _, token := range c.tokens {
		token.Abort()
	}
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
