package scan

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"media-index/internal/cache"
	"media-index/internal/detect"
	"media-index/internal/extract"
	"media-index/internal/library"
	"media-index/internal/mediatypes"
	"media-index/internal/notify"
	"media-index/internal/pool"
	"media-index/internal/store"
)

// gateExtractor passes the first passFree extractions through and
// blocks the rest on the gate channel, so tests can hold a scan at a
// known point.
type gateExtractor struct {
	calls    atomic.Int32
	passFree int32
	gate     chan struct{}
}

func (e *gateExtractor) Extract(_ context.Context, absPath, _ string) (*extract.Metadata, error) {
	n := e.calls.Add(1)
	if e.gate != nil && n > e.passFree {
		<-e.gate
	}
	ext := strings.ToLower(filepath.Ext(absPath))
	return &extract.Metadata{
		Kind:        mediatypes.GetFileType(ext),
		Format:      mediatypes.FormatName(ext),
		ContentHash: "hash-" + filepath.Base(absPath),
	}, nil
}

func newTestCoordinator(t *testing.T, ex extract.Extractor) (*Coordinator, *pool.Pool, *library.Library) {
	t.Helper()

	registry, err := library.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	lib, err := registry.Add(t.TempDir(), "test")
	if err != nil {
		t.Fatalf("Registry.Add failed: %v", err)
	}

	p := pool.New(pool.DefaultConfig())
	t.Cleanup(p.CloseAll)

	coord, err := NewCoordinator(registry, p, cache.New(), ex, notify.NewBus(), t.TempDir())
	if err != nil {
		t.Fatalf("NewCoordinator failed: %v", err)
	}
	return coord, p, lib
}

func writeMedia(t *testing.T, root, rel string) {
	t.Helper()
	abs := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(abs, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestGetStateDefaultsToIdle(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, &gateExtractor{})

	st := coord.GetState("never-scanned")
	if st.Status != StatusIdle {
		t.Errorf("Status = %s, want idle", st.Status)
	}
	if coord.IsBusy("never-scanned") {
		t.Error("Unknown library must not report busy")
	}
}

func TestRequestFullScanUnknownLibrary(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, &gateExtractor{})

	if err := coord.RequestFullScan("nope"); !errors.Is(err, library.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
	if err := coord.RequestResume("nope"); !errors.Is(err, library.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestFullScanCompletesAndPersists(t *testing.T) {
	coord, p, lib := newTestCoordinator(t, &gateExtractor{})
	writeMedia(t, lib.RootPath, "a.jpg")
	writeMedia(t, lib.RootPath, "b/c.jpg")

	if err := coord.RequestFullScan(lib.ID); err != nil {
		t.Fatalf("RequestFullScan failed: %v", err)
	}
	waitFor(t, func() bool {
		return coord.GetState(lib.ID).Status == StatusCompleted
	}, "Scan never completed")

	st := coord.GetState(lib.ID)
	if st.Processed != 2 || st.Percent != 100 {
		t.Errorf("State = %d processed, %.0f%%, want 2, 100%%", st.Processed, st.Percent)
	}

	// The completed record survives on disk for the next process.
	states, err := loadStates(coord.stateDir)
	if err != nil {
		t.Fatalf("loadStates failed: %v", err)
	}
	if persisted, ok := states[lib.ID]; !ok || persisted.Status != StatusCompleted {
		t.Errorf("Persisted state = %+v, want completed", persisted)
	}

	// The index itself has the rows.
	dbst, err := p.Acquire(context.Background(), lib.RootPath)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer p.Release(lib.RootPath)
	if _, err := dbst.GetFile(context.Background(), "b/c.jpg"); err != nil {
		t.Errorf("Expected b/c.jpg indexed: %v", err)
	}
}

func TestGateRejectsWhileScanActive(t *testing.T) {
	ex := &gateExtractor{gate: make(chan struct{})}
	coord, _, lib := newTestCoordinator(t, ex)
	writeMedia(t, lib.RootPath, "a.jpg")

	if err := coord.RequestFullScan(lib.ID); err != nil {
		t.Fatalf("RequestFullScan failed: %v", err)
	}
	waitFor(t, func() bool { return coord.IsBusy(lib.ID) }, "Scan never became active")

	if err := coord.RequestFullScan(lib.ID); !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("Second scan: expected ErrAlreadyInProgress, got %v", err)
	}
	if err := coord.RequestSync(lib.ID); !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("Sync during scan: expected ErrAlreadyInProgress, got %v", err)
	}

	// Detector flushes bounce off the same gate and get re-buffered.
	cs := detect.NewChangeSet()
	cs.AddFile("late.jpg")
	if err := coord.ApplyDetected(lib, cs); !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("ApplyDetected during scan: expected ErrAlreadyInProgress, got %v", err)
	}

	close(ex.gate)
	waitFor(t, func() bool {
		return coord.GetState(lib.ID).Status == StatusCompleted
	}, "Scan never completed after gate opened")
}

func TestStopPausesAndResumeFinishesExactly(t *testing.T) {
	const total = 450

	ex := &gateExtractor{passFree: 200, gate: make(chan struct{})}
	coord, _, lib := newTestCoordinator(t, ex)
	for i := 0; i < total; i++ {
		writeMedia(t, lib.RootPath, fmt.Sprintf("f%04d.jpg", i))
	}

	if err := coord.RequestFullScan(lib.ID); err != nil {
		t.Fatalf("RequestFullScan failed: %v", err)
	}

	// First batch committed, later extractions held at the gate: the
	// stop lands strictly before the scan can finish.
	waitFor(t, func() bool {
		return coord.GetState(lib.ID).Processed > 0
	}, "No progress recorded")
	if err := coord.RequestStop(lib.ID); err != nil {
		t.Fatalf("RequestStop failed: %v", err)
	}
	close(ex.gate)

	waitFor(t, func() bool {
		return coord.GetState(lib.ID).Status == StatusPaused
	}, "Scan never paused")

	paused := coord.GetState(lib.ID)
	if len(paused.PendingFiles) == 0 {
		t.Fatal("Paused state has no pending files")
	}
	if paused.Processed+len(paused.PendingFiles) != total {
		t.Fatalf("Processed %d + pending %d != total %d",
			paused.Processed, len(paused.PendingFiles), total)
	}

	// Stopping a scan that is not running is not legal.
	if err := coord.RequestStop(lib.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Stop while paused: expected ErrInvalidState, got %v", err)
	}

	if err := coord.RequestResume(lib.ID); err != nil {
		t.Fatalf("RequestResume failed: %v", err)
	}
	waitFor(t, func() bool {
		return coord.GetState(lib.ID).Status == StatusCompleted
	}, "Resumed scan never completed")

	final := coord.GetState(lib.ID)
	if final.Processed != total {
		t.Errorf("Processed = %d after resume, want %d", final.Processed, total)
	}
	// Every file extracted exactly once across pause and resume.
	if n := ex.calls.Load(); n != total {
		t.Errorf("Extractions = %d, want %d", n, total)
	}

	if err := coord.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestResumeRequiresPausedState(t *testing.T) {
	coord, _, lib := newTestCoordinator(t, &gateExtractor{})

	if err := coord.RequestResume(lib.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Resume while idle: expected ErrInvalidState, got %v", err)
	}
	if err := coord.RequestStop(lib.ID); !errors.Is(err, ErrInvalidState) {
		t.Errorf("Stop while idle: expected ErrInvalidState, got %v", err)
	}
}

func TestApplyDetectedSyncsChanges(t *testing.T) {
	coord, p, lib := newTestCoordinator(t, &gateExtractor{})
	writeMedia(t, lib.RootPath, "new.jpg")

	cs := detect.NewChangeSet()
	cs.AddFile("new.jpg")
	if err := coord.ApplyDetected(lib, cs); err != nil {
		t.Fatalf("ApplyDetected failed: %v", err)
	}

	dbst, err := p.Acquire(context.Background(), lib.RootPath)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	defer p.Release(lib.RootPath)
	rec, err := dbst.GetFile(context.Background(), "new.jpg")
	if err != nil {
		t.Fatalf("Expected new.jpg indexed: %v", err)
	}
	if rec.Kind != mediatypes.FileTypeImage {
		t.Errorf("Kind = %s, want image", rec.Kind)
	}

	if coord.IsBusy(lib.ID) {
		t.Error("Library must be idle after a synchronous flush")
	}
	if _, err := os.Stat(filepath.Join(lib.RootPath, store.IndexDirName, "index.db")); err != nil {
		t.Errorf("Expected index database on disk: %v", err)
	}
}

func TestReloadStatesAndAutoResume(t *testing.T) {
	coord, _, lib := newTestCoordinator(t, &gateExtractor{})
	writeMedia(t, lib.RootPath, "a.jpg")

	// A scanning record left behind by a process exit.
	persistState(coord.stateDir, &State{
		LibraryID: lib.ID,
		Status:    StatusScanning,
		Processed: 1,
		Total:     3,
		StartedAt: time.Now().Add(-time.Minute),
		UpdatedAt: time.Now().Add(-time.Minute),
	})

	if err := coord.ReloadStates(); err != nil {
		t.Fatalf("ReloadStates failed: %v", err)
	}
	if coord.GetState(lib.ID).Status != StatusScanning {
		t.Fatal("Expected interrupted scan reloaded as scanning")
	}

	coord.AutoResume(10 * time.Millisecond)
	waitFor(t, func() bool {
		return coord.GetState(lib.ID).Status == StatusCompleted
	}, "Interrupted scan never restarted")
}

func TestResetLibraryDiscardsState(t *testing.T) {
	coord, _, lib := newTestCoordinator(t, &gateExtractor{})
	writeMedia(t, lib.RootPath, "a.jpg")

	if err := coord.RequestFullScan(lib.ID); err != nil {
		t.Fatalf("RequestFullScan failed: %v", err)
	}
	waitFor(t, func() bool {
		return coord.GetState(lib.ID).Status == StatusCompleted
	}, "Scan never completed")

	coord.ResetLibrary(lib.ID)
	if coord.GetState(lib.ID).Status != StatusIdle {
		t.Error("Expected idle state after reset")
	}
	if _, err := os.Stat(statePath(coord.stateDir, lib.ID)); !os.IsNotExist(err) {
		t.Error("Expected persisted record removed after reset")
	}

	// Resetting an unknown library is a no-op.
	coord.ResetLibrary("nope")
}

func TestShutdownIdleIsImmediate(t *testing.T) {
	coord, _, _ := newTestCoordinator(t, &gateExtractor{})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := coord.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown failed: %v", err)
	}
}

func TestResumeRejectedWhileDetectorSyncActive(t *testing.T) {
	ex := &gateExtractor{gate: make(chan struct{})}
	coord, _, lib := newTestCoordinator(t, ex)
	writeMedia(t, lib.RootPath, "pending.jpg")
	writeMedia(t, lib.RootPath, "detected.jpg")

	// A paused scan with one file left, as a mid-scan stop leaves it.
	coord.mu.Lock()
	coord.states[lib.ID] = &State{
		LibraryID:    lib.ID,
		Status:       StatusPaused,
		Processed:    1,
		PendingFiles: []string{"pending.jpg"},
		StartedAt:    time.Now().Add(-time.Minute),
		UpdatedAt:    time.Now(),
	}
	coord.mu.Unlock()

	cs := detect.NewChangeSet()
	cs.AddFile("detected.jpg")
	flushDone := make(chan error, 1)
	go func() { flushDone <- coord.ApplyDetected(lib, cs) }()
	waitFor(t, func() bool { return coord.IsBusy(lib.ID) }, "Detector flush never became active")

	// The paused library is busy with the flush: resuming now would
	// put two writers on one index.
	if err := coord.RequestResume(lib.ID); !errors.Is(err, ErrAlreadyInProgress) {
		t.Errorf("Resume during detector flush: expected ErrAlreadyInProgress, got %v", err)
	}

	close(ex.gate)
	if err := <-flushDone; err != nil {
		t.Fatalf("ApplyDetected failed: %v", err)
	}

	if err := coord.RequestResume(lib.ID); err != nil {
		t.Fatalf("RequestResume after flush failed: %v", err)
	}
	waitFor(t, func() bool {
		return coord.GetState(lib.ID).Status == StatusCompleted
	}, "Resumed scan never completed")

	if final := coord.GetState(lib.ID); final.Processed != 2 {
		t.Errorf("Processed = %d, want 2", final.Processed)
	}
}
