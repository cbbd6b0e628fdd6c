package detect

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"media-index/internal/library"
	"media-index/internal/mediatypes"
	"media-index/internal/pool"
	"media-index/internal/store"
)

// captureSink records flushed ChangeSets and can simulate a closed scan
// gate.
type captureSink struct {
	mu     sync.Mutex
	sets   []*ChangeSet
	reject bool
}

func (s *captureSink) ApplyDetected(_ *library.Library, cs *ChangeSet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reject {
		return errors.New("scan in progress")
	}
	s.sets = append(s.sets, cs)
	return nil
}

func (s *captureSink) setReject(reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject = reject
}

func (s *captureSink) flushed() []*ChangeSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ChangeSet(nil), s.sets...)
}

func writeFile(t *testing.T, p string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("MkdirAll failed: %v", err)
	}
	if err := os.WriteFile(p, []byte("data"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
}

// markChanged pushes a directory's mtime forward so the next poll cycle
// sees it as changed regardless of filesystem timestamp granularity.
func markChanged(t *testing.T, dir string) {
	t.Helper()
	future := time.Now().Add(time.Minute)
	if err := os.Chtimes(dir, future, future); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
}

func newPollingFixture(t *testing.T) (*PollingDetector, *captureSink, *library.Library, *pool.Pool) {
	t.Helper()

	root := t.TempDir()
	lib := &library.Library{ID: "lib-test", RootPath: root, Name: "test"}

	p := pool.New(pool.DefaultConfig())
	t.Cleanup(p.CloseAll)

	sink := &captureSink{}
	d := NewPollingDetector(sink, p, time.Hour)
	t.Cleanup(d.Close)

	return d, sink, lib, p
}

func watchOf(t *testing.T, d *PollingDetector, libraryID string) *pollWatch {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	w, ok := d.watches[libraryID]
	if !ok {
		t.Fatalf("No watch registered for %s", libraryID)
	}
	return w
}

func TestPollingDetectsNewFiles(t *testing.T) {
	d, sink, lib, _ := newPollingFixture(t)

	writeFile(t, filepath.Join(lib.RootPath, "photos", "a.jpg"))
	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	w := watchOf(t, d, lib.ID)

	writeFile(t, filepath.Join(lib.RootPath, "photos", "b.jpg"))
	markChanged(t, filepath.Join(lib.RootPath, "photos"))
	d.cycle(w)

	sets := sink.flushed()
	if len(sets) != 1 {
		t.Fatalf("Expected 1 flush, got %d", len(sets))
	}
	// Neither file is indexed yet, so the diff reports both.
	for _, p := range []string{"photos/a.jpg", "photos/b.jpg"} {
		if _, ok := sets[0].FilesAdded[p]; !ok {
			t.Errorf("Expected %s in FilesAdded, got %v", p, sets[0].FilesAdded)
		}
	}
}

func TestPollingDetectsRemovedFiles(t *testing.T) {
	d, sink, lib, p := newPollingFixture(t)

	abs := filepath.Join(lib.RootPath, "photos", "a.jpg")
	writeFile(t, abs)

	// Seed the index so the detector has something to diff against.
	st, err := p.Acquire(context.Background(), lib.RootPath)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	now := time.Now()
	tx, err := st.BeginBatch()
	if err != nil {
		t.Fatalf("BeginBatch failed: %v", err)
	}
	rec := &store.FileRecord{
		Path: "photos/a.jpg", Folder: "photos", Name: "a.jpg",
		Kind: mediatypes.FileTypeImage, Size: 4,
		CreatedAt: now, ModifiedAt: now, IndexedAt: now,
	}
	if err := st.UpsertFile(tx, rec); err != nil {
		t.Fatalf("UpsertFile failed: %v", err)
	}
	if err := st.EndBatch(tx, nil); err != nil {
		t.Fatalf("EndBatch failed: %v", err)
	}
	p.Release(lib.RootPath)

	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	w := watchOf(t, d, lib.ID)

	if err := os.Remove(abs); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	markChanged(t, filepath.Join(lib.RootPath, "photos"))
	d.cycle(w)

	sets := sink.flushed()
	if len(sets) != 1 {
		t.Fatalf("Expected 1 flush, got %d", len(sets))
	}
	if _, ok := sets[0].FilesRemoved["photos/a.jpg"]; !ok {
		t.Errorf("Expected photos/a.jpg in FilesRemoved, got %v", sets[0].FilesRemoved)
	}
}

func TestPollingDiscoversNewDirectories(t *testing.T) {
	d, sink, lib, _ := newPollingFixture(t)

	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	w := watchOf(t, d, lib.ID)

	writeFile(t, filepath.Join(lib.RootPath, "newdir", "c.jpg"))
	markChanged(t, lib.RootPath)
	d.cycle(w)

	sets := sink.flushed()
	if len(sets) != 1 {
		t.Fatalf("Expected 1 flush, got %d", len(sets))
	}
	if _, ok := sets[0].DirsAdded["newdir"]; !ok {
		t.Errorf("Expected newdir in DirsAdded, got %v", sets[0].DirsAdded)
	}
	// The new directory is listed immediately, not a cycle later.
	if _, ok := sets[0].FilesAdded["newdir/c.jpg"]; !ok {
		t.Errorf("Expected newdir/c.jpg in FilesAdded, got %v", sets[0].FilesAdded)
	}

	// The new directory is now tracked for future cycles.
	if _, ok := w.dirs["newdir"]; !ok {
		t.Error("Expected newdir tracked after cycle")
	}
}

func TestPollingRejectedFlushSelfHeals(t *testing.T) {
	d, sink, lib, _ := newPollingFixture(t)

	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	w := watchOf(t, d, lib.ID)

	writeFile(t, filepath.Join(lib.RootPath, "a.jpg"))
	markChanged(t, lib.RootPath)

	// Gate closed: the flush is rejected and timestamps stay uncommitted.
	sink.setReject(true)
	d.cycle(w)
	if len(sink.flushed()) != 0 {
		t.Fatal("Expected no applied flush while rejected")
	}

	// Gate open: the next cycle re-detects the same delta.
	sink.setReject(false)
	d.cycle(w)

	sets := sink.flushed()
	if len(sets) != 1 {
		t.Fatalf("Expected 1 flush after gate opened, got %d", len(sets))
	}
	if _, ok := sets[0].FilesAdded["a.jpg"]; !ok {
		t.Errorf("Expected a.jpg in FilesAdded, got %v", sets[0].FilesAdded)
	}
}

func TestPollingQuietCycleFlushesNothing(t *testing.T) {
	d, sink, lib, _ := newPollingFixture(t)

	writeFile(t, filepath.Join(lib.RootPath, "a.jpg"))
	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	w := watchOf(t, d, lib.ID)

	d.cycle(w)
	if len(sink.flushed()) != 0 {
		t.Error("Expected no flush when nothing changed")
	}
}

func TestPollingSkipsIndexDirectory(t *testing.T) {
	d, _, lib, _ := newPollingFixture(t)

	writeFile(t, filepath.Join(lib.RootPath, store.IndexDirName, "index.db"))
	writeFile(t, filepath.Join(lib.RootPath, ".hidden", "x.jpg"))
	writeFile(t, filepath.Join(lib.RootPath, "photos", "a.jpg"))

	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	w := watchOf(t, d, lib.ID)

	if _, ok := w.dirs[store.IndexDirName]; ok {
		t.Error("Index directory must not be tracked")
	}
	if _, ok := w.dirs[".hidden"]; ok {
		t.Error("Hidden directories must not be tracked")
	}
	if _, ok := w.dirs["photos"]; !ok {
		t.Error("Expected photos directory tracked")
	}
}

func TestPollingUnwatchStopsTracking(t *testing.T) {
	d, _, lib, _ := newPollingFixture(t)

	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	d.Unwatch(lib.ID)

	d.mu.Lock()
	_, ok := d.watches[lib.ID]
	d.mu.Unlock()
	if ok {
		t.Error("Expected watch removed after Unwatch")
	}

	// Unwatch of an unknown id is a no-op.
	d.Unwatch("nope")
}

func TestPollingUnreachableRootSkipsCycle(t *testing.T) {
	d, sink, lib, _ := newPollingFixture(t)

	writeFile(t, filepath.Join(lib.RootPath, "photos", "a.jpg"))
	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	w := watchOf(t, d, lib.ID)

	// Move the whole root aside, as an unmounted share would look.
	away := lib.RootPath + ".away"
	if err := os.Rename(lib.RootPath, away); err != nil {
		t.Fatalf("Rename failed: %v", err)
	}

	d.cycle(w)
	if len(sink.flushed()) != 0 {
		t.Fatal("Unreachable root must not flush removals")
	}
	if _, ok := w.dirs["photos"]; !ok {
		t.Fatal("Tracked directories must survive an unreachable root")
	}

	// Root back: the watch resumes diffing from where it left off.
	if err := os.Rename(away, lib.RootPath); err != nil {
		t.Fatalf("Rename back failed: %v", err)
	}
	writeFile(t, filepath.Join(lib.RootPath, "photos", "b.jpg"))
	markChanged(t, filepath.Join(lib.RootPath, "photos"))
	d.cycle(w)

	sets := sink.flushed()
	if len(sets) != 1 {
		t.Fatalf("Expected 1 flush after remount, got %d", len(sets))
	}
	if _, ok := sets[0].FilesAdded["photos/b.jpg"]; !ok {
		t.Errorf("Expected photos/b.jpg in FilesAdded, got %v", sets[0].FilesAdded)
	}
}

// blockingSink holds each flush until released, so tests can observe a
// cycle that is mid-flush.
type blockingSink struct {
	entered chan struct{}
	release chan struct{}
}

func (s *blockingSink) ApplyDetected(_ *library.Library, _ *ChangeSet) error {
	s.entered <- struct{}{}
	<-s.release
	return nil
}

func TestPollingCloseWaitsForInFlightFlush(t *testing.T) {
	root := t.TempDir()
	lib := &library.Library{ID: "lib-close", RootPath: root, Name: "close"}

	p := pool.New(pool.DefaultConfig())
	t.Cleanup(p.CloseAll)

	sink := &blockingSink{
		entered: make(chan struct{}, 4),
		release: make(chan struct{}),
	}
	d := NewPollingDetector(sink, p, 20*time.Millisecond)
	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, filepath.Join(root, "a.jpg"))
	markChanged(t, root)

	select {
	case <-sink.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("Poll cycle never reached the sink")
	}

	closed := make(chan struct{})
	go func() {
		d.Close()
		close(closed)
	}()

	select {
	case <-closed:
		t.Fatal("Close returned while a flush was in flight")
	case <-time.After(100 * time.Millisecond):
	}

	close(sink.release)
	select {
	case <-closed:
	case <-time.After(5 * time.Second):
		t.Fatal("Close never returned after the flush finished")
	}
}
