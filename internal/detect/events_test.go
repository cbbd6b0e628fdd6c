package detect

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"media-index/internal/library"
)

// waitForFlush polls the sink until a predicate matches a flushed set or
// the deadline passes.
func waitForFlush(t *testing.T, sink *captureSink, match func(*ChangeSet) bool) *ChangeSet {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		for _, cs := range sink.flushed() {
			if match(cs) {
				return cs
			}
		}
		time.Sleep(25 * time.Millisecond)
	}
	t.Fatal("Timed out waiting for matching flush")
	return nil
}

func TestEventDetectorBuffersAndFlushesCreate(t *testing.T) {
	root := t.TempDir()
	lib := &library.Library{ID: "lib-ev", RootPath: root, Name: "ev"}
	sink := &captureSink{}

	d := NewEventDetector(sink)
	t.Cleanup(d.Close)
	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	// Give the watcher time to register the tree before generating events.
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(root, "a.jpg"))

	cs := waitForFlush(t, sink, func(cs *ChangeSet) bool {
		_, ok := cs.FilesAdded["a.jpg"]
		return ok
	})
	if _, ok := cs.FilesRemoved["a.jpg"]; ok {
		t.Error("Path must not be pending as removed")
	}
}

func TestEventDetectorWatchesNewDirectories(t *testing.T) {
	root := t.TempDir()
	lib := &library.Library{ID: "lib-ev2", RootPath: root, Name: "ev2"}
	sink := &captureSink{}

	d := NewEventDetector(sink)
	t.Cleanup(d.Close)
	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	// A directory created with contents already inside: the tree scan on
	// the create event must pick the file up even though no separate
	// create event fires for it under the not-yet-watched directory.
	dir := filepath.Join(root, "incoming")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	writeFile(t, filepath.Join(dir, "b.jpg"))

	waitForFlush(t, sink, func(cs *ChangeSet) bool {
		_, dirOK := cs.DirsAdded["incoming"]
		return dirOK
	})
	waitForFlush(t, sink, func(cs *ChangeSet) bool {
		_, ok := cs.FilesAdded["incoming/b.jpg"]
		return ok
	})
}

func TestEventDetectorRebuffersRejectedFlush(t *testing.T) {
	root := t.TempDir()
	lib := &library.Library{ID: "lib-ev3", RootPath: root, Name: "ev3"}
	sink := &captureSink{}
	sink.setReject(true)

	d := NewEventDetector(sink)
	t.Cleanup(d.Close)
	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(root, "a.jpg"))

	// Rejected flushes retry on a short interval; once the gate opens the
	// buffered change must arrive intact.
	time.Sleep(time.Second)
	sink.setReject(false)

	waitForFlush(t, sink, func(cs *ChangeSet) bool {
		_, ok := cs.FilesAdded["a.jpg"]
		return ok
	})
}

func TestEventDetectorIgnoresNonMediaFiles(t *testing.T) {
	root := t.TempDir()
	lib := &library.Library{ID: "lib-ev4", RootPath: root, Name: "ev4"}
	sink := &captureSink{}

	d := NewEventDetector(sink)
	t.Cleanup(d.Close)
	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(root, "notes.txt"))
	writeFile(t, filepath.Join(root, "a.jpg"))

	cs := waitForFlush(t, sink, func(cs *ChangeSet) bool {
		_, ok := cs.FilesAdded["a.jpg"]
		return ok
	})
	if _, ok := cs.FilesAdded["notes.txt"]; ok {
		t.Error("Non-media file must not be buffered")
	}
}

func TestEventDetectorUnwatchDrains(t *testing.T) {
	root := t.TempDir()
	lib := &library.Library{ID: "lib-ev5", RootPath: root, Name: "ev5"}
	sink := &captureSink{}

	d := NewEventDetector(sink)
	t.Cleanup(d.Close)
	if err := d.Watch(lib); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	writeFile(t, filepath.Join(root, "a.jpg"))

	// Unwatch before the debounce fires: the drain must still deliver the
	// buffered change.
	time.Sleep(50 * time.Millisecond)
	d.Unwatch(lib.ID)

	found := false
	for _, cs := range sink.flushed() {
		if _, ok := cs.FilesAdded["a.jpg"]; ok {
			found = true
		}
	}
	if !found {
		t.Error("Expected buffered change delivered on drain")
	}

	// Idempotent.
	d.Unwatch(lib.ID)
}

func TestAdaptiveDelay(t *testing.T) {
	tests := []struct {
		name    string
		pending int
		want    time.Duration
	}{
		{name: "Single path", pending: 1, want: flushBaseDelay + flushPerPath},
		{name: "Small batch", pending: 10, want: flushBaseDelay + 10*flushPerPath},
		{name: "Large burst caps", pending: 10000, want: flushMaxDelay},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := adaptiveDelay(tt.pending); got != tt.want {
				t.Errorf("adaptiveDelay(%d) = %v, want %v", tt.pending, got, tt.want)
			}
		})
	}
}

func TestIsMediaPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{path: "a.jpg", want: true},
		{path: "photos/A.JPG", want: true},
		{path: "clip.mp4", want: true},
		{path: "notes.txt", want: false},
		{path: "noext", want: false},
	}
	for _, tt := range tests {
		if got := isMediaPath(tt.path); got != tt.want {
			t.Errorf("isMediaPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}
