package scan

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"media-index/internal/logging"
)

// Status is the per-library scan lifecycle state.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusScanning  Status = "scanning"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
)

var (
	// ErrAlreadyInProgress is returned when a scan or sync is requested
	// while one is active for the same library.
	ErrAlreadyInProgress = errors.New("scan already in progress")

	// ErrInvalidState is returned when a request is not legal in the
	// library's current scan state (e.g. resume without a paused scan).
	ErrInvalidState = errors.New("invalid scan state for request")
)

const stateDirName = "scanstate"

// State is one library's persisted scan record. PendingFiles is
// non-empty only while Status is paused.
type State struct {
	LibraryID    string    `json:"libraryId"`
	Status       Status    `json:"status"`
	Processed    int       `json:"processed"`
	Total        int       `json:"total"`
	Percent      float64   `json:"percent"`
	PendingFiles []string  `json:"pendingFiles,omitempty"`
	StartedAt    time.Time `json:"startedAt,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func (s *State) clone() *State {
	copied := *s
	copied.PendingFiles = append([]string(nil), s.PendingFiles...)
	return &copied
}

// stateDir returns the scan-state directory under dataDir, creating it
// if needed.
func stateDir(dataDir string) (string, error) {
	dir := filepath.Join(dataDir, stateDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scan state directory: %w", err)
	}
	return dir, nil
}

func statePath(dir, libraryID string) string {
	return filepath.Join(dir, libraryID+".json")
}

// persistState writes one state record atomically. Persistence failures
// are logged, never fatal: the in-memory state stays authoritative for
// the life of the process.
func persistState(dir string, st *State) {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		logging.Error("Failed to encode scan state for %s: %v", st.LibraryID, err)
		return
	}

	p := statePath(dir, st.LibraryID)
	tmp := p + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logging.Error("Failed to write scan state for %s: %v", st.LibraryID, err)
		return
	}
	if err := os.Rename(tmp, p); err != nil {
		logging.Error("Failed to replace scan state for %s: %v", st.LibraryID, err)
	}
}

// loadStates reads every persisted state record from dir. Unreadable
// records are logged and skipped.
func loadStates(dir string) (map[string]*State, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read scan state directory: %w", err)
	}

	states := make(map[string]*State)
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			logging.Warn("Failed to read scan state %s: %v", entry.Name(), err)
			continue
		}
		var st State
		if err := json.Unmarshal(data, &st); err != nil {
			logging.Warn("Failed to parse scan state %s: %v", entry.Name(), err)
			continue
		}
		if st.LibraryID == "" {
			continue
		}
		states[st.LibraryID] = &st
	}
	return states, nil
}

// removeState deletes one library's persisted record.
func removeState(dir, libraryID string) {
	if err := os.Remove(statePath(dir, libraryID)); err != nil && !os.IsNotExist(err) {
		logging.Warn("Failed to remove scan state for %s: %v", libraryID, err)
	}
}
