package detect

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"media-index/internal/library"
	"media-index/internal/pool"
	"media-index/internal/store"
)

// Strategy names accepted by New.
const (
	StrategyPolling = "polling"
	StrategyEvents  = "events"
)

// Sink consumes ChangeSets produced by detectors. The scan coordinator
// implements it; a rejection (scan in progress) is returned as an error
// the detector handles according to its strategy.
type Sink interface {
	ApplyDetected(lib *library.Library, cs *ChangeSet) error
}

// Detector watches library roots and emits batched filesystem deltas to
// its Sink. Both implementations are selected once by configuration;
// call sites never special-case which is active.
type Detector interface {
	Watch(lib *library.Library) error
	Unwatch(libraryID string)
	Close()
}

// Config holds detector tuning shared by both strategies.
type Config struct {
	// PollInterval is the polling detector's cycle interval.
	PollInterval time.Duration
}

// DefaultConfig returns the default detector configuration.
func DefaultConfig() Config {
	return Config{PollInterval: 30 * time.Second}
}

// New constructs the configured detector strategy.
func New(strategy string, sink Sink, p *pool.Pool, cfg Config) (Detector, error) {
	switch strategy {
	case StrategyPolling, "":
		return NewPollingDetector(sink, p, cfg.PollInterval), nil
	case StrategyEvents:
		return NewEventDetector(sink), nil
	default:
		return nil, fmt.Errorf("unknown change detector strategy: %q", strategy)
	}
}

// skipEntry reports whether a directory entry name is excluded from
// watching: hidden entries and the index directory itself.
func skipEntry(name string) bool {
	return strings.HasPrefix(name, ".") || name == store.IndexDirName
}

// relPath converts an absolute path under root to the library-relative
// forward-slash form used throughout the index.
func relPath(root, abs string) (string, bool) {
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, part := range strings.Split(rel, "/") {
		if skipEntry(part) {
			return "", false
		}
	}
	return rel, true
}
