// Package scan owns the per-library scan state machine: requesting,
// pausing, resuming and observing full scans and syncs. Every state
// transition is persisted so interrupted scans survive restarts, and
// the coordinator doubles as the sink for change-detector flushes.
package scan
