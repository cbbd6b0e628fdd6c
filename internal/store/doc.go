// Package store implements the persistent SQLite index for one library:
// file and folder rows, the monotonic modification version counter, and
// the batched write helpers used by reconciliation.
package store
