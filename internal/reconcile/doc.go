// Package reconcile converges the persistent index toward filesystem
// state: full scans, resumed scans, and incremental application of
// detected changes. Work proceeds in fixed-size batches with one
// transaction each, so cancellation is cheap and progress is durable.
// Metadata extraction fans out across workers; all database writes stay
// on the reconciliation goroutine.
package reconcile
