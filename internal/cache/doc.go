// Package cache implements the freshness-checked read-through cache for
// folder-tree and per-folder listing queries. Entries are tagged with
// the index's modification version and never served stale.
package cache
