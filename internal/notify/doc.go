// Package notify provides the per-library fire-and-forget event bus for
// scan progress and sync notifications.
package notify
