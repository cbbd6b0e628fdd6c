// Package detect watches library roots for filesystem changes and
// feeds batched ChangeSets to the scan coordinator. Two interchangeable
// strategies exist: a polling detector that re-stats directory mtimes
// on an interval, and an event detector built on native filesystem
// notifications with adaptive debouncing.
package detect
