// Package pool provides reference-counted lifecycle management for the
// per-library index store handles, with timed reclamation of idle ones.
package pool
