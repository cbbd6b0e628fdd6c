// Package library manages the registry of indexed media libraries.
package library
