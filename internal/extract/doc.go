// Package extract is the derived-asset collaborator: content hashing,
// image dimension probing and thumbnail generation for indexed files.
package extract
