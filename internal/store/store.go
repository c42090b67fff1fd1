// Package store persists the serialized market document.
//
// The engine's persistence surface is exactly one UTF-8 document per
// market key, written whole and read whole. Implementations include a file
// store (the default, standing in for the host's file I/O), PostgreSQL,
// an in-memory store for testing, and a Redis read-through cache wrapper.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Load when no document exists for the key.
// Callers treat it as a cold start, not a failure.
var ErrNotFound = errors.New("store: document not found")

// SnapshotStore loads and saves the single serialized market document.
type SnapshotStore interface {
	// Load returns the document bytes for key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)

	// Save replaces the document for key.
	Save(ctx context.Context, key string, doc []byte) error
}
