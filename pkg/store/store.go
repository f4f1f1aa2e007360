// Package store abstracts the flat key/value object store the revisions
// index is built on. Keys are "/"-separated strings; there is no directory
// concept beyond what callers encode in the key itself.
package store

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Value when the key does not exist.
var ErrNotFound = errors.New("store: key not found")

// Store is the storage contract the revisions index core, the indexer, and
// the read endpoints are all built against. Implementations must be safe
// for concurrent use.
type Store interface {
	// List returns every key whose string form begins with prefix + "/" or
	// equals prefix. An empty prefix lists the whole store (the root search
	// endpoint's use case). Order is unspecified.
	List(ctx context.Context, prefix string) ([]string, error)
	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)
	// Value returns the bytes stored at key, or ErrNotFound if absent.
	Value(ctx context.Context, key string) ([]byte, error)
	// Save creates or atomically replaces the value at key.
	Save(ctx context.Context, key string, data []byte) error
	// Delete removes key. Idempotent: deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
