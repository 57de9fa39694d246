// Package kv provides the local persistent key-value store backing the
// offline queue and the cache persister.
//
// The contract is deliberately small: durable across restarts, best-effort,
// may fail. Callers own the fallback behavior when it does.
package kv

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Get when no value exists for the key.
var ErrNotFound = errors.New("kv: key not found")

// Store is a string-keyed byte store.
type Store interface {
	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the value under key. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error
}
