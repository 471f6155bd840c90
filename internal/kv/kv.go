// Package kv provides the durable, TTL-bearing key-value store used to
// persist invite records and session-resume hints. All keys carry a TTL;
// nothing in this store is expected to live forever.
package kv

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist (expired or
// never written).
var ErrNotFound = errors.New("kv: key not found")

// Store is the durable key-value interface the rest of the broker depends
// on. Values are opaque byte slices; callers marshal their own JSON.
type Store interface {
	// Get returns the value for key, or ErrNotFound if absent/expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes value under key with the given TTL. A TTL of zero means
	// no expiration is requested (callers in this codebase always pass a
	// positive TTL per the data model in spec.md §3/§6).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key; it is not an error if the key is absent.
	Delete(ctx context.Context, key string) error

	// Ping verifies connectivity to the backing store.
	Ping(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
