// Package kv abstracts the key-value store the checkout services keep
// their state in. The store holds opaque byte values with optional TTLs,
// optimistic multi-key transactions and blocking stream reads. RedisStore
// is the production implementation; MemoryStore mirrors its semantics for
// tests.
package kv

import (
	"context"
	"errors"
	"time"
)

// Common errors
var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("key not found")
	// ErrConflict is returned when a watched key changed between the read
	// and the commit of an optimistic transaction.
	ErrConflict = errors.New("concurrent modification")
	// ErrStreamTimeout is returned when a blocking stream read produced no
	// entry within its block window.
	ErrStreamTimeout = errors.New("stream read timed out")
)

// Tx is the handle passed to an Update closure. Reads see committed state;
// Set and Append are queued and applied atomically when the closure
// returns nil, provided none of the watched keys changed meanwhile.
type Tx interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(key string, value []byte, ttl time.Duration)
	Append(stream string, data []byte)
}

// Store is the key-value store interface shared by all services.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	MSet(ctx context.Context, pairs map[string][]byte) error
	Del(ctx context.Context, keys ...string) error

	// Update runs fn inside an optimistic transaction watching keys.
	// When another writer touches a watched key before commit, Update
	// discards the queued writes and returns ErrConflict. Errors from fn
	// abort the transaction and are returned as-is.
	Update(ctx context.Context, keys []string, fn func(tx Tx) error) error

	// ReadStream blocks up to block waiting for the first entry of the
	// given stream and returns its payload, or ErrStreamTimeout.
	ReadStream(ctx context.Context, stream string, block time.Duration) ([]byte, error)

	Close() error
}
