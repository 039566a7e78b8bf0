// Package cache is the fast, expiring shared-state tier of the delivery
// path. It holds chatroom rosters (cache-aside over the durable store) and
// the per-message acknowledgement accumulators that are flushed to the
// durable store once a message is fully acknowledged.
//
// Two Store backends exist: an in-process map (default) and a Pebble
// key-value store, selected with CACHE_BACKEND.
package cache

import (
	"errors"
	"fmt"
	"time"
)

// Store is a byte-oriented key/value store with per-key expiry. A zero ttl
// means the entry never expires.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, val []byte, ttl time.Duration) error
	Delete(key string) error
	Close() error
}

// Sweeper is implemented by stores that can drop expired entries in bulk.
type Sweeper interface {
	Sweep() (int, error)
}

// PrefixDeleter is implemented by stores that can drop every key sharing a
// prefix, expired or not.
type PrefixDeleter interface {
	DeletePrefix(prefix string) (int, error)
}

// ErrUnknownBackend is returned by Open for unsupported backend names.
var ErrUnknownBackend = errors.New("cache: unknown backend")

// Open builds the Store named by backend ("memory" or "pebble"). path is
// only used by the pebble backend.
func Open(backend, path string) (Store, error) {
	switch backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "pebble":
		return OpenPebbleStore(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
