// Package cache provides a generic, thread-safe message cache with TTL
// expiry and access-frequency eviction.
//
// Entries expire lazily on read (no background janitor); when the cache is
// at capacity, Put evicts the entry with the lowest access count, breaking
// ties by oldest insertion. Statistics are always collected; Prometheus
// metrics are optional via functional options.
package cache

import (
	"time"

	"github.com/c360/agentmesh/errors"
)

// Cache is a generic TTL cache parameterized by value type V.
type Cache[V any] interface {
	// Get retrieves a value by key, returning false for missing or expired
	// entries. A hit increments the entry's access count.
	Get(key string) (V, bool)

	// Put stores a value with the given per-entry TTL. A non-positive ttl
	// uses the cache's default. Returns true if a new entry was created.
	Put(key string, value V, ttl time.Duration) (bool, error)

	// Delete removes an entry by key. Returns true if the key existed.
	Delete(key string) (bool, error)

	// Clear removes all entries from the cache.
	Clear() error

	// Size returns the current number of entries in the cache.
	Size() int

	// Keys returns all non-expired keys currently in the cache.
	Keys() []string

	// Stats returns cache statistics.
	Stats() *Statistics
}

// EvictCallback is called when an entry is evicted from the cache.
type EvictCallback[V any] func(key string, value V)

// validateKey validates a cache key for basic requirements.
func validateKey(key string) error {
	if key == "" {
		return errors.WrapInvalid(errors.ErrInvalidData, "cache", "validateKey", "key cannot be empty")
	}
	return nil
}
