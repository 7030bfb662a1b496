// Package cache provides the namespaced TTL cache used by the API client,
// the expander, and the extractor.
//
// DESIGN: Manager owns key derivation, serialisation, and TTL classes; the
// Backend interface owns bytes. Three backends ship: memory (default),
// redis (multi-instance deployments), and sqlite (single-host disk cache).
// The cache is never on the critical path for correctness: backend errors
// degrade to misses and are logged, never propagated.
package cache

import (
	"context"
	"time"
)

// Backend is the byte-oriented cache a Manager writes through.
// Implementations are responsible for their own concurrency.
type Backend interface {
	// Get returns the value for key, or ok=false on miss.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key. Zero ttl means no expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// GetMany returns the present subset of keys.
	GetMany(ctx context.Context, keys []string) (map[string][]byte, error)

	// DeletePattern removes all keys matching the glob pattern.
	DeletePattern(ctx context.Context, pattern string) error

	// Close releases backend resources.
	Close() error
}
