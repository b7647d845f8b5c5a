// Package kv defines the ephemeral coordination store used for the §3 KV
// schema (seen-bits, locks, token buckets, sliding windows, SimHash
// fingerprints and LSH band segments) and provides two implementations:
// a Redis-backed Store for production and a MemoryStore for tests, in the
// spirit of the teacher's memoryCache but generalized past boolean sets.
package kv

import (
	"context"
	"time"
)

// Store is the minimal surface every component in the pipeline needs from
// the ephemeral coordination store. Atomic multi-step operations (token
// bucket refill, sliding-window trim+add, compare-and-delete release) are
// each a single method so the critical section can run server-side on a
// real backend (a Lua script on Redis) without round-tripping.
type Store interface {
	// Get returns the raw value stored at key, or ok=false if absent/expired.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set stores value at key with the given TTL (0 means no expiry).
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// SetNX stores value at key only if it does not already exist, returning
	// whether the set happened. Used to acquire the distributed mutex.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete deletes key only if its current value equals expect,
	// the primitive the distributed mutex's release builds on.
	CompareAndDelete(ctx context.Context, key, expect string) (bool, error)
	// Incr adds delta to the integer stored at key (default 0), returning
	// the new value, and refreshes its TTL if ttl > 0.
	Incr(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error)

	// TokenBucketTake atomically refills and takes one token from the
	// bucket at key, per §4.3's token-bucket formula. Returns whether a
	// token was available.
	TokenBucketTake(ctx context.Context, key string, capacity float64, refillPerSec float64, ttl time.Duration) (bool, error)

	// WindowAdd atomically trims entries older than windowSeconds from the
	// sorted set at key and, if the remaining cardinality is below
	// maxEntries, adds nowMillis and returns true; otherwise leaves the set
	// untouched and returns false.
	WindowAdd(ctx context.Context, key string, nowMillis int64, windowSeconds int, maxEntries int, ttl time.Duration) (bool, error)

	// SetAdd adds member to the set at key (used for LSH band buckets).
	SetAdd(ctx context.Context, key, member string, ttl time.Duration) error
	// SetMembers returns all members of the set at key.
	SetMembers(ctx context.Context, key string) ([]string, error)

	// ResetRateLimit clears every bit of state a token bucket or sliding
	// window keeps under key, including whatever sub-keys a given backend
	// derives from it (Redis's ":tokens"/":last_refill" pair), so a caller
	// doesn't need to know the backend's internal key layout to reset one.
	ResetRateLimit(ctx context.Context, key string) error
}
