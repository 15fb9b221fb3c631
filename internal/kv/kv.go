// Package kv wraps the external key/expiry store (Redis) behind the small
// set of primitives the ledger and health monitor need. All cross-process
// coordination goes through this store; the daemon holds no in-process
// locks of its own.
package kv

import (
	"context"
	"time"
)

// Store is the key/expiry contract. The admission-critical operation is
// AcquireSlot, which must combine the quota check and the increment into a
// single atomic step on the store side.
type Store interface {
	// AcquireSlot atomically increments key and checks it against max.
	// The first increment of a bucket sets its expiry to ttl. If the new
	// value would exceed max the increment is rolled back and false is
	// returned.
	AcquireSlot(ctx context.Context, key string, max int64, ttl time.Duration) (bool, error)

	// ReleaseSlot decrements key, never below zero. Releasing a key that
	// has already expired is a no-op.
	ReleaseSlot(ctx context.Context, key string) error

	// IncrWithExpiry increments key without a cap and refreshes its expiry.
	// Used for the rolling stats counters.
	IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	GetInt(ctx context.Context, key string) (int64, error)
	SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Delete(ctx context.Context, keys ...string) error
	Keys(ctx context.Context, pattern string) ([]string, error)
}
