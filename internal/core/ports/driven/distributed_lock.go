package driven

import (
	"context"
	"time"
)

// DistributedLock provides named mutual exclusion across instances.
// Used to serialize sync runs per connection.
// Implementations: Redis SETNX (preferred) or Postgres advisory locks.
type DistributedLock interface {
	// Acquire attempts to take the named lock with a TTL.
	// Returns true if acquired, false if held elsewhere.
	Acquire(ctx context.Context, name string, ttl time.Duration) (bool, error)

	// Release releases the named lock if held by this instance.
	Release(ctx context.Context, name string) error

	// Extend pushes out the TTL of a held lock.
	Extend(ctx context.Context, name string, ttl time.Duration) error

	// Ping checks backend health.
	Ping(ctx context.Context) error
}
