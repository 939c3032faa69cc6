// Package lock provides per-key mutual exclusion, in-process or across
// processes through Redis.
package lock

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotAcquired is returned when ctx ends before the lock is obtained.
	ErrNotAcquired = errors.New("lock not acquired")

	// ErrNotHeld is returned by Release when the lease expired or was taken over.
	ErrNotHeld = errors.New("lock not held")
)

// Locker acquires exclusive leases on string keys.
type Locker interface {
	// Acquire blocks until the key is locked or ctx is done. ttl bounds how
	// long a crashed holder can keep the key; in-process lockers ignore it.
	Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error)
}

// Lease is a held lock.
type Lease interface {
	Release(ctx context.Context) error
}
