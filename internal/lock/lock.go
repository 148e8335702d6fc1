// Package lock provides named, exclusive, expiring locks for batch jobs.
//
// Each job type (promote, reconcile, evaluate, mint-uibs) takes its lock
// before running. A job that cannot take the lock skips that tick.
// StoreLocker shares locks between processes on one database, RedisLocker
// between hosts, and LocalLocker only within a process. Locks
// avoid wasted work between replicas; correctness of the engine never
// depends on them.
package lock

import (
	"context"
	"errors"
	"time"
)

// ErrNotHeld is returned by Release when the lease expired or was taken
// over by another holder.
var ErrNotHeld = errors.New("lock not held")

// Locker hands out leases on named locks.
type Locker interface {
	// TryLock takes the named lock for at most ttl without waiting.
	// Returns ok=false when another holder has it.
	TryLock(ctx context.Context, name string, ttl time.Duration) (lease Lease, ok bool, err error)
}

// Lease is a held lock.
type Lease interface {
	Name() string
	Release(ctx context.Context) error
}
