package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// LeaseStore persists job leases. *store.Store implements it with a
// job_locks row per name.
type LeaseStore interface {
	AcquireLease(ctx context.Context, name, holder string, now, expires time.Time) (bool, error)
	ReleaseLease(ctx context.Context, name, holder string) (bool, error)
}

// StoreLocker is a Locker shared by every process that opens the same
// database. It is the default when Redis is not configured.
type StoreLocker struct {
	leases LeaseStore
	now    func() time.Time
}

// NewStoreLocker creates a locker over the given lease store.
func NewStoreLocker(leases LeaseStore) *StoreLocker {
	return &StoreLocker{leases: leases, now: time.Now}
}

// TryLock takes the lock unless an unexpired lease in the store holds it.
func (l *StoreLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	token := uuid.NewString()
	now := l.now()
	ok, err := l.leases.AcquireLease(ctx, name, token, now, now.Add(ttl))
	if err != nil || !ok {
		return nil, false, err
	}
	return &storeLease{leases: l.leases, name: name, token: token}, true, nil
}

type storeLease struct {
	leases LeaseStore
	name   string
	token  string
}

func (le *storeLease) Name() string { return le.name }

// Release deletes the lease row if this lease still holds it.
func (le *storeLease) Release(ctx context.Context) error {
	ok, err := le.leases.ReleaseLease(ctx, le.name, le.token)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotHeld
	}
	return nil
}
