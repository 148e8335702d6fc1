package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// LocalLocker is an in-process Locker for single-replica deployments.
//
// Thread-safety: LocalLocker is safe for concurrent use via internal mutex.
type LocalLocker struct {
	mu   sync.Mutex
	now  func() time.Time
	held map[string]localEntry
}

type localEntry struct {
	token   string
	expires time.Time
}

// NewLocalLocker creates an empty in-process locker.
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{now: time.Now, held: map[string]localEntry{}}
}

// TryLock takes the lock unless an unexpired lease holds it.
func (l *LocalLocker) TryLock(_ context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if cur, ok := l.held[name]; ok && now.Before(cur.expires) {
		return nil, false, nil
	}
	token := uuid.NewString()
	l.held[name] = localEntry{token: token, expires: now.Add(ttl)}
	return &localLease{locker: l, name: name, token: token}, true, nil
}

type localLease struct {
	locker *LocalLocker
	name   string
	token  string
}

func (le *localLease) Name() string { return le.name }

// Release frees the lock if this lease still holds it.
func (le *localLease) Release(_ context.Context) error {
	l := le.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	cur, ok := l.held[le.name]
	if !ok || cur.token != le.token {
		return ErrNotHeld
	}
	delete(l.held, le.name)
	return nil
}
