package lock

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/cdv/internal/store"
)

// openShared opens two independent store handles on one database file,
// standing in for two cdv processes.
func openShared(t *testing.T) (*store.Store, *store.Store) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cdv.db")
	a, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	b, err := store.Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return a, b
}

func TestStoreLocker_ExclusiveAcrossHandles(t *testing.T) {
	ctx := context.Background()
	a, b := openShared(t)
	serve := NewStoreLocker(a)
	oneShot := NewStoreLocker(b)

	lease, ok, err := serve.TryLock(ctx, "job:reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job:reconcile", lease.Name())

	_, ok, err = oneShot.TryLock(ctx, "job:reconcile", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a second process must be refused")

	_, ok, err = oneShot.TryLock(ctx, "job:promote", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per name")

	require.NoError(t, lease.Release(ctx))
	other, ok, err := oneShot.TryLock(ctx, "job:reconcile", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, other.Release(ctx))
}

func TestStoreLocker_ExpiredLeaseCanBeTaken(t *testing.T) {
	ctx := context.Background()
	a, b := openShared(t)
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	first := NewStoreLocker(a)
	first.now = func() time.Time { return now }
	stale, ok, err := first.TryLock(ctx, "job:evaluate", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	second := NewStoreLocker(b)
	second.now = func() time.Time { return now.Add(30 * time.Second) }
	_, ok, err = second.TryLock(ctx, "job:evaluate", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "lease still valid")

	second.now = func() time.Time { return now.Add(2 * time.Minute) }
	_, ok, err = second.TryLock(ctx, "job:evaluate", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lease is taken over")

	assert.ErrorIs(t, stale.Release(ctx), ErrNotHeld, "the old holder must not free the new lease")
	_, ok, err = first.TryLock(ctx, "job:evaluate", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}
