package store

import (
	"context"
	"fmt"
	"time"
)

// AcquireLease takes the named job lease for holder until expires.
// An existing lease is taken over only when it expired at or before now.
// Returns false when another holder has an unexpired lease.
func (s *Store) AcquireLease(ctx context.Context, name, holder string, now, expires time.Time) (bool, error) {
	res, err := s.exec(ctx, `
		INSERT INTO job_locks (name, holder, expires_at) VALUES (?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET holder = excluded.holder, expires_at = excluded.expires_at
		WHERE job_locks.expires_at <= ?
	`, name, holder, formatTime(expires), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: rows affected: %w", name, err)
	}
	return n == 1, nil
}

// ReleaseLease drops the named lease if holder still has it.
// Returns false when the lease expired and was taken over.
func (s *Store) ReleaseLease(ctx context.Context, name, holder string) (bool, error) {
	res, err := s.exec(ctx, `DELETE FROM job_locks WHERE name = ? AND holder = ?`, name, holder)
	if err != nil {
		return false, fmt.Errorf("release lease %s: %w", name, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("release lease %s: rows affected: %w", name, err)
	}
	return n == 1, nil
}
