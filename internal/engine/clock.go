package engine

import (
	"sync/atomic"
	"time"
)

// Clock supplies wall-clock time for timestamps written by the engine.
// Ordering never depends on it alone: every list query ends its ORDER BY in id.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the real time in UTC.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

// ManualClock is a settable clock for tests and replays.
//
// Thread-safety: ManualClock is safe for concurrent use (atomic operations).
type ManualClock struct {
	nanos atomic.Int64
}

// NewManualClock creates a clock frozen at t.
func NewManualClock(t time.Time) *ManualClock {
	c := &ManualClock{}
	c.nanos.Store(t.UnixNano())
	return c
}

// Now returns the current frozen time.
func (c *ManualClock) Now() time.Time {
	return time.Unix(0, c.nanos.Load()).UTC()
}

// Set moves the clock to t.
func (c *ManualClock) Set(t time.Time) {
	c.nanos.Store(t.UnixNano())
}

// Advance moves the clock forward by d and returns the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	return time.Unix(0, c.nanos.Add(int64(d))).UTC()
}
