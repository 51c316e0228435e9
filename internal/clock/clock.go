// Package clock keeps process-wide corrected wall time.
// OS clock stays untouched, correction is an offset learned from network time.
package clock

import (
	"sync/atomic"
	"time"

	"github.com/temoto/atomic_clock"
)

// Zero value is usable and reports uncorrected OS time.
type Clock struct {
	offset int64 // atomic, nanoseconds added to OS time
	synced atomic_clock.Clock
}

func New() *Clock { return &Clock{} }

// Now returns corrected time in UTC, monotonic under the hood.
func (c *Clock) Now() time.Time {
	d := time.Duration(atomic.LoadInt64(&c.offset))
	return time.Now().Add(d).UTC()
}

// Set learns new correction so that Now()==t at the moment of the call.
func (c *Clock) Set(t time.Time) {
	d := time.Until(t)
	atomic.StoreInt64(&c.offset, int64(d))
	c.synced.SetNow()
}

func (c *Clock) Offset() time.Duration {
	return time.Duration(atomic.LoadInt64(&c.offset))
}

func (c *Clock) Synced() bool { return !c.synced.IsZero() }

func (c *Clock) SinceSync() time.Duration {
	if c.synced.IsZero() {
		return 0
	}
	return atomic_clock.Since(&c.synced)
}
