package store

import "sync/atomic"

// epochClock holds the last committed epoch.
//
// Writers compute the next epoch under the store's write lock and publish it
// only after the SQLite transaction commits, so a reader that observes epoch
// e can see every row written at or below e.
//
// Thread-safety: safe for concurrent use (atomic operations).
type epochClock struct {
	seq atomic.Int64
}

// newEpochClockAt creates a clock positioned at a persisted epoch.
func newEpochClockAt(start int64) *epochClock {
	c := &epochClock{}
	c.seq.Store(start)
	return c
}

// Current returns the last committed epoch.
func (c *epochClock) Current() int64 {
	return c.seq.Load()
}

// publish makes epoch visible to new readers. Epochs only move forward.
func (c *epochClock) publish(epoch int64) {
	for {
		cur := c.seq.Load()
		if epoch <= cur || c.seq.CompareAndSwap(cur, epoch) {
			return
		}
	}
}
