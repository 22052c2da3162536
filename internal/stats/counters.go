package stats

import (
	"sync/atomic"
	"time"
)

// Counters tracks advisory connection counts for the status page.
// Values are not used for admission control.
type Counters struct {
	current atomic.Int64
	total   atomic.Int64
	started time.Time
}

// Snapshot is a point-in-time copy of the counters.
type Snapshot struct {
	Current int64
	Total   int64
	Started time.Time
}

// New creates counters with the start time set to now.
func New() *Counters {
	return &Counters{started: time.Now()}
}

// Open records a new in-flight request.
func (c *Counters) Open() {
	c.total.Add(1)
	c.current.Add(1)
}

// Close records a finished request. current never drops below zero.
func (c *Counters) Close() {
	for {
		cur := c.current.Load()
		if cur < 1 {
			return
		}
		if c.current.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// Snapshot returns the current values.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		Current: c.current.Load(),
		Total:   c.total.Load(),
		Started: c.started,
	}
}
