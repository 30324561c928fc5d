package syncx

import "sync/atomic"

// Counter is a lock-free int64 counter for statistics that do not need the
// queue lock.
type Counter struct {
	v atomic.Int64
}

// Inc adds one and returns the new value.
func (c *Counter) Inc() int64 { return c.v.Add(1) }

// Dec subtracts one and returns the new value.
func (c *Counter) Dec() int64 { return c.v.Add(-1) }

// Add adds delta and returns the new value.
func (c *Counter) Add(delta int64) int64 { return c.v.Add(delta) }

// Load returns the current value.
func (c *Counter) Load() int64 { return c.v.Load() }

// Store sets the value.
func (c *Counter) Store(v int64) { c.v.Store(v) }
