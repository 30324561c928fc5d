// Package syncx provides the concurrency primitives the scheduler is built on:
// a condition variable with timed and context-aware waits, a lock-free
// counter, and a fixed-size worker pool with a plain FIFO job queue.
package syncx

import (
	"context"
	"sync"
	"time"
)

// Cond is a condition variable associated with a Locker.
//
// Unlike sync.Cond it supports bounded waits. Each waiter parks on its own
// channel; Signal closes the oldest one and Broadcast closes all of them.
// A waiter registers before releasing L, so a Signal issued by a goroutine
// holding L can never be missed.
type Cond struct {
	L sync.Locker

	mu      sync.Mutex // guards waiters
	waiters []chan struct{}
}

// NewCond returns a Cond bound to l.
func NewCond(l sync.Locker) *Cond {
	return &Cond{L: l}
}

// Wait atomically unlocks c.L and suspends until signalled, then re-locks c.L.
// The caller must hold c.L.
func (c *Cond) Wait() {
	ch := c.enqueue()
	c.L.Unlock()
	<-ch
	c.L.Lock()
}

// WaitTimeout is Wait bounded by d. It reports true if the waiter was
// signalled and false if the timeout elapsed first.
func (c *Cond) WaitTimeout(d time.Duration) bool {
	if d <= 0 {
		return false
	}

	ch := c.enqueue()
	c.L.Unlock()

	timer := time.NewTimer(d)
	defer timer.Stop()

	signalled := true
	select {
	case <-ch:
	case <-timer.C:
		// A signal may have claimed this waiter between the timer firing
		// and dequeue; in that case the wake-up is honoured.
		signalled = !c.dequeue(ch)
	}

	c.L.Lock()
	return signalled
}

// WaitContext is Wait bounded by ctx. It returns ctx.Err() if the context
// ended before a signal arrived.
func (c *Cond) WaitContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ch := c.enqueue()
	c.L.Unlock()

	var err error
	select {
	case <-ch:
	case <-ctx.Done():
		if c.dequeue(ch) {
			err = ctx.Err()
		}
	}

	c.L.Lock()
	return err
}

// Signal wakes the longest-waiting goroutine, if any.
func (c *Cond) Signal() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.waiters) == 0 {
		return
	}
	ch := c.waiters[0]
	c.waiters[0] = nil
	c.waiters = c.waiters[1:]
	close(ch)
}

// Broadcast wakes every waiting goroutine.
func (c *Cond) Broadcast() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, ch := range c.waiters {
		close(ch)
	}
	c.waiters = nil
}

// Waiters returns the number of goroutines currently parked on c.
func (c *Cond) Waiters() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}

func (c *Cond) enqueue() chan struct{} {
	ch := make(chan struct{})
	c.mu.Lock()
	c.waiters = append(c.waiters, ch)
	c.mu.Unlock()
	return ch
}

// dequeue removes ch from the wait list. It returns false if ch was already
// taken by Signal or Broadcast.
func (c *Cond) dequeue(ch chan struct{}) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for i, w := range c.waiters {
		if w == ch {
			c.waiters = append(c.waiters[:i], c.waiters[i+1:]...)
			return true
		}
	}
	return false
}
