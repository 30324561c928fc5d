package scheduler

import (
	"context"
	"slices"
	"sync"
)

// ResourceLocks provides exclusive access to named resources (output
// directories, lock files) for tasks that run concurrently. Each key gets its
// own one-slot semaphore, so tasks touching disjoint resources never wait on
// each other.
type ResourceLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewResourceLocks creates an empty lock set.
func NewResourceLocks() *ResourceLocks {
	return &ResourceLocks{
		slots: make(map[string]chan struct{}),
	}
}

func (r *ResourceLocks) slot(key string) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	ch, ok := r.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		r.slots[key] = ch
	}
	return ch
}

// Lock acquires key, waiting until it is free or ctx ends.
func (r *ResourceLocks) Lock(ctx context.Context, key string) error {
	select {
	case r.slot(key) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Unlock releases key. Unlocking a key that is not held is a no-op.
func (r *ResourceLocks) Unlock(key string) {
	select {
	case <-r.slot(key):
	default:
	}
}

// LockAll acquires every key, in sorted order so two tasks sharing keys can
// never deadlock. Duplicates are ignored. On success it returns a function
// that releases them all; on failure nothing is held.
func (r *ResourceLocks) LockAll(ctx context.Context, keys []string) (func(), error) {
	sorted := slices.Clone(keys)
	slices.Sort(sorted)
	sorted = slices.Compact(sorted)

	for i, key := range sorted {
		if err := r.Lock(ctx, key); err != nil {
			r.unlockAll(sorted[:i])
			return nil, err
		}
	}
	return func() { r.unlockAll(sorted) }, nil
}

// unlockAll releases keys in reverse acquisition order.
func (r *ResourceLocks) unlockAll(keys []string) {
	for i := len(keys) - 1; i >= 0; i-- {
		r.Unlock(keys[i])
	}
}
