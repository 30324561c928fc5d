package scheduler

import (
	"container/heap"
	"fmt"
)

const minHeapCap = 16

// readyHeap is a binary max-heap of tasks whose dependencies are satisfied.
// Higher priority pops first; equal priorities pop in push order. Every swap
// records the moved tasks' new slots so a task can be removed from the
// middle in O(log n) via its stored heapIndex.
type readyHeap struct {
	items []handle
	arena *arena
}

func newReadyHeap(a *arena) *readyHeap {
	return &readyHeap{
		items: make([]handle, 0, minHeapCap),
		arena: a,
	}
}

// before is the heap order: a pops before b.
func before(a, b *Task) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.seq < b.seq
}

func (h *readyHeap) Len() int { return len(h.items) }

func (h *readyHeap) Less(i, j int) bool {
	return before(h.arena.get(h.items[i]), h.arena.get(h.items[j]))
}

func (h *readyHeap) Swap(i, j int) {
	h.items[i], h.items[j] = h.items[j], h.items[i]
	h.arena.get(h.items[i]).heapIndex = i
	h.arena.get(h.items[j]).heapIndex = j
}

// Push implements heap.Interface. Use insert instead.
func (h *readyHeap) Push(x any) {
	hd := x.(handle)
	if len(h.items) == cap(h.items) {
		grown := make([]handle, len(h.items), max(2*cap(h.items), minHeapCap))
		copy(grown, h.items)
		h.items = grown
	}
	h.items = append(h.items, hd)
	h.arena.get(hd).heapIndex = len(h.items) - 1
}

// Pop implements heap.Interface. Use popRoot or remove instead.
func (h *readyHeap) Pop() any {
	n := len(h.items) - 1
	hd := h.items[n]
	h.items = h.items[:n]
	h.arena.get(hd).heapIndex = -1
	return hd
}

func (h *readyHeap) insert(t *Task) {
	t.loc = locReady
	heap.Push(h, t.handle)
}

func (h *readyHeap) peek() *Task {
	if len(h.items) == 0 {
		return nil
	}
	return h.arena.get(h.items[0])
}

func (h *readyHeap) popRoot() *Task {
	if len(h.items) == 0 {
		return nil
	}
	t := h.arena.get(heap.Pop(h).(handle))
	t.loc = locNone
	return t
}

// remove takes t out of the heap using its stored slot.
func (h *readyHeap) remove(t *Task) {
	i := t.heapIndex
	if i < 0 || i >= len(h.items) || h.items[i] != t.handle {
		panic(fmt.Sprintf("scheduler: heap slot desync for task %q (slot %d)", t.ID, i))
	}
	heap.Remove(h, i)
	t.loc = locNone
}

func (h *readyHeap) at(i int) *Task {
	return h.arena.get(h.items[i])
}

func (h *readyHeap) reset() {
	h.items = h.items[:0]
}

// verify checks the heap order and slot bookkeeping. Used by tests.
func (h *readyHeap) verify() error {
	for i, hd := range h.items {
		t := h.arena.get(hd)
		if t.heapIndex != i {
			return fmt.Errorf("task %q at slot %d records slot %d", t.ID, i, t.heapIndex)
		}
		if i > 0 {
			parent := h.arena.get(h.items[(i-1)/2])
			if before(t, parent) {
				return fmt.Errorf("task %q at slot %d outranks its parent %q", t.ID, i, parent.ID)
			}
		}
	}
	return nil
}
