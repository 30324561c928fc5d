package scheduler

// handle is a stable index into the arena. The heap, the blocked set, the
// in-flight set and the id index all refer to tasks by handle.
type handle int32

const noHandle handle = -1

// location records which container currently holds a live task.
type location uint8

const (
	locNone location = iota
	locReady
	locBlocked
	locInFlight
)

// arena is a growable slab of task slots with a free list.
type arena struct {
	slots []*Task
	free  []handle
}

func (a *arena) alloc(t *Task) handle {
	var h handle
	if n := len(a.free); n > 0 {
		h = a.free[n-1]
		a.free = a.free[:n-1]
		a.slots[h] = t
	} else {
		h = handle(len(a.slots))
		a.slots = append(a.slots, t)
	}
	t.handle = h
	return h
}

func (a *arena) get(h handle) *Task {
	return a.slots[h]
}

func (a *arena) release(h handle) {
	if t := a.slots[h]; t != nil {
		t.handle = noHandle
		t.loc = locNone
		t.heapIndex = -1
	}
	a.slots[h] = nil
	a.free = append(a.free, h)
}

func (a *arena) live() int {
	return len(a.slots) - len(a.free)
}

func (a *arena) reset() {
	for _, t := range a.slots {
		if t != nil {
			t.handle = noHandle
			t.loc = locNone
			t.heapIndex = -1
		}
	}
	a.slots = nil
	a.free = nil
}
