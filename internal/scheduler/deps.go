package scheduler

// depTracker propagates completion events to blocked dependents. All methods
// assume the queue lock is held.
//
// Only prerequisites that were live (or finished unsuccessfully) when the
// edge was added are tracked; completed and never-seen ids count as already
// satisfied and create no edge.
type depTracker struct {
	remaining map[string]int        // blocked task id -> unmet prerequisite count
	waiters   map[string][]string   // prerequisite id -> blocked task ids naming it
	outcomes  map[string]TaskStatus // retired tasks that did not complete
}

func newDepTracker() *depTracker {
	return &depTracker{
		remaining: make(map[string]int),
		waiters:   make(map[string][]string),
		outcomes:  make(map[string]TaskStatus),
	}
}

// block records that taskID waits on prereqID.
func (d *depTracker) block(taskID, prereqID string) {
	d.waiters[prereqID] = append(d.waiters[prereqID], taskID)
	d.remaining[taskID]++
}

// waitsOn reports whether taskID is currently blocked on prereqID.
func (d *depTracker) waitsOn(taskID, prereqID string) bool {
	for _, id := range d.waiters[prereqID] {
		if id == taskID {
			return true
		}
	}
	return false
}

// release is called when prereqID completes. It returns the dependents whose
// last unmet prerequisite was prereqID, in the order they were blocked.
func (d *depTracker) release(prereqID string) []string {
	var ready []string
	for _, id := range d.waiters[prereqID] {
		d.remaining[id]--
		if d.remaining[id] <= 0 {
			delete(d.remaining, id)
			ready = append(ready, id)
		}
	}
	delete(d.waiters, prereqID)
	return ready
}

// forget drops every edge held by taskID, which is leaving the blocked set
// without its prerequisites completing.
func (d *depTracker) forget(taskID string, prereqs []string) {
	for _, p := range prereqs {
		list := d.waiters[p]
		for i, id := range list {
			if id == taskID {
				list = append(list[:i], list[i+1:]...)
				break
			}
		}
		if len(list) == 0 {
			delete(d.waiters, p)
		} else {
			d.waiters[p] = list
		}
	}
	delete(d.remaining, taskID)
}

// dependents returns a copy of the ids blocked on id.
func (d *depTracker) dependents(id string) []string {
	return append([]string(nil), d.waiters[id]...)
}

// reaches reports whether target transitively waits on from. Adding the edge
// "from waits on target" would then close a cycle.
func (d *depTracker) reaches(from, target string) bool {
	if from == target {
		return true
	}
	seen := map[string]struct{}{from: {}}
	stack := []string{from}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, next := range d.waiters[node] {
			if next == target {
				return true
			}
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			stack = append(stack, next)
		}
	}
	return false
}

// record remembers how a retired task ended. A completed id satisfies
// dependents exactly like an unknown one, so only other outcomes are kept.
func (d *depTracker) record(id string, status TaskStatus) {
	if status == TaskCompleted {
		delete(d.outcomes, id)
		return
	}
	d.outcomes[id] = status
}

func (d *depTracker) outcome(id string) (TaskStatus, bool) {
	st, ok := d.outcomes[id]
	return st, ok
}

func (d *depTracker) clearOutcome(id string) {
	delete(d.outcomes, id)
}

// reset drops every edge and every remembered outcome.
func (d *depTracker) reset() {
	d.remaining = make(map[string]int)
	d.waiters = make(map[string][]string)
	d.outcomes = make(map[string]TaskStatus)
}

func (d *depTracker) remembered() int {
	return len(d.outcomes)
}
