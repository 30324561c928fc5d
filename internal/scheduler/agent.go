package scheduler

import (
	"context"
)

// Agent is a consumer identity with the capabilities it offers. The queue
// only compares ids and bit sets; it never interprets them.
type Agent struct {
	ID           string
	Capabilities Capability
}

// Accepts reports whether a may run t: it has every capability t requires
// and t is not reserved for a different agent.
func (a Agent) Accepts(t *Task) bool {
	if t.PreferredAgent != "" && t.PreferredAgent != a.ID {
		return false
	}
	return a.Capabilities.Has(t.Capabilities)
}

// PopForAgent returns the highest-priority ready task a accepts, without
// waiting. Tasks it does not accept stay in the heap for other agents. Like
// TryPop, it keeps draining after Shutdown.
func (q *Queue) PopForAgent(a Agent) (*Task, bool) {
	q.mu.Lock()
	t := q.takeFor(a)
	q.mu.Unlock()

	if t == nil {
		return nil, false
	}
	q.afterPop(t, a.ID)
	return t, true
}

// PopForAgentContext waits until a ready task a accepts is available, ctx
// ends, or the queue shuts down.
func (q *Queue) PopForAgentContext(ctx context.Context, a Agent) (*Task, bool) {
	q.mu.Lock()
	var t *Task
	for !q.shutdown {
		if t = q.takeFor(a); t != nil {
			break
		}
		q.agentWaiters++
		err := q.notEmpty.WaitContext(ctx)
		q.agentWaiters--
		if err != nil {
			break
		}
	}
	q.mu.Unlock()

	if t == nil {
		return nil, false
	}
	q.afterPop(t, a.ID)
	return t, true
}

// takeFor scans the ready heap for the best task a accepts and assigns it.
// Caller holds q.mu.
func (q *Queue) takeFor(a Agent) *Task {
	var best *Task
	for i := 0; i < q.ready.Len(); i++ {
		t := q.ready.at(i)
		if !a.Accepts(t) {
			continue
		}
		if best == nil || before(t, best) {
			best = t
		}
	}
	if best == nil {
		return nil
	}
	q.ready.remove(best)
	q.assign(best, a.ID)
	return best
}
