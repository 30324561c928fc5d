package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/syncx"
)

// Sentinel errors returned by queue operations.
var (
	ErrShutdown           = errors.New("queue is shut down")
	ErrInvalidTask        = errors.New("invalid task")
	ErrDuplicateTask      = errors.New("task already queued")
	ErrTaskNotFound       = errors.New("task not found")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrDependencyCycle    = errors.New("dependency would create a cycle")
	ErrPrerequisiteFailed = errors.New("prerequisite did not complete")
	ErrTimedOut           = errors.New("task exceeded its timeout")
)

// Options configures a Queue.
type Options struct {
	Logger *slog.Logger
	Events events.Publisher // Optional; events are published after the lock is released

	// CascadeFailures makes a failed, timed-out or cancelled task cancel
	// every dependent still blocked on it, and rejects pushes that name a
	// prerequisite which already finished unsuccessfully. Off by default:
	// such dependents stay blocked until cancelled explicitly.
	CascadeFailures bool
}

// Stats is a snapshot of queue counters.
type Stats struct {
	Pushed    int64
	Popped    int64
	Completed int64
	Failed    int64
	Cancelled int64
	TimedOut  int64
	Rejected  int64

	Ready    int
	Blocked  int
	InFlight int
}

// Queue is a concurrent, dependency-aware priority task queue.
//
// Tasks whose prerequisites are satisfied sit in a ready heap ordered by
// priority then push order; the rest wait in a blocked set until the
// dependency tracker promotes them. Popped tasks move to an in-flight set
// until the consumer drives them to a terminal state.
//
// All methods are safe for concurrent use. A single mutex guards every
// shared structure; callbacks and event publication run after it is
// released.
type Queue struct {
	mu       sync.Mutex
	notEmpty *syncx.Cond

	arena    arena
	ready    *readyHeap
	blocked  map[string]handle
	inflight map[string]handle
	index    map[string]handle
	deps     *depTracker

	seq          uint64
	shutdown     bool
	agentWaiters int
	cascade      bool

	logger *slog.Logger
	events events.Publisher

	pushed    syncx.Counter
	popped    syncx.Counter
	completed syncx.Counter
	failed    syncx.Counter
	cancelled syncx.Counter
	timedOut  syncx.Counter
	rejected  syncx.Counter
}

// New creates an empty queue.
func New(opts Options) *Queue {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	q := &Queue{
		blocked:  make(map[string]handle),
		inflight: make(map[string]handle),
		index:    make(map[string]handle),
		deps:     newDepTracker(),
		cascade:  opts.CascadeFailures,
		logger:   logger,
		events:   opts.Events,
	}
	q.ready = newReadyHeap(&q.arena)
	q.notEmpty = syncx.NewCond(&q.mu)
	return q
}

// Push hands t to the queue. On success the queue owns the task; on failure
// the caller keeps it.
//
// Prerequisites that are live in the queue block the task until they
// complete. Prerequisites that already completed, or that the queue has
// never seen, count as satisfied. A prerequisite that finished without
// completing keeps the task blocked (or rejects it in cascade mode).
func (q *Queue) Push(t *Task) error {
	if t == nil {
		q.rejected.Inc()
		return fmt.Errorf("%w: nil task", ErrInvalidTask)
	}
	if st := t.Status(); st != TaskPending {
		q.rejected.Inc()
		return fmt.Errorf("%w: %s is %s", ErrInvalidTask, t.ID, st)
	}
	if t.Priority < PriorityLow || t.Priority > PriorityCritical {
		q.rejected.Inc()
		return fmt.Errorf("%w: %s has %s", ErrInvalidTask, t.ID, t.Priority)
	}

	q.mu.Lock()
	if err := q.admit(t); err != nil {
		q.mu.Unlock()
		q.rejected.Inc()
		return err
	}
	blocked := t.loc == locBlocked
	q.mu.Unlock()

	q.pushed.Inc()
	q.logger.Debug("task pushed", "task_id", t.ID, "priority", t.Priority.String(), "blocked", blocked)
	q.publish(events.TopicTask, events.TaskPushedEvent{
		ID:        t.ID,
		Priority:  t.Priority.String(),
		Blocked:   blocked,
		Timestamp: time.Now(),
	})
	return nil
}

// admit validates and routes t. Caller holds q.mu.
func (q *Queue) admit(t *Task) error {
	if q.shutdown {
		return ErrShutdown
	}
	if t.ID != "" {
		if _, dup := q.index[t.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
		}
	}
	t.init(time.Now())

	var waitOn []string
	seen := make(map[string]struct{}, len(t.DependsOn))
	for _, p := range t.DependsOn {
		if _, ok := seen[p]; ok || p == "" {
			continue
		}
		seen[p] = struct{}{}

		if p == t.ID {
			return fmt.Errorf("%w: %s depends on itself", ErrDependencyCycle, t.ID)
		}
		if _, live := q.index[p]; live {
			waitOn = append(waitOn, p)
			continue
		}
		if st, ok := q.deps.outcome(p); ok && st != TaskCompleted {
			if q.cascade {
				return fmt.Errorf("%w: %s requires %s (%s)", ErrPrerequisiteFailed, t.ID, p, st)
			}
			waitOn = append(waitOn, p)
		}
	}
	for _, p := range waitOn {
		if q.deps.reaches(t.ID, p) {
			return fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, t.ID, p)
		}
	}

	q.deps.clearOutcome(t.ID)
	q.seq++
	t.seq = q.seq
	t.prereqs = waitOn
	h := q.arena.alloc(t)
	q.index[t.ID] = h

	if len(waitOn) == 0 {
		q.ready.insert(t)
		q.wake(1)
		return nil
	}
	for _, p := range waitOn {
		q.deps.block(t.ID, p)
	}
	q.blocked[t.ID] = h
	t.loc = locBlocked
	return nil
}

// Pop blocks until a ready task is available and returns it, or returns
// false once the queue is shut down.
func (q *Queue) Pop() (*Task, bool) {
	return q.PopContext(context.Background())
}

// PopContext is Pop bounded by ctx.
func (q *Queue) PopContext(ctx context.Context) (*Task, bool) {
	q.mu.Lock()
	for !q.shutdown && q.ready.Len() == 0 {
		if err := q.notEmpty.WaitContext(ctx); err != nil {
			q.mu.Unlock()
			return nil, false
		}
	}
	if q.shutdown {
		q.mu.Unlock()
		return nil, false
	}
	t := q.ready.popRoot()
	q.assign(t, "")
	q.mu.Unlock()

	q.afterPop(t, "")
	return t, true
}

// PopTimeout is Pop bounded by d. It returns false on timeout or shutdown.
func (q *Queue) PopTimeout(d time.Duration) (*Task, bool) {
	deadline := time.Now().Add(d)

	q.mu.Lock()
	for !q.shutdown && q.ready.Len() == 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			q.mu.Unlock()
			return nil, false
		}
		q.notEmpty.WaitTimeout(remaining)
	}
	if q.shutdown {
		q.mu.Unlock()
		return nil, false
	}
	t := q.ready.popRoot()
	q.assign(t, "")
	q.mu.Unlock()

	q.afterPop(t, "")
	return t, true
}

// TryPop returns the highest-priority ready task without waiting. It keeps
// draining the ready heap after Shutdown so callers can collect leftovers.
func (q *Queue) TryPop() (*Task, bool) {
	q.mu.Lock()
	t := q.ready.popRoot()
	if t == nil {
		q.mu.Unlock()
		return nil, false
	}
	q.assign(t, "")
	q.mu.Unlock()

	q.afterPop(t, "")
	return t, true
}

// Peek returns the task Pop would return next without removing it.
func (q *Queue) Peek() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t := q.ready.peek()
	return t, t != nil
}

// Get looks up a live task (ready, blocked or in flight) by id.
func (q *Queue) Get(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.index[id]
	if !ok {
		return nil, false
	}
	return q.arena.get(h), true
}

// Remove takes a not-yet-popped task out of the queue and returns ownership
// to the caller. The task stays pending and no callbacks fire. In-flight
// tasks cannot be removed.
func (q *Queue) Remove(id string) (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.index[id]
	if !ok {
		return nil, false
	}
	t := q.arena.get(h)
	switch t.loc {
	case locReady:
		q.ready.remove(t)
	case locBlocked:
		q.unblock(t)
	default:
		return nil, false
	}
	delete(q.index, id)
	q.arena.release(h)
	t.prereqs = nil
	return t, true
}

// Cancel cancels a task.
//
// A pending task is removed from the ready heap or blocked set immediately
// and its callbacks never fire. An in-flight task is marked cancelled and
// its Done channel closed; the consumer running it is expected to notice
// and stop. Cancellation never satisfies dependents.
func (q *Queue) Cancel(id string) error {
	now := time.Now()

	q.mu.Lock()
	h, ok := q.index[id]
	if !ok {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	t := q.arena.get(h)
	switch t.loc {
	case locReady:
		q.ready.remove(t)
	case locBlocked:
		q.unblock(t)
	case locInFlight:
		delete(q.inflight, id)
	}

	t.mu.Lock()
	t.status = TaskCancelled
	t.completedAt = now
	t.interrupt()
	t.mu.Unlock()

	q.retire(t, TaskCancelled)
	cascaded := q.cascadeFrom(id, now)
	q.mu.Unlock()

	q.cancelled.Add(int64(1 + len(cascaded)))
	q.logger.Debug("task cancelled", "task_id", id)
	q.publish(events.TopicTask, events.TaskCancelledEvent{ID: id, Timestamp: now})
	q.publishCascade(id, cascaded, now)
	return nil
}

// AddDependency makes a still-pending task wait on prereqID. Edges that
// would close a cycle are rejected. A prerequisite that has already
// completed, or is unknown, is satisfied and adds nothing.
func (q *Queue) AddDependency(id, prereqID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.index[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	t := q.arena.get(h)
	if t.loc != locReady && t.loc != locBlocked {
		return fmt.Errorf("%w: %s is already %s", ErrInvalidTransition, id, t.Status())
	}
	if id == prereqID {
		return fmt.Errorf("%w: %s depends on itself", ErrDependencyCycle, id)
	}

	_, live := q.index[prereqID]
	st, finished := q.deps.outcome(prereqID)
	switch {
	case live:
	case finished && st != TaskCompleted:
		if q.cascade {
			return fmt.Errorf("%w: %s requires %s (%s)", ErrPrerequisiteFailed, id, prereqID, st)
		}
	default:
		return nil
	}
	if q.deps.waitsOn(id, prereqID) {
		return nil
	}
	if q.deps.reaches(id, prereqID) {
		return fmt.Errorf("%w: %s -> %s", ErrDependencyCycle, id, prereqID)
	}

	if t.loc == locReady {
		q.ready.remove(t)
		q.blocked[id] = h
		t.loc = locBlocked
	}
	q.deps.block(id, prereqID)
	t.prereqs = append(t.prereqs, prereqID)
	return nil
}

// Count returns the number of tasks not yet popped: ready plus blocked.
func (q *Queue) Count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() + len(q.blocked)
}

// IsEmpty reports whether Count is zero.
func (q *Queue) IsEmpty() bool {
	return q.Count() == 0
}

// InFlight returns the number of popped tasks not yet terminal.
func (q *Queue) InFlight() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.inflight)
}

// Idle reports whether nothing is ready and nothing is in flight. Blocked
// tasks may remain; with nothing running they can never be released.
func (q *Queue) Idle() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ready.Len() == 0 && len(q.inflight) == 0
}

// Shutdown stops the queue. Pushes fail from now on and every goroutine
// blocked in a Pop variant returns without a task. Calling it again is a
// no-op.
func (q *Queue) Shutdown() {
	q.mu.Lock()
	if q.shutdown {
		q.mu.Unlock()
		return
	}
	q.shutdown = true
	remaining := q.ready.Len() + len(q.blocked)
	q.notEmpty.Broadcast()
	q.mu.Unlock()

	q.logger.Info("queue shut down", "remaining", remaining)
	q.publish(events.TopicQueue, events.QueueShutdownEvent{Remaining: remaining, Timestamp: time.Now()})
}

// IsShutdown reports whether Shutdown has been called.
func (q *Queue) IsShutdown() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shutdown
}

// Clear drops every ready and blocked task and returns how many were
// dropped. Remembered failure outcomes are forgotten too, so a later push
// naming a failed id treats it as unknown. This is not cancellation: no
// callbacks fire and in-flight tasks are untouched.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.ready.Len() + len(q.blocked)
	for i := 0; i < q.ready.Len(); i++ {
		t := q.ready.at(i)
		delete(q.index, t.ID)
		q.arena.release(t.handle)
	}
	q.ready.reset()
	for id, h := range q.blocked {
		delete(q.index, id)
		q.arena.get(h).prereqs = nil
		q.arena.release(h)
	}
	q.blocked = make(map[string]handle)
	q.deps.reset()
	return n
}

// Stats returns a snapshot of the queue's counters and sizes.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	ready, blocked, inflight := q.ready.Len(), len(q.blocked), len(q.inflight)
	q.mu.Unlock()

	return Stats{
		Pushed:    q.pushed.Load(),
		Popped:    q.popped.Load(),
		Completed: q.completed.Load(),
		Failed:    q.failed.Load(),
		Cancelled: q.cancelled.Load(),
		TimedOut:  q.timedOut.Load(),
		Rejected:  q.rejected.Load(),
		Ready:     ready,
		Blocked:   blocked,
		InFlight:  inflight,
	}
}

// Snapshot returns summaries of every live task in push order.
func (q *Queue) Snapshot() []Summary {
	q.mu.Lock()
	tasks := make([]*Task, 0, len(q.index))
	for _, h := range q.index {
		tasks = append(tasks, q.arena.get(h))
	}
	sortBySeq(tasks)
	q.mu.Unlock()

	out := make([]Summary, len(tasks))
	for i, t := range tasks {
		out[i] = t.Summary()
	}
	return out
}

// Blocking returns the prerequisite ids a blocked task is still waiting on.
func (q *Queue) Blocking(id string) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.blocked[id]
	if !ok {
		return nil
	}
	var out []string
	for _, p := range q.arena.get(h).prereqs {
		if q.deps.waitsOn(id, p) {
			out = append(out, p)
		}
	}
	return out
}

// assign moves a task popped from the ready heap into the in-flight set.
// Caller holds q.mu.
func (q *Queue) assign(t *Task, agent string) {
	t.loc = locInFlight
	q.inflight[t.ID] = t.handle

	t.mu.Lock()
	t.status = TaskAssigned
	t.assignedAgent = agent
	t.assignedAt = time.Now()
	t.mu.Unlock()
}

func (q *Queue) afterPop(t *Task, agent string) {
	q.popped.Inc()
	q.logger.Debug("task assigned", "task_id", t.ID, "agent", agent)
	q.publish(events.TopicTask, events.TaskAssignedEvent{ID: t.ID, Agent: agent, Timestamp: time.Now()})
}

// unblock takes t out of the blocked set and drops its edges. Caller holds q.mu.
func (q *Queue) unblock(t *Task) {
	delete(q.blocked, t.ID)
	q.deps.forget(t.ID, t.prereqs)
	t.loc = locNone
}

// retire forgets a task that reached a terminal state. Caller holds q.mu.
func (q *Queue) retire(t *Task, status TaskStatus) {
	delete(q.index, t.ID)
	q.deps.record(t.ID, status)
	q.arena.release(t.handle)
	t.prereqs = nil
}

// promote moves newly unblocked tasks into the ready heap and wakes waiters
// once. Caller holds q.mu.
func (q *Queue) promote(ids []string) {
	for _, id := range ids {
		h, ok := q.blocked[id]
		if !ok {
			continue
		}
		delete(q.blocked, id)
		q.ready.insert(q.arena.get(h))
	}
	if len(ids) > 0 {
		q.wake(len(ids))
	}
}

// cascadeFrom cancels every task transitively blocked on id when cascade
// mode is on. Caller holds q.mu.
func (q *Queue) cascadeFrom(id string, now time.Time) []string {
	if !q.cascade {
		return nil
	}

	var cancelled []string
	pending := q.deps.dependents(id)
	for len(pending) > 0 {
		depID := pending[0]
		pending = pending[1:]

		h, ok := q.blocked[depID]
		if !ok {
			continue
		}
		t := q.arena.get(h)
		q.unblock(t)

		t.mu.Lock()
		t.status = TaskCancelled
		t.completedAt = now
		t.interrupt()
		t.mu.Unlock()

		q.retire(t, TaskCancelled)
		cancelled = append(cancelled, depID)
		pending = append(pending, q.deps.dependents(depID)...)
	}
	return cancelled
}

// wake signals consumers that n tasks became ready. Agent-filtered waiters
// may not accept the task, so while any exist everyone is woken. Caller
// holds q.mu.
func (q *Queue) wake(n int) {
	if n > 1 || q.agentWaiters > 0 {
		q.notEmpty.Broadcast()
		return
	}
	q.notEmpty.Signal()
}

func (q *Queue) publish(topic string, ev events.Event) {
	if q.events != nil {
		q.events.Publish(topic, ev)
	}
}

func (q *Queue) publishCascade(cause string, ids []string, now time.Time) {
	if len(ids) == 0 {
		return
	}
	q.logger.Warn("cascade cancelled dependents", "task_id", cause, "count", len(ids))
	for _, id := range ids {
		q.publish(events.TopicTask, events.TaskCancelledEvent{ID: id, Cascade: true, Timestamp: now})
	}
}

func sortBySeq(tasks []*Task) {
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].seq < tasks[j].seq })
}
