package scheduler

import (
	"fmt"
	"time"

	"github.com/aristath/taskforge/internal/events"
)

// inFlight returns the popped task with the given id. Caller holds q.mu.
func (q *Queue) inFlight(id string) (*Task, error) {
	h, ok := q.inflight[id]
	if ok {
		return q.arena.get(h), nil
	}
	if _, live := q.index[id]; live {
		return nil, fmt.Errorf("%w: %s has not been popped", ErrInvalidTransition, id)
	}
	return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
}

// transition moves an in-flight task from one of the allowed states to next.
func (q *Queue) transition(id string, next TaskStatus, from ...TaskStatus) (*Task, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	t, err := q.inFlight(id)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, s := range from {
		if t.status == s {
			t.status = next
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: %s cannot go from %s to %s", ErrInvalidTransition, id, t.status, next)
}

// Start marks an assigned task as running.
func (q *Queue) Start(id string) error {
	t, err := q.transition(id, TaskRunning, TaskAssigned)
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.startedAt = time.Now()
	t.mu.Unlock()
	return nil
}

// Suspend parks a running task that is waiting on work it spawned itself.
// It does not touch the dependency tracker.
func (q *Queue) Suspend(id string) error {
	_, err := q.transition(id, TaskWaitingChild, TaskRunning)
	return err
}

// Resume returns a suspended task to running.
func (q *Queue) Resume(id string) error {
	_, err := q.transition(id, TaskRunning, TaskWaitingChild)
	return err
}

// Progress records progress for an in-flight task and invokes its
// OnProgress callback. percent is clamped to 0..100.
func (q *Queue) Progress(id string, percent int, message string) error {
	percent = min(max(percent, 0), 100)

	q.mu.Lock()
	t, err := q.inFlight(id)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	t.mu.Lock()
	t.progress = percent
	t.progressMsg = message
	t.mu.Unlock()
	cb := t.Callbacks.OnProgress
	q.mu.Unlock()

	if cb != nil {
		cb(t, percent, message)
	}
	q.publish(events.TopicTask, events.TaskProgressEvent{
		ID:        id,
		Percent:   percent,
		Message:   message,
		Timestamp: time.Now(),
	})
	return nil
}

// Complete records a successful result, promotes every dependent whose last
// prerequisite this was, and invokes OnComplete.
func (q *Queue) Complete(id string, result any) error {
	now := time.Now()

	q.mu.Lock()
	t, err := q.inFlight(id)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	delete(q.inflight, id)

	t.mu.Lock()
	t.status = TaskCompleted
	t.result = result
	t.progress = 100
	t.completedAt = now
	elapsed := now.Sub(t.startOrAssign())
	t.mu.Unlock()

	q.retire(t, TaskCompleted)
	unblocked := q.deps.release(id)
	q.promote(unblocked)
	q.mu.Unlock()

	q.completed.Inc()
	q.logger.Debug("task completed", "task_id", id, "unblocked", len(unblocked), "duration", elapsed)
	if cb := t.Callbacks.OnComplete; cb != nil {
		cb(t)
	}
	q.publish(events.TopicTask, events.TaskCompletedEvent{
		ID:        id,
		Unblocked: unblocked,
		Duration:  elapsed,
		Timestamp: now,
	})
	return nil
}

// Fail records err and invokes OnError. Dependents are not released; in
// cascade mode they are cancelled.
func (q *Queue) Fail(id string, err error) error {
	if err == nil {
		err = fmt.Errorf("task %s failed", id)
	}
	return q.finish(id, TaskFailed, err)
}

// Expire moves an overdue task to the timeout state, closes its Done
// channel, and invokes OnError with an error wrapping ErrTimedOut.
func (q *Queue) Expire(id string) error {
	return q.finish(id, TaskTimeout, nil)
}

func (q *Queue) finish(id string, status TaskStatus, cause error) error {
	now := time.Now()

	q.mu.Lock()
	t, err := q.inFlight(id)
	if err != nil {
		q.mu.Unlock()
		return err
	}
	delete(q.inflight, id)

	t.mu.Lock()
	if status == TaskTimeout {
		cause = fmt.Errorf("%w: %s after %s", ErrTimedOut, id, t.Timeout)
		t.interrupt()
	}
	t.status = status
	t.err = cause
	t.completedAt = now
	elapsed := now.Sub(t.startOrAssign())
	t.mu.Unlock()

	q.retire(t, status)
	cascaded := q.cascadeFrom(id, now)
	q.mu.Unlock()

	if status == TaskTimeout {
		q.timedOut.Inc()
		q.logger.Warn("task timed out", "task_id", id, "timeout", t.Timeout)
	} else {
		q.failed.Inc()
		q.logger.Warn("task failed", "task_id", id, "err", cause)
	}
	q.cancelled.Add(int64(len(cascaded)))

	if cb := t.Callbacks.OnError; cb != nil {
		cb(t, cause)
	}
	if status == TaskTimeout {
		q.publish(events.TopicTask, events.TaskTimeoutEvent{ID: id, Timeout: t.Timeout, Timestamp: now})
	} else {
		q.publish(events.TopicTask, events.TaskFailedEvent{ID: id, Err: cause, Duration: elapsed, Timestamp: now})
	}
	q.publishCascade(id, cascaded, now)
	return nil
}

// IsTimedOut reports whether an in-flight task has run longer than its
// timeout. Tasks without a timeout never time out.
func (q *Queue) IsTimedOut(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	h, ok := q.inflight[id]
	if !ok {
		return false
	}
	return q.arena.get(h).overdue(time.Now())
}

// Overdue lists in-flight tasks whose timeout has elapsed at now, sorted by
// push order. The queue never expires them itself.
func (q *Queue) Overdue(now time.Time) []string {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []*Task
	for _, h := range q.inflight {
		if t := q.arena.get(h); t.overdue(now) {
			due = append(due, t)
		}
	}
	ids := make([]string, len(due))
	sortBySeq(due)
	for i, t := range due {
		ids[i] = t.ID
	}
	return ids
}

func (t *Task) overdue(now time.Time) bool {
	if t.Timeout <= 0 {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return now.Sub(t.startOrAssign()) > t.Timeout
}

// startOrAssign is the reference point for timeouts and durations. Caller
// holds t.mu.
func (t *Task) startOrAssign() time.Time {
	if !t.startedAt.IsZero() {
		return t.startedAt
	}
	return t.assignedAt
}
