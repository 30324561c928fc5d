package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask  = "task"
	TopicQueue = "queue"
)

// Event type constants
const (
	EventTypeTaskPushed    = "task.pushed"
	EventTypeTaskAssigned  = "task.assigned"
	EventTypeTaskProgress  = "task.progress"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeTaskCancelled = "task.cancelled"
	EventTypeTaskTimeout   = "task.timeout"
	EventTypeQueueShutdown = "queue.shutdown"
)

// TaskPushedEvent is published when a task enters the queue. Blocked is true
// when it is waiting on prerequisites rather than ready to pop.
type TaskPushedEvent struct {
	ID        string
	Priority  string
	Blocked   bool
	Timestamp time.Time
}

func (e TaskPushedEvent) EventType() string { return EventTypeTaskPushed }
func (e TaskPushedEvent) TaskID() string    { return e.ID }

// TaskAssignedEvent is published when a consumer pops a task.
type TaskAssignedEvent struct {
	ID        string
	Agent     string
	Timestamp time.Time
}

func (e TaskAssignedEvent) EventType() string { return EventTypeTaskAssigned }
func (e TaskAssignedEvent) TaskID() string    { return e.ID }

// TaskProgressEvent is published when a consumer reports progress.
type TaskProgressEvent struct {
	ID        string
	Percent   int
	Message   string
	Timestamp time.Time
}

func (e TaskProgressEvent) EventType() string { return EventTypeTaskProgress }
func (e TaskProgressEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task completes successfully.
// Unblocked lists dependents promoted to the ready heap as a result.
type TaskCompletedEvent struct {
	ID        string
	Unblocked []string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task fails.
type TaskFailedEvent struct {
	ID        string
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// TaskCancelledEvent is published when a task is cancelled. Cascade is true
// when the cancellation was caused by a failed prerequisite.
type TaskCancelledEvent struct {
	ID        string
	Cascade   bool
	Timestamp time.Time
}

func (e TaskCancelledEvent) EventType() string { return EventTypeTaskCancelled }
func (e TaskCancelledEvent) TaskID() string    { return e.ID }

// TaskTimeoutEvent is published when an overdue task is expired.
type TaskTimeoutEvent struct {
	ID        string
	Timeout   time.Duration
	Timestamp time.Time
}

func (e TaskTimeoutEvent) EventType() string { return EventTypeTaskTimeout }
func (e TaskTimeoutEvent) TaskID() string    { return e.ID }

// QueueShutdownEvent is published once when a queue shuts down.
type QueueShutdownEvent struct {
	Remaining int
	Timestamp time.Time
}

func (e QueueShutdownEvent) EventType() string { return EventTypeQueueShutdown }
func (e QueueShutdownEvent) TaskID() string    { return "" }
