package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskType tags what kind of work a task represents.
type TaskType string

const (
	TypeBuild   TaskType = "build"
	TypeFix     TaskType = "fix"
	TypeAnalyze TaskType = "analyze"
	TypeInstall TaskType = "install"
	TypeExecute TaskType = "execute"
	TypeModify  TaskType = "modify"
	TypeQuery   TaskType = "query"
	TypeGeneral TaskType = "general"
)

// ParseTaskType parses a type tag. An empty string means TypeGeneral.
func ParseTaskType(s string) (TaskType, error) {
	switch t := TaskType(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeGeneral, nil
	case TypeBuild, TypeFix, TypeAnalyze, TypeInstall, TypeExecute, TypeModify, TypeQuery, TypeGeneral:
		return t, nil
	default:
		return "", fmt.Errorf("unknown task type %q", s)
	}
}

// Capability returns the capability an agent needs to accept a task of this
// type by default.
func (t TaskType) Capability() Capability {
	switch t {
	case TypeBuild:
		return CapBuild
	case TypeFix:
		return CapFix
	case TypeAnalyze:
		return CapAnalyze
	case TypeInstall:
		return CapInstall
	case TypeExecute:
		return CapExecute
	case TypeModify:
		return CapModify
	case TypeQuery:
		return CapQuery
	default:
		return 0
	}
}

// Priority orders tasks in the ready heap. Higher values pop first.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "normal", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

// ParsePriority parses a priority name. An empty string means PriorityNormal.
func ParsePriority(s string) (Priority, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return PriorityNormal, nil
	}
	for i, n := range priorityNames {
		if n == name {
			return Priority(i), nil
		}
	}
	return 0, fmt.Errorf("unknown priority %q", s)
}

// TaskStatus represents the current lifecycle state of a task.
type TaskStatus int

const (
	TaskPending      TaskStatus = iota // In the ready heap or blocked set
	TaskAssigned                       // Popped by a consumer
	TaskRunning                        // Consumer started work
	TaskWaitingChild                   // Running task blocked on sub-tasks it spawned
	TaskCompleted                      // Finished successfully
	TaskFailed                         // Finished with error
	TaskCancelled                      // Cancelled before or during execution
	TaskTimeout                        // Expired by a timeout collaborator
)

var statusNames = [...]string{"pending", "assigned", "running", "waiting_child", "completed", "failed", "cancelled", "timeout"}

func (s TaskStatus) String() string {
	if s < TaskPending || s > TaskTimeout {
		return fmt.Sprintf("status(%d)", int(s))
	}
	return statusNames[s]
}

// IsTerminal returns true if this status represents a final state.
func (s TaskStatus) IsTerminal() bool {
	return s >= TaskCompleted
}

// Callbacks are invoked on the goroutine that drives the corresponding
// transition, never while the queue lock is held. Closures carry whatever
// user data they need.
type Callbacks struct {
	OnComplete func(t *Task)
	OnError    func(t *Task, err error)
	OnProgress func(t *Task, percent int, message string)
}

// Task is a unit of work.
//
// The exported fields are set by the producer before Push and must not be
// modified afterwards. Lifecycle state is guarded by the task's own mutex
// and read through accessor methods.
type Task struct {
	ID             string
	Description    string
	Type           TaskType
	Priority       Priority
	PreferredAgent string     // If set, only this agent may pop the task
	Capabilities   Capability // Required capability set
	DependsOn      []string   // Prerequisite task IDs
	Resources      []string   // Resource keys held exclusively while running
	Input          any        // Opaque input payload
	Context        any        // Opaque project/build context, passed through unmodified
	Timeout        time.Duration
	Callbacks      Callbacks

	// Owned by the queue, guarded by the queue lock.
	seq       uint64
	heapIndex int
	handle    handle
	loc       location
	prereqs   []string // prerequisites this task was blocked on

	mu            sync.Mutex
	status        TaskStatus
	assignedAgent string
	result        any
	err           error
	progress      int
	progressMsg   string
	createdAt     time.Time
	assignedAt    time.Time
	startedAt     time.Time
	completedAt   time.Time
	done          chan struct{}
	doneOnce      sync.Once
	cancelled     bool
}

// NewTask creates a pending task. An empty id is replaced by a random UUID.
func NewTask(id, description string, typ TaskType, priority Priority) *Task {
	t := &Task{
		ID:          id,
		Description: description,
		Type:        typ,
		Priority:    priority,
	}
	t.init(time.Now())
	return t
}

// init fills defaults for tasks built as struct literals.
func (t *Task) init(now time.Time) {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Type == "" {
		t.Type = TypeGeneral
	}
	t.heapIndex = -1
	t.mu.Lock()
	if t.createdAt.IsZero() {
		t.createdAt = now
	}
	if t.done == nil {
		t.done = make(chan struct{})
	}
	t.mu.Unlock()
}

// Clone returns a fresh pending task with t's producer fields. Slices are
// copied; Input, Context and Callbacks are shared.
func (t *Task) Clone() *Task {
	c := &Task{
		ID:             t.ID,
		Description:    t.Description,
		Type:           t.Type,
		Priority:       t.Priority,
		PreferredAgent: t.PreferredAgent,
		Capabilities:   t.Capabilities,
		DependsOn:      append([]string(nil), t.DependsOn...),
		Resources:      append([]string(nil), t.Resources...),
		Input:          t.Input,
		Context:        t.Context,
		Timeout:        t.Timeout,
		Callbacks:      t.Callbacks,
	}
	c.init(time.Now())
	return c
}

// Status returns the current lifecycle state.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// AssignedAgent returns the agent that popped the task, if any.
func (t *Task) AssignedAgent() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.assignedAgent
}

// Result returns the payload recorded by Complete.
func (t *Task) Result() any {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// Err returns the error recorded by Fail or Expire.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// Progress returns the last reported percentage and message.
func (t *Task) Progress() (int, string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.progress, t.progressMsg
}

// CreatedAt returns when the task was created.
func (t *Task) CreatedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createdAt
}

// StartedAt returns when the consumer started the task, or zero.
func (t *Task) StartedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startedAt
}

// CompletedAt returns when the task reached a terminal state, or zero.
func (t *Task) CompletedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.completedAt
}

// Done returns a channel closed when the task is cancelled or expired.
// Executors poll it for cooperative cancellation.
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done == nil {
		t.done = make(chan struct{})
	}
	return t.done
}

// CancelRequested reports whether the task was cancelled or expired.
func (t *Task) CancelRequested() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// Summary is a point-in-time copy of a task's identifying fields and state.
type Summary struct {
	ID            string
	Description   string
	Type          TaskType
	Priority      Priority
	Status        TaskStatus
	AssignedAgent string
	DependsOn     []string
	Progress      int
	Err           error
}

// Summary returns a copy safe to hold after the task moves on.
func (t *Task) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Summary{
		ID:            t.ID,
		Description:   t.Description,
		Type:          t.Type,
		Priority:      t.Priority,
		Status:        t.status,
		AssignedAgent: t.assignedAgent,
		DependsOn:     append([]string(nil), t.DependsOn...),
		Progress:      t.progress,
		Err:           t.err,
	}
}

// interrupt closes the done channel once. Caller holds t.mu.
func (t *Task) interrupt() {
	t.cancelled = true
	if t.done == nil {
		t.done = make(chan struct{})
	}
	t.doneOnce.Do(func() { close(t.done) })
}
