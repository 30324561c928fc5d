package dispatch

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/scheduler"
	"github.com/aristath/taskforge/internal/syncx"
)

// FollowUps spawns workflow tasks. A task registered with Track belongs to a
// workflow step; when it completes, the next step is pushed behind it, and
// when it fails, the workflow's recovery step is pushed followed by a retry
// of the failed task. Pushes run on the background pool, never on the
// goroutine that retired the task.
type FollowUps struct {
	q         *scheduler.Queue
	pool      *syncx.WorkerPool
	workflows map[string]config.WorkflowConfig
	logger    *slog.Logger

	mu         sync.Mutex
	members    map[string]membership // task id -> workflow position
	recoveries map[string]int        // task id -> recoveries spent
	errs       []error
}

type membership struct {
	workflow string
	step     int
}

// NewFollowUps creates the workflow hooks for q.
func NewFollowUps(q *scheduler.Queue, pool *syncx.WorkerPool, workflows map[string]config.WorkflowConfig, logger *slog.Logger) *FollowUps {
	if logger == nil {
		logger = slog.Default()
	}
	return &FollowUps{
		q:          q,
		pool:       pool,
		workflows:  workflows,
		logger:     logger,
		members:    make(map[string]membership),
		recoveries: make(map[string]int),
	}
}

// Track places t in workflow at the step matching its type.
func (f *FollowUps) Track(t *scheduler.Task, workflow string) error {
	wf, ok := f.workflows[workflow]
	if !ok {
		return fmt.Errorf("unknown workflow %q", workflow)
	}
	step := findStepIndex(wf, t.Type)
	if step == -1 {
		return fmt.Errorf("workflow %q has no %s step", workflow, t.Type)
	}

	f.mu.Lock()
	f.members[t.ID] = membership{workflow: workflow, step: step}
	f.mu.Unlock()
	return nil
}

// OnCompleted pushes the next workflow step after t, if any.
func (f *FollowUps) OnCompleted(t *scheduler.Task) {
	f.mu.Lock()
	m, ok := f.members[t.ID]
	f.mu.Unlock()
	if !ok {
		return
	}

	wf := f.workflows[m.workflow]
	if m.step >= len(wf.Steps)-1 {
		return
	}
	step := wf.Steps[m.step+1]

	next, err := stepTask(step, fmt.Sprintf("%s-%s", t.ID, step.Type), t)
	if err != nil {
		f.recordErr(fmt.Errorf("workflow %q: %w", m.workflow, err))
		return
	}
	next.Description = fmt.Sprintf("%s after %s", step.Type, t.ID)
	next.DependsOn = []string{t.ID}

	f.mu.Lock()
	f.members[next.ID] = membership{workflow: m.workflow, step: m.step + 1}
	f.mu.Unlock()

	f.submit(m.workflow, next)
}

// OnFailed pushes a recovery task and a retry of t, bounded by the
// workflow's max_recoveries.
func (f *FollowUps) OnFailed(t *scheduler.Task) {
	f.mu.Lock()
	m, ok := f.members[t.ID]
	if !ok {
		f.mu.Unlock()
		return
	}
	wf := f.workflows[m.workflow]
	if wf.OnFailure == nil || f.recoveries[t.ID] >= wf.MaxRecoveries {
		f.mu.Unlock()
		if wf.OnFailure != nil {
			f.logger.Warn("recovery budget exhausted", "task_id", t.ID, "workflow", m.workflow)
		}
		return
	}
	f.recoveries[t.ID]++
	attempt := f.recoveries[t.ID]
	f.mu.Unlock()

	recovery, err := stepTask(*wf.OnFailure, fmt.Sprintf("%s-recover-%d", t.ID, attempt), t)
	if err != nil {
		f.recordErr(fmt.Errorf("workflow %q: %w", m.workflow, err))
		return
	}
	recovery.Description = fmt.Sprintf("recover %s: %v", t.ID, t.Err())

	retry := t.Clone()
	retry.DependsOn = []string{recovery.ID}

	f.logger.Info("scheduling recovery", "task_id", t.ID, "recovery", recovery.ID, "attempt", attempt)
	f.submit(m.workflow, recovery, retry)
}

// Err returns every error hit while pushing follow-ups.
func (f *FollowUps) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return errors.Join(f.errs...)
}

// submit pushes tasks in order on the background pool.
func (f *FollowUps) submit(workflow string, tasks ...*scheduler.Task) {
	err := f.pool.Submit(func() {
		for _, t := range tasks {
			if err := f.q.Push(t); err != nil {
				f.recordErr(fmt.Errorf("workflow %q: pushing %s: %w", workflow, t.ID, err))
				return
			}
			f.logger.Debug("follow-up pushed", "task_id", t.ID, "workflow", workflow)
		}
	})
	if err != nil {
		f.recordErr(fmt.Errorf("workflow %q: %w", workflow, err))
	}
}

func (f *FollowUps) recordErr(err error) {
	f.logger.Error("follow-up failed", "err", err)
	f.mu.Lock()
	f.errs = append(f.errs, err)
	f.mu.Unlock()
}

// findStepIndex finds the index of the step with the given task type.
// Returns -1 if not found.
func findStepIndex(wf config.WorkflowConfig, typ scheduler.TaskType) int {
	for i, step := range wf.Steps {
		if scheduler.TaskType(step.Type) == typ {
			return i
		}
	}
	return -1
}

// stepTask builds the task for a workflow step spawned from parent. It
// inherits the parent's placement and context.
func stepTask(step config.WorkflowStepConfig, id string, parent *scheduler.Task) (*scheduler.Task, error) {
	typ, err := scheduler.ParseTaskType(step.Type)
	if err != nil {
		return nil, err
	}
	prio := parent.Priority
	if step.Priority != "" {
		if prio, err = scheduler.ParsePriority(step.Priority); err != nil {
			return nil, err
		}
	}

	t := &scheduler.Task{
		ID:           id,
		Type:         typ,
		Priority:     prio,
		Capabilities: typ.Capability(),
		Resources:    append([]string(nil), parent.Resources...),
		Context:      parent.Context,
		Timeout:      parent.Timeout,
	}
	if step.Command != "" {
		t.Input = step.Command
	}
	return t, nil
}
