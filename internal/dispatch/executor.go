// Package dispatch runs queued tasks: one consumer loop per agent pops work
// through the scheduler, executes it with retry and circuit breaking, and
// drives each task to a terminal state. Follow-up tasks and timeout
// enforcement live here too, as collaborators of the queue.
package dispatch

import (
	"context"
	"errors"

	"github.com/aristath/taskforge/internal/scheduler"
)

// Executor performs the work a task describes.
type Executor interface {
	Execute(ctx context.Context, t *scheduler.Task) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, t *scheduler.Task) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, t *scheduler.Task) (any, error) {
	return f(ctx, t)
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked with Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
