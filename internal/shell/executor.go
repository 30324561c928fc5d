// Package shell runs task commands as child processes.
package shell

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/dispatch"
	"github.com/aristath/taskforge/internal/scheduler"
)

// Result is what a successful command produced.
type Result struct {
	Stdout   string
	Stderr   string
	Duration time.Duration
}

// Executor runs a task's Input as "<binary> -c <command>". It implements
// dispatch.Executor.
type Executor struct {
	binary string
	env    []string
	dir    string
	procs  *ProcessManager
	logger *slog.Logger
}

// ExecutorOption customises an Executor.
type ExecutorOption func(*Executor)

// WithDir runs every command in dir.
func WithDir(dir string) ExecutorOption {
	return func(e *Executor) { e.dir = dir }
}

// WithProcessManager tracks child processes in pm.
func WithProcessManager(pm *ProcessManager) ExecutorOption {
	return func(e *Executor) { e.procs = pm }
}

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an executor from the shell configuration.
func NewExecutor(cfg config.ShellConfig, opts ...ExecutorOption) *Executor {
	e := &Executor{
		binary: cfg.Binary,
		env:    cfg.Env,
		logger: slog.Default(),
	}
	if e.binary == "" {
		e.binary = "sh"
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ dispatch.Executor = (*Executor)(nil)

// Execute runs the task's command. A task without a command succeeds
// without doing anything. A non-zero exit is permanent: the same command
// would fail the same way on retry. Failing to start the shell is left
// retryable.
func (e *Executor) Execute(ctx context.Context, t *scheduler.Task) (any, error) {
	command, err := commandOf(t)
	if err != nil {
		return nil, dispatch.Permanent(err)
	}
	if command == "" {
		return Result{}, nil
	}

	cmd := newCommand(ctx, e.binary, "-c", command)
	cmd.Dir = e.dir
	if len(e.env) > 0 {
		cmd.Env = append(os.Environ(), e.env...)
	}

	e.logger.Debug("running command", "task_id", t.ID, "command", command)
	start := time.Now()
	stdout, stderr, err := runCommand(cmd, e.procs)
	res := Result{
		Stdout:   string(stdout),
		Stderr:   string(stderr),
		Duration: time.Since(start),
	}

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("command interrupted: %w", ctxErr)
		}
		if cmd.ProcessState == nil {
			return nil, err
		}
		return nil, dispatch.Permanent(exitError(err, res.Stderr))
	}
	return res, nil
}

func commandOf(t *scheduler.Task) (string, error) {
	switch in := t.Input.(type) {
	case nil:
		return "", nil
	case string:
		return strings.TrimSpace(in), nil
	case fmt.Stringer:
		return strings.TrimSpace(in.String()), nil
	default:
		return "", fmt.Errorf("task %s: input of type %T is not a command", t.ID, t.Input)
	}
}

func exitError(err error, stderr string) error {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return fmt.Errorf("command failed: %w", err)
	}
	if len(stderr) > 512 {
		stderr = "..." + stderr[len(stderr)-512:]
	}
	return fmt.Errorf("command failed: %w (stderr: %s)", err, stderr)
}
