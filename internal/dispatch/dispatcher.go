package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/scheduler"
	"github.com/aristath/taskforge/internal/syncx"
)

// Outcome records how a dispatched task ended.
type Outcome struct {
	TaskID   string
	Agent    string
	Status   scheduler.TaskStatus
	Attempts int
	Err      error
	Duration time.Duration
}

// Options configures a Dispatcher.
type Options struct {
	Agents    []scheduler.Agent
	Executor  Executor
	Retry     config.RetryConfig
	Breakers  *BreakerRegistry         // Optional; one is created from defaults when nil
	Locks     *scheduler.ResourceLocks // Optional; one is created when nil
	FollowUps *FollowUps               // Optional workflow hooks

	// StopWhenIdle shuts the queue down once nothing is ready, nothing is
	// in flight, and Background has drained. Blocked tasks left at that
	// point can never run.
	StopWhenIdle bool
	Background   *syncx.WorkerPool

	Logger *slog.Logger
}

// Dispatcher runs one consumer loop per agent against a queue.
type Dispatcher struct {
	q    *scheduler.Queue
	opts Options

	kick   chan struct{}
	active syncx.Counter // tasks popped whose follow-up hooks have not run yet

	mu       sync.Mutex
	outcomes []Outcome
}

// New creates a dispatcher for q.
func New(q *scheduler.Queue, opts Options) (*Dispatcher, error) {
	if len(opts.Agents) == 0 {
		return nil, errors.New("dispatch: no agents configured")
	}
	if opts.Executor == nil {
		return nil, errors.New("dispatch: no executor configured")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Retry == (config.RetryConfig{}) {
		opts.Retry = config.DefaultConfig().Retry
	}
	if opts.Breakers == nil {
		opts.Breakers = NewBreakerRegistry(config.DefaultConfig().Breaker, opts.Logger)
	}
	if opts.Locks == nil {
		opts.Locks = scheduler.NewResourceLocks()
	}

	return &Dispatcher{
		q:    q,
		opts: opts,
		kick: make(chan struct{}, 1),
	}, nil
}

// Run starts the agent loops and blocks until every loop has exited, which
// happens when the queue shuts down or ctx ends.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, agent := range d.opts.Agents {
		g.Go(func() error {
			d.loop(gctx, agent)
			return nil
		})
	}

	if d.opts.StopWhenIdle {
		monitorCtx, stopMonitor := context.WithCancel(gctx)
		defer stopMonitor()
		go d.monitor(monitorCtx)
		d.nudge()
	}

	err := g.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Outcomes returns every recorded outcome in completion order.
func (d *Dispatcher) Outcomes() []Outcome {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Outcome(nil), d.outcomes...)
}

func (d *Dispatcher) loop(ctx context.Context, agent scheduler.Agent) {
	logger := d.opts.Logger.With("agent", agent.ID)
	logger.Debug("agent started", "capabilities", agent.Capabilities.String())

	for {
		t, ok := d.q.PopForAgentContext(ctx, agent)
		if !ok {
			logger.Debug("agent stopped")
			return
		}
		d.active.Inc()
		d.execute(ctx, agent, t, logger)
		d.active.Dec()
		d.nudge()
	}
}

func (d *Dispatcher) execute(ctx context.Context, agent scheduler.Agent, t *scheduler.Task, logger *slog.Logger) {
	start := time.Now()
	outcome := Outcome{TaskID: t.ID, Agent: agent.ID}
	defer func() {
		outcome.Status = t.Status()
		if outcome.Err == nil {
			outcome.Err = t.Err()
		}
		outcome.Duration = time.Since(start)
		d.record(outcome)
		d.afterTerminal(t, outcome.Status)
	}()

	if err := d.q.Start(t.ID); err != nil {
		// Cancelled or expired between pop and start.
		logger.Debug("task no longer runnable", "task_id", t.ID, "err", err)
		return
	}

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.Done():
			cancel()
		case <-taskCtx.Done():
		}
	}()

	unlock, err := d.opts.Locks.LockAll(taskCtx, t.Resources)
	if err != nil {
		outcome.Err = d.fail(t, fmt.Errorf("acquiring resources: %w", err), logger)
		return
	}
	defer unlock()

	logger.Info("running task", "task_id", t.ID, "type", string(t.Type))
	result, attempts, err := executeWithRetry(taskCtx, d.opts.Executor, t, d.opts.Breakers.Get(t.Type), d.opts.Retry, logger)
	outcome.Attempts = attempts
	if err != nil {
		outcome.Err = d.fail(t, err, logger)
		return
	}

	if err := d.q.Complete(t.ID, result); err != nil {
		// A cancel or expiry won the race; the task keeps that state.
		logger.Debug("completion discarded", "task_id", t.ID, "err", err)
	}
}

// fail records err on t unless t already reached a terminal state through
// cancellation or expiry.
func (d *Dispatcher) fail(t *scheduler.Task, err error, logger *slog.Logger) error {
	if ferr := d.q.Fail(t.ID, err); ferr != nil {
		logger.Debug("failure discarded", "task_id", t.ID, "err", err, "reason", ferr)
		return nil
	}
	return err
}

func (d *Dispatcher) afterTerminal(t *scheduler.Task, status scheduler.TaskStatus) {
	if d.opts.FollowUps == nil {
		return
	}
	switch status {
	case scheduler.TaskCompleted:
		d.opts.FollowUps.OnCompleted(t)
	case scheduler.TaskFailed, scheduler.TaskTimeout:
		d.opts.FollowUps.OnFailed(t)
	}
}

func (d *Dispatcher) record(o Outcome) {
	d.mu.Lock()
	d.outcomes = append(d.outcomes, o)
	d.mu.Unlock()
}

// nudge asks the idle monitor to re-check the queue.
func (d *Dispatcher) nudge() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Nudge lets collaborators that retire tasks outside the agent loops (the
// watchdog, external cancels) trigger an idle check.
func (d *Dispatcher) Nudge() { d.nudge() }

func (d *Dispatcher) monitor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.kick:
		}

		if !d.idle() {
			continue
		}
		if d.opts.Background != nil {
			d.opts.Background.WaitAll()
			if !d.idle() {
				continue
			}
		}
		d.opts.Logger.Info("queue idle, shutting down", "blocked", d.q.Count())
		d.q.Shutdown()
		return
	}
}

func (d *Dispatcher) idle() bool {
	return d.active.Load() == 0 && d.q.Idle()
}
