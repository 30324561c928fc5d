package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aristath/taskforge/internal/logging"
	"github.com/aristath/taskforge/internal/scheduler"
	"github.com/aristath/taskforge/internal/syncx"
)

var (
	builder = scheduler.Agent{ID: "builder", Capabilities: scheduler.CapBuild | scheduler.CapExecute}
	fixer   = scheduler.Agent{ID: "fixer", Capabilities: scheduler.CapFix}
)

func runDispatcher(t *testing.T, q *scheduler.Queue, opts Options) *Dispatcher {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Retry.Multiplier == 0 {
		opts.Retry = fastRetry()
	}
	opts.StopWhenIdle = true

	d, err := New(q, opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- d.Run(context.Background()) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(10 * time.Second):
		q.Shutdown()
		t.Fatal("dispatcher did not stop when idle")
	}
	return d
}

func outcomeByID(d *Dispatcher) map[string]Outcome {
	out := make(map[string]Outcome)
	for _, o := range d.Outcomes() {
		out[o.TaskID] = o
	}
	return out
}

// TestDispatcher_RunsDependencyChain verifies prerequisites run first and
// each agent only takes work it is capable of.
func TestDispatcher_RunsDependencyChain(t *testing.T) {
	q := scheduler.New(scheduler.Options{Logger: logging.Discard()})

	var mu sync.Mutex
	var order []string
	exec := ExecutorFunc(func(_ context.Context, task *scheduler.Task) (any, error) {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return "ok:" + task.ID, nil
	})

	for _, task := range []*scheduler.Task{
		{ID: "compile", Type: scheduler.TypeBuild, Capabilities: scheduler.CapBuild},
		{ID: "patch", Type: scheduler.TypeFix, Capabilities: scheduler.CapFix, DependsOn: []string{"compile"}},
		{ID: "run", Type: scheduler.TypeExecute, Capabilities: scheduler.CapExecute, DependsOn: []string{"patch"}},
	} {
		if err := q.Push(task); err != nil {
			t.Fatal(err)
		}
	}

	d := runDispatcher(t, q, Options{Agents: []scheduler.Agent{builder, fixer}, Executor: exec})

	if len(order) != 3 || order[0] != "compile" || order[1] != "patch" || order[2] != "run" {
		t.Fatalf("Expected compile, patch, run; got %v", order)
	}
	outcomes := outcomeByID(d)
	if outcomes["patch"].Agent != "fixer" {
		t.Errorf("Expected fixer to take patch, got %q", outcomes["patch"].Agent)
	}
	for id, o := range outcomes {
		if o.Status != scheduler.TaskCompleted || o.Attempts != 1 {
			t.Errorf("%s: status %s after %d attempts", id, o.Status, o.Attempts)
		}
	}
}

// TestDispatcher_FailureLeavesDependentsBlocked verifies idle shutdown with stalled work.
func TestDispatcher_FailureLeavesDependentsBlocked(t *testing.T) {
	q := scheduler.New(scheduler.Options{Logger: logging.Discard()})
	exec := ExecutorFunc(func(_ context.Context, task *scheduler.Task) (any, error) {
		if task.ID == "broken" {
			return nil, Permanent(errors.New("exit status 1"))
		}
		return nil, nil
	})

	_ = q.Push(&scheduler.Task{ID: "broken", Type: scheduler.TypeBuild})
	_ = q.Push(&scheduler.Task{ID: "after", Type: scheduler.TypeBuild, DependsOn: []string{"broken"}})

	d := runDispatcher(t, q, Options{Agents: []scheduler.Agent{builder}, Executor: exec})

	o := outcomeByID(d)["broken"]
	if o.Status != scheduler.TaskFailed || o.Err == nil {
		t.Errorf("Expected broken failed with error, got %s %v", o.Status, o.Err)
	}
	if q.Count() != 1 {
		t.Errorf("Expected after still blocked, count=%d", q.Count())
	}
	if !q.IsShutdown() {
		t.Error("Expected queue shut down")
	}
}

// TestDispatcher_ResourcesSerialize verifies tasks sharing a resource never overlap.
func TestDispatcher_ResourcesSerialize(t *testing.T) {
	q := scheduler.New(scheduler.Options{Logger: logging.Discard()})
	var inside, maxInside atomic.Int32
	exec := ExecutorFunc(func(context.Context, *scheduler.Task) (any, error) {
		n := inside.Add(1)
		for {
			m := maxInside.Load()
			if n <= m || maxInside.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inside.Add(-1)
		return nil, nil
	})

	for i := 0; i < 6; i++ {
		_ = q.Push(&scheduler.Task{ID: string(rune('a' + i)), Resources: []string{"out/"}})
	}
	agents := []scheduler.Agent{
		{ID: "a1", Capabilities: scheduler.CapAll},
		{ID: "a2", Capabilities: scheduler.CapAll},
		{ID: "a3", Capabilities: scheduler.CapAll},
	}
	d := runDispatcher(t, q, Options{Agents: agents, Executor: exec})

	if maxInside.Load() != 1 {
		t.Errorf("Expected at most one task inside the resource, saw %d", maxInside.Load())
	}
	if len(d.Outcomes()) != 6 {
		t.Errorf("Expected 6 outcomes, got %d", len(d.Outcomes()))
	}
}

// TestDispatcher_CancelInterruptsExecutor verifies cooperative cancellation reaches the executor.
func TestDispatcher_CancelInterruptsExecutor(t *testing.T) {
	q := scheduler.New(scheduler.Options{Logger: logging.Discard()})
	started := make(chan struct{})
	exec := ExecutorFunc(func(ctx context.Context, _ *scheduler.Task) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	_ = q.Push(&scheduler.Task{ID: "long"})

	go func() {
		<-started
		_ = q.Cancel("long")
	}()
	d := runDispatcher(t, q, Options{Agents: []scheduler.Agent{builder}, Executor: exec})

	o := outcomeByID(d)["long"]
	if o.Status != scheduler.TaskCancelled {
		t.Errorf("Expected cancelled, got %s", o.Status)
	}
	if o.Attempts != 1 {
		t.Errorf("Expected a single attempt, got %d", o.Attempts)
	}
}

// TestDispatcher_NewValidation verifies required options.
func TestDispatcher_NewValidation(t *testing.T) {
	q := scheduler.New(scheduler.Options{})
	if _, err := New(q, Options{Executor: ExecutorFunc(nil)}); err == nil {
		t.Error("Expected error without agents")
	}
	if _, err := New(q, Options{Agents: []scheduler.Agent{builder}}); err == nil {
		t.Error("Expected error without executor")
	}
}

// TestDispatcher_ContextCancelStopsRun verifies Run returns when its context ends.
func TestDispatcher_ContextCancelStopsRun(t *testing.T) {
	q := scheduler.New(scheduler.Options{})
	d, err := New(q, Options{
		Agents:   []scheduler.Agent{builder},
		Executor: ExecutorFunc(func(context.Context, *scheduler.Task) (any, error) { return nil, nil }),
		Logger:   logging.Discard(),
	})
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := d.Run(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected DeadlineExceeded, got %v", err)
	}
}

// TestDispatcher_WaitsForBackgroundWork verifies the idle monitor waits for
// the pool before shutting the queue down.
func TestDispatcher_WaitsForBackgroundWork(t *testing.T) {
	q := scheduler.New(scheduler.Options{Logger: logging.Discard()})
	pool := syncx.NewWorkerPool(1, logging.Discard())
	defer pool.Close()

	var ran atomic.Int32
	exec := ExecutorFunc(func(_ context.Context, task *scheduler.Task) (any, error) {
		ran.Add(1)
		if task.ID == "first" {
			_ = pool.Submit(func() {
				time.Sleep(20 * time.Millisecond)
				_ = q.Push(&scheduler.Task{ID: "second"})
			})
		}
		return nil, nil
	})
	_ = q.Push(&scheduler.Task{ID: "first"})

	runDispatcher(t, q, Options{Agents: []scheduler.Agent{builder}, Executor: exec, Background: pool})
	if ran.Load() != 2 {
		t.Errorf("Expected both tasks to run, got %d", ran.Load())
	}
}
