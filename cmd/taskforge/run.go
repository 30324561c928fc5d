package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/dispatch"
	"github.com/aristath/taskforge/internal/events"
	"github.com/aristath/taskforge/internal/logging"
	"github.com/aristath/taskforge/internal/plan"
	"github.com/aristath/taskforge/internal/report"
	"github.com/aristath/taskforge/internal/scheduler"
	"github.com/aristath/taskforge/internal/shell"
	"github.com/aristath/taskforge/internal/syncx"
)

const reportWidth = 80

// runOptions carries everything a run needs, so tests can drive runPlan
// without flags or signals.
type runOptions struct {
	PlanPath string
	Config   *config.Config
	Dir      string
	Cascade  bool
	Logger   *slog.Logger
	Stdout   io.Writer
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, closeLog, err := buildLogger(cfg, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := runPlan(ctx, runOptions{
		PlanPath: args[0],
		Config:   cfg,
		Dir:      dirFlag,
		Cascade:  cascadeFlag,
		Logger:   logger,
		Stdout:   cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}
	if !run.Succeeded() {
		return errRunFailed
	}
	return nil
}

// runPlan executes a plan to completion, prints the report and returns it.
func runPlan(ctx context.Context, opts runOptions) (report.Run, error) {
	cfg, logger := opts.Config, opts.Logger

	p, err := plan.Load(opts.PlanPath)
	if err != nil {
		return report.Run{}, err
	}
	tasks, err := p.Tasks()
	if err != nil {
		return report.Run{}, err
	}
	agents, err := buildAgents(cfg)
	if err != nil {
		return report.Run{}, err
	}

	bus := events.NewEventBus()
	defer bus.Close()
	go logEvents(bus.SubscribeAll(256), logger)

	q := scheduler.New(scheduler.Options{
		Logger:          logger,
		Events:          bus,
		CascadeFailures: cfg.Queue.CascadeFailures || opts.Cascade,
	})

	pool := syncx.NewWorkerPool(cfg.Pool.Workers, logger)
	defer pool.Close()

	followUps := dispatch.NewFollowUps(q, pool, cfg.Workflows, logger)
	for _, t := range tasks {
		if wf := p.WorkflowFor(t.ID); wf != "" {
			if err := followUps.Track(t, wf); err != nil {
				return report.Run{}, err
			}
		}
	}

	pm := shell.NewProcessManager()
	exec := shell.NewExecutor(cfg.Shell,
		shell.WithDir(opts.Dir),
		shell.WithProcessManager(pm),
		shell.WithLogger(logger),
	)

	d, err := dispatch.New(q, dispatch.Options{
		Agents:       agents,
		Executor:     exec,
		Retry:        cfg.Retry,
		Breakers:     dispatch.NewBreakerRegistry(cfg.Breaker, logger),
		FollowUps:    followUps,
		StopWhenIdle: true,
		Background:   pool,
		Logger:       logger,
	})
	if err != nil {
		return report.Run{}, err
	}

	watchdog := dispatch.NewWatchdog(q, cfg.Watchdog.Interval.Std(), logger)
	watchdog.OnExpire = func([]string) { d.Nudge() }
	if err := watchdog.Start(); err != nil {
		return report.Run{}, err
	}
	defer watchdog.Stop()

	for _, t := range tasks {
		if err := q.Push(t); err != nil {
			return report.Run{}, fmt.Errorf("queueing %s: %w", t.ID, err)
		}
	}
	logger.Info("plan queued", "plan", p.Name, "tasks", len(tasks), "agents", len(agents))

	// A signal shuts the queue down and kills every child process group.
	finished := make(chan struct{})
	defer close(finished)
	go func() {
		select {
		case <-ctx.Done():
		case <-finished:
			return
		}
		logger.Warn("shutdown signal received, cleaning up")
		q.Shutdown()
		if err := pm.KillAll(); err != nil {
			logger.Error("killing subprocesses", "err", err)
		}
	}()

	start := time.Now()
	runErr := d.Run(ctx)
	elapsed := time.Since(start)

	if err := followUps.Err(); err != nil {
		logger.Warn("some follow-up tasks were not queued", "err", err)
	}

	name := p.Name
	if name == "" {
		name = filepath.Base(opts.PlanPath)
	}
	run := report.Collect(name, elapsed, q, d)
	fmt.Fprint(opts.Stdout, report.Render(run, reportWidth))

	if runErr != nil && ctx.Err() == nil {
		return run, runErr
	}
	if ctx.Err() != nil {
		return run, fmt.Errorf("run interrupted: %w", ctx.Err())
	}
	return run, nil
}

func runValidate(cmd *cobra.Command, args []string) error {
	p, err := plan.Load(args[0])
	if err != nil {
		return err
	}
	order, err := p.Validate()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: %d task(s) OK\n", args[0], len(order))
	for i, id := range order {
		fmt.Fprintf(out, "%3d. %s\n", i+1, id)
	}
	return nil
}

func loadConfig() (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFlag != "" {
		cfg, err = config.Load("", configFlag)
	} else {
		cfg, err = config.LoadDefault()
	}
	if err != nil {
		return nil, err
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	return cfg, nil
}

func buildLogger(cfg *config.Config, stderr io.Writer) (*slog.Logger, func(), error) {
	if logFileFlag == "" {
		logger, err := logging.New(stderr, cfg.Log.Level, cfg.Log.Format)
		return logger, func() {}, err
	}
	logger, f, err := logging.NewFile(logFileFlag, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return logger, func() { f.Close() }, nil
}

// buildAgents turns the configured agents into scheduler agents, sorted by
// id so runs are reproducible.
func buildAgents(cfg *config.Config) ([]scheduler.Agent, error) {
	caps, err := cfg.AgentCapabilities()
	if err != nil {
		return nil, err
	}
	if len(caps) == 0 {
		return nil, errors.New("no agents configured")
	}
	agents := make([]scheduler.Agent, 0, len(caps))
	for id, c := range caps {
		agents = append(agents, scheduler.Agent{ID: id, Capabilities: c})
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents, nil
}

// logEvents mirrors queue events into the debug log until the bus closes.
func logEvents(ch <-chan events.Event, logger *slog.Logger) {
	for ev := range ch {
		logger.Debug("event", "type", ev.EventType(), "task_id", ev.TaskID())
	}
}
