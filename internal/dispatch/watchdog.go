package dispatch

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/aristath/taskforge/internal/scheduler"
	"github.com/aristath/taskforge/internal/syncx"
)

// Watchdog enforces the queue's advisory timeouts. On every tick it expires
// each in-flight task that has run past its timeout; the executor running
// it sees the task's Done channel close and stops.
type Watchdog struct {
	q        *scheduler.Queue
	interval time.Duration
	logger   *slog.Logger

	// OnExpire, if set, is called after each sweep that expired something.
	OnExpire func(ids []string)

	mu      sync.Mutex
	cron    *cron.Cron
	expired syncx.Counter
}

// NewWatchdog creates a watchdog for q. Intervals below one second are
// rounded up by the scheduler.
func NewWatchdog(q *scheduler.Queue, interval time.Duration, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Watchdog{
		q:        q,
		interval: interval,
		logger:   logger,
	}
}

// Start schedules the sweep. Calling Start twice is an error.
func (w *Watchdog) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.cron != nil {
		return fmt.Errorf("watchdog already started")
	}
	c := cron.New()
	if _, err := c.AddFunc("@every "+w.interval.String(), func() { w.Sweep(time.Now()) }); err != nil {
		return fmt.Errorf("scheduling watchdog every %s: %w", w.interval, err)
	}
	c.Start()
	w.cron = c
	w.logger.Debug("watchdog started", "interval", w.interval)
	return nil
}

// Stop cancels the schedule and waits for a running sweep to finish.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	c := w.cron
	w.cron = nil
	w.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
}

// Sweep expires every task overdue at now and returns their ids.
func (w *Watchdog) Sweep(now time.Time) []string {
	var expired []string
	for _, id := range w.q.Overdue(now) {
		if err := w.q.Expire(id); err != nil {
			// Finished between the query and the expiry.
			continue
		}
		w.logger.Warn("task expired", "task_id", id)
		expired = append(expired, id)
	}
	if len(expired) > 0 {
		w.expired.Add(int64(len(expired)))
		if w.OnExpire != nil {
			w.OnExpire(expired)
		}
	}
	return expired
}

// Expired returns how many tasks the watchdog has expired.
func (w *Watchdog) Expired() int64 {
	return w.expired.Load()
}
