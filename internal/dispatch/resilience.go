package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/aristath/taskforge/internal/config"
	"github.com/aristath/taskforge/internal/scheduler"
)

// BreakerRegistry manages one circuit breaker per task type, so a broken
// toolchain stops burning retries for every build task at once.
type BreakerRegistry struct {
	mu       sync.Mutex
	settings config.BreakerConfig
	logger   *slog.Logger
	breakers map[scheduler.TaskType]*gobreaker.CircuitBreaker
}

// NewBreakerRegistry creates an empty registry.
func NewBreakerRegistry(settings config.BreakerConfig, logger *slog.Logger) *BreakerRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakerRegistry{
		settings: settings,
		logger:   logger,
		breakers: make(map[scheduler.TaskType]*gobreaker.CircuitBreaker),
	}
}

// Get returns the breaker for typ, creating it on first use.
func (r *BreakerRegistry) Get(typ scheduler.TaskType) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[typ]; ok {
		return cb
	}

	trip := r.settings.ConsecutiveFailures
	if trip == 0 {
		trip = 5
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        string(typ),
		MaxRequests: r.settings.HalfOpenRequests,
		Timeout:     r.settings.OpenTimeout.Std(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			r.logger.Warn("circuit breaker state change", "task_type", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation says nothing about the health of the task type.
			return err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
		},
	})
	r.breakers[typ] = cb
	return cb
}

// State returns the breaker state for typ. Types never seen are closed.
func (r *BreakerRegistry) State(typ scheduler.TaskType) gobreaker.State {
	r.mu.Lock()
	cb, ok := r.breakers[typ]
	r.mu.Unlock()
	if !ok {
		return gobreaker.StateClosed
	}
	return cb.State()
}

func newBackOff(cfg config.RetryConfig) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval.Std()
	b.MaxInterval = cfg.MaxInterval.Std()
	b.MaxElapsedTime = cfg.MaxElapsedTime.Std()
	if cfg.Multiplier >= 1 {
		b.Multiplier = cfg.Multiplier
	}
	b.RandomizationFactor = cfg.RandomizationFactor
	b.Reset()
	return b
}

// executeWithRetry runs exec through cb, retrying transient errors with
// exponential backoff. It returns the result, the number of attempts, and
// the last error.
func executeWithRetry(ctx context.Context, exec Executor, t *scheduler.Task, cb *gobreaker.CircuitBreaker, retryCfg config.RetryConfig, logger *slog.Logger) (any, int, error) {
	var result any
	attempts := 0

	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		attempts++

		out, err := cb.Execute(func() (interface{}, error) {
			return exec.Execute(ctx, t)
		})
		if err == nil {
			result = out
			return nil
		}

		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return backoff.Permanent(err)
		case IsPermanent(err), ctx.Err() != nil:
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logger.Info("retrying task", "task_id", t.ID, "attempt", attempts, "wait", wait, "err", err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(newBackOff(retryCfg), ctx), notify)
	return result, attempts, err
}
