package syncx

import (
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed is returned by Submit after Close.
var ErrPoolClosed = errors.New("worker pool closed")

// WorkerPool runs plain functions on a fixed set of goroutines, in the order
// they were submitted. It has no notion of priority; the scheduler's queue is
// a separate structure.
type WorkerPool struct {
	mu       sync.Mutex
	jobs     []func()
	notEmpty *Cond
	idle     *Cond
	pending  int // queued + running
	closed   bool

	group     errgroup.Group
	workers   int
	completed Counter
	panics    Counter
	logger    *slog.Logger
}

// NewWorkerPool starts a pool with the given number of workers (at least one).
func NewWorkerPool(workers int, logger *slog.Logger) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	p := &WorkerPool{
		workers: workers,
		logger:  logger,
	}
	p.notEmpty = NewCond(&p.mu)
	p.idle = NewCond(&p.mu)

	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}
	return p
}

// Submit enqueues fn. It never blocks on worker availability.
func (p *WorkerPool) Submit(fn func()) error {
	if fn == nil {
		return errors.New("nil job")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}
	p.jobs = append(p.jobs, fn)
	p.pending++
	p.notEmpty.Signal()
	return nil
}

// WaitAll blocks until every job submitted so far, and any job those jobs
// submit, has finished.
func (p *WorkerPool) WaitAll() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for p.pending > 0 {
		p.idle.Wait()
	}
}

// Pending returns the number of queued and running jobs.
func (p *WorkerPool) Pending() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.pending
}

// Completed returns the number of jobs that have finished, including ones
// that panicked.
func (p *WorkerPool) Completed() int64 {
	return p.completed.Load()
}

// Panics returns the number of jobs that panicked.
func (p *WorkerPool) Panics() int64 {
	return p.panics.Load()
}

// Size returns the number of workers.
func (p *WorkerPool) Size() int {
	return p.workers
}

// Close stops accepting jobs, lets the workers drain what is queued, and
// waits for them to exit. Safe to call more than once.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		p.notEmpty.Broadcast()
	}
	p.mu.Unlock()

	_ = p.group.Wait()
}

func (p *WorkerPool) work() error {
	for {
		p.mu.Lock()
		for len(p.jobs) == 0 && !p.closed {
			p.notEmpty.Wait()
		}
		if len(p.jobs) == 0 {
			p.mu.Unlock()
			return nil
		}
		job := p.jobs[0]
		p.jobs[0] = nil
		p.jobs = p.jobs[1:]
		p.mu.Unlock()

		p.run(job)

		p.mu.Lock()
		p.pending--
		if p.pending == 0 {
			p.idle.Broadcast()
		}
		p.mu.Unlock()
	}
}

func (p *WorkerPool) run(job func()) {
	defer p.completed.Inc()
	defer func() {
		if r := recover(); r != nil {
			p.panics.Inc()
			p.logger.Error("worker pool job panicked", "panic", r)
		}
	}()
	job()
}
