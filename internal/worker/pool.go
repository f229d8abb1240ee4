// Package worker runs background jobs on a fixed set of goroutines fed by a
// bounded queue. Submissions beyond the queue are rejected rather than blocked.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eleven/artcache/pkg/errors"
)

// Job is a unit of background work. ctx is cancelled when the pool stops.
type Job func(ctx context.Context)

// Config contains configuration for the pool
type Config struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
}

// Stats tracks pool statistics
type Stats struct {
	Submitted uint64        `json:"submitted"`
	Rejected  uint64        `json:"rejected"`
	Completed uint64        `json:"completed"`
	Panics    uint64        `json:"panics"`
	Active    int64         `json:"active"`
	Queued    int           `json:"queued"`
	Workers   int           `json:"workers"`
	AvgRun    time.Duration `json:"avg_run"`
}

// Pool is a bounded, rejecting worker pool
type Pool struct {
	workers int
	logger  *slog.Logger

	mu      sync.RWMutex
	queue   chan Job
	started bool
	stopped bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	submitted atomic.Uint64
	rejected  atomic.Uint64
	completed atomic.Uint64
	panics    atomic.Uint64
	active    atomic.Int64
	runNanos  atomic.Int64
}

// NewPool creates a pool. Zero values select 4 workers and a queue of 64.
func NewPool(config Config, logger *slog.Logger) *Pool {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize < 0 {
		config.QueueSize = 0
	} else if config.QueueSize == 0 {
		config.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		workers: config.Workers,
		logger:  logger.With("component", "worker_pool"),
		queue:   make(chan Job, config.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines
func (p *Pool) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return errors.NewError(errors.ErrCodeComponentStopped, "worker pool already stopped").
			WithComponent("worker_pool")
	}
	if p.started {
		return errors.NewError(errors.ErrCodeAlreadyStarted, "worker pool already started").
			WithComponent("worker_pool")
	}

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.started = true
	p.logger.Debug("Worker pool started", "workers", p.workers, "queue", cap(p.queue))
	return nil
}

// Submit queues job. It never blocks: a full queue returns ErrCodeWorkerBusy.
func (p *Pool) Submit(job Job) error {
	if job == nil {
		return fmt.Errorf("nil job")
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped || !p.started {
		p.rejected.Add(1)
		return errors.NewError(errors.ErrCodeComponentStopped, "worker pool is not running").
			WithComponent("worker_pool").
			WithOperation("submit")
	}

	select {
	case p.queue <- job:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return errors.NewError(errors.ErrCodeWorkerBusy, "worker pool saturated").
			WithComponent("worker_pool").
			WithOperation("submit").
			WithDetail("queue_size", cap(p.queue))
	}
}

// Stop cancels the pool context, drops queued jobs and waits for running
// jobs to return or ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.cancel()
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Debug("Worker pool stopped", "completed", p.completed.Load())
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), errors.ErrCodeOperationCanceled, "timed out waiting for workers").
			WithComponent("worker_pool").
			WithOperation("stop")
	}
}

// Stats returns pool statistics
func (p *Pool) Stats() Stats {
	completed := p.completed.Load()
	var avg time.Duration
	if completed > 0 {
		avg = time.Duration(p.runNanos.Load() / int64(completed))
	}
	return Stats{
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Completed: completed,
		Panics:    p.panics.Load(),
		Active:    p.active.Load(),
		Queued:    len(p.queue),
		Workers:   p.workers,
		AvgRun:    avg,
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for job := range p.queue {
		if p.ctx.Err() != nil {
			// drain without running once stopped
			continue
		}
		p.run(id, job)
	}
}

func (p *Pool) run(id int, job Job) {
	start := time.Now()
	p.active.Add(1)
	defer func() {
		p.active.Add(-1)
		p.runNanos.Add(int64(time.Since(start)))
		p.completed.Add(1)
		if r := recover(); r != nil {
			p.panics.Add(1)
			err := errors.NewError(errors.ErrCodePanicRecovered, fmt.Sprintf("job panicked: %v", r)).
				WithComponent("worker_pool").
				WithStack()
			p.logger.Error("Recovered from job panic", "worker", id, "error", err, "stack", err.Stack)
		}
	}()

	job(p.ctx)
}
