package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"crossjoin/internal/logging"
	"crossjoin/internal/metrics"
)

// ErrStopped is returned by Submit after the pool has begun shutting down.
var ErrStopped = errors.New("pool: stopped")

// Task is a unit of work executed by a pool worker. The context carries
// the pool's lifetime; tasks should abandon work when it is cancelled.
type Task func(ctx context.Context)

// Config configures a Pool.
type Config struct {
	// Name labels the pool in logs and metrics.
	Name string
	// Workers is the number of concurrent workers.
	Workers int
	// QueueDepth is the capacity of the normal submission queue.
	// Submit blocks while the queue is full.
	QueueDepth int
}

// Pool runs tasks on a fixed set of workers with a bounded queue.
type Pool struct {
	name   string
	jobs   chan Task
	urgent chan Task

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	stopping bool
	pending  sync.WaitGroup

	inFlight atomic.Int64
	done     atomic.Int64
}

// New creates a pool and starts its workers immediately.
func New(cfg Config) *Pool {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.QueueDepth < 1 {
		cfg.QueueDepth = 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		name:   cfg.Name,
		jobs:   make(chan Task, cfg.QueueDepth),
		urgent: make(chan Task, cfg.QueueDepth),
		ctx:    ctx,
		cancel: cancel,
	}

	logging.Info("Starting %s pool: %d workers, queue depth %d", cfg.Name, cfg.Workers, cfg.QueueDepth)
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues a task, blocking while the queue is full. It returns
// ErrStopped once shutdown has started and the caller's context error
// if ctx is cancelled while waiting for queue space.
func (p *Pool) Submit(ctx context.Context, t Task) error {
	return p.submit(ctx, t, p.jobs)
}

// SubmitUrgent enqueues a task on the urgent queue, which workers drain
// before the normal queue.
func (p *Pool) SubmitUrgent(ctx context.Context, t Task) error {
	return p.submit(ctx, t, p.urgent)
}

func (p *Pool) submit(ctx context.Context, t Task, queue chan Task) error {
	p.mu.Lock()
	if p.stopping {
		p.mu.Unlock()
		return ErrStopped
	}
	p.pending.Add(1)
	p.mu.Unlock()

	// Fast path: space available.
	select {
	case queue <- t:
		p.observeDepth()
		return nil
	default:
	}

	metrics.PoolSubmitBlocked.WithLabelValues(p.name).Inc()
	start := time.Now()
	select {
	case queue <- t:
		logging.Debug("%s pool: submit unblocked after %v", p.name, time.Since(start))
		p.observeDepth()
		return nil
	case <-p.ctx.Done():
		p.pending.Done()
		return ErrStopped
	case <-ctx.Done():
		p.pending.Done()
		return ctx.Err()
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		// Urgent tasks jump the line.
		select {
		case t := <-p.urgent:
			p.run(t)
			continue
		default:
		}

		select {
		case t := <-p.urgent:
			p.run(t)
		case t := <-p.jobs:
			p.run(t)
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) run(t Task) {
	p.inFlight.Add(1)
	metrics.PoolTasksInFlight.WithLabelValues(p.name).Inc()
	defer func() {
		p.inFlight.Add(-1)
		p.done.Add(1)
		metrics.PoolTasksInFlight.WithLabelValues(p.name).Dec()
		p.observeDepth()
		p.pending.Done()
	}()
	t(p.ctx)
}

func (p *Pool) observeDepth() {
	metrics.PoolQueueDepth.WithLabelValues(p.name).Set(float64(len(p.jobs) + len(p.urgent)))
}

// Stop rejects new submissions, waits for queued and running tasks to
// finish, and returns the total number of tasks executed.
func (p *Pool) Stop() int64 {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()

	// All accepted tasks finish before workers are released.
	p.pending.Wait()
	p.cancel()
	p.wg.Wait()
	logging.Info("%s pool stopped: %d tasks executed", p.name, p.done.Load())
	return p.done.Load()
}

// Abort cancels the pool immediately. Running tasks observe the
// cancelled context; queued tasks are dropped.
func (p *Pool) Abort() {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()
	p.cancel()
	p.wg.Wait()
}

// InFlight reports the number of currently executing tasks.
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

// Done reports the number of tasks executed so far.
func (p *Pool) Done() int64 {
	return p.done.Load()
}
