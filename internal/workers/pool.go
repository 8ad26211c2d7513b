// Package workers provides a small bounded goroutine pool: the shared
// evaluator behind the Optimizer's grid sweep and genetic search, so both
// engines score candidate configurations concurrently without spawning one
// goroutine per candidate.
package workers

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is one unit of work a Pool can run.
type Task interface {
	Execute() error
}

// TaskFunc adapts a plain func() error into a Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig sizes a Pool's worker count, queue depth, and timeouts.
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	TaskTimeout     time.Duration
	ShutdownTimeout time.Duration
	PanicRecovery   bool
}

// DefaultPoolConfig sizes a pool at 2x CPU workers with a deep queue, fit
// for short evaluation tasks such as a single backtest run.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      runtime.NumCPU() * 2,
		QueueSize:       1024,
		TaskTimeout:     30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
		PanicRecovery:   true,
	}
}

// counts tracks submission outcomes with plain atomics; nothing here needs
// the percentile/throughput tracking a dashboard would want.
type counts struct {
	submitted int64
	completed int64
	failed    int64
	timedOut  int64
	panicked  int64
}

// Pool runs submitted Tasks across a fixed set of worker goroutines reading
// from one shared queue.
type Pool struct {
	logger *zap.Logger
	cfg    *PoolConfig

	queue  chan Task
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	open atomic.Bool
	c    counts
}

// NewPool builds a Pool from cfg (DefaultPoolConfig("default") if cfg is
// nil). Start must be called before Submit accepts work.
func NewPool(logger *zap.Logger, cfg *PoolConfig) *Pool {
	if cfg == nil {
		cfg = DefaultPoolConfig("default")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger: logger,
		cfg:    cfg,
		queue:  make(chan Task, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Start launches cfg.NumWorkers goroutines draining the task queue. Calling
// Start again once already running is a no-op.
func (p *Pool) Start() {
	if p.open.Swap(true) {
		return
	}
	p.logger.Info("worker pool starting",
		zap.String("name", p.cfg.Name), zap.Int("workers", p.cfg.NumWorkers))
	for i := 0; i < p.cfg.NumWorkers; i++ {
		p.wg.Add(1)
		go p.drain(i)
	}
}

func (p *Pool) drain(id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.String("pool", p.cfg.Name), zap.Int("worker", id))
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.queue:
			if !ok {
				return
			}
			p.run(log, task)
		}
	}
}

func (p *Pool) run(log *zap.Logger, task Task) {
	deadline, cancel := context.WithTimeout(p.ctx, p.cfg.TaskTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			if !p.cfg.PanicRecovery {
				panic(r)
			}
			atomic.AddInt64(&p.c.panicked, 1)
			log.Error("task panicked", zap.Any("recovered", r))
			done <- &PanicError{Recovered: r}
		}()
		done <- task.Execute()
	}()

	select {
	case err := <-done:
		if err != nil {
			atomic.AddInt64(&p.c.failed, 1)
			log.Debug("task returned an error", zap.Error(err))
		} else {
			atomic.AddInt64(&p.c.completed, 1)
		}
	case <-deadline.Done():
		atomic.AddInt64(&p.c.timedOut, 1)
		log.Warn("task exceeded its timeout", zap.Duration("timeout", p.cfg.TaskTimeout))
	}
}

// Submit enqueues task without blocking: ErrQueueFull if the queue is full,
// ErrPoolStopped if Stop has already run (or Start never has).
func (p *Pool) Submit(task Task) error {
	if !p.open.Load() {
		return ErrPoolStopped
	}
	select {
	case p.queue <- task:
		atomic.AddInt64(&p.c.submitted, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitFunc wraps fn as a Task and Submits it.
func (p *Pool) SubmitFunc(fn func() error) error {
	return p.Submit(TaskFunc(fn))
}

// SubmitWait submits task and blocks until it has run, returning its error.
func (p *Pool) SubmitWait(task Task) error {
	result := make(chan error, 1)
	wrapped := TaskFunc(func() error {
		err := task.Execute()
		result <- err
		return err
	})
	if err := p.Submit(wrapped); err != nil {
		return err
	}
	return <-result
}

// Stop signals every worker to finish its current task and exit, waiting up
// to cfg.ShutdownTimeout before giving up. Calling Stop when already
// stopped is a no-op.
func (p *Pool) Stop() error {
	if !p.open.Swap(false) {
		return nil
	}
	p.logger.Info("worker pool stopping", zap.String("name", p.cfg.Name))
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(p.cfg.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// Sentinel errors returned by Submit/SubmitFunc/SubmitWait/Stop.
var (
	ErrPoolStopped     = errors.New("workers: pool is stopped")
	ErrQueueFull       = errors.New("workers: task queue is full")
	ErrShutdownTimeout = errors.New("workers: shutdown timed out")
)

// PanicError wraps a value recovered from a panicking Task.
type PanicError struct{ Recovered interface{} }

func (e *PanicError) Error() string { return "workers: task panicked" }
