// Package workers provides a bounded goroutine pool used to run blocking
// work (historical-data HTTP fetches) off whatever goroutine submitted
// it, without spawning unboundedly many goroutines per request.
package workers

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Task is a unit of blocking work submitted to a Pool.
type Task interface {
	Execute() error
}

// TaskFunc adapts a plain function to Task.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// PoolConfig configures a Pool.
type PoolConfig struct {
	Name            string
	NumWorkers      int
	QueueSize       int
	ShutdownTimeout time.Duration
}

// DefaultPoolConfig returns sensible defaults for an I/O-bound pool.
func DefaultPoolConfig(name string) *PoolConfig {
	return &PoolConfig{
		Name:            name,
		NumWorkers:      8,
		QueueSize:       1024,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Pool manages a fixed set of worker goroutines draining a shared task
// queue. Submitters that want the result block on SubmitWait; Submit is
// fire-and-forget.
type Pool struct {
	logger *zap.Logger
	config *PoolConfig

	taskQueue chan Task
	wg        sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc

	tasksSubmitted atomic.Int64
	tasksCompleted atomic.Int64
	tasksFailed    atomic.Int64
}

// NewPool constructs a Pool; call Start to begin draining submissions.
func NewPool(logger *zap.Logger, config *PoolConfig) *Pool {
	if config == nil {
		config = DefaultPoolConfig("default")
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		logger:    logger,
		config:    config,
		taskQueue: make(chan Task, config.QueueSize),
		ctx:       ctx,
		cancel:    cancel,
	}
}

func (p *Pool) Start() {
	if p.running.Swap(true) {
		return
	}
	p.logger.Info("starting worker pool", zap.String("name", p.config.Name), zap.Int("workers", p.config.NumWorkers))
	for i := 0; i < p.config.NumWorkers; i++ {
		p.wg.Add(1)
		go p.run()
	}
}

func (p *Pool) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case task, ok := <-p.taskQueue:
			if !ok {
				return
			}
			if err := task.Execute(); err != nil {
				p.tasksFailed.Add(1)
			} else {
				p.tasksCompleted.Add(1)
			}
		}
	}
}

// Submit enqueues a task without waiting for it to run.
func (p *Pool) Submit(task Task) error {
	if !p.running.Load() {
		return ErrPoolStopped
	}
	select {
	case p.taskQueue <- task:
		p.tasksSubmitted.Add(1)
		return nil
	default:
		return ErrQueueFull
	}
}

// SubmitWait enqueues a task and blocks until it has run, returning its error.
func (p *Pool) SubmitWait(fn func() error) error {
	done := make(chan error, 1)
	if err := p.Submit(TaskFunc(func() error {
		err := fn()
		done <- err
		return err
	})); err != nil {
		return err
	}
	return <-done
}

// Stop signals workers to exit and waits up to ShutdownTimeout.
func (p *Pool) Stop() error {
	if !p.running.Swap(false) {
		return nil
	}
	p.cancel()
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-time.After(p.config.ShutdownTimeout):
		return ErrShutdownTimeout
	}
}

// Stats is a point-in-time snapshot of pool throughput counters.
type Stats struct {
	TasksSubmitted int64
	TasksCompleted int64
	TasksFailed    int64
	QueueLength    int
}

func (p *Pool) Stats() Stats {
	return Stats{
		TasksSubmitted: p.tasksSubmitted.Load(),
		TasksCompleted: p.tasksCompleted.Load(),
		TasksFailed:    p.tasksFailed.Load(),
		QueueLength:    len(p.taskQueue),
	}
}

var (
	ErrPoolStopped     = poolError("pool is stopped")
	ErrQueueFull       = poolError("task queue is full")
	ErrShutdownTimeout = poolError("shutdown timed out")
)

type poolError string

func (e poolError) Error() string { return string(e) }
