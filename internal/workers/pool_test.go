package workers_test

import (
	"errors"
	"testing"
	"time"

	"github.com/atlas-desktop/trading-engine/internal/workers"
	"go.uber.org/zap"
)

func TestSubmitWaitRunsAndReturnsError(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), &workers.PoolConfig{
		Name: "test", NumWorkers: 2, QueueSize: 8, ShutdownTimeout: time.Second,
	})
	pool.Start()
	defer pool.Stop()

	if err := pool.SubmitWait(func() error { return nil }); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}

	wantErr := errors.New("boom")
	if err := pool.SubmitWait(func() error { return wantErr }); err != wantErr {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}

	stats := pool.Stats()
	if stats.TasksSubmitted != 2 || stats.TasksCompleted != 1 || stats.TasksFailed != 1 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestSubmitBeforeStartReturnsErrPoolStopped(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	if err := pool.Submit(workers.TaskFunc(func() error { return nil })); err != workers.ErrPoolStopped {
		t.Errorf("expected ErrPoolStopped, got %v", err)
	}
}

func TestQueueFullReturnsErrQueueFull(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), &workers.PoolConfig{
		Name: "test", NumWorkers: 0, QueueSize: 1, ShutdownTimeout: time.Second,
	})
	pool.Start()
	defer pool.Stop()

	block := make(chan struct{})
	_ = pool.Submit(workers.TaskFunc(func() error { <-block; return nil }))
	err := pool.Submit(workers.TaskFunc(func() error { return nil }))
	close(block)
	if err != workers.ErrQueueFull {
		t.Errorf("expected ErrQueueFull with no workers draining, got %v", err)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	pool := workers.NewPool(zap.NewNop(), workers.DefaultPoolConfig("test"))
	pool.Start()
	if err := pool.Stop(); err != nil {
		t.Fatalf("first stop: %v", err)
	}
	if err := pool.Stop(); err != nil {
		t.Fatalf("second stop should be a no-op, got: %v", err)
	}
}
