package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
)

func TestWorkerPoolRunsJobs(t *testing.T) {
	pool := NewWorkerPool(3, 10)
	pool.Start()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		err := pool.Submit(Job{Name: "count", Run: func(ctx context.Context) error {
			ran.Add(1)
			return nil
		}})
		if err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	pool.Stop()
	if ran.Load() != 10 {
		t.Fatalf("stop should drain the queue, ran %d", ran.Load())
	}
}

func TestWorkerPoolSurvivesFailuresAndPanics(t *testing.T) {
	pool := NewWorkerPool(1, 3)
	pool.Start()

	var ran atomic.Int32
	pool.Submit(Job{Name: "fail", Run: func(ctx context.Context) error { return errors.New("boom") }})
	pool.Submit(Job{Name: "panic", Run: func(ctx context.Context) error { panic("boom") }})
	pool.Submit(Job{Name: "ok", Run: func(ctx context.Context) error {
		ran.Add(1)
		return nil
	}})

	pool.Stop()
	if ran.Load() != 1 {
		t.Fatal("the worker died before the last job")
	}
}

func TestWorkerPoolSubmitNeverBlocks(t *testing.T) {
	pool := NewWorkerPool(1, 1)

	noop := Job{Name: "noop", Run: func(ctx context.Context) error { return nil }}
	if err := pool.Submit(noop); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	if err := pool.Submit(noop); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}

	pool.Start()
	pool.Stop()
	if err := pool.Submit(noop); !errors.Is(err, ErrPoolStopped) {
		t.Fatalf("expected ErrPoolStopped, got %v", err)
	}
	pool.Stop()
}
