package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/sourcegraph/conc/panics"
)

var (
	ErrQueueFull   = errors.New("job queue is full")
	ErrPoolStopped = errors.New("worker pool is stopped")
)

// WorkerPool runs submitted jobs on a fixed number of goroutines
type WorkerPool struct {
	workers int
	jobs    chan Job
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc

	mu      sync.RWMutex
	started bool
	stopped bool
}

// NewWorkerPool creates a new worker pool
func NewWorkerPool(workers int, jobQueueSize int) *WorkerPool {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		workers: workers,
		jobs:    make(chan Job, jobQueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the worker pool
func (wp *WorkerPool) Start() {
	wp.mu.Lock()
	defer wp.mu.Unlock()
	if wp.started || wp.stopped {
		return
	}
	wp.started = true

	slog.Info("Starting worker pool", "workers", wp.workers)

	for i := 0; i < wp.workers; i++ {
		wp.wg.Add(1)
		go wp.worker(i)
	}
}

// Stop stops accepting jobs, drains the queue and waits for the workers
func (wp *WorkerPool) Stop() {
	wp.mu.Lock()
	if wp.stopped {
		wp.mu.Unlock()
		return
	}
	wp.stopped = true
	close(wp.jobs)
	wp.mu.Unlock()

	slog.Info("Stopping worker pool")
	wp.wg.Wait()
	wp.cancel()
	slog.Info("Worker pool stopped")
}

// Submit queues a job without blocking
func (wp *WorkerPool) Submit(job Job) error {
	wp.mu.RLock()
	defer wp.mu.RUnlock()

	if wp.stopped {
		return ErrPoolStopped
	}

	select {
	case wp.jobs <- job:
		slog.Debug("Job submitted to worker pool", "job", job.Name, "key", job.Key)
		return nil
	default:
		return fmt.Errorf("%w: %s %s", ErrQueueFull, job.Name, job.Key)
	}
}

// GetJobQueueLength returns the current number of jobs in the queue
func (wp *WorkerPool) GetJobQueueLength() int {
	return len(wp.jobs)
}

func (wp *WorkerPool) worker(id int) {
	defer wp.wg.Done()

	slog.Debug("Worker started", "worker_id", id)

	for job := range wp.jobs {
		var err error
		var catcher panics.Catcher
		catcher.Try(func() {
			err = job.Run(wp.ctx)
		})
		if rec := catcher.Recovered(); rec != nil {
			err = rec.AsError()
		}

		if err != nil {
			slog.Error("Job failed",
				"worker_id", id,
				"job", job.Name,
				"key", job.Key,
				"error", err.Error(),
			)
			continue
		}
		slog.Debug("Job completed", "worker_id", id, "job", job.Name, "key", job.Key)
	}

	slog.Debug("Worker stopped", "worker_id", id)
}
