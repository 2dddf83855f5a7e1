package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dandantas/nyxmon/internal/database"
	"github.com/robfig/cron/v3"
)

// Cleaner deletes results older than the retention window on a fixed schedule
type Cleaner struct {
	store           database.Store
	interval        time.Duration
	retention       time.Duration
	batchSize       int
	shutdownTimeout time.Duration

	mu          sync.Mutex
	cron        *cron.Cron
	initialDone chan struct{}
	// done is closed once a stopped schedule has no job left running
	done chan struct{}
}

// NewCleaner creates a cleaner deleting at most batchSize results per run
func NewCleaner(store database.Store, interval, retention time.Duration, batchSize int, shutdownTimeout time.Duration) *Cleaner {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Cleaner{
		store:           store,
		interval:        interval,
		retention:       retention,
		batchSize:       batchSize,
		shutdownTimeout: shutdownTimeout,
	}
}

// Start schedules the cleanup job and runs it once immediately.
// Overlapping runs are skipped. Starting a running cleaner is a no-op;
// starting while a stopped job has not finished returns ErrStillStopping.
func (c *Cleaner) Start(ctx context.Context) error {
	if c.interval <= 0 {
		return fmt.Errorf("cleanup interval must be positive, got %s", c.interval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cron != nil {
		return nil
	}
	if loopActive(c.done) {
		return ErrStillStopping
	}

	slog.Info("Starting cleaner",
		"interval", c.interval.String(),
		"retention", c.retention.String(),
		"batch_size", c.batchSize,
	)

	logger := cronLogger{}
	runCtx := context.WithoutCancel(ctx)
	job := cron.NewChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)).
		Then(cron.FuncJob(func() {
			if _, err := c.RunOnce(runCtx); err != nil {
				slog.Error("Cleanup run failed", "error", err.Error())
			}
		}))

	c.cron = cron.New(cron.WithLogger(logger))
	c.cron.Schedule(cron.Every(c.interval), job)
	c.cron.Start()

	initialDone := make(chan struct{})
	c.initialDone = initialDone
	go func() {
		defer close(initialDone)
		job.Run()
	}()
	return nil
}

// Stop stops scheduling and waits for a running job, bounded like the collector
func (c *Cleaner) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.cron == nil {
		c.mu.Unlock()
		return nil
	}
	stopped := c.cron.Stop()
	c.cron = nil
	initialDone := c.initialDone
	done := make(chan struct{})
	c.done = done
	c.mu.Unlock()

	slog.Info("Stopping cleaner")

	go func() {
		defer close(done)
		<-stopped.Done()
		<-initialDone
	}()
	waitBounded(ctx, done, c.shutdownTimeout, "cleaner")
	return nil
}

// RunOnce deletes one batch of expired results in its own transaction
func (c *Cleaner) RunOnce(ctx context.Context) (int, error) {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)

	deleted, err := tx.Results().DeleteOld(ctx, int64(c.retention/time.Second), c.batchSize)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}

	if deleted > 0 {
		slog.Info("Deleted expired results", "count", deleted, "batch_size", c.batchSize)
	} else {
		slog.Debug("No expired results")
	}
	return deleted, nil
}

// cronLogger routes cron's own logging to slog
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("Cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("Cron: "+msg, append([]interface{}{"error", err.Error()}, keysAndValues...)...)
}
