package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dandantas/nyxmon/internal/database"
	"github.com/dandantas/nyxmon/internal/model"
	"github.com/dandantas/nyxmon/internal/runner"
)

// DefaultShutdownTimeout bounds how long Stop waits for the current tick
const DefaultShutdownTimeout = 30 * time.Second

// ErrStillStopping is returned by Start while the loop of a timed-out Stop is still running
var ErrStillStopping = errors.New("previous loop is still stopping")

// BatchRunner executes claimed checks and streams each result to sink
type BatchRunner interface {
	Run(ctx context.Context, checks []model.Check, sink runner.Sink)
}

// ResultRecorder persists one result, typically by dispatching AddResult on the bus
type ResultRecorder interface {
	RecordResult(ctx context.Context, result model.Result) error
}

// RecorderFunc adapts a function to ResultRecorder
type RecorderFunc func(ctx context.Context, result model.Result) error

func (f RecorderFunc) RecordResult(ctx context.Context, result model.Result) error {
	return f(ctx, result)
}

// Collector polls the store for due checks, claims them and runs them
type Collector struct {
	store           database.Store
	runner          BatchRunner
	recorder        ResultRecorder
	interval        time.Duration
	shutdownTimeout time.Duration

	mu       sync.Mutex
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	// done is closed when the most recent loop exits
	done chan struct{}
}

// NewCollector creates a collector that ticks every interval
func NewCollector(store database.Store, r BatchRunner, recorder ResultRecorder, interval, shutdownTimeout time.Duration) *Collector {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	return &Collector{
		store:           store,
		runner:          r,
		recorder:        recorder,
		interval:        interval,
		shutdownTimeout: shutdownTimeout,
	}
}

// Start begins the tick loop. The first tick runs immediately. Starting a running collector is a no-op;
// starting while a stopped loop has not exited yet returns ErrStillStopping.
func (c *Collector) Start(ctx context.Context) error {
	if c.interval <= 0 {
		return fmt.Errorf("collector interval must be positive, got %s", c.interval)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return nil
	}
	if loopActive(c.done) {
		return ErrStillStopping
	}

	slog.Info("Starting collector", "interval", c.interval.String())

	c.running = true
	c.stopChan = make(chan struct{})
	c.ticker = time.NewTicker(c.interval)
	c.done = make(chan struct{})

	go c.run(ctx, c.ticker, c.stopChan, c.done)
	return nil
}

// Stop signals the loop and waits for the current tick, at most until ctx ends
// or the shutdown timeout passes. A timeout is logged, not returned.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	close(c.stopChan)
	c.ticker.Stop()
	done := c.done
	c.mu.Unlock()

	slog.Info("Stopping collector")
	waitBounded(ctx, done, c.shutdownTimeout, "collector")
	return nil
}

// Running reports whether the loop is active
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Collector) run(ctx context.Context, ticker *time.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	c.tick(ctx)

	for {
		select {
		case <-ticker.C:
			c.tick(ctx)
		case <-stop:
			slog.Info("Collector stopped")
			return
		case <-ctx.Done():
			slog.Info("Collector context done")
			return
		}
	}
}

// tick claims every due check and runs them as one batch. It returns once every result is recorded.
func (c *Collector) tick(ctx context.Context) {
	checks, err := c.claimDue(ctx)
	if err != nil {
		slog.Error("Failed to claim due checks", "error", err.Error())
		return
	}
	if len(checks) == 0 {
		slog.Debug("No checks due")
		return
	}

	slog.Info("Running due checks", "count", len(checks))
	start := time.Now()

	// the batch outlives a stop request; Stop only bounds how long it is awaited
	runCtx := context.WithoutCancel(ctx)
	c.runner.Run(runCtx, checks, func(result model.Result) {
		if err := c.recorder.RecordResult(runCtx, result); err != nil {
			slog.Error("Failed to record result",
				"check_id", result.CheckID,
				"result_id", result.ResultID,
				"error", err.Error(),
			)
		}
	})

	slog.Info("Collector tick completed",
		"count", len(checks),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (c *Collector) claimDue(ctx context.Context) ([]model.Check, error) {
	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := tx.Now()
	due, err := tx.Checks().ListDue(ctx, now)
	if err != nil {
		return nil, err
	}

	claimed := make([]model.Check, 0, len(due))
	for _, check := range due {
		ok, err := tx.Checks().Claim(ctx, check.CheckID, now)
		if err != nil {
			return nil, fmt.Errorf("failed to claim check %d: %w", check.CheckID, err)
		}
		if !ok {
			slog.Debug("Check claimed elsewhere", "check_id", check.CheckID)
			continue
		}
		check.Status = model.CheckStatusProcessing
		check.ProcessingStartedAt = now
		claimed = append(claimed, *check)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return claimed, nil
}

// loopActive reports whether done belongs to a loop that has not exited
func loopActive(done <-chan struct{}) bool {
	if done == nil {
		return false
	}
	select {
	case <-done:
		return false
	default:
		return true
	}
}

// waitBounded waits for done until ctx ends or timeout passes, logging a warning on timeout
func waitBounded(ctx context.Context, done <-chan struct{}, timeout time.Duration, name string) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case <-done:
		slog.Info("Loop stopped cleanly", "loop", name)
	case <-waitCtx.Done():
		slog.Warn("Timeout waiting for loop to stop", "loop", name, "timeout", timeout.String())
	}
}
