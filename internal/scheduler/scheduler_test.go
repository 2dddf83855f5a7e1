package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dandantas/nyxmon/internal/database"
	"github.com/dandantas/nyxmon/internal/model"
	"github.com/dandantas/nyxmon/internal/runner"
)

type fakeRunner struct {
	mu      sync.Mutex
	batches [][]int64
	block   chan struct{}
}

func (r *fakeRunner) Run(ctx context.Context, checks []model.Check, sink runner.Sink) {
	ids := make([]int64, 0, len(checks))
	for _, c := range checks {
		if c.Status != model.CheckStatusProcessing {
			panic("runner received an unclaimed check")
		}
		ids = append(ids, c.CheckID)
	}
	r.mu.Lock()
	r.batches = append(r.batches, ids)
	r.mu.Unlock()

	if r.block != nil {
		<-r.block
	}
	for _, c := range checks {
		sink(model.NewResult(c.CheckID, model.ResultStatusOK, nil))
	}
}

func (r *fakeRunner) batchCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func seedChecks(t *testing.T, store database.Store, checks ...*model.Check) {
	t.Helper()
	ctx := context.Background()
	tx, err := store.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	for _, c := range checks {
		if err := tx.Checks().Add(ctx, c); err != nil {
			t.Fatalf("add: %v", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestCollectorTickClaimsDueChecks(t *testing.T) {
	store := database.NewMemoryStore(func() time.Time { return time.Unix(1000, 0) })
	seedChecks(t, store,
		&model.Check{CheckID: 1, CheckType: model.CheckTypeHTTP, CheckInterval: 60, NextCheckTime: 900},
		&model.Check{CheckID: 2, CheckType: model.CheckTypeHTTP, CheckInterval: 60, NextCheckTime: 500},
		&model.Check{CheckID: 3, CheckType: model.CheckTypeHTTP, CheckInterval: 60, NextCheckTime: 5000},
		&model.Check{CheckID: 4, CheckType: model.CheckTypeHTTP, CheckInterval: 60, Disabled: true},
	)

	var mu sync.Mutex
	var recorded []int64
	recorder := RecorderFunc(func(ctx context.Context, r model.Result) error {
		mu.Lock()
		defer mu.Unlock()
		recorded = append(recorded, r.CheckID)
		return nil
	})

	fr := &fakeRunner{}
	c := NewCollector(store, fr, recorder, time.Minute, time.Second)
	c.tick(context.Background())

	if len(fr.batches) != 1 || len(fr.batches[0]) != 2 || fr.batches[0][0] != 2 || fr.batches[0][1] != 1 {
		t.Fatalf("expected one batch [2 1], got %v", fr.batches)
	}
	if len(recorded) != 2 {
		t.Fatalf("every result should be recorded, got %v", recorded)
	}

	// nothing completed the checks, so they stay processing and are not claimed again
	c.tick(context.Background())
	if len(fr.batches) != 1 {
		t.Fatalf("processing checks must not be claimed twice, batches %v", fr.batches)
	}
}

func TestCollectorStartStop(t *testing.T) {
	store := database.NewMemoryStore(nil)
	seedChecks(t, store, &model.Check{CheckID: 1, CheckType: model.CheckTypeHTTP, CheckInterval: 60})

	fr := &fakeRunner{}
	recorder := RecorderFunc(func(ctx context.Context, r model.Result) error { return nil })
	c := NewCollector(store, fr, recorder, time.Hour, time.Second)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := c.Start(ctx); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for fr.batchCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if fr.batchCount() != 1 {
		t.Fatalf("first tick should run immediately, batches=%d", fr.batchCount())
	}

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if c.Running() {
		t.Fatal("collector still running after stop")
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}

func TestCollectorStopIsBounded(t *testing.T) {
	store := database.NewMemoryStore(nil)
	seedChecks(t, store, &model.Check{CheckID: 1, CheckType: model.CheckTypeHTTP, CheckInterval: 60})

	fr := &fakeRunner{block: make(chan struct{})}
	defer close(fr.block)
	recorder := RecorderFunc(func(ctx context.Context, r model.Result) error { return nil })
	c := NewCollector(store, fr, recorder, time.Hour, 50*time.Millisecond)

	c.Start(context.Background())
	for fr.batchCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}

	start := time.Now()
	if err := c.Stop(context.Background()); err != nil {
		t.Fatalf("a stop timeout is logged, not returned: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("stop waited %s for a stuck tick", elapsed)
	}
}

func TestCleanerRunOnceRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore(func() time.Time { return time.Unix(100_000, 0) })

	tx, _ := store.Begin(ctx)
	for i, created := range []int64{10, 20, 30, 40, 99_990} {
		tx.Results().Add(ctx, model.Result{ResultID: string(rune('a' + i)), CheckID: 1, Status: model.ResultStatusOK, CreatedAt: created})
	}
	tx.Commit(ctx)

	c := NewCleaner(store, time.Hour, 24*time.Hour, 3, time.Second)

	n, err := c.RunOnce(ctx)
	if err != nil || n != 3 {
		t.Fatalf("first run should delete 3, got %d %v", n, err)
	}
	n, _ = c.RunOnce(ctx)
	if n != 1 {
		t.Fatalf("second run should delete the last expired result, got %d", n)
	}
	n, _ = c.RunOnce(ctx)
	if n != 0 {
		t.Fatalf("in-window results must never be deleted, got %d", n)
	}

	tx, _ = store.Begin(ctx)
	defer tx.Rollback(ctx)
	left, _ := tx.Results().ListByCheck(ctx, 1, 0)
	if len(left) != 1 || left[0].CreatedAt != 99_990 {
		t.Fatalf("unexpected survivors %+v", left)
	}
}

func TestCleanerRunsImmediatelyOnStart(t *testing.T) {
	ctx := context.Background()
	store := database.NewMemoryStore(func() time.Time { return time.Unix(100_000, 0) })
	tx, _ := store.Begin(ctx)
	tx.Results().Add(ctx, model.Result{ResultID: "old", CheckID: 1, Status: model.ResultStatusOK, CreatedAt: 1})
	tx.Commit(ctx)

	c := NewCleaner(store, time.Hour, time.Hour, 10, time.Second)
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for {
		tx, _ := store.Begin(ctx)
		left, _ := tx.Results().ListByCheck(ctx, 1, 0)
		tx.Rollback(ctx)
		if len(left) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("expired result not deleted by the initial run")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}

// gatedStore blocks every transaction until gate is closed
type gatedStore struct {
	database.Store
	gate chan struct{}
}

func (s gatedStore) Begin(ctx context.Context) (database.Tx, error) {
	<-s.gate
	return s.Store.Begin(ctx)
}

// startEventually retries start until the previous loop has exited
func startEventually(t *testing.T, start func(context.Context) error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := start(context.Background())
		if err == nil {
			return
		}
		if !errors.Is(err, ErrStillStopping) {
			t.Fatalf("start: %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatal("previous loop never exited")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestCollectorRestartWaitsForStuckLoop(t *testing.T) {
	store := database.NewMemoryStore(nil)
	seedChecks(t, store, &model.Check{CheckID: 1, CheckType: model.CheckTypeHTTP, CheckInterval: 60})

	fr := &fakeRunner{block: make(chan struct{})}
	recorder := RecorderFunc(func(ctx context.Context, r model.Result) error { return nil })
	c := NewCollector(store, fr, recorder, time.Hour, 20*time.Millisecond)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	for fr.batchCount() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	c.Stop(ctx)

	if err := c.Start(ctx); !errors.Is(err, ErrStillStopping) {
		t.Fatalf("start during a stuck tick should fail with ErrStillStopping, got %v", err)
	}
	if c.Running() {
		t.Fatal("a refused start must not mark the collector running")
	}

	close(fr.block)
	startEventually(t, c.Start)
	if !c.Running() {
		t.Fatal("collector should run after the old loop exited")
	}
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}

func TestCleanerRestartWaitsForStuckJob(t *testing.T) {
	store := gatedStore{Store: database.NewMemoryStore(nil), gate: make(chan struct{})}
	c := NewCleaner(store, time.Hour, time.Hour, 10, 20*time.Millisecond)

	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	c.Stop(ctx)

	if err := c.Start(ctx); !errors.Is(err, ErrStillStopping) {
		t.Fatalf("start during a stuck cleanup should fail with ErrStillStopping, got %v", err)
	}

	close(store.gate)
	startEventually(t, c.Start)
	if err := c.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
