package runner

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dandantas/nyxmon/internal/executor"
	"github.com/dandantas/nyxmon/internal/model"
)

type fakeExecutor struct {
	run    func(check model.Check) model.Result
	closed *atomic.Int32
}

func (f *fakeExecutor) Execute(ctx context.Context, check model.Check) model.Result {
	return f.run(check)
}

func (f *fakeExecutor) Close() error {
	f.closed.Add(1)
	return nil
}

type collector struct {
	mu      sync.Mutex
	results []model.Result
}

func (c *collector) sink(r model.Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *collector) byCheck() map[int64]model.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[int64]model.Result, len(c.results))
	for _, r := range c.results {
		out[r.CheckID] = r
	}
	return out
}

func okExecutor(closed *atomic.Int32) executor.Factory {
	return func() executor.Executor {
		return &fakeExecutor{closed: closed, run: func(check model.Check) model.Result {
			return model.NewResult(check.CheckID, model.ResultStatusOK, nil)
		}}
	}
}

func TestRunMixedBatchWithUnknownType(t *testing.T) {
	var closed atomic.Int32
	var clients atomic.Int32

	reg := executor.NewRegistry()
	reg.RegisterFactory(model.CheckTypeHTTP, okExecutor(&closed))
	reg.RegisterFactory(model.CheckTypeTCP, okExecutor(&closed))

	r := NewRunner(reg, func() *http.Client {
		clients.Add(1)
		return &http.Client{}
	})

	checks := []model.Check{
		{CheckID: 1, CheckType: model.CheckTypeHTTP},
		{CheckID: 2, CheckType: model.CheckTypeTCP},
		{CheckID: 3, CheckType: "legacy_snmp"},
	}

	var c collector
	r.Run(context.Background(), checks, c.sink)

	results := c.byCheck()
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if results[1].Status != model.ResultStatusOK || results[2].Status != model.ResultStatusOK {
		t.Fatalf("known types should succeed: %+v", results)
	}
	if results[3].ErrorType() != model.ErrTypeUnknownCheckType {
		t.Fatalf("expected unknown_check_type, got %+v", results[3])
	}
	for id, res := range results {
		if res.ResultID == "" || res.CreatedAt == 0 {
			t.Errorf("result for check %d not stamped: %+v", id, res)
		}
	}

	if clients.Load() != 1 {
		t.Fatalf("shared client created %d times, want 1", clients.Load())
	}
	if closed.Load() != 2 {
		t.Fatalf("expected both executors closed, got %d", closed.Load())
	}
}

func TestRunSkipsClientWhenNotNeeded(t *testing.T) {
	var closed atomic.Int32
	var clients atomic.Int32

	reg := executor.NewRegistry()
	reg.RegisterFactory(model.CheckTypeTCP, okExecutor(&closed))
	r := NewRunner(reg, func() *http.Client {
		clients.Add(1)
		return &http.Client{}
	})

	var c collector
	r.Run(context.Background(), []model.Check{{CheckID: 1, CheckType: model.CheckTypeTCP}}, c.sink)

	if clients.Load() != 0 {
		t.Fatalf("no client should be created for a batch without HTTP checks")
	}
}

func TestRunSharesOneClientAcrossHTTPExecutors(t *testing.T) {
	var clients atomic.Int32
	var mu sync.Mutex
	seen := map[*http.Client]bool{}

	reg := executor.NewRegistry()
	r := NewRunner(reg, func() *http.Client {
		clients.Add(1)
		return &http.Client{}
	})
	for _, ct := range []model.CheckType{model.CheckTypeHTTP, model.CheckTypeJSONHTTP, model.CheckTypeJSONMetrics} {
		reg.RegisterFactory(ct, func() executor.Executor {
			client := r.HTTPClient()
			mu.Lock()
			seen[client] = true
			mu.Unlock()
			var closed atomic.Int32
			return &fakeExecutor{closed: &closed, run: func(check model.Check) model.Result {
				return model.NewResult(check.CheckID, model.ResultStatusOK, nil)
			}}
		})
	}

	var c collector
	r.Run(context.Background(), []model.Check{
		{CheckID: 1, CheckType: model.CheckTypeHTTP},
		{CheckID: 2, CheckType: model.CheckTypeJSONHTTP},
		{CheckID: 3, CheckType: model.CheckTypeJSONMetrics},
	}, c.sink)

	if clients.Load() != 1 || len(seen) != 1 {
		t.Fatalf("expected one shared client, created %d, distinct %d", clients.Load(), len(seen))
	}
	if r.HTTPClient() != nil {
		t.Fatalf("client must not outlive the batch")
	}
}

func TestRunConvertsPanicsToResults(t *testing.T) {
	var closed atomic.Int32
	reg := executor.NewRegistry()
	reg.RegisterFactory(model.CheckTypeDNS, func() executor.Executor {
		return &fakeExecutor{closed: &closed, run: func(check model.Check) model.Result {
			panic("resolver exploded")
		}}
	})
	reg.RegisterFactory(model.CheckTypeTCP, okExecutor(&closed))
	r := NewRunner(reg, nil)

	var c collector
	r.Run(context.Background(), []model.Check{
		{CheckID: 1, CheckType: model.CheckTypeDNS},
		{CheckID: 2, CheckType: model.CheckTypeTCP},
	}, c.sink)

	results := c.byCheck()
	if results[1].ErrorType() != model.ErrTypeUnexpected {
		t.Fatalf("expected unexpected_error for panic, got %+v", results[1])
	}
	if results[2].Status != model.ResultStatusOK {
		t.Fatalf("sibling check should be unaffected, got %+v", results[2])
	}
	if closed.Load() != 2 {
		t.Fatalf("teardown must run after a panic, closed=%d", closed.Load())
	}
}

func TestRunIsConcurrentAndSerialisesBatches(t *testing.T) {
	var closed atomic.Int32
	var inFlight, maxInFlight atomic.Int32
	reg := executor.NewRegistry()
	reg.RegisterFactory(model.CheckTypeTCP, func() executor.Executor {
		return &fakeExecutor{closed: &closed, run: func(check model.Check) model.Result {
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(50 * time.Millisecond)
			inFlight.Add(-1)
			return model.NewResult(check.CheckID, model.ResultStatusOK, nil)
		}}
	})
	r := NewRunner(reg, nil)

	batch := []model.Check{
		{CheckID: 1, CheckType: model.CheckTypeTCP},
		{CheckID: 2, CheckType: model.CheckTypeTCP},
		{CheckID: 3, CheckType: model.CheckTypeTCP},
	}

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			var c collector
			r.Run(context.Background(), batch, c.sink)
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 3 {
		t.Fatalf("expected checks of one batch to run concurrently and batches to be serialised, max in flight %d", maxInFlight.Load())
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Fatalf("two batches finished in %s; batches should not overlap", elapsed)
	}
}

func TestValidateCheckTypes(t *testing.T) {
	r := NewRunner(nil, nil)
	invalid := r.ValidateCheckTypes(context.Background(), []model.Check{
		{CheckID: 1, CheckType: model.CheckTypeHTTP},
		{CheckID: 2, CheckType: "ftp"},
		{CheckID: 3, CheckType: model.CheckTypeIMAP},
	})
	if len(invalid) != 1 || invalid[0].CheckID != 2 {
		t.Fatalf("unexpected invalid checks: %+v", invalid)
	}
}

func TestRunKeepsSharedExecutorsAcrossBatches(t *testing.T) {
	var closed atomic.Int32
	reg := executor.NewRegistry()
	reg.Register(model.CheckTypeDNS, &fakeExecutor{closed: &closed, run: func(check model.Check) model.Result {
		return model.NewResult(check.CheckID, model.ResultStatusOK, nil)
	}})
	r := NewRunner(reg, nil)

	for batch := 1; batch <= 2; batch++ {
		var c collector
		r.Run(context.Background(), []model.Check{{CheckID: 1, CheckType: model.CheckTypeDNS}}, c.sink)
		if res := c.byCheck()[1]; res.Status != model.ResultStatusOK {
			t.Fatalf("batch %d: expected ok, got %s %v", batch, res.Status, res.Data)
		}
	}
	if closed.Load() != 0 {
		t.Fatalf("shared executor closed between batches %d times", closed.Load())
	}

	if err := r.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if closed.Load() != 1 {
		t.Fatalf("shared executor closed %d times on shutdown, want 1", closed.Load())
	}
}

func TestHTTPClientReadableWhileBatchesRun(t *testing.T) {
	var closed atomic.Int32
	reg := executor.NewRegistry()
	reg.RegisterFactory(model.CheckTypeHTTP, okExecutor(&closed))
	r := NewRunner(reg, func() *http.Client { return &http.Client{} })

	done := make(chan struct{})
	var readers sync.WaitGroup
	for i := 0; i < 4; i++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for {
				select {
				case <-done:
					return
				default:
					r.HTTPClient()
				}
			}
		}()
	}

	for i := 0; i < 20; i++ {
		var c collector
		r.Run(context.Background(), []model.Check{{CheckID: 1, CheckType: model.CheckTypeHTTP}}, c.sink)
	}
	close(done)
	readers.Wait()

	if r.HTTPClient() != nil {
		t.Fatalf("client must not outlive the batch")
	}
}
