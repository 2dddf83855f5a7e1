package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dandantas/nyxmon/internal/executor"
	"github.com/dandantas/nyxmon/internal/model"
	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"
)

// DefaultHTTPTimeout bounds each request made with the batch client
const DefaultHTTPTimeout = 10 * time.Second

// Sink receives each result as soon as its check finishes
type Sink func(model.Result)

// Runner executes batches of checks concurrently. Batches on one runner are serialised.
type Runner struct {
	mu        sync.Mutex
	registry  *executor.Registry
	newClient func() *http.Client
	now       func() time.Time

	// batch is only set while a batch runs. Factories read it from inside
	// Run, where mu is already held.
	batch atomic.Pointer[sharedClient]
}

// NewRunner creates a runner. A nil registry gets every built-in executor;
// a nil newClient builds the default pooled HTTP client.
func NewRunner(registry *executor.Registry, newClient func() *http.Client) *Runner {
	r := &Runner{registry: registry, newClient: newClient, now: time.Now}
	if r.newClient == nil {
		r.newClient = func() *http.Client { return executor.NewHTTPClient(DefaultHTTPTimeout) }
	}
	if r.registry == nil {
		r.registry = executor.NewRegistry()
		executor.RegisterDefaults(r.registry, r.HTTPClient)
	}
	return r
}

// Registry returns the runner's executor registry
func (r *Runner) Registry() *executor.Registry {
	return r.registry
}

// HTTPClient returns the current batch's shared client, creating it on first use.
// Outside a batch it returns nil so executors fall back to a client of their own.
func (r *Runner) HTTPClient() *http.Client {
	batch := r.batch.Load()
	if batch == nil {
		return nil
	}
	return batch.get()
}

// Run executes every check concurrently and passes each result to sink.
// It returns when all checks have produced their result.
func (r *Runner) Run(ctx context.Context, checks []model.Check, sink Sink) {
	if len(checks) == 0 {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	batch := &sharedClient{create: r.newClient}
	r.batch.Store(batch)
	for _, c := range checks {
		if c.CheckType.UsesHTTPClient() {
			batch.get()
			break
		}
	}

	defer func() {
		if err := r.registry.CloseAll(); err != nil {
			slog.Warn("Failed to close executors", "error", err.Error())
		}
		r.batch.Store(nil)
		batch.close()
	}()

	slog.Debug("Running check batch", "checks", len(checks))
	start := time.Now()

	var wg conc.WaitGroup
	for _, check := range checks {
		wg.Go(func() {
			sink(r.execute(ctx, check))
		})
	}
	if recovered := wg.WaitAndRecover(); recovered != nil {
		slog.Error("Result sink panicked", "panic", recovered.String())
	}

	slog.Debug("Check batch completed",
		"checks", len(checks),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

// execute runs one check and always returns a stamped result
func (r *Runner) execute(ctx context.Context, check model.Check) model.Result {
	var result model.Result

	exec, err := r.registry.Get(check.CheckType)
	if err != nil {
		slog.Warn("No executor for check", "check_id", check.CheckID, "check_type", check.CheckType)
		result = model.NewErrorResult(check.CheckID, model.ErrTypeUnknownCheckType, err.Error())
	} else {
		var catcher panics.Catcher
		catcher.Try(func() {
			result = exec.Execute(ctx, check)
		})
		if rec := catcher.Recovered(); rec != nil {
			slog.Error("Executor panicked",
				"check_id", check.CheckID,
				"check_type", check.CheckType,
				"panic", fmt.Sprint(rec.Value),
			)
			result = model.NewErrorResult(check.CheckID, model.ErrTypeUnexpected, fmt.Sprintf("executor panicked: %v", rec.Value))
		}
	}

	if result.Data == nil {
		result.Data = map[string]any{}
	}
	if result.Status == "" {
		result.Status = model.ResultStatusError
	}
	result.ResultID = uuid.NewString()
	result.CheckID = check.CheckID
	result.CreatedAt = r.now().Unix()
	return result
}

// Close waits for a running batch, then releases every executor in the registry
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registry.Close()
}

// ValidateCheckTypes logs persisted checks whose type has no registered executor
// and returns them.
func (r *Runner) ValidateCheckTypes(ctx context.Context, checks []model.Check) []model.Check {
	known := make(map[model.CheckType]bool)
	for _, t := range r.registry.Types() {
		known[t] = true
	}

	var invalid []model.Check
	for _, c := range checks {
		if !known[c.CheckType] {
			invalid = append(invalid, c)
			slog.Warn("Check has an unsupported type",
				"check_id", c.CheckID,
				"check_type", c.CheckType,
				"registered_types", r.registry.Types(),
			)
		}
	}
	return invalid
}

// sharedClient lazily creates one HTTP client per batch
type sharedClient struct {
	once   sync.Once
	create func() *http.Client
	client *http.Client
}

func (s *sharedClient) get() *http.Client {
	s.once.Do(func() {
		s.client = s.create()
	})
	return s.client
}

func (s *sharedClient) close() {
	if s.client != nil {
		s.client.CloseIdleConnections()
	}
}
