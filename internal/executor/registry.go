package executor

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/dandantas/nyxmon/internal/model"
	"go.uber.org/multierr"
)

// UnknownCheckTypeError is returned when no executor is registered for a check type
type UnknownCheckTypeError struct {
	CheckType  model.CheckType
	Registered []model.CheckType
}

func (e *UnknownCheckTypeError) Error() string {
	registered := "none"
	if len(e.Registered) > 0 {
		names := make([]string, len(e.Registered))
		for i, t := range e.Registered {
			names[i] = string(t)
		}
		registered = strings.Join(names, ", ")
	}
	return fmt.Sprintf("no executor registered for check type %q. Registered types: %s", e.CheckType, registered)
}

// Registry maps check types to executors. Factories are instantiated lazily,
// once until CloseAll clears the cache. Shared instances live until Close.
type Registry struct {
	mu        sync.Mutex
	shared    map[model.CheckType]Executor
	factories map[model.CheckType]Factory
	instances map[model.CheckType]Executor
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		shared:    make(map[model.CheckType]Executor),
		factories: make(map[model.CheckType]Factory),
		instances: make(map[model.CheckType]Executor),
	}
}

// Register registers a shared executor instance
func (r *Registry) Register(t model.CheckType, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.factories, t)
	delete(r.instances, t)
	r.shared[t] = e
}

// RegisterFactory registers a factory instantiated on first Get
func (r *Registry) RegisterFactory(t model.CheckType, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.shared, t)
	delete(r.instances, t)
	r.factories[t] = f
}

// Get returns the executor for a check type
func (r *Registry) Get(t model.CheckType) (Executor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.shared[t]; ok {
		return e, nil
	}
	if e, ok := r.instances[t]; ok {
		return e, nil
	}
	if f, ok := r.factories[t]; ok {
		e := f()
		r.instances[t] = e
		return e, nil
	}
	return nil, &UnknownCheckTypeError{CheckType: t, Registered: r.typesLocked()}
}

// Types returns the registered check types, sorted
func (r *Registry) Types() []model.CheckType {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.typesLocked()
}

func (r *Registry) typesLocked() []model.CheckType {
	types := make([]model.CheckType, 0, len(r.shared)+len(r.factories))
	for t := range r.shared {
		types = append(types, t)
	}
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// CloseAll closes every factory-built executor exactly once and clears the
// instance cache. Factories and shared instances stay registered.
func (r *Registry) CloseAll() error {
	r.mu.Lock()
	toClose := make([]Executor, 0, len(r.instances))
	for _, e := range r.instances {
		toClose = append(toClose, e)
	}
	r.instances = make(map[model.CheckType]Executor)
	r.mu.Unlock()

	return closeExecutors(toClose)
}

// Close releases shared executors and any cached instances. The registry
// holds no shared executors afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	seen := make(map[Executor]bool)
	toClose := make([]Executor, 0, len(r.shared)+len(r.instances))
	for _, e := range r.shared {
		if !seen[e] {
			seen[e] = true
			toClose = append(toClose, e)
		}
	}
	for _, e := range r.instances {
		if !seen[e] {
			seen[e] = true
			toClose = append(toClose, e)
		}
	}
	r.shared = make(map[model.CheckType]Executor)
	r.instances = make(map[model.CheckType]Executor)
	r.mu.Unlock()

	return closeExecutors(toClose)
}

func closeExecutors(executors []Executor) error {
	var errs error
	for _, e := range executors {
		if err := e.Close(); err != nil {
			slog.Warn("Failed to close executor", "error", err.Error())
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}
