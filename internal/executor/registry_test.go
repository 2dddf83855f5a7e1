package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/dandantas/nyxmon/internal/model"
)

type stubExecutor struct {
	mu     sync.Mutex
	closed int
	result model.Result
	err    error
}

func (s *stubExecutor) Execute(ctx context.Context, check model.Check) model.Result {
	r := s.result
	r.CheckID = check.CheckID
	return r
}

func (s *stubExecutor) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return s.err
}

func TestRegistryUnknownType(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Get("nope")
	if err == nil {
		t.Fatalf("expected error for unknown type")
	}
	want := `no executor registered for check type "nope". Registered types: none`
	if err.Error() != want {
		t.Fatalf("error = %q, want %q", err.Error(), want)
	}

	reg.Register(model.CheckTypeTCP, &stubExecutor{})
	reg.RegisterFactory(model.CheckTypeDNS, func() Executor { return &stubExecutor{} })
	_, err = reg.Get("nope")
	var unknown *UnknownCheckTypeError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownCheckTypeError, got %T", err)
	}
	if !strings.HasSuffix(err.Error(), "Registered types: dns, tcp") {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestRegistryFactoryInstantiatedOnce(t *testing.T) {
	reg := NewRegistry()
	var mu sync.Mutex
	created := 0
	reg.RegisterFactory(model.CheckTypeHTTP, func() Executor {
		mu.Lock()
		created++
		mu.Unlock()
		return &stubExecutor{}
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Get(model.CheckTypeHTTP); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("factory called %d times, want 1", created)
	}
}

func TestRegistryCloseAll(t *testing.T) {
	reg := NewRegistry()
	shared := &stubExecutor{}
	reg.Register(model.CheckTypeTCP, shared)

	var instances []*stubExecutor
	reg.RegisterFactory(model.CheckTypeHTTP, func() Executor {
		e := &stubExecutor{err: errors.New("boom")}
		instances = append(instances, e)
		return e
	})
	if _, err := reg.Get(model.CheckTypeHTTP); err != nil {
		t.Fatalf("Get: %v", err)
	}

	err := reg.CloseAll()
	if err == nil || !strings.Contains(err.Error(), "boom") {
		t.Fatalf("expected close error, got %v", err)
	}
	if instances[0].closed != 1 {
		t.Fatalf("instance closed %d times, want 1", instances[0].closed)
	}
	if shared.closed != 0 {
		t.Fatalf("shared executor closed by CloseAll")
	}

	if err := reg.CloseAll(); err != nil {
		t.Fatalf("second CloseAll: %v", err)
	}
	if instances[0].closed != 1 {
		t.Fatalf("executor closed twice")
	}

	if _, err := reg.Get(model.CheckTypeHTTP); err != nil {
		t.Fatalf("factory should still be registered: %v", err)
	}
	if len(instances) != 2 {
		t.Fatalf("expected a fresh instance after CloseAll, got %d", len(instances))
	}
	got, err := reg.Get(model.CheckTypeTCP)
	if err != nil || got != shared {
		t.Fatalf("shared instance should survive CloseAll: %v", err)
	}
	if types := reg.Types(); len(types) != 2 {
		t.Fatalf("Types() = %v", types)
	}
}

func TestRegistryClose(t *testing.T) {
	reg := NewRegistry()
	shared := &stubExecutor{}
	reg.Register(model.CheckTypeTCP, shared)
	reg.Register(model.CheckTypeSMTP, shared)
	instance := &stubExecutor{}
	reg.RegisterFactory(model.CheckTypeHTTP, func() Executor { return instance })
	if _, err := reg.Get(model.CheckTypeHTTP); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := reg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if shared.closed != 1 || instance.closed != 1 {
		t.Fatalf("expected each executor closed once, got shared=%d instance=%d", shared.closed, instance.closed)
	}
	if _, err := reg.Get(model.CheckTypeTCP); err == nil {
		t.Fatalf("shared instances should be released by Close")
	}
}
