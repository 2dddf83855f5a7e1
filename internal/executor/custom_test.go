package executor

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/dandantas/nyxmon/internal/model"
)

type fakeRunner struct {
	stdout string
	stderr string
	err    error
	block  bool
	calls  int
	name   string
	args   []string
}

func (f *fakeRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	f.calls++
	f.name = name
	f.args = args
	if f.block {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	return []byte(f.stdout), []byte(f.stderr), f.err
}

func customCheck(extra map[string]any) model.Check {
	data := map[string]any{
		"target":      "monitor@db1",
		"command":     []any{"stats", "--json"},
		"retry_delay": 0,
		"checks": []any{
			map[string]any{"path": "$.lag", "op": "<", "value": 30, "severity": "critical"},
			map[string]any{"path": "$.disk_pct", "op": "<", "value": 90, "severity": "warning"},
		},
	}
	for k, v := range extra {
		data[k] = v
	}
	return model.Check{CheckID: 31, CheckType: model.CheckTypeCustom, Data: data}
}

func TestCustomExecutorRunsSSH(t *testing.T) {
	runner := &fakeRunner{stdout: `{"lag": 2, "disk_pct": 40}` + "\n"}
	r := NewCustomExecutor(runner).Execute(context.Background(), customCheck(nil))
	if r.Status != model.ResultStatusOK {
		t.Fatalf("expected ok, got %+v", r)
	}
	if runner.name != "ssh" {
		t.Errorf("expected ssh, got %s", runner.name)
	}
	got := strings.Join(runner.args, " ")
	want := "-o BatchMode=yes -o ConnectTimeout=5 -- monitor@db1 stats --json"
	if got != want {
		t.Errorf("argv = %q, want %q", got, want)
	}
}

func TestCustomExecutorSeverityRollup(t *testing.T) {
	r := NewCustomExecutor(&fakeRunner{stdout: `{"lag": 2, "disk_pct": 95}`}).Execute(context.Background(), customCheck(nil))
	if r.Status != model.ResultStatusWarning || r.ErrorType() != model.ErrTypeThresholdFailed {
		t.Fatalf("expected warning, got %+v", r)
	}

	r = NewCustomExecutor(&fakeRunner{stdout: `{"lag": 120, "disk_pct": 95}`}).Execute(context.Background(), customCheck(nil))
	if r.Status != model.ResultStatusError {
		t.Fatalf("expected error, got %+v", r)
	}
}

func TestCustomExecutorSSHErrorRetried(t *testing.T) {
	runner := &fakeRunner{stderr: "Permission denied (publickey).\n", err: errors.New("exit status 255")}
	r := NewCustomExecutor(runner).Execute(context.Background(), customCheck(map[string]any{"retries": 1}))
	if r.ErrorType() != model.ErrTypeSSH || r.ErrorMessage() != "Permission denied (publickey)." {
		t.Fatalf("expected ssh_error with stderr, got %+v", r)
	}
	if runner.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", runner.calls)
	}
}

func TestCustomExecutorTimeout(t *testing.T) {
	runner := &fakeRunner{block: true}
	r := NewCustomExecutor(runner).Execute(context.Background(), customCheck(map[string]any{"timeout": 0.05}))
	if r.ErrorType() != model.ErrTypeTimeout {
		t.Fatalf("expected timeout, got %+v", r)
	}
}

func TestCustomExecutorInvalidJSON(t *testing.T) {
	r := NewCustomExecutor(&fakeRunner{stdout: "load average: 0.1"}).Execute(context.Background(), customCheck(nil))
	if r.ErrorType() != model.ErrTypeJSON {
		t.Fatalf("expected json_error, got %+v", r)
	}
}

func TestCustomExecutorInvalidConfigNeverSpawns(t *testing.T) {
	runner := &fakeRunner{}
	r := NewCustomExecutor(runner).Execute(context.Background(), customCheck(map[string]any{"timeout": true}))
	if r.ErrorType() != model.ErrTypeConfiguration {
		t.Fatalf("expected configuration_error, got %+v", r)
	}
	if runner.calls != 0 {
		t.Fatalf("invalid configuration must not spawn a process")
	}
}
