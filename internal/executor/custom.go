package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
)

// CommandRunner runs a command and returns its captured output
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string) (stdout, stderr []byte, err error)
}

// ExecRunner runs commands as local subprocesses
type ExecRunner struct{}

// Run starts the command and waits for it, killing it when ctx ends
func (ExecRunner) Run(ctx context.Context, name string, args []string) ([]byte, []byte, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// CustomExecutor runs a remote command over ssh and evaluates thresholds on its JSON output
type CustomExecutor struct {
	runner CommandRunner
	ssh    string
}

// NewCustomExecutor creates a custom executor; a nil runner uses ExecRunner
func NewCustomExecutor(runner CommandRunner) *CustomExecutor {
	if runner == nil {
		runner = ExecRunner{}
	}
	return &CustomExecutor{runner: runner, ssh: "ssh"}
}

// Execute executes a custom check
func (e *CustomExecutor) Execute(ctx context.Context, check model.Check) model.Result {
	cfg, err := model.ParseCustomConfig(check.Data, check.URL)
	if err != nil {
		return configError(check, err)
	}

	argv := cfg.Argv()
	result, _ := runAttempts(ctx, cfg.Retries+1, cfg.RetryDelayDuration(), func(ctx context.Context, _ int) (model.Result, bool) {
		return e.attempt(ctx, check, cfg, argv)
	})
	return result
}

func (e *CustomExecutor) attempt(ctx context.Context, check model.Check, cfg model.CustomConfig, argv []string) (model.Result, bool) {
	start := time.Now()
	runCtx, cancel := context.WithTimeout(ctx, cfg.TimeoutDuration())
	defer cancel()

	stdout, stderr, err := e.runner.Run(runCtx, e.ssh, argv)
	if err != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return model.NewErrorResult(check.CheckID, model.ErrTypeTimeout,
				fmt.Sprintf("command timed out after %s", cfg.TimeoutDuration())), true
		}
		msg := strings.TrimSpace(string(stderr))
		if msg == "" {
			msg = strings.TrimSpace(string(stdout))
		}
		if msg == "" {
			msg = err.Error()
		}
		return model.NewErrorResult(check.CheckID, model.ErrTypeSSH, msg), true
	}

	var payload any
	if err := json.Unmarshal(bytes.TrimSpace(stdout), &payload); err != nil {
		return model.NewErrorResult(check.CheckID, model.ErrTypeJSON, fmt.Sprintf("invalid JSON output: %v", err)), false
	}

	return thresholdResult(check.CheckID, payload, cfg.Checks, map[string]any{
		"duration_ms": elapsedMs(start),
	}), false
}

// Close is a no-op; subprocesses end with their attempt
func (e *CustomExecutor) Close() error { return nil }
