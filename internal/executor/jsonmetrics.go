package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dandantas/nyxmon/internal/evaluator"
	"github.com/dandantas/nyxmon/internal/model"
)

// JSONMetricsExecutor fetches a JSON document and evaluates thresholds against it
type JSONMetricsExecutor struct {
	client *http.Client
	owned  bool
}

// NewJSONMetricsExecutor creates a JSON metrics executor. With a nil client it creates and owns one.
func NewJSONMetricsExecutor(client *http.Client) *JSONMetricsExecutor {
	if client == nil {
		return &JSONMetricsExecutor{client: NewHTTPClient(0), owned: true}
	}
	return &JSONMetricsExecutor{client: client}
}

// Execute executes a json_metrics check
func (e *JSONMetricsExecutor) Execute(ctx context.Context, check model.Check) model.Result {
	cfg, err := model.ParseJSONMetricsConfig(check.Data, check.URL)
	if err != nil {
		return configError(check, err)
	}

	result, _ := runAttempts(ctx, cfg.Retries+1, cfg.RetryDelayDuration(), func(ctx context.Context, _ int) (model.Result, bool) {
		return e.attempt(ctx, check, cfg)
	})
	return result
}

func (e *JSONMetricsExecutor) attempt(ctx context.Context, check model.Check, cfg model.JSONMetricsConfig) (model.Result, bool) {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, cfg.TimeoutDuration())
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return model.NewErrorResult(check.CheckID, model.ErrTypeRequest, err.Error()), false
	}
	req.Header.Set("Accept", "application/json")
	if cfg.Auth != nil {
		req.SetBasicAuth(cfg.Auth.Username, cfg.Auth.Password)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		if isTimeout(err) {
			return model.NewErrorResult(check.CheckID, model.ErrTypeTimeout, err.Error()), true
		}
		return model.NewErrorResult(check.CheckID, model.ErrTypeRequest, err.Error()), true
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		r := model.NewErrorResult(check.CheckID, model.ErrTypeHTTP, fmt.Sprintf("HTTP %d", resp.StatusCode))
		r.Data["status_code"] = resp.StatusCode
		return r, resp.StatusCode >= 500
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		if isTimeout(err) {
			return model.NewErrorResult(check.CheckID, model.ErrTypeTimeout, err.Error()), true
		}
		return model.NewErrorResult(check.CheckID, model.ErrTypeRequest, err.Error()), true
	}

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		return model.NewErrorResult(check.CheckID, model.ErrTypeJSON, fmt.Sprintf("invalid JSON response: %v", err)), false
	}

	return thresholdResult(check.CheckID, payload, cfg.Checks, map[string]any{
		"duration_ms": elapsedMs(start),
	}), false
}

// Close releases the client when this executor created it
func (e *JSONMetricsExecutor) Close() error {
	if e.owned {
		e.client.CloseIdleConnections()
	}
	return nil
}

// thresholdResult evaluates thresholds and builds an ok or threshold_failed result
func thresholdResult(checkID int64, payload any, thresholds []model.Threshold, extra map[string]any) model.Result {
	failures := evaluator.Evaluate(payload, thresholds)
	if len(failures) == 0 {
		return model.NewResult(checkID, model.ResultStatusOK, extra)
	}

	data := map[string]any{
		"error_type": model.ErrTypeThresholdFailed,
		"error_msg":  fmt.Sprintf("%d threshold(s) failed", len(failures)),
		"failures":   evaluator.FailureMaps(failures),
	}
	for k, v := range extra {
		data[k] = v
	}
	return model.NewResult(checkID, evaluator.StatusFor(failures), data)
}
