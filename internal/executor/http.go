package executor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
)

// maxBodyBytes caps how much of a response body is read
const maxBodyBytes = 1024 * 1024

// HTTPExecutor performs a GET against check.URL
type HTTPExecutor struct {
	client *http.Client
	owned  bool
}

// NewHTTPExecutor creates an HTTP executor. With a nil client it creates and owns one.
func NewHTTPExecutor(client *http.Client) *HTTPExecutor {
	if client == nil {
		return &HTTPExecutor{client: NewHTTPClient(10 * time.Second), owned: true}
	}
	return &HTTPExecutor{client: client}
}

// Execute executes an HTTP check
func (e *HTTPExecutor) Execute(ctx context.Context, check model.Check) model.Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, check.URL, nil)
	if err != nil {
		return model.NewErrorResult(check.CheckID, model.ErrTypeRequest, fmt.Sprintf("failed to create request: %v", err))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return model.NewErrorResult(check.CheckID, classifyRequestError(err), err.Error())
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))

	slog.Debug("HTTP check completed",
		"check_id", check.CheckID,
		"url", check.URL,
		"status_code", resp.StatusCode,
	)

	if resp.StatusCode >= 400 {
		r := model.NewErrorResult(check.CheckID, model.ErrTypeHTTP,
			fmt.Sprintf("unexpected status code %d for url %s", resp.StatusCode, check.URL))
		r.Data["status_code"] = resp.StatusCode
		return r
	}

	return model.NewResult(check.CheckID, model.ResultStatusOK, map[string]any{
		"status_code": resp.StatusCode,
		"duration_ms": elapsedMs(start),
	})
}

// Close releases the client when this executor created it
func (e *HTTPExecutor) Close() error {
	if e.owned {
		e.client.CloseIdleConnections()
	}
	return nil
}

func classifyRequestError(err error) string {
	switch {
	case isTimeout(err):
		return model.ErrTypeTimeout
	case isDialError(err):
		return model.ErrTypeConnection
	default:
		return model.ErrTypeRequest
	}
}

// NewHTTPClient creates an HTTP client with connection pooling that follows redirects
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
		},
	}
}
