package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
	"github.com/dandantas/nyxmon/internal/worker"
	"go.uber.org/multierr"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

// Submitter queues background jobs; *worker.WorkerPool satisfies it
type Submitter interface {
	Submit(job worker.Job) error
}

// WebhookConfig configures webhook delivery
type WebhookConfig struct {
	URLs    []string          `mapstructure:"urls"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`
	Retry   RetryConfig       `mapstructure:"retry"`
	Breaker BreakerConfig     `mapstructure:"breaker"`
}

// WebhookNotifier posts JSON payloads to every configured URL
type WebhookNotifier struct {
	config     WebhookConfig
	httpClient *http.Client
	retry      *RetryStrategy
	breakers   map[string]*CircuitBreaker
	pool       Submitter
	now        func() time.Time
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewWebhookNotifier creates a webhook notifier. Deliveries run on pool;
// a nil pool delivers inline.
func NewWebhookNotifier(config WebhookConfig, pool Submitter) *WebhookNotifier {
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	breakers := make(map[string]*CircuitBreaker, len(config.URLs))
	for _, u := range config.URLs {
		breakers[u] = NewCircuitBreaker(config.Breaker, nil)
	}

	return &WebhookNotifier{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:    NewRetryStrategy(config.Retry),
		breakers: breakers,
		pool:     pool,
		now:      time.Now,
		sleep:    sleepContext,
	}
}

func (n *WebhookNotifier) NotifyCheckFailed(ctx context.Context, check model.Check, result model.Result) error {
	return n.enqueue(ctx, strconv.FormatInt(check.CheckID, 10), FormatCheckFailed(check, result))
}

func (n *WebhookNotifier) NotifyServiceStatusChanged(ctx context.Context, service model.Service, status model.ServiceStatus) error {
	return n.enqueue(ctx, strconv.FormatInt(service.ServiceID, 10), FormatServiceStatusChanged(service, status, n.now()))
}

// BreakerState returns the circuit state for url
func (n *WebhookNotifier) BreakerState(url string) CircuitState {
	if cb, ok := n.breakers[url]; ok {
		return cb.State()
	}
	return StateClosed
}

func (n *WebhookNotifier) enqueue(ctx context.Context, key string, payload Payload) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var errs error
	for _, url := range n.config.URLs {
		url := url
		if n.pool == nil {
			errs = multierr.Append(errs, n.deliver(ctx, url, body))
			continue
		}
		job := worker.Job{
			Name: "webhook:" + payload.Event,
			Key:  key,
			Run: func(ctx context.Context) error {
				return n.deliver(ctx, url, body)
			},
		}
		if err := n.pool.Submit(job); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("failed to queue webhook for %s: %w", url, err))
		}
	}
	return errs
}

// deliver posts body to url, retrying with backoff, guarded by the url's circuit breaker
func (n *WebhookNotifier) deliver(ctx context.Context, url string, body []byte) error {
	cb := n.breakers[url]
	if !cb.CanAttempt() {
		slog.Warn("Circuit breaker is open, skipping webhook delivery",
			"webhook_url", url,
			"circuit_state", cb.State().String(),
		)
		return fmt.Errorf("%w for %s", ErrCircuitOpen, url)
	}

	maxAttempts := n.retry.GetMaxAttempts()
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		statusCode, err := n.post(ctx, url, body)
		if err == nil {
			slog.Info("Webhook delivered", "webhook_url", url, "attempt", attempt, "status_code", statusCode)
			cb.RecordSuccess()
			return nil
		}

		if !n.retry.ShouldRetry(attempt, statusCode, err) {
			slog.Error("Webhook delivery failed, no retry",
				"webhook_url", url,
				"attempt", attempt,
				"status_code", statusCode,
				"error", err.Error(),
			)
			cb.RecordFailure()
			return fmt.Errorf("failed to deliver webhook after %d attempts: %w", attempt, err)
		}

		delay := n.retry.CalculateDelay(attempt)
		slog.Warn("Webhook delivery failed, retrying",
			"webhook_url", url,
			"attempt", attempt,
			"next_retry_ms", delay.Milliseconds(),
			"error", err.Error(),
		)
		if err := n.sleep(ctx, delay); err != nil {
			cb.RecordFailure()
			return err
		}
	}

	cb.RecordFailure()
	return fmt.Errorf("failed to deliver webhook after %d attempts", maxAttempts)
}

func (n *WebhookNotifier) post(ctx context.Context, url string, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range n.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return resp.StatusCode, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
