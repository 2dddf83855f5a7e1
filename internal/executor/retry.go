package executor

import (
	"context"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
)

// attemptFunc runs one attempt. retry reports whether a failed result may be retried.
type attemptFunc func(ctx context.Context, attempt int) (result model.Result, retry bool)

// runAttempts runs fn up to attempts times, sleeping delay between retryable
// failures. The last result is returned; cancellation stops the loop early.
func runAttempts(ctx context.Context, attempts int, delay time.Duration, fn attemptFunc) (model.Result, int) {
	if attempts < 1 {
		attempts = 1
	}

	var result model.Result
	for attempt := 1; attempt <= attempts; attempt++ {
		var retry bool
		result, retry = fn(ctx, attempt)
		if !retry || attempt == attempts {
			return result, attempt
		}
		if !sleepCtx(ctx, delay) {
			return result, attempt
		}
	}
	return result, attempts
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
