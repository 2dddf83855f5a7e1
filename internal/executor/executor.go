package executor

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
)

// Executor probes one kind of check. Expected failures are reported as error
// results, never as Go errors or panics.
type Executor interface {
	Execute(ctx context.Context, check model.Check) model.Result
	Close() error
}

// Factory builds an executor on first use
type Factory func() Executor

func configError(check model.Check, err error) model.Result {
	return model.NewErrorResult(check.CheckID, model.ErrTypeConfiguration, err.Error())
}

func isTimeout(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isDialError(err error) bool {
	var opErr *net.OpError
	return errors.As(err, &opErr) && opErr.Op == "dial"
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
