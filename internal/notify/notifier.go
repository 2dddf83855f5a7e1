package notify

import (
	"context"
	"log/slog"

	"github.com/dandantas/nyxmon/internal/model"
	"go.uber.org/multierr"
)

// Notifier delivers alerts about failing checks and service status changes
type Notifier interface {
	NotifyCheckFailed(ctx context.Context, check model.Check, result model.Result) error
	NotifyServiceStatusChanged(ctx context.Context, service model.Service, status model.ServiceStatus) error
}

// LoggingNotifier writes notifications to the structured log
type LoggingNotifier struct{}

func (LoggingNotifier) NotifyCheckFailed(ctx context.Context, check model.Check, result model.Result) error {
	slog.Warn("Check failed",
		"check_id", check.CheckID,
		"check_name", check.Name,
		"check_type", check.CheckType,
		"status", result.Status,
		"error_type", result.ErrorType(),
		"error", result.ErrorMessage(),
	)
	return nil
}

func (LoggingNotifier) NotifyServiceStatusChanged(ctx context.Context, service model.Service, status model.ServiceStatus) error {
	slog.Info("Service status changed",
		"service_id", service.ServiceID,
		"service_name", service.Name,
		"status", status,
	)
	return nil
}

// Multi fans notifications out to every notifier and combines their errors
type Multi []Notifier

func (m Multi) NotifyCheckFailed(ctx context.Context, check model.Check, result model.Result) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.NotifyCheckFailed(ctx, check, result))
	}
	return err
}

func (m Multi) NotifyServiceStatusChanged(ctx context.Context, service model.Service, status model.ServiceStatus) error {
	var err error
	for _, n := range m {
		err = multierr.Append(err, n.NotifyServiceStatusChanged(ctx, service, status))
	}
	return err
}
