package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/dandantas/nyxmon/internal/database"
	"github.com/dandantas/nyxmon/internal/model"
	"github.com/dandantas/nyxmon/internal/notify"
	"github.com/dandantas/nyxmon/internal/runner"
)

// ErrValidation marks commands rejected for invalid input
var ErrValidation = errors.New("validation failed")

// Lifecycle is a background loop that can be started and stopped
type Lifecycle interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// CheckRunner executes a batch of checks and reports each result to sink
type CheckRunner interface {
	Run(ctx context.Context, checks []model.Check, sink runner.Sink)
}

// Publisher receives recorded check events, for example a live result stream
type Publisher interface {
	Publish(event model.Event)
}

// Dispatch hands a message to the bus
type Dispatch func(ctx context.Context, msg any) error

// AddCheckHandler validates and upserts a check. A check that is currently
// processing keeps its claim.
func AddCheckHandler(ctx context.Context, uow *UnitOfWork, cmd AddCheck) error {
	check := cmd.Check
	if err := check.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if err := check.ValidateConfig(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback(ctx)

	check.Status = model.CheckStatusIdle
	check.ProcessingStartedAt = 0
	existing, err := uow.Checks().Get(ctx, check.CheckID)
	switch {
	case err == nil:
		check.Status = existing.Status
		check.ProcessingStartedAt = existing.ProcessingStartedAt
	case !errors.Is(err, database.ErrNotFound):
		return err
	}

	if err := uow.Checks().Add(ctx, &check); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

// DeleteCheckHandler removes a check. A missing check is database.ErrNotFound.
func DeleteCheckHandler(ctx context.Context, uow *UnitOfWork, cmd DeleteCheck) error {
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback(ctx)

	if err := uow.Checks().Delete(ctx, cmd.CheckID); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

// AddServiceHandler validates and upserts a service
func AddServiceHandler(ctx context.Context, uow *UnitOfWork, cmd AddService) error {
	svc := cmd.Service
	if err := svc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback(ctx)

	if err := uow.Services().Add(ctx, &svc); err != nil {
		return err
	}
	return uow.Commit(ctx)
}

// NewAddResultHandler records a result, reschedules its check from the commit
// clock and raises the events the outcome implies.
func NewAddResultHandler(notifier notify.Notifier) CommandHandler[AddResult] {
	return func(ctx context.Context, uow *UnitOfWork, cmd AddResult) error {
		result := cmd.Result
		if result.Data == nil {
			result.Data = map[string]any{}
		}

		if err := uow.Begin(ctx); err != nil {
			return err
		}
		defer uow.Rollback(ctx)

		check, err := uow.Checks().Get(ctx, result.CheckID)
		if err != nil {
			return fmt.Errorf("failed to load check %d: %w", result.CheckID, err)
		}

		siblings, err := uow.Checks().ListByService(ctx, check.ServiceID)
		if err != nil {
			return err
		}
		ids := make([]int64, 0, len(siblings))
		for _, c := range siblings {
			ids = append(ids, c.CheckID)
		}

		latest, err := uow.Results().LatestStatuses(ctx, ids)
		if err != nil {
			return err
		}
		before := model.AggregateLatest(latest)
		latest[check.CheckID] = result.Status
		after := model.AggregateLatest(latest)

		if err := uow.Results().Add(ctx, result); err != nil {
			return err
		}

		check.Complete(uow.Now())
		if err := uow.Checks().Add(ctx, check); err != nil {
			return err
		}

		if result.Status == model.ResultStatusOK {
			check.Record(model.CheckSucceeded{CheckID: check.CheckID, ResultID: result.ResultID})
		} else {
			check.Record(model.CheckFailed{
				CheckID:   check.CheckID,
				ResultID:  result.ResultID,
				Status:    result.Status,
				ErrorType: result.ErrorType(),
			})
		}

		if before != after {
			svc, err := uow.Services().Get(ctx, check.ServiceID)
			switch {
			case err == nil:
				svc.Record(model.ServiceStatusChanged{ServiceID: svc.ServiceID, Status: after})
			case errors.Is(err, database.ErrNotFound):
				slog.Debug("Check belongs to an unknown service", "check_id", check.CheckID, "service_id", check.ServiceID)
			default:
				return err
			}
		}

		if err := uow.Commit(ctx); err != nil {
			return err
		}

		if result.Status == model.ResultStatusError {
			if err := notifier.NotifyCheckFailed(ctx, *check, result); err != nil {
				slog.Error("Failed to notify check failure", "check_id", check.CheckID, "error", err.Error())
			}
		}
		return nil
	}
}

// CheckExecution claims checks on demand and runs them outside the request
type CheckExecution struct {
	runner   CheckRunner
	dispatch Dispatch
	wg       sync.WaitGroup
}

// NewCheckExecution creates the execute_checks handler. Results are dispatched as AddResult.
func NewCheckExecution(r CheckRunner, dispatch Dispatch) *CheckExecution {
	return &CheckExecution{runner: r, dispatch: dispatch}
}

// Handle claims the listed checks, commits, then launches the runner in the background.
// Checks that are busy or disabled are skipped.
func (e *CheckExecution) Handle(ctx context.Context, uow *UnitOfWork, cmd ExecuteChecks) error {
	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer uow.Rollback(ctx)

	var claimed []model.Check
	for _, id := range cmd.CheckIDs {
		check, err := uow.Checks().Get(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to load check %d: %w", id, err)
		}
		ok, err := uow.Checks().Claim(ctx, id, uow.Now())
		if err != nil {
			return err
		}
		if !ok {
			slog.Info("Check not claimable, skipping", "check_id", id, "status", check.Status, "disabled", check.Disabled)
			continue
		}
		check.Status = model.CheckStatusProcessing
		check.ProcessingStartedAt = uow.Now()
		claimed = append(claimed, *check)
	}

	if err := uow.Commit(ctx); err != nil {
		return err
	}
	if len(claimed) == 0 {
		return nil
	}

	runCtx := context.WithoutCancel(ctx)
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runner.Run(runCtx, claimed, func(result model.Result) {
			if err := e.dispatch(runCtx, AddResult{Result: result}); err != nil {
				slog.Error("Failed to record result", "check_id", result.CheckID, "error", err.Error())
			}
		})
	}()
	return nil
}

// Wait blocks until every launched run has recorded its results
func (e *CheckExecution) Wait() {
	e.wg.Wait()
}

// CheckEventHandler publishes recorded check events and logs them
func CheckEventHandler[E model.Event](publisher Publisher) EventHandler[E] {
	return func(ctx context.Context, uow *UnitOfWork, event E) error {
		switch ev := any(event).(type) {
		case model.CheckSucceeded:
			slog.Debug("Check succeeded", "check_id", ev.CheckID, "result_id", ev.ResultID)
		case model.CheckFailed:
			slog.Warn("Check failed", "check_id", ev.CheckID, "status", ev.Status, "error_type", ev.ErrorType)
		}
		if publisher != nil {
			publisher.Publish(event)
		}
		return nil
	}
}

// NewServiceStatusChangedHandler loads the service and notifies about its new status
func NewServiceStatusChangedHandler(notifier notify.Notifier) EventHandler[model.ServiceStatusChanged] {
	return func(ctx context.Context, uow *UnitOfWork, event model.ServiceStatusChanged) error {
		if err := uow.Begin(ctx); err != nil {
			return err
		}
		svc, err := uow.Services().Get(ctx, event.ServiceID)
		uow.Rollback(ctx)
		if err != nil {
			return fmt.Errorf("failed to load service %d: %w", event.ServiceID, err)
		}
		return notifier.NotifyServiceStatusChanged(ctx, *svc, event.Status)
	}
}

// LifecycleHandler starts or stops a background loop
func LifecycleHandler[C Command](loop Lifecycle, start bool) CommandHandler[C] {
	return func(ctx context.Context, uow *UnitOfWork, cmd C) error {
		if start {
			return loop.Start(ctx)
		}
		return loop.Stop(ctx)
	}
}

// Dependencies are the collaborators handlers are built from.
// Nil Collector or Cleaner leaves their commands unregistered.
type Dependencies struct {
	Runner    CheckRunner
	Notifier  notify.Notifier
	Collector Lifecycle
	Cleaner   Lifecycle
	Publisher Publisher
}

// RegisterHandlers wires every handler onto bus and returns the check execution
// handler so callers can wait for background runs.
func RegisterHandlers(bus *MessageBus, deps Dependencies) *CheckExecution {
	if deps.Notifier == nil {
		deps.Notifier = notify.LoggingNotifier{}
	}

	HandleCommand[AddCheck](bus, AddCheckHandler)
	HandleCommand[DeleteCheck](bus, DeleteCheckHandler)
	HandleCommand[AddService](bus, AddServiceHandler)
	HandleCommand[AddResult](bus, NewAddResultHandler(deps.Notifier))

	execution := NewCheckExecution(deps.Runner, bus.Handle)
	HandleCommand[ExecuteChecks](bus, execution.Handle)

	if deps.Collector != nil {
		HandleCommand[StartCollector](bus, LifecycleHandler[StartCollector](deps.Collector, true))
		HandleCommand[StopCollector](bus, LifecycleHandler[StopCollector](deps.Collector, false))
	}
	if deps.Cleaner != nil {
		HandleCommand[StartCleaner](bus, LifecycleHandler[StartCleaner](deps.Cleaner, true))
		HandleCommand[StopCleaner](bus, LifecycleHandler[StopCleaner](deps.Cleaner, false))
	}

	HandleEvent[model.CheckSucceeded](bus, CheckEventHandler[model.CheckSucceeded](deps.Publisher))
	HandleEvent[model.CheckFailed](bus, CheckEventHandler[model.CheckFailed](deps.Publisher))
	HandleEvent[model.ServiceStatusChanged](bus, NewServiceStatusChangedHandler(deps.Notifier))

	return execution
}
