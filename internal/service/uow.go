package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dandantas/nyxmon/internal/database"
	"github.com/dandantas/nyxmon/internal/model"
)

var errNoTransaction = errors.New("unit of work has no open transaction")

type eventSource interface {
	PopEvents() []model.Event
}

// UnitOfWork wraps one store transaction and remembers every aggregate read or
// written through it, so their events can be collected after commit.
type UnitOfWork struct {
	store     database.Store
	tx        database.Tx
	tracked   []eventSource
	seen      map[eventSource]bool
	committed bool
}

// UnitOfWorkFactory creates a fresh unit of work per message
type UnitOfWorkFactory func() *UnitOfWork

// NewUnitOfWork creates a unit of work over store
func NewUnitOfWork(store database.Store) *UnitOfWork {
	return &UnitOfWork{store: store}
}

// Begin opens the transaction
func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return errors.New("unit of work already has an open transaction")
	}
	tx, err := u.store.Begin(ctx)
	if err != nil {
		return err
	}
	u.tx = tx
	u.tracked = nil
	u.seen = make(map[eventSource]bool)
	u.committed = false
	return nil
}

func (u *UnitOfWork) Checks() database.CheckRepository {
	return trackedChecks{uow: u, repo: u.tx.Checks()}
}

func (u *UnitOfWork) Results() database.ResultRepository {
	return u.tx.Results()
}

func (u *UnitOfWork) Services() database.ServiceRepository {
	return trackedServices{uow: u, repo: u.tx.Services()}
}

// Now is the store clock of the open transaction
func (u *UnitOfWork) Now() int64 {
	return u.tx.Now()
}

// Commit commits the transaction. Events become collectable only after it succeeds.
func (u *UnitOfWork) Commit(ctx context.Context) error {
	if u.tx == nil {
		return errNoTransaction
	}
	tx := u.tx
	u.tx = nil
	if err := tx.Commit(ctx); err != nil {
		u.discard()
		return err
	}
	u.committed = true
	return nil
}

// Rollback discards the transaction and any pending events. It is a no-op without an open transaction.
func (u *UnitOfWork) Rollback(ctx context.Context) error {
	if u.tx == nil {
		return nil
	}
	tx := u.tx
	u.tx = nil
	u.discard()
	if err := tx.Rollback(ctx); err != nil {
		return fmt.Errorf("failed to rollback unit of work: %w", err)
	}
	return nil
}

// CollectNewEvents drains the events of every tracked aggregate in first-touch order.
// It returns nothing unless the last transaction committed.
func (u *UnitOfWork) CollectNewEvents() []model.Event {
	if !u.committed {
		u.discard()
		return nil
	}
	var events []model.Event
	for _, agg := range u.tracked {
		events = append(events, agg.PopEvents()...)
	}
	u.tracked = nil
	u.seen = nil
	u.committed = false
	return events
}

func (u *UnitOfWork) discard() {
	for _, agg := range u.tracked {
		agg.PopEvents()
	}
	u.tracked = nil
	u.seen = nil
	u.committed = false
}

func (u *UnitOfWork) track(agg eventSource) {
	if u.seen == nil {
		u.seen = make(map[eventSource]bool)
	}
	if u.seen[agg] {
		return
	}
	u.seen[agg] = true
	u.tracked = append(u.tracked, agg)
}

type trackedChecks struct {
	uow  *UnitOfWork
	repo database.CheckRepository
}

func (r trackedChecks) Add(ctx context.Context, check *model.Check) error {
	r.uow.track(check)
	return r.repo.Add(ctx, check)
}

func (r trackedChecks) Get(ctx context.Context, checkID int64) (*model.Check, error) {
	check, err := r.repo.Get(ctx, checkID)
	if err != nil {
		return nil, err
	}
	r.uow.track(check)
	return check, nil
}

func (r trackedChecks) List(ctx context.Context) ([]*model.Check, error) {
	return r.trackAll(r.repo.List(ctx))
}

func (r trackedChecks) ListDue(ctx context.Context, now int64) ([]*model.Check, error) {
	return r.trackAll(r.repo.ListDue(ctx, now))
}

func (r trackedChecks) ListByService(ctx context.Context, serviceID int64) ([]*model.Check, error) {
	return r.trackAll(r.repo.ListByService(ctx, serviceID))
}

func (r trackedChecks) Claim(ctx context.Context, checkID, now int64) (bool, error) {
	return r.repo.Claim(ctx, checkID, now)
}

func (r trackedChecks) Delete(ctx context.Context, checkID int64) error {
	return r.repo.Delete(ctx, checkID)
}

func (r trackedChecks) trackAll(checks []*model.Check, err error) ([]*model.Check, error) {
	if err != nil {
		return nil, err
	}
	for _, c := range checks {
		r.uow.track(c)
	}
	return checks, nil
}

type trackedServices struct {
	uow  *UnitOfWork
	repo database.ServiceRepository
}

func (r trackedServices) Add(ctx context.Context, service *model.Service) error {
	r.uow.track(service)
	return r.repo.Add(ctx, service)
}

func (r trackedServices) Get(ctx context.Context, serviceID int64) (*model.Service, error) {
	svc, err := r.repo.Get(ctx, serviceID)
	if err != nil {
		return nil, err
	}
	r.uow.track(svc)
	return svc, nil
}

func (r trackedServices) List(ctx context.Context) ([]*model.Service, error) {
	services, err := r.repo.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, svc := range services {
		r.uow.track(svc)
	}
	return services, nil
}
