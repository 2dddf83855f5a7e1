package database

import (
	"context"
	"errors"
	"maps"

	"github.com/dandantas/nyxmon/internal/model"
)

// ErrNotFound is returned when a requested aggregate does not exist
var ErrNotFound = errors.New("not found")

// Store opens transactions against one storage backend
type Store interface {
	Begin(ctx context.Context) (Tx, error)
	Close(ctx context.Context) error
}

// Tx is a single transaction. Commit or Rollback must be called exactly once;
// Rollback after Commit is a no-op.
type Tx interface {
	Checks() CheckRepository
	Results() ResultRepository
	Services() ServiceRepository
	// Now is the store clock in unix seconds, fixed when the transaction began
	Now() int64
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// CheckRepository persists checks. Add is an upsert.
type CheckRepository interface {
	Add(ctx context.Context, check *model.Check) error
	Get(ctx context.Context, checkID int64) (*model.Check, error)
	List(ctx context.Context) ([]*model.Check, error)
	// ListDue returns enabled idle checks with next_check_time <= now, ordered by next_check_time
	ListDue(ctx context.Context, now int64) ([]*model.Check, error)
	ListByService(ctx context.Context, serviceID int64) ([]*model.Check, error)
	// Claim atomically moves an idle check to processing and reports whether it won
	Claim(ctx context.Context, checkID, now int64) (bool, error)
	Delete(ctx context.Context, checkID int64) error
}

// ResultRepository persists check results
type ResultRepository interface {
	Add(ctx context.Context, result model.Result) error
	// ListByCheck returns the newest results first; limit <= 0 returns all
	ListByCheck(ctx context.Context, checkID int64, limit int) ([]model.Result, error)
	// LatestStatuses returns the status of the newest result per check. Checks without results are absent.
	LatestStatuses(ctx context.Context, checkIDs []int64) (map[int64]model.ResultStatus, error)
	// DeleteOld removes at most batchSize results created before now - retentionSeconds, oldest first
	DeleteOld(ctx context.Context, retentionSeconds int64, batchSize int) (int, error)
}

// ServiceRepository persists services. Add is an upsert.
type ServiceRepository interface {
	Add(ctx context.Context, service *model.Service) error
	Get(ctx context.Context, serviceID int64) (*model.Service, error)
	List(ctx context.Context) ([]*model.Service, error)
}

func cloneResult(r model.Result) model.Result {
	r.Data = maps.Clone(r.Data)
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	return r
}
