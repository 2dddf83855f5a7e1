package database

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
)

var errTxDone = errors.New("transaction already finished")

// MemoryStore keeps everything in process memory. One transaction runs at a time:
// Begin holds the store lock until Commit or Rollback.
type MemoryStore struct {
	mu       sync.Mutex
	checks   map[int64]*model.Check
	services map[int64]*model.Service
	results  []model.Result
	now      func() time.Time
}

// NewMemoryStore creates an empty store. A nil clock uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		checks:   make(map[int64]*model.Check),
		services: make(map[int64]*model.Service),
		now:      now,
	}
}

// Begin locks the store and stages a copy of its state
func (s *MemoryStore) Begin(ctx context.Context) (Tx, error) {
	s.mu.Lock()

	tx := &memoryTx{
		store:    s,
		now:      s.now().Unix(),
		checks:   make(map[int64]*model.Check, len(s.checks)),
		services: make(map[int64]*model.Service, len(s.services)),
		results:  slices.Clone(s.results),
	}
	for id, c := range s.checks {
		tx.checks[id] = c.Clone()
	}
	for id, svc := range s.services {
		tx.services[id] = svc.Clone()
	}
	return tx, nil
}

func (s *MemoryStore) Close(ctx context.Context) error {
	return nil
}

type memoryTx struct {
	store    *MemoryStore
	now      int64
	done     bool
	checks   map[int64]*model.Check
	services map[int64]*model.Service
	results  []model.Result
}

func (tx *memoryTx) Checks() CheckRepository     { return memoryChecks{tx} }
func (tx *memoryTx) Results() ResultRepository   { return memoryResults{tx} }
func (tx *memoryTx) Services() ServiceRepository { return memoryServices{tx} }
func (tx *memoryTx) Now() int64                  { return tx.now }

func (tx *memoryTx) Commit(ctx context.Context) error {
	if tx.done {
		return errTxDone
	}
	tx.done = true
	tx.store.checks = tx.checks
	tx.store.services = tx.services
	tx.store.results = tx.results
	tx.store.mu.Unlock()
	return nil
}

func (tx *memoryTx) Rollback(ctx context.Context) error {
	if tx.done {
		return nil
	}
	tx.done = true
	tx.store.mu.Unlock()
	return nil
}

type memoryChecks struct{ tx *memoryTx }

func (r memoryChecks) Add(ctx context.Context, check *model.Check) error {
	if r.tx.done {
		return errTxDone
	}
	r.tx.checks[check.CheckID] = check.Clone()
	return nil
}

func (r memoryChecks) Get(ctx context.Context, checkID int64) (*model.Check, error) {
	c, ok := r.tx.checks[checkID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (r memoryChecks) List(ctx context.Context) ([]*model.Check, error) {
	return r.filter(func(*model.Check) bool { return true }), nil
}

func (r memoryChecks) ListDue(ctx context.Context, now int64) ([]*model.Check, error) {
	due := r.filter(func(c *model.Check) bool { return c.IsDue(now) })
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextCheckTime < due[j].NextCheckTime
	})
	return due, nil
}

func (r memoryChecks) ListByService(ctx context.Context, serviceID int64) ([]*model.Check, error) {
	return r.filter(func(c *model.Check) bool { return c.ServiceID == serviceID }), nil
}

func (r memoryChecks) Claim(ctx context.Context, checkID, now int64) (bool, error) {
	c, ok := r.tx.checks[checkID]
	if !ok {
		return false, ErrNotFound
	}
	if err := c.Claim(now); err != nil {
		return false, nil
	}
	return true, nil
}

func (r memoryChecks) Delete(ctx context.Context, checkID int64) error {
	if _, ok := r.tx.checks[checkID]; !ok {
		return ErrNotFound
	}
	delete(r.tx.checks, checkID)
	r.tx.results = slices.DeleteFunc(r.tx.results, func(res model.Result) bool {
		return res.CheckID == checkID
	})
	return nil
}

// filter returns matching checks ordered by id
func (r memoryChecks) filter(keep func(*model.Check) bool) []*model.Check {
	ids := slices.Sorted(maps.Keys(r.tx.checks))
	var out []*model.Check
	for _, id := range ids {
		if c := r.tx.checks[id]; keep(c) {
			out = append(out, c.Clone())
		}
	}
	return out
}

type memoryResults struct{ tx *memoryTx }

func (r memoryResults) Add(ctx context.Context, result model.Result) error {
	if r.tx.done {
		return errTxDone
	}
	r.tx.results = append(r.tx.results, cloneResult(result))
	return nil
}

func (r memoryResults) ListByCheck(ctx context.Context, checkID int64, limit int) ([]model.Result, error) {
	var out []model.Result
	for i := len(r.tx.results) - 1; i >= 0; i-- {
		if res := r.tx.results[i]; res.CheckID == checkID {
			out = append(out, cloneResult(res))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt > out[j].CreatedAt
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memoryResults) LatestStatuses(ctx context.Context, checkIDs []int64) (map[int64]model.ResultStatus, error) {
	wanted := make(map[int64]bool, len(checkIDs))
	for _, id := range checkIDs {
		wanted[id] = true
	}

	latest := make(map[int64]model.Result)
	for _, res := range r.tx.results {
		if !wanted[res.CheckID] {
			continue
		}
		if cur, ok := latest[res.CheckID]; !ok || res.CreatedAt >= cur.CreatedAt {
			latest[res.CheckID] = res
		}
	}

	statuses := make(map[int64]model.ResultStatus, len(latest))
	for id, res := range latest {
		statuses[id] = res.Status
	}
	return statuses, nil
}

func (r memoryResults) DeleteOld(ctx context.Context, retentionSeconds int64, batchSize int) (int, error) {
	cutoff := r.tx.now - retentionSeconds

	var old []int
	for i, res := range r.tx.results {
		if res.CreatedAt < cutoff {
			old = append(old, i)
		}
	}
	sort.SliceStable(old, func(i, j int) bool {
		return r.tx.results[old[i]].CreatedAt < r.tx.results[old[j]].CreatedAt
	})
	if batchSize > 0 && len(old) > batchSize {
		old = old[:batchSize]
	}

	drop := make(map[int]bool, len(old))
	for _, i := range old {
		drop[i] = true
	}
	kept := make([]model.Result, 0, len(r.tx.results)-len(drop))
	for i, res := range r.tx.results {
		if !drop[i] {
			kept = append(kept, res)
		}
	}
	r.tx.results = kept
	return len(drop), nil
}

type memoryServices struct{ tx *memoryTx }

func (r memoryServices) Add(ctx context.Context, service *model.Service) error {
	if r.tx.done {
		return errTxDone
	}
	r.tx.services[service.ServiceID] = service.Clone()
	return nil
}

func (r memoryServices) Get(ctx context.Context, serviceID int64) (*model.Service, error) {
	svc, ok := r.tx.services[serviceID]
	if !ok {
		return nil, ErrNotFound
	}
	return svc.Clone(), nil
}

func (r memoryServices) List(ctx context.Context) ([]*model.Service, error) {
	ids := slices.Sorted(maps.Keys(r.tx.services))
	out := make([]*model.Service, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.tx.services[id].Clone())
	}
	return out, nil
}
