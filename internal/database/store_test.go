package database

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
)

type storeFactory func(t *testing.T, now func() time.Time) Store

func memoryFactory(t *testing.T, now func() time.Time) Store {
	return NewMemoryStore(now)
}

func sqliteFactory(t *testing.T, now func() time.Time) Store {
	s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "nyxmon.db"), true)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	s.now = now
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func mongoFactory(t *testing.T, now func() time.Time) Store {
	uri := os.Getenv("NYXMON_TEST_MONGO_URI")
	if uri == "" {
		t.Skip("NYXMON_TEST_MONGO_URI not set")
	}
	ctx := context.Background()
	db, err := Connect(ctx, uri, "nyxmon_test_"+time.Now().Format("150405.000000"), 10*time.Second)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	if err := CreateIndexes(ctx, db); err != nil {
		t.Fatalf("failed to create indexes: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Database.Drop(ctx)
		_ = db.Disconnect(ctx)
	})
	s := NewMongoStore(db)
	s.now = now
	return s
}

var factories = map[string]storeFactory{
	"memory": memoryFactory,
	"sqlite": sqliteFactory,
	"mongo":  mongoFactory,
}

func fixedClock(unix int64) func() time.Time {
	return func() time.Time { return time.Unix(unix, 0) }
}

// inTx runs fn in a transaction and commits it
func inTx(t *testing.T, s Store, fn func(tx Tx)) {
	t.Helper()
	ctx := context.Background()
	tx, err := s.Begin(ctx)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	fn(tx)
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestStoreCheckLifecycle(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, fixedClock(1000))

			inTx(t, s, func(tx Tx) {
				if err := tx.Services().Add(ctx, &model.Service{ServiceID: 1, Name: "web"}); err != nil {
					t.Fatalf("add service: %v", err)
				}
				for _, c := range []*model.Check{
					{CheckID: 1, ServiceID: 1, CheckType: model.CheckTypeHTTP, URL: "https://a", CheckInterval: 60, NextCheckTime: 900},
					{CheckID: 2, ServiceID: 1, CheckType: model.CheckTypeTCP, URL: "tcp://b", CheckInterval: 60, NextCheckTime: 500,
						Data: map[string]any{"port": 443, "tls_mode": "implicit"}},
					{CheckID: 3, ServiceID: 2, CheckType: model.CheckTypeDNS, URL: "c", CheckInterval: 60, NextCheckTime: 2000},
					{CheckID: 4, ServiceID: 1, CheckType: model.CheckTypeHTTP, URL: "d", CheckInterval: 60, Disabled: true},
				} {
					if err := tx.Checks().Add(ctx, c); err != nil {
						t.Fatalf("add check: %v", err)
					}
				}
			})

			inTx(t, s, func(tx Tx) {
				if tx.Now() != 1000 {
					t.Fatalf("tx clock = %d", tx.Now())
				}

				due, err := tx.Checks().ListDue(ctx, tx.Now())
				if err != nil {
					t.Fatalf("list due: %v", err)
				}
				if len(due) != 2 || due[0].CheckID != 2 || due[1].CheckID != 1 {
					t.Fatalf("due checks should be #2 then #1, got %+v", due)
				}

				got, err := tx.Checks().Get(ctx, 2)
				if err != nil {
					t.Fatalf("get: %v", err)
				}
				if got.Status != model.CheckStatusIdle || got.Data["tls_mode"] != "implicit" {
					t.Fatalf("unexpected check: %+v", got)
				}

				claimed, err := tx.Checks().Claim(ctx, 2, tx.Now())
				if err != nil || !claimed {
					t.Fatalf("first claim should win: %v %v", claimed, err)
				}
				claimed, err = tx.Checks().Claim(ctx, 2, tx.Now())
				if err != nil || claimed {
					t.Fatalf("second claim should lose: %v %v", claimed, err)
				}
				if claimed, _ := tx.Checks().Claim(ctx, 4, tx.Now()); claimed {
					t.Fatalf("disabled check must not be claimed")
				}
				if _, err := tx.Checks().Claim(ctx, 99, tx.Now()); !errors.Is(err, ErrNotFound) {
					t.Fatalf("claiming a missing check should be ErrNotFound, got %v", err)
				}
			})

			inTx(t, s, func(tx Tx) {
				due, _ := tx.Checks().ListDue(ctx, tx.Now())
				if len(due) != 1 || due[0].CheckID != 1 {
					t.Fatalf("claimed check must not be due, got %+v", due)
				}
				c, _ := tx.Checks().Get(ctx, 2)
				if c.Status != model.CheckStatusProcessing || c.ProcessingStartedAt != 1000 {
					t.Fatalf("claim not persisted: %+v", c)
				}

				byService, _ := tx.Checks().ListByService(ctx, 1)
				if len(byService) != 3 {
					t.Fatalf("expected 3 checks for service 1, got %d", len(byService))
				}

				if err := tx.Checks().Delete(ctx, 3); err != nil {
					t.Fatalf("delete: %v", err)
				}
				if err := tx.Checks().Delete(ctx, 3); !errors.Is(err, ErrNotFound) {
					t.Fatalf("second delete should be ErrNotFound, got %v", err)
				}
				if _, err := tx.Checks().Get(ctx, 3); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected ErrNotFound, got %v", err)
				}

				svc, err := tx.Services().Get(ctx, 1)
				if err != nil || svc.Name != "web" {
					t.Fatalf("service: %+v %v", svc, err)
				}
				if _, err := tx.Services().Get(ctx, 7); !errors.Is(err, ErrNotFound) {
					t.Fatalf("expected ErrNotFound for service, got %v", err)
				}
			})
		})
	}
}

func TestStoreRollbackDiscardsWrites(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, fixedClock(1000))

			tx, err := s.Begin(ctx)
			if err != nil {
				t.Fatalf("begin: %v", err)
			}
			_ = tx.Services().Add(ctx, &model.Service{ServiceID: 1, Name: "web"})
			_ = tx.Checks().Add(ctx, &model.Check{CheckID: 1, ServiceID: 1, CheckType: model.CheckTypeHTTP, CheckInterval: 60})
			if err := tx.Rollback(ctx); err != nil {
				t.Fatalf("rollback: %v", err)
			}
			if err := tx.Rollback(ctx); err != nil {
				t.Fatalf("second rollback should be a no-op: %v", err)
			}

			inTx(t, s, func(tx Tx) {
				checks, _ := tx.Checks().List(ctx)
				services, _ := tx.Services().List(ctx)
				if len(checks) != 0 || len(services) != 0 {
					t.Fatalf("rolled back writes are visible: %d checks, %d services", len(checks), len(services))
				}
			})
		})
	}
}

func TestStoreResults(t *testing.T) {
	for name, factory := range factories {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := factory(t, fixedClock(10_000))

			inTx(t, s, func(tx Tx) {
				_ = tx.Checks().Add(ctx, &model.Check{CheckID: 1, CheckType: model.CheckTypeHTTP, CheckInterval: 60})
				_ = tx.Checks().Add(ctx, &model.Check{CheckID: 2, CheckType: model.CheckTypeHTTP, CheckInterval: 60})
				for i, r := range []model.Result{
					{ResultID: "a", CheckID: 1, Status: model.ResultStatusOK, CreatedAt: 1000},
					{ResultID: "b", CheckID: 1, Status: model.ResultStatusError, CreatedAt: 2000,
						Data: map[string]any{"error_type": "timeout"}},
					{ResultID: "c", CheckID: 1, Status: model.ResultStatusWarning, CreatedAt: 9_500},
					{ResultID: "d", CheckID: 2, Status: model.ResultStatusOK, CreatedAt: 3000},
				} {
					if err := tx.Results().Add(ctx, r); err != nil {
						t.Fatalf("add result %d: %v", i, err)
					}
				}
			})

			inTx(t, s, func(tx Tx) {
				results, err := tx.Results().ListByCheck(ctx, 1, 2)
				if err != nil {
					t.Fatalf("list: %v", err)
				}
				if len(results) != 2 || results[0].ResultID != "c" || results[1].ResultID != "b" {
					t.Fatalf("expected newest first [c b], got %+v", results)
				}
				if results[1].ErrorType() != "timeout" {
					t.Fatalf("data not round-tripped: %+v", results[1].Data)
				}
				if results[0].Data == nil {
					t.Fatalf("nil data should read back as an empty map")
				}

				statuses, err := tx.Results().LatestStatuses(ctx, []int64{1, 2, 3})
				if err != nil {
					t.Fatalf("latest: %v", err)
				}
				if statuses[1] != model.ResultStatusWarning || statuses[2] != model.ResultStatusOK {
					t.Fatalf("unexpected latest statuses: %+v", statuses)
				}
				if _, ok := statuses[3]; ok {
					t.Fatalf("check without results must be absent")
				}
			})

			// retention 5000s at now=10000: a, b and d are older than the cutoff, c is not
			inTx(t, s, func(tx Tx) {
				n, err := tx.Results().DeleteOld(ctx, 5000, 2)
				if err != nil {
					t.Fatalf("delete old: %v", err)
				}
				if n != 2 {
					t.Fatalf("expected batch of 2 deleted, got %d", n)
				}
			})
			inTx(t, s, func(tx Tx) {
				remaining, _ := tx.Results().ListByCheck(ctx, 2, 0)
				if len(remaining) != 1 {
					t.Fatalf("newest old result should survive the first batch, got %+v", remaining)
				}
				n, _ := tx.Results().DeleteOld(ctx, 5000, 2)
				if n != 1 {
					t.Fatalf("second batch should delete the last old result, got %d", n)
				}
			})
			inTx(t, s, func(tx Tx) {
				left, _ := tx.Results().ListByCheck(ctx, 1, 0)
				if len(left) != 1 || left[0].ResultID != "c" {
					t.Fatalf("in-window result must survive, got %+v", left)
				}
				if err := tx.Checks().Delete(ctx, 1); err != nil {
					t.Fatalf("delete: %v", err)
				}
				left, _ = tx.Results().ListByCheck(ctx, 1, 0)
				if len(left) != 0 {
					t.Fatalf("results of a deleted check should go with it")
				}
			})
		})
	}
}

func TestMemoryStoreSerialisesTransactions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	tx, _ := s.Begin(ctx)
	started := make(chan struct{})
	acquired := make(chan struct{})
	go func() {
		close(started)
		tx2, _ := s.Begin(ctx)
		close(acquired)
		tx2.Rollback(ctx)
	}()

	<-started
	select {
	case <-acquired:
		t.Fatal("second transaction began while the first was open")
	case <-time.After(50 * time.Millisecond):
	}

	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("commit: %v", err)
	}
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second transaction never began")
	}
	if err := tx.Commit(ctx); err == nil {
		t.Fatal("committing twice should fail")
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(nil)

	inTx(t, s, func(tx Tx) {
		_ = tx.Checks().Add(ctx, &model.Check{CheckID: 1, CheckType: model.CheckTypeHTTP, CheckInterval: 60,
			Data: map[string]any{"k": "v"}})
	})
	inTx(t, s, func(tx Tx) {
		c, _ := tx.Checks().Get(ctx, 1)
		c.Data["k"] = "changed"
		c.CheckInterval = 1
	})
	inTx(t, s, func(tx Tx) {
		c, _ := tx.Checks().Get(ctx, 1)
		if c.Data["k"] != "v" || c.CheckInterval != 60 {
			t.Fatalf("unsaved mutation leaked into the store: %+v", c)
		}
	})
}
