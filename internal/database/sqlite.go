package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/dandantas/nyxmon/internal/model"
	_ "github.com/mattn/go-sqlite3"
)

// ErrDatabaseMissing is returned when opening a SQLite file that does not exist without create
var ErrDatabaseMissing = errors.New("database file does not exist")

// SQLiteStore persists checks, services and results in a SQLite file
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens the database at path and runs pending migrations.
// Unless create is set the file must already exist.
func OpenSQLite(ctx context.Context, path string, create bool) (*SQLiteStore, error) {
	slog.Info("Opening SQLite database", "path", path)

	if !create {
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("%w: %s", ErrDatabaseMissing, path)
			}
			return nil, fmt.Errorf("failed to stat database: %w", err)
		}
	}

	// immediate transactions take the write lock up front so two claimers never both read idle
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrate(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("Database initialized successfully", "path", path)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Begin starts an immediate transaction
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &sqliteTx{tx: tx, now: s.now().Unix()}, nil
}

func (s *SQLiteStore) Close(ctx context.Context) error {
	slog.Info("Closing database connection")
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

type sqliteTx struct {
	tx  *sql.Tx
	now int64
}

func (t *sqliteTx) Checks() CheckRepository     { return sqliteChecks{t.tx} }
func (t *sqliteTx) Results() ResultRepository   { return sqliteResults{t.tx, t.now} }
func (t *sqliteTx) Services() ServiceRepository { return sqliteServices{t.tx} }
func (t *sqliteTx) Now() int64                  { return t.now }

func (t *sqliteTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("failed to rollback transaction: %w", err)
	}
	return nil
}

const checkColumns = `id, service_id, COALESCE(name, ''), check_type, COALESCE(url, ''), check_interval,
    COALESCE(next_check_time, 0), COALESCE(processing_started_at, 0), COALESCE(status, 'idle'),
    COALESCE(disabled, 0), data`

type sqliteChecks struct{ tx *sql.Tx }

func (r sqliteChecks) Add(ctx context.Context, check *model.Check) error {
	data, err := encodeData(check.Data)
	if err != nil {
		return err
	}

	_, err = r.tx.ExecContext(ctx, `
INSERT INTO health_check
    (id, service_id, name, check_type, url, check_interval, status, next_check_time, processing_started_at, disabled, data)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    service_id = excluded.service_id,
    name = excluded.name,
    check_type = excluded.check_type,
    url = excluded.url,
    check_interval = excluded.check_interval,
    status = excluded.status,
    next_check_time = excluded.next_check_time,
    processing_started_at = excluded.processing_started_at,
    disabled = excluded.disabled,
    data = excluded.data`,
		check.CheckID, check.ServiceID, check.Name, string(check.CheckType), check.URL, check.CheckInterval,
		string(model.ParseCheckStatus(string(check.Status))), check.NextCheckTime, check.ProcessingStartedAt,
		check.Disabled, data,
	)
	if err != nil {
		return fmt.Errorf("failed to save check %d: %w", check.CheckID, err)
	}
	return nil
}

func (r sqliteChecks) Get(ctx context.Context, checkID int64) (*model.Check, error) {
	checks, err := r.query(ctx, `SELECT `+checkColumns+` FROM health_check WHERE id = ?`, checkID)
	if err != nil {
		return nil, err
	}
	if len(checks) == 0 {
		return nil, ErrNotFound
	}
	return checks[0], nil
}

func (r sqliteChecks) List(ctx context.Context) ([]*model.Check, error) {
	return r.query(ctx, `SELECT `+checkColumns+` FROM health_check ORDER BY id`)
}

// sqliteClaimableStatus matches idle rows and processing rows that never recorded a start
const sqliteClaimableStatus = `(COALESCE(status, 'idle') != 'processing' OR COALESCE(processing_started_at, 0) = 0)`

func (r sqliteChecks) ListDue(ctx context.Context, now int64) ([]*model.Check, error) {
	return r.query(ctx, `SELECT `+checkColumns+` FROM health_check
WHERE COALESCE(disabled, 0) = 0
  AND `+sqliteClaimableStatus+`
  AND COALESCE(next_check_time, 0) <= ?
ORDER BY next_check_time, id`, now)
}

func (r sqliteChecks) ListByService(ctx context.Context, serviceID int64) ([]*model.Check, error) {
	return r.query(ctx, `SELECT `+checkColumns+` FROM health_check WHERE service_id = ? ORDER BY id`, serviceID)
}

func (r sqliteChecks) Claim(ctx context.Context, checkID, now int64) (bool, error) {
	if now <= 0 {
		now = 1
	}
	res, err := r.tx.ExecContext(ctx, `
UPDATE health_check SET status = 'processing', processing_started_at = ?
WHERE id = ? AND `+sqliteClaimableStatus+` AND COALESCE(disabled, 0) = 0`,
		now, checkID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to claim check %d: %w", checkID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to claim check %d: %w", checkID, err)
	}
	if n == 1 {
		return true, nil
	}

	if _, err := r.Get(ctx, checkID); err != nil {
		return false, err
	}
	return false, nil
}

func (r sqliteChecks) Delete(ctx context.Context, checkID int64) error {
	res, err := r.tx.ExecContext(ctx, `DELETE FROM health_check WHERE id = ?`, checkID)
	if err != nil {
		return fmt.Errorf("failed to delete check %d: %w", checkID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := r.tx.ExecContext(ctx, `DELETE FROM check_result WHERE health_check_id = ?`, checkID); err != nil {
		return fmt.Errorf("failed to delete results of check %d: %w", checkID, err)
	}
	return nil
}

func (r sqliteChecks) query(ctx context.Context, query string, args ...any) ([]*model.Check, error) {
	rows, err := r.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query checks: %w", err)
	}
	defer rows.Close()

	var checks []*model.Check
	for rows.Next() {
		var (
			c         model.Check
			checkType string
			status    string
			data      sql.NullString
		)
		if err := rows.Scan(&c.CheckID, &c.ServiceID, &c.Name, &checkType, &c.URL, &c.CheckInterval,
			&c.NextCheckTime, &c.ProcessingStartedAt, &status, &c.Disabled, &data); err != nil {
			return nil, fmt.Errorf("failed to scan check: %w", err)
		}
		c.CheckType = model.CheckType(checkType)
		c.Status = model.CheckStatus(status)
		c.Data = decodeData(data, "check_id", c.CheckID)
		c.Normalize()
		checks = append(checks, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate checks: %w", err)
	}
	return checks, nil
}

type sqliteResults struct {
	tx  *sql.Tx
	now int64
}

func (r sqliteResults) Add(ctx context.Context, result model.Result) error {
	data, err := encodeData(result.Data)
	if err != nil {
		return err
	}
	_, err = r.tx.ExecContext(ctx,
		`INSERT INTO check_result (result_id, health_check_id, status, data, created_at) VALUES (?, ?, ?, ?, ?)`,
		result.ResultID, result.CheckID, string(result.Status), data, result.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save result for check %d: %w", result.CheckID, err)
	}
	return nil
}

func (r sqliteResults) ListByCheck(ctx context.Context, checkID int64, limit int) ([]model.Result, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := r.tx.QueryContext(ctx, `
SELECT result_id, health_check_id, status, data, created_at FROM check_result
WHERE health_check_id = ?
ORDER BY created_at DESC, rowid DESC
LIMIT ?`, checkID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []model.Result
	for rows.Next() {
		var (
			res    model.Result
			status string
			data   sql.NullString
		)
		if err := rows.Scan(&res.ResultID, &res.CheckID, &status, &data, &res.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		res.Status = model.ResultStatus(status)
		res.Data = decodeData(data, "result_id", res.ResultID)
		results = append(results, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate results: %w", err)
	}
	return results, nil
}

func (r sqliteResults) LatestStatuses(ctx context.Context, checkIDs []int64) (map[int64]model.ResultStatus, error) {
	statuses := make(map[int64]model.ResultStatus, len(checkIDs))
	if len(checkIDs) == 0 {
		return statuses, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(checkIDs)), ",")
	args := make([]any, len(checkIDs))
	for i, id := range checkIDs {
		args[i] = id
	}

	rows, err := r.tx.QueryContext(ctx, `
SELECT r.health_check_id, r.status FROM check_result r
WHERE r.health_check_id IN (`+placeholders+`)
  AND r.rowid = (
    SELECT r2.rowid FROM check_result r2
    WHERE r2.health_check_id = r.health_check_id
    ORDER BY r2.created_at DESC, r2.rowid DESC
    LIMIT 1
  )`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query latest statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id     int64
			status string
		)
		if err := rows.Scan(&id, &status); err != nil {
			return nil, fmt.Errorf("failed to scan status: %w", err)
		}
		statuses[id] = model.ResultStatus(status)
	}
	return statuses, rows.Err()
}

func (r sqliteResults) DeleteOld(ctx context.Context, retentionSeconds int64, batchSize int) (int, error) {
	if batchSize <= 0 {
		batchSize = -1
	}
	res, err := r.tx.ExecContext(ctx, `
DELETE FROM check_result WHERE result_id IN (
    SELECT result_id FROM check_result WHERE created_at < ? ORDER BY created_at LIMIT ?
)`, r.now-retentionSeconds, batchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old results: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted results: %w", err)
	}
	return int(n), nil
}

type sqliteServices struct{ tx *sql.Tx }

func (r sqliteServices) Add(ctx context.Context, service *model.Service) error {
	_, err := r.tx.ExecContext(ctx,
		`INSERT INTO service (id, name) VALUES (?, ?) ON CONFLICT(id) DO UPDATE SET name = excluded.name`,
		service.ServiceID, service.Name,
	)
	if err != nil {
		return fmt.Errorf("failed to save service %d: %w", service.ServiceID, err)
	}
	return nil
}

func (r sqliteServices) Get(ctx context.Context, serviceID int64) (*model.Service, error) {
	var svc model.Service
	err := r.tx.QueryRowContext(ctx, `SELECT id, name FROM service WHERE id = ?`, serviceID).
		Scan(&svc.ServiceID, &svc.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get service %d: %w", serviceID, err)
	}
	return &svc, nil
}

func (r sqliteServices) List(ctx context.Context) ([]*model.Service, error) {
	rows, err := r.tx.QueryContext(ctx, `SELECT id, name FROM service ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query services: %w", err)
	}
	defer rows.Close()

	var services []*model.Service
	for rows.Next() {
		var svc model.Service
		if err := rows.Scan(&svc.ServiceID, &svc.Name); err != nil {
			return nil, fmt.Errorf("failed to scan service: %w", err)
		}
		services = append(services, &svc)
	}
	return services, rows.Err()
}

func encodeData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("failed to encode data: %w", err)
	}
	return string(b), nil
}

// decodeData reads a JSON object column; NULL, empty and malformed values read as an empty map
func decodeData(raw sql.NullString, idKey string, id any) map[string]any {
	data := map[string]any{}
	if !raw.Valid || raw.String == "" {
		return data
	}
	if err := json.Unmarshal([]byte(raw.String), &data); err != nil || data == nil {
		slog.Warn("Ignoring malformed data column", idKey, id, "error", fmt.Sprint(err))
		return map[string]any{}
	}
	return data
}
