package database

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
)

type migration struct {
	name string
	sql  string
	// apply replaces sql for migrations that need to inspect the schema first
	apply func(ctx context.Context, tx *sql.Tx) error
}

var migrations = []migration{
	{
		name: "create_service_table",
		sql: `
CREATE TABLE IF NOT EXISTS service (
    id INTEGER PRIMARY KEY,
    name TEXT NOT NULL DEFAULT ''
);
		`,
	},
	{
		name: "create_health_check_table",
		sql: `
CREATE TABLE IF NOT EXISTS health_check (
    id INTEGER PRIMARY KEY,
    service_id INTEGER NOT NULL,
    name TEXT DEFAULT '',
    check_type TEXT NOT NULL,
    url TEXT NOT NULL DEFAULT '',
    check_interval INTEGER NOT NULL,
    status TEXT DEFAULT 'idle',
    next_check_time INTEGER DEFAULT 0,
    processing_started_at INTEGER DEFAULT 0,
    disabled INTEGER DEFAULT 0,
    data TEXT DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_health_check_service ON health_check(service_id);
		`,
	},
	{
		// databases created before check configuration existed lack the data column
		name:  "add_health_check_data_column",
		apply: addDataColumn,
	},
	{
		name: "create_health_check_due_index",
		sql: `
CREATE INDEX IF NOT EXISTS idx_health_check_due ON health_check(disabled, status, next_check_time);
		`,
	},
	{
		name: "create_check_result_table",
		sql: `
CREATE TABLE IF NOT EXISTS check_result (
    result_id TEXT PRIMARY KEY,
    health_check_id INTEGER NOT NULL,
    status TEXT NOT NULL,
    data TEXT,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_check_result_check_created ON check_result(health_check_id, created_at);
CREATE INDEX IF NOT EXISTS idx_check_result_created_at ON check_result(created_at);
		`,
	},
}

// migrate applies pending migrations in order, each in its own transaction
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
)`); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	for _, m := range migrations {
		applied, err := migrationApplied(ctx, db, m.name)
		if err != nil {
			return err
		}
		if applied {
			continue
		}

		slog.Info("Running migration", "name", m.name)
		if err := runMigration(ctx, db, m); err != nil {
			return fmt.Errorf("failed to run migration %s: %w", m.name, err)
		}
		slog.Info("Migration completed", "name", m.name)
	}

	return nil
}

func migrationApplied(ctx context.Context, db *sql.DB, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_migrations WHERE name = ?`, name).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to read schema_migrations: %w", err)
	}
	return count > 0, nil
}

func runMigration(ctx context.Context, db *sql.DB, m migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if m.apply != nil {
		err = m.apply(ctx, tx)
	} else {
		_, err = tx.ExecContext(ctx, m.sql)
	}
	if err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (name) VALUES (?)`, m.name); err != nil {
		return err
	}
	return tx.Commit()
}

func addDataColumn(ctx context.Context, tx *sql.Tx) error {
	rows, err := tx.QueryContext(ctx, `PRAGMA table_info(health_check)`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			cid       int
			name      string
			ctype     string
			notNull   int
			dfltValue sql.NullString
			pk        int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == "data" {
			return rows.Err()
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	_, err = tx.ExecContext(ctx, `ALTER TABLE health_check ADD COLUMN data TEXT DEFAULT '{}'`)
	return err
}
