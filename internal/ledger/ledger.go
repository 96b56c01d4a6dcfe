// Package ledger provides durable storage for registered apps and
// proving tasks. Uses SQLite with WAL mode for concurrent read access;
// all writes funnel through a single connection.
//
// The ledger is the source of truth for task state. State changes go
// through Advance, which enforces the lifecycle transition guard at the
// SQL level so a stale driver can never clobber a newer state.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - Initial schema (pre-migration)
// 1 - Added index on task_transitions.task_id
// 2 - Tasks keyed by (app_id, task_id); transitions carry app_id
const currentSchemaVersion = 2

var (
	ErrNotFound           = errors.New("ledger: not found")
	ErrTransitionConflict = errors.New("ledger: state transition conflict")
)

// Ledger wraps the SQLite database.
type Ledger struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at the given path.
// Applies required pragmas and migrations automatically.
//
// The database is configured with:
//   - WAL mode for concurrent reads during writes
//   - NORMAL synchronous mode (balance durability/performance)
//   - 5-second busy timeout for lock contention
//   - Foreign key enforcement
//
// This function is idempotent - safe to call multiple times.
func Open(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Ledger{db: db}, nil
}

// Close closes the database connection.
func (l *Ledger) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates tables if they don't exist and runs migrations.
// This function is idempotent.
func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(db); err != nil {
			return err
		}
		version = 1
	}

	if version < 2 {
		if err := migrateToV2(db); err != nil {
			return err
		}
		version = 2
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 adds the transitions-by-task index for databases created
// before it was part of schema.sql. CREATE INDEX IF NOT EXISTS is a
// no-op when the index already exists.
func migrateToV1(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE INDEX IF NOT EXISTS idx_transitions_task
		ON task_transitions(task_id)
	`)
	if err != nil {
		return fmt.Errorf("migrate to v1: %w", err)
	}
	return nil
}

// migrateToV2 rebuilds the task tables around the composite
// (app_id, task_id) key so task ids are scoped per app. Databases
// created with the current schema.sql already have the composite shape
// and skip the rebuild.
func migrateToV2(db *sql.DB) error {
	var n int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('task_transitions')
		WHERE name = 'app_id'
	`).Scan(&n)
	if err != nil {
		return fmt.Errorf("migrate to v2: %w", err)
	}
	if n > 0 {
		return nil
	}

	stmts := []string{
		`PRAGMA foreign_keys = OFF`,
		`CREATE TABLE tasks_v2 (
			app_id          TEXT NOT NULL REFERENCES apps(app_id),
			task_id         TEXT NOT NULL,
			inputs          BLOB NOT NULL,
			inputs_digest   TEXT NOT NULL,
			backend_hint    TEXT NOT NULL DEFAULT '',
			state           TEXT NOT NULL,
			chunks_done     INTEGER NOT NULL DEFAULT 0,
			chunks_total    INTEGER NOT NULL DEFAULT 0,
			cycles          INTEGER NOT NULL DEFAULT 0,
			pv_digest       TEXT NOT NULL DEFAULT '',
			envelope        BLOB,
			err_code        TEXT NOT NULL DEFAULT '',
			err_message     TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			updated_at      TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			PRIMARY KEY (app_id, task_id)
		)`,
		`INSERT INTO tasks_v2
			(app_id, task_id, inputs, inputs_digest, backend_hint, state,
			 chunks_done, chunks_total, cycles, pv_digest, envelope,
			 err_code, err_message, created_at, updated_at)
		 SELECT app_id, task_id, inputs, inputs_digest, backend_hint, state,
			 chunks_done, chunks_total, cycles, pv_digest, envelope,
			 err_code, err_message, created_at, updated_at
		 FROM tasks`,
		`CREATE TABLE task_transitions_v2 (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			app_id      TEXT NOT NULL,
			task_id     TEXT NOT NULL,
			from_state  TEXT NOT NULL,
			to_state    TEXT NOT NULL,
			detail      TEXT NOT NULL DEFAULT '',
			at          TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
			FOREIGN KEY (app_id, task_id) REFERENCES tasks(app_id, task_id)
		)`,
		`INSERT INTO task_transitions_v2
			(id, app_id, task_id, from_state, to_state, detail, at)
		 SELECT tr.id, tk.app_id, tr.task_id, tr.from_state, tr.to_state, tr.detail, tr.at
		 FROM task_transitions tr JOIN tasks tk ON tk.task_id = tr.task_id`,
		`DROP TABLE task_transitions`,
		`ALTER TABLE task_transitions_v2 RENAME TO task_transitions`,
		`DROP TABLE tasks`,
		`ALTER TABLE tasks_v2 RENAME TO tasks`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_state ON tasks(state)`,
		`CREATE INDEX IF NOT EXISTS idx_transitions_task ON task_transitions(app_id, task_id)`,
		`PRAGMA foreign_keys = ON`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate to v2: %w", err)
		}
	}
	return nil
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (l *Ledger) verifyPragma(name, expected string) error {
	var value string
	query := fmt.Sprintf("PRAGMA %s", name)
	if err := l.db.QueryRow(query).Scan(&value); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// countRows is a test helper shared by the package tests.
func (l *Ledger) countRows(ctx context.Context, table string) (int, error) {
	var n int
	err := l.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n)
	return n, err
}
