// Package sqlite is the durable Store backend.
//
// The database runs embedded (ncruces/go-sqlite3, no cgo) with WAL so the
// daemon, the API server and CLI invocations can read while a sync pass
// writes.
//
// Layout:
//   - users: local accounts, unique email
//   - tasks: canonical tasks, unique (user_id, source, source_id) when linked
//   - integrations: one credential per (user_id, service)
//   - sync_queue: advisory steps waiting to be retried
//
// List-valued fields (tags, comments, selected repos, metadata) are stored
// as JSON TEXT columns; timestamps as RFC3339 strings.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ncruces/go-sqlite3"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/bliqhq/bliq/internal/storage"
)

// DB wraps the SQLite connection and implements storage.Store.
type DB struct {
	conn *sql.DB
	path string
}

var _ storage.Store = (*DB)(nil)

// Open creates a database connection at path, creating parent directories
// as needed. The schema is not touched; call InitSchema before first use.
//
// The caller MUST call Close() when done.
func Open(path string) (*DB, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	db := &DB{conn: conn, path: path}

	pragmas := []struct {
		stmt string
		what string
	}{
		{"PRAGMA journal_mode=WAL", "enable WAL mode"},
		{"PRAGMA busy_timeout=5000", "set busy timeout"},
		{"PRAGMA foreign_keys=ON", "enable foreign keys"},
	}
	for _, p := range pragmas {
		if _, err := db.conn.Exec(p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to %s: %w", p.what, err)
		}
	}

	return db, nil
}

// OpenAndInit opens the database and ensures the schema exists.
func OpenAndInit(ctx context.Context, path string) (*DB, error) {
	db, err := Open(path)
	if err != nil {
		return nil, err
	}
	if err := db.InitSchemaContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// RawDB returns the underlying sql.DB connection.
func (db *DB) RawDB() *sql.DB {
	return db.conn
}

// Close checkpoints the WAL and closes the connection.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}

	if _, err := db.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := db.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	db.conn = nil
	return nil
}

// InitSchema creates tables and indexes. It is idempotent.
func (db *DB) InitSchema() error {
	return db.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (db *DB) InitSchemaContext(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		is_markdown INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'todo',
		priority TEXT NOT NULL DEFAULT 'medium',
		source TEXT NOT NULL DEFAULT 'local',
		source_id TEXT,
		source_ref TEXT,
		collection TEXT,
		tags TEXT,      -- JSON array
		comments TEXT,  -- JSON array
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS integrations (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		service TEXT NOT NULL,
		token TEXT NOT NULL,
		selected_repos TEXT,  -- JSON array
		metadata TEXT,        -- JSON object
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS sync_queue (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		action TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		payload TEXT,
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		FOREIGN KEY (user_id) REFERENCES users(id) ON DELETE CASCADE
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email ON users(email);

	CREATE INDEX IF NOT EXISTS idx_tasks_user ON tasks(user_id, created_at, id);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_status ON tasks(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_tasks_user_source ON tasks(user_id, source);

	-- De-duplication key for imported and pushed tasks
	CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_dedup
	    ON tasks(user_id, source, source_id) WHERE source_id IS NOT NULL;

	-- One credential per (user, service); older databases carried a plain
	-- index and may hold duplicates, of which the newest row is kept.
	DROP INDEX IF EXISTS idx_integrations_user_service;
	DELETE FROM integrations WHERE rowid NOT IN (
	    SELECT rowid FROM (
	        SELECT rowid, ROW_NUMBER() OVER (
	            PARTITION BY user_id, service ORDER BY updated_at DESC, rowid DESC) AS n
	        FROM integrations)
	    WHERE n = 1);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_integrations_user_service_unique
	    ON integrations(user_id, service);
	CREATE INDEX IF NOT EXISTS idx_sync_queue_user ON sync_queue(user_id, created_at);
	`

	if _, err := db.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// wrapWriteErr maps constraint violations to storage.ErrConflict.
func wrapWriteErr(what string, err error) error {
	if errors.Is(err, sqlite3.CONSTRAINT_UNIQUE) || errors.Is(err, sqlite3.CONSTRAINT_PRIMARYKEY) {
		return fmt.Errorf("failed to %s: %w: %v", what, storage.ErrConflict, err)
	}
	return fmt.Errorf("failed to %s: %w", what, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}

func toNullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}
