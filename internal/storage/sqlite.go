package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// ErrNotFound is wrapped by every lookup that finds no row.
var ErrNotFound = errors.New("not found")

// DB wraps the SQLite database connection.
type DB struct {
	conn *sql.DB
	path string
}

// New creates a new DB, opening (or creating) the SQLite file at dbPath.
func New(dbPath string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite only supports one writer; a single connection avoids SQLITE_BUSY.
	conn.SetMaxOpenConns(1)

	db := &DB{conn: conn, path: dbPath}
	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Conn returns the underlying database connection.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

func (db *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			source_type TEXT NOT NULL,
			source_config TEXT NOT NULL DEFAULT '{}',
			fields_json TEXT NOT NULL DEFAULT '{}',
			allow_json TEXT NOT NULL DEFAULT '[]',
			stages_json TEXT NOT NULL DEFAULT '[]',
			dedupe_key TEXT NOT NULL DEFAULT '',
			output_json TEXT NOT NULL DEFAULT '{}',
			trigger_type TEXT NOT NULL DEFAULT 'manual',
			trigger_config TEXT NOT NULL DEFAULT '',
			enabled INTEGER NOT NULL DEFAULT 1,
			last_run_at DATETIME NOT NULL,
			last_status TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_jobs_name ON jobs(name)`,
		`CREATE TABLE IF NOT EXISTS run_logs (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			trigger_type TEXT NOT NULL DEFAULT 'manual',
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			status TEXT NOT NULL,
			rows_read INTEGER NOT NULL DEFAULT 0,
			rows_written INTEGER NOT NULL DEFAULT 0,
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_run_logs_job ON run_logs(job_id, started_at)`,
		`ALTER TABLE run_logs ADD COLUMN rows_dropped INTEGER NOT NULL DEFAULT 0`,
		`CREATE TABLE IF NOT EXISTS datasets (
			name TEXT PRIMARY KEY,
			schema_json TEXT NOT NULL DEFAULT '{}',
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dataset_rows (
			dataset TEXT NOT NULL REFERENCES datasets(name),
			seq INTEGER NOT NULL,
			data_json TEXT NOT NULL,
			PRIMARY KEY (dataset, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS db_connections (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			driver TEXT NOT NULL,
			host TEXT NOT NULL DEFAULT '',
			port INTEGER NOT NULL DEFAULT 0,
			database_name TEXT NOT NULL DEFAULT '',
			username TEXT NOT NULL DEFAULT '',
			ssl_mode TEXT NOT NULL DEFAULT '',
			extra_json TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL,
			updated_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS mcp_approvals (
			id TEXT PRIMARY KEY,
			tool TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			metadata TEXT NOT NULL DEFAULT '{}',
			created_at DATETIME NOT NULL
		)`,
	}

	for _, m := range migrations {
		if _, err := db.conn.Exec(m); err != nil {
			// ALTER TABLE fails if the column already exists.
			if strings.Contains(m, "ALTER TABLE") && strings.Contains(err.Error(), "duplicate column") {
				continue
			}
			return fmt.Errorf("migration failed: %s: %w", firstLine(m), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
