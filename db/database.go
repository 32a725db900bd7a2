// db/database.go
package db

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// InitDB opens the SQLite database at path and creates the run tables if needed.
func InitDB(path string) (*sql.DB, error) {
	slog.Info("Initializing SQLite database", "path", path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		slog.Info("Database file not found, will be created", "path", path)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	d, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err = d.Ping(); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if _, err = d.Exec("PRAGMA foreign_keys = ON;"); err != nil {
		d.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	if err := createTables(d); err != nil {
		d.Close()
		return nil, err
	}
	if err := ensureColumn(d, "runs", "fix_method", "TEXT NOT NULL DEFAULT 'none'"); err != nil {
		d.Close()
		return nil, err
	}

	slog.Info("Database initialized successfully")
	return d, nil
}

const createRunsSQL = `
CREATE TABLE IF NOT EXISTS runs (
    workflow_id TEXT PRIMARY KEY,
    prompt      TEXT,
    phase       TEXT NOT NULL DEFAULT 'GENERATING',
    status      TEXT NOT NULL DEFAULT 'PENDING',
    output_path TEXT,
    error_kind  TEXT,
    retry_count INTEGER NOT NULL DEFAULT 0,
    state       TEXT, -- WorkflowState as JSON
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);`

const createRunEventsSQL = `
CREATE TABLE IF NOT EXISTS run_events (
    workflow_id TEXT NOT NULL,
    sequence    INTEGER NOT NULL,
    type        TEXT NOT NULL,
    stage       TEXT NOT NULL,
    message     TEXT,
    payload     TEXT, -- JSON object
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (workflow_id, sequence)
);`

func createTables(d *sql.DB) error {
	if _, err := d.Exec(createRunsSQL); err != nil {
		return fmt.Errorf("failed to create runs table: %w", err)
	}
	if _, err := d.Exec(createRunEventsSQL); err != nil {
		return fmt.Errorf("failed to create run_events table: %w", err)
	}
	return nil
}

// ensureColumn adds column to table unless it already exists.
func ensureColumn(d *sql.DB, table, column, decl string) error {
	rows, err := d.Query(fmt.Sprintf("PRAGMA table_info(%s);", table))
	if err != nil {
		return fmt.Errorf("failed to query table info for %s: %w", table, err)
	}
	defer rows.Close()

	exists := false
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return fmt.Errorf("failed to scan table info row: %w", err)
		}
		if name == column {
			exists = true
			break
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()
	if exists {
		return nil
	}

	slog.Info("Adding column", "table", table, "column", column)
	if _, err := d.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s;", table, column, decl)); err != nil {
		return fmt.Errorf("failed to add %s column: %w", column, err)
	}
	return nil
}
