package database

import (
	"database/sql"
	"fmt"
	"log/slog"
)

// schemaStep is one schema version: the statements that move the database
// from the previous version to this one.
type schemaStep struct {
	name  string
	stmts []string
}

// schema lists every version in order. Version N is schema[N-1]; add new
// steps at the end and never edit a released one.
var schema = []schemaStep{
	{
		name: "run history",
		stmts: []string{
			`CREATE TABLE runs (
    id TEXT PRIMARY KEY,
    workflow TEXT NOT NULL,
    input TEXT NOT NULL,
    method TEXT,
    status TEXT NOT NULL DEFAULT 'running',
    item_count INTEGER DEFAULT 0,
    error_count INTEGER DEFAULT 0,
    judge_rounds INTEGER DEFAULT 0,
    detail TEXT,
    started_at TEXT DEFAULT (strftime('%Y-%m-%dT%H:%M:%SZ', 'now')),
    finished_at TEXT
)`,
			`CREATE INDEX idx_runs_started_at ON runs(started_at)`,
		},
	},
}

func userVersion(q interface {
	QueryRow(string, ...any) *sql.Row
}) (int, error) {
	var v int
	if err := q.QueryRow("PRAGMA user_version").Scan(&v); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return v, nil
}

// upgrade applies every step of steps newer than the stored user_version.
// Each step runs in its own transaction together with the version bump, so
// a failing step leaves the database at the last good version.
func upgrade(conn *sql.DB, steps []schemaStep) error {
	have, err := userVersion(conn)
	if err != nil {
		return err
	}
	if have > len(steps) {
		return fmt.Errorf("database schema version %d is newer than this build (%d)", have, len(steps))
	}

	for i := have; i < len(steps); i++ {
		if err := applyStep(conn, i+1, steps[i]); err != nil {
			return err
		}
	}
	return nil
}

func applyStep(conn *sql.DB, version int, step schemaStep) error {
	slog.Info("upgrading history schema", slog.Int("version", version), slog.String("step", step.name))

	tx, err := conn.Begin()
	if err != nil {
		return fmt.Errorf("schema v%d: %w", version, err)
	}
	defer tx.Rollback()

	for _, stmt := range step.stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("schema v%d (%s): %w", version, step.name, err)
		}
	}
	// SQLite keeps user_version in the database header, which the
	// transaction covers.
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", version)); err != nil {
		return fmt.Errorf("schema v%d: stamping version: %w", version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("schema v%d: %w", version, err)
	}
	return nil
}
