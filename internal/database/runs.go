package database

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// RunSummary is what a finished workflow reports back.
type RunSummary struct {
	Status      string
	ItemCount   int
	ErrorCount  int
	JudgeRounds int
	Detail      string
}

// StartRun records a new running workflow and returns its id.
func (db *DB) StartRun(workflow, input, method string) (string, error) {
	id := uuid.NewString()
	var m *string
	if method != "" {
		m = &method
	}
	_, err := db.conn.Exec(
		`INSERT INTO runs (id, workflow, input, method, status, started_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		id, workflow, input, m, StatusRunning, now(),
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun stores the outcome of a run.
func (db *DB) FinishRun(id string, s RunSummary) error {
	var detail *string
	if s.Detail != "" {
		detail = &s.Detail
	}
	_, err := db.conn.Exec(
		`UPDATE runs SET status = ?, item_count = ?, error_count = ?, judge_rounds = ?,
		detail = ?, finished_at = ? WHERE id = ?`,
		s.Status, s.ItemCount, s.ErrorCount, s.JudgeRounds, detail, now(), id,
	)
	return err
}

// GetRun returns one run, or nil when it does not exist.
func (db *DB) GetRun(id string) (*Run, error) {
	row := db.conn.QueryRow(
		`SELECT id, workflow, input, method, status, item_count, error_count, judge_rounds,
		detail, started_at, finished_at FROM runs WHERE id = ?`, id,
	)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return r, err
}

// GetRecentRuns returns the latest runs, newest first.
func (db *DB) GetRecentRuns(limit int) ([]Run, error) {
	rows, err := db.conn.Query(
		`SELECT id, workflow, input, method, status, item_count, error_count, judge_rounds,
		detail, started_at, finished_at FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// GetStats aggregates the whole run history.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{ByWorkflow: make(map[string]int)}
	var last sql.NullString
	err := db.conn.QueryRow(
		`SELECT COUNT(*),
		COALESCE(SUM(CASE WHEN status = 'failed' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(item_count), 0), COALESCE(SUM(error_count), 0), MAX(started_at)
		FROM runs`,
	).Scan(&s.TotalRuns, &s.FailedRuns, &s.ItemsSeen, &s.Errors, &last)
	if err != nil {
		return nil, err
	}
	s.LastStarted = last.String

	rows, err := db.conn.Query("SELECT workflow, COUNT(*) FROM runs GROUP BY workflow")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var w string
		var n int
		if err := rows.Scan(&w, &n); err != nil {
			return nil, err
		}
		s.ByWorkflow[w] = n
	}
	return s, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	if err := row.Scan(&r.ID, &r.Workflow, &r.Input, &r.Method, &r.Status, &r.ItemCount,
		&r.ErrorCount, &r.JudgeRounds, &r.Detail, &r.StartedAt, &r.FinishedAt); err != nil {
		return nil, err
	}
	return &r, nil
}

func now() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}
