// Package history keeps a SQLite log of processed tickets.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/silver2dream/ticketflow/internal/worker"
)

// timeLayout sorts lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Run is one recorded ProcessTicket outcome.
type Run struct {
	ID         string
	TicketKey  string
	Success    bool
	Kind       worker.FailureKind
	Branch     string
	PRURL      string
	PreviewURL string
	Error      string
	StartedAt  time.Time
	Duration   time.Duration
}

// Filter narrows List results. Zero Limit means 20.
type Filter struct {
	Limit  int
	Ticket string
}

// Store is the run history database.
type Store struct {
	Path string
	db   *sql.DB
}

// Open opens or creates the history database at path.
func Open(path string) (*Store, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve history path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
		return nil, fmt.Errorf("ensure history dir: %w", err)
	}

	db, err := sql.Open("sqlite", absPath)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// sqlite serializes writers.
	db.SetMaxOpenConns(1)

	s := &Store{Path: absPath, db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	ticket_key TEXT NOT NULL,
	success INTEGER NOT NULL,
	kind TEXT NOT NULL,
	branch TEXT,
	pr_url TEXT,
	preview_url TEXT,
	error TEXT,
	started_at TEXT NOT NULL,
	duration_ms INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_runs_ticket_started ON runs(ticket_key, started_at);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("create history schema: %w", err)
	}
	return nil
}

// Record stores a result and returns the new run ID.
func (s *Store) Record(ctx context.Context, res *worker.Result) (string, error) {
	id := uuid.New().String()
	started := res.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	success := 0
	if res.Success {
		success = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (id, ticket_key, success, kind, branch, pr_url, preview_url, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, id, res.TicketKey, success, string(res.Kind), res.Branch, res.PRURL(), res.PreviewURL, res.Error,
		started.UTC().Format(timeLayout), res.Duration.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return id, nil
}

// List returns runs newest first.
func (s *Store) List(ctx context.Context, f Filter) ([]Run, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 20
	}

	query := `SELECT id, ticket_key, success, kind, branch, pr_url, preview_url, error, started_at, duration_ms FROM runs`
	var args []any
	if f.Ticket != "" {
		query += ` WHERE ticket_key = ?`
		args = append(args, f.Ticket)
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                           Run
			success                     int
			kind, startedAt             string
			branch, pr, preview, errMsg sql.NullString
			durationMS                  int64
		)
		if err := rows.Scan(&r.ID, &r.TicketKey, &success, &kind, &branch, &pr, &preview, &errMsg, &startedAt, &durationMS); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Success = success == 1
		r.Kind = worker.FailureKind(kind)
		r.Branch, r.PRURL, r.PreviewURL, r.Error = branch.String, pr.String, preview.String, errMsg.String
		r.Duration = time.Duration(durationMS) * time.Millisecond
		if r.StartedAt, err = time.Parse(timeLayout, startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at for run %s: %w", r.ID, err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
