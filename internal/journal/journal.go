package journal

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"
)

// Step names the executable that produced a run record
type Step string

const (
	StepCycle   Step = "cycle"
	StepCapture Step = "capture"
	StepNotify  Step = "notify"
)

// Run is one invocation as remembered for operators
type Run struct {
	ID         string
	Step       Step
	StartedAt  time.Time
	FinishedAt time.Time
	State      string
	ExitCode   int
	PhotoPath  string
	Reason     string
	Attempts   int
}

// String renders a run as one history line
func (r Run) String() string {
	line := fmt.Sprintf("%s  %-7s %-22s exit=%d  %6s",
		r.StartedAt.Format("2006-01-02 15:04:05"), r.Step, r.State, r.ExitCode,
		r.FinishedAt.Sub(r.StartedAt).Truncate(time.Millisecond))
	if r.PhotoPath != "" {
		line += "  " + r.PhotoPath
	}
	if r.Reason != "" {
		line += "  (" + r.Reason + ")"
	}
	return line
}

// Journal is the sqlite-backed run history
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=%s", (&url.URL{Path: path}).EscapedPath(), url.QueryEscape("busy_timeout(5000)"))
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	j := &Journal{db: db}
	if err := j.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return j, nil
}

// Close closes the database
func (j *Journal) Close() error {
	return j.db.Close()
}

func (j *Journal) createTables() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		step TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER NOT NULL,
		state TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		photo_path TEXT,
		reason TEXT,
		attempts INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS notified_photos (
		photo_path TEXT PRIMARY KEY,
		notified_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	if _, err := j.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// RecordRun stores r, assigning an ID when it has none. It returns the ID.
func (j *Journal) RecordRun(ctx context.Context, r Run) (string, error) {
	if r.ID == "" {
		r.ID = ulid.Make().String()
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO runs (id, step, started_at, finished_at, state, exit_code, photo_path, reason, attempts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, string(r.Step), r.StartedAt.UnixNano(), r.FinishedAt.UnixNano(),
		r.State, r.ExitCode, r.PhotoPath, r.Reason, r.Attempts)
	if err != nil {
		return "", fmt.Errorf("failed to record run: %w", err)
	}
	return r.ID, nil
}

// RecentRuns returns up to n runs, newest first
func (j *Journal) RecentRuns(ctx context.Context, n int) ([]Run, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, step, started_at, finished_at, state, exit_code, photo_path, reason, attempts
		FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                 Run
			step              string
			started, finished int64
			photo, reason     sql.NullString
		)
		if err := rows.Scan(&r.ID, &step, &started, &finished, &r.State, &r.ExitCode, &photo, &reason, &r.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.Step = Step(step)
		r.StartedAt = time.Unix(0, started)
		r.FinishedAt = time.Unix(0, finished)
		r.PhotoPath = photo.String
		r.Reason = reason.String
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// MarkNotified records that a photo notification was delivered
func (j *Journal) MarkNotified(ctx context.Context, photoPath string, at time.Time) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO notified_photos (photo_path, notified_at) VALUES (?, ?)
		ON CONFLICT(photo_path) DO UPDATE SET notified_at = excluded.notified_at`,
		photoPath, at.UnixNano())
	if err != nil {
		return fmt.Errorf("failed to mark photo notified: %w", err)
	}
	return nil
}

// WasNotified reports whether a notification for photoPath was delivered
func (j *Journal) WasNotified(ctx context.Context, photoPath string) (bool, error) {
	var n int
	err := j.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notified_photos WHERE photo_path = ?`, photoPath).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("failed to query notified photos: %w", err)
	}
	return n > 0, nil
}
