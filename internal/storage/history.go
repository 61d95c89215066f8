package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mattjoyce/launchpad/internal/job"
	"github.com/mattjoyce/launchpad/internal/log"
)

// maxOutputBytes caps stdout and stderr stored per job.
const maxOutputBytes = 64 * 1024

const truncatedMarker = "\n...[truncated]"

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Entry is one persisted terminal job.
type Entry struct {
	JobID       string          `json:"job_id"`
	Ticker      string          `json:"ticker,omitempty"`
	Topic       string          `json:"topic"`
	Goal        string          `json:"goal"`
	Sources     []string        `json:"sources"`
	Status      job.Status      `json:"status"`
	ExitCode    *int            `json:"exit_code,omitempty"`
	TimedOut    bool            `json:"timed_out"`
	Kind        job.ErrorKind   `json:"error_kind,omitempty"`
	Error       string          `json:"error,omitempty"`
	Summary     json.RawMessage `json:"summary,omitempty"`
	Stdout      string          `json:"stdout,omitempty"`
	Stderr      string          `json:"stderr,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
	Duration    time.Duration   `json:"duration_ns"`
}

// History journals terminal jobs to SQLite. It satisfies registry.Journal.
type History struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewHistory(db *sql.DB) *History {
	return &History{db: db, logger: log.WithComponent("storage")}
}

// Record upserts the terminal snapshot of j. Non-terminal jobs are ignored.
func (h *History) Record(ctx context.Context, j job.Job) error {
	if !j.Status.Terminal() {
		return nil
	}

	sources, err := json.Marshal(j.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}
	var metadata []byte
	if len(j.Metadata) > 0 {
		if metadata, err = json.Marshal(j.Metadata); err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
	}

	var (
		exitCode          sql.NullInt64
		kind, summary     sql.NullString
		stdout, stderr    sql.NullString
		durationMS        sql.NullInt64
		timedOut          int
		startedAt, doneAt sql.NullString
	)
	if r := j.Result; r != nil {
		exitCode = sql.NullInt64{Int64: int64(r.ExitCode), Valid: true}
		kind = nullString(string(r.Kind))
		if len(r.Summary) > 0 {
			summary = nullString(string(r.Summary))
		}
		stdout = nullString(truncate(r.Stdout))
		stderr = nullString(truncate(r.Stderr))
		durationMS = sql.NullInt64{Int64: r.Duration.Milliseconds(), Valid: true}
		if r.TimedOut {
			timedOut = 1
		}
	}
	if j.StartedAt != nil {
		startedAt = nullString(formatTime(*j.StartedAt))
	}
	if j.CompletedAt != nil {
		doneAt = nullString(formatTime(*j.CompletedAt))
	}

	_, err = h.db.ExecContext(ctx, `
INSERT INTO job_history(
  id, ticker, topic, goal, sources, metadata, status, exit_code, timed_out, error_kind,
  last_error, summary, stdout, stderr, created_at, started_at, completed_at, duration_ms
)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  status = excluded.status,
  exit_code = excluded.exit_code,
  timed_out = excluded.timed_out,
  error_kind = excluded.error_kind,
  last_error = excluded.last_error,
  summary = excluded.summary,
  stdout = excluded.stdout,
  stderr = excluded.stderr,
  started_at = excluded.started_at,
  completed_at = excluded.completed_at,
  duration_ms = excluded.duration_ms;
`,
		j.ID, nullString(j.Ticker), j.Topic, j.Goal, string(sources), nullBytes(metadata), string(j.Status),
		exitCode, timedOut, kind, nullString(j.Error), summary, stdout, stderr,
		formatTime(j.CreatedAt), startedAt, doneAt, durationMS,
	)
	if err != nil {
		return fmt.Errorf("insert job_history: %w", err)
	}
	h.logger.Debug("job recorded", "job_id", j.ID, "status", j.Status)
	return nil
}

// List returns up to limit entries, most recently completed first.
// A non-positive limit returns everything.
func (h *History) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.QueryContext(ctx, `
SELECT id, ticker, topic, goal, sources, status, exit_code, timed_out, error_kind, last_error,
       summary, stdout, stderr, created_at, started_at, completed_at, duration_ms
FROM job_history
ORDER BY completed_at DESC, created_at DESC
LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query job_history: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job_history: %w", err)
	}
	return out, nil
}

// Get loads one entry; job.ErrNotFound when absent.
func (h *History) Get(ctx context.Context, id string) (Entry, error) {
	row := h.db.QueryRowContext(ctx, `
SELECT id, ticker, topic, goal, sources, status, exit_code, timed_out, error_kind, last_error,
       summary, stdout, stderr, created_at, started_at, completed_at, duration_ms
FROM job_history
WHERE id = ?;
`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, job.ErrNotFound
	}
	return e, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(s scanner) (Entry, error) {
	var (
		e                          Entry
		ticker, kind, lastErr      sql.NullString
		summary, stdout, stderr    sql.NullString
		sources, status, createdAt string
		startedAt, completedAt     sql.NullString
		exitCode, durationMS       sql.NullInt64
		timedOut                   int
	)
	if err := s.Scan(&e.JobID, &ticker, &e.Topic, &e.Goal, &sources, &status, &exitCode, &timedOut,
		&kind, &lastErr, &summary, &stdout, &stderr, &createdAt, &startedAt, &completedAt, &durationMS); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, err
		}
		return Entry{}, fmt.Errorf("scan job_history: %w", err)
	}

	if err := json.Unmarshal([]byte(sources), &e.Sources); err != nil {
		return Entry{}, fmt.Errorf("decode sources for %s: %w", e.JobID, err)
	}
	e.Ticker = ticker.String
	e.Status = job.Status(status)
	e.TimedOut = timedOut != 0
	e.Kind = job.ErrorKind(kind.String)
	e.Error = lastErr.String
	e.Stdout = stdout.String
	e.Stderr = stderr.String
	if summary.Valid {
		e.Summary = json.RawMessage(summary.String)
	}
	if exitCode.Valid {
		code := int(exitCode.Int64)
		e.ExitCode = &code
	}
	e.Duration = time.Duration(durationMS.Int64) * time.Millisecond

	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return Entry{}, err
	}
	if e.StartedAt, err = parseNullTime(startedAt); err != nil {
		return Entry{}, err
	}
	if e.CompletedAt, err = parseNullTime(completedAt); err != nil {
		return Entry{}, err
	}
	return e, nil
}

func truncate(s string) string {
	if len(s) <= maxOutputBytes {
		return s
	}
	return s[:maxOutputBytes] + truncatedMarker
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullBytes(b []byte) sql.NullString {
	return sql.NullString{String: string(b), Valid: len(b) > 0}
}
