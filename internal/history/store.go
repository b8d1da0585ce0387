// Package history persists one row per retention sweep so operators can see
// what was deleted, when, and why a target was skipped.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trigger values recorded with each sweep.
const (
	TriggerSchedule = "schedule"
	TriggerAPI      = "api"
	TriggerCLI      = "cli"
)

// Entry is one recorded sweep.
type Entry struct {
	ID         string    `json:"id"`
	Target     string    `json:"target"`
	Dir        string    `json:"dir"`
	Pattern    string    `json:"pattern,omitempty"`
	Trigger    string    `json:"trigger"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Examined   int       `json:"examined"`
	Deleted    int       `json:"deleted"`
	Failed     int       `json:"failed"`
	Skipped    int       `json:"skipped"`
	Disabled   bool      `json:"disabled"`
}

// Store reads and writes sweep history rows.
type Store struct {
	db *sql.DB
}

func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts a sweep entry, assigning an ID when the caller left it empty,
// and returns the entry's ID.
func (s *Store) Record(ctx context.Context, e Entry) (string, error) {
	if e.Target == "" {
		return "", fmt.Errorf("sweep entry target is empty")
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO sweep_log(id, target, dir, pattern, initiator, started_at, finished_at, examined, deleted, failed, skipped, disabled)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`,
		e.ID, e.Target, e.Dir, nullableString(e.Pattern), e.Trigger,
		e.StartedAt.UTC().Format(time.RFC3339Nano),
		e.FinishedAt.UTC().Format(time.RFC3339Nano),
		e.Examined, e.Deleted, e.Failed, e.Skipped, boolToInt(e.Disabled),
	)
	if err != nil {
		return "", fmt.Errorf("insert sweep entry: %w", err)
	}
	return e.ID, nil
}

// Recent returns the most recent sweeps across all targets, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, target, dir, pattern, initiator, started_at, finished_at, examined, deleted, failed, skipped, disabled
FROM sweep_log ORDER BY started_at DESC LIMIT ?;
`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sweep history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// RecentForTarget returns the most recent sweeps of one target, newest first.
func (s *Store) RecentForTarget(ctx context.Context, target string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, target, dir, pattern, initiator, started_at, finished_at, examined, deleted, failed, skipped, disabled
FROM sweep_log WHERE target = ? ORDER BY started_at DESC LIMIT ?;
`, target, limit)
	if err != nil {
		return nil, fmt.Errorf("query sweep history for target %q: %w", target, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// LastSweep returns the most recent sweep of a target, or nil if the target
// has never been swept.
func (s *Store) LastSweep(ctx context.Context, target string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id, target, dir, pattern, initiator, started_at, finished_at, examined, deleted, failed, skipped, disabled
FROM sweep_log WHERE target = ? ORDER BY started_at DESC LIMIT 1;
`, target)

	e, err := scanEntry(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read last sweep for target %q: %w", target, err)
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan sweep entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sweep history: %w", err)
	}
	return out, nil
}

func scanEntry(scan func(dest ...any) error) (Entry, error) {
	var e Entry
	var pattern sql.NullString
	var startedAt, finished string
	var disabled int
	if err := scan(&e.ID, &e.Target, &e.Dir, &pattern, &e.Trigger, &startedAt, &finished,
		&e.Examined, &e.Deleted, &e.Failed, &e.Skipped, &disabled); err != nil {
		return Entry{}, err
	}
	e.Pattern = pattern.String
	e.Disabled = disabled != 0

	var err error
	if e.StartedAt, err = time.Parse(time.RFC3339Nano, startedAt); err != nil {
		return Entry{}, fmt.Errorf("parse started_at %q: %w", startedAt, err)
	}
	if e.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return Entry{}, fmt.Errorf("parse finished_at %q: %w", finished, err)
	}
	return e, nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
