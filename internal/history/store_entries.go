package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const entryColumns = `id, batch_id, kind, source, destination, status, error_kind, error_message, created_at, started_at, finished_at`

// Insert records a new entry, pending unless another status is given.
// CreatedAt defaults to now. Inserting an existing id is a no-op.
func (s *Store) Insert(ctx context.Context, e Entry) error {
	if strings.TrimSpace(e.ID) == "" {
		return errors.New("history insert: id required")
	}
	if e.Status == "" {
		e.Status = StatusPending
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO jobs (`+entryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING`,
		e.ID, e.BatchID, e.Kind, e.Source, e.Destination, string(e.Status), e.ErrorKind, e.ErrorMessage,
		formatTime(e.CreatedAt), nullableTime(e.StartedAt), nullableTime(e.FinishedAt),
	)
	if err != nil {
		return fmt.Errorf("history insert: %w", err)
	}
	return nil
}

// MarkRunning moves an entry to running.
func (s *Store) MarkRunning(ctx context.Context, id string, at time.Time) error {
	res, err := s.exec(ctx,
		`UPDATE jobs SET status = ?, started_at = ? WHERE id = ?`,
		string(StatusRunning), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("history mark running: %w", err)
	}
	return requireRow(res, id)
}

// MarkFinished records a terminal status and the error, if any.
func (s *Store) MarkFinished(ctx context.Context, id string, status Status, errKind, errMessage string, at time.Time) error {
	if !status.IsTerminal() {
		return fmt.Errorf("history mark finished: %s is not a terminal status", status)
	}
	res, err := s.exec(ctx,
		`UPDATE jobs SET status = ?, error_kind = ?, error_message = ?, finished_at = ?,
			started_at = COALESCE(started_at, ?) WHERE id = ?`,
		string(status), errKind, errMessage, formatTime(at), formatTime(at), id,
	)
	if err != nil {
		return fmt.Errorf("history mark finished: %w", err)
	}
	return requireRow(res, id)
}

// ErrEntryNotFound reports an update for an unknown id.
var ErrEntryNotFound = errors.New("history entry not found")

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return nil
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}
	return nil
}

// Get returns the entry with id, or nil when absent.
func (s *Store) Get(ctx context.Context, id string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM jobs WHERE id = ?`, id)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

// List returns the newest entries first, optionally filtered by status. A
// non-positive limit returns every match.
func (s *Store) List(ctx context.Context, limit int, statuses ...Status) ([]Entry, error) {
	query := `SELECT ` + entryColumns + ` FROM jobs`
	args := make([]any, 0, len(statuses)+1)
	if len(statuses) > 0 {
		query += ` WHERE status IN (` + makePlaceholders(len(statuses)) + `)`
		for _, status := range statuses {
			args = append(args, string(status))
		}
	}
	query += ` ORDER BY created_at DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

// Counts returns the number of entries per status.
func (s *Store) Counts(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count history: %w", err)
	}
	defer rows.Close()
	counts := make(map[Status]int, len(allStatuses))
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[Status(status)] = n
	}
	return counts, rows.Err()
}

// Clear removes every entry and reports how many were deleted.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CancelUnfinished marks entries left pending or running by a previous
// process as cancelled.
func (s *Store) CancelUnfinished(ctx context.Context) (int64, error) {
	now := formatTime(time.Now())
	res, err := s.exec(ctx,
		`UPDATE jobs SET status = ?, error_kind = 'shutdown', error_message = 'process exited before the job finished',
			finished_at = ? WHERE status IN (?, ?)`,
		string(StatusCancelled), now, string(StatusPending), string(StatusRunning),
	)
	if err != nil {
		return 0, fmt.Errorf("cancel unfinished history: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(row scanner) (*Entry, error) {
	var (
		e                 Entry
		status            string
		created           string
		started, finished sql.NullString
	)
	if err := row.Scan(&e.ID, &e.BatchID, &e.Kind, &e.Source, &e.Destination, &status,
		&e.ErrorKind, &e.ErrorMessage, &created, &started, &finished); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("scan history entry: %w", err)
	}
	e.Status = Status(status)
	if t, err := parseTimeString(created); err == nil {
		e.CreatedAt = t
	}
	if started.Valid {
		if t, err := parseTimeString(started.String); err == nil {
			e.StartedAt = t
		}
	}
	if finished.Valid {
		if t, err := parseTimeString(finished.String); err == nil {
			e.FinishedAt = t
		}
	}
	return &e, nil
}

// timeLayout is fixed width so timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return formatTime(t)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", count), ",")
}
