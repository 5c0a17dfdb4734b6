package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/models"
)

// TimerFilter selects a running timer. Empty fields are ignored; UserID is
// always required.
type TimerFilter struct {
	UserID   string
	TaskID   string
	RecordID string
}

const timerColumns = `id, task_id, user_id, start_time, end_time, duration_seconds`

// CreateTimer inserts a running record for scopeKey unless one is already
// open. The check and the insert share the write lock and an IMMEDIATE
// transaction, so a second process sharing the file waits for the lock and
// then observes the open record. The partial unique index on scope_key
// rejects any second open record regardless.
func (s *Store) CreateTimer(ctx context.Context, taskID, userID, scopeKey string, start time.Time) (*models.TimerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr(err, "begin tx")
	}
	defer tx.Rollback()

	var existing string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM timer_records WHERE scope_key = ? AND end_time IS NULL`, scopeKey,
	).Scan(&existing)
	switch {
	case err == nil:
		return nil, conflictRunning(existing)
	case !noRows(err):
		return nil, wrapErr(err, "check running timer")
	}

	rec := &models.TimerRecord{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		UserID:    userID,
		StartTime: start.UTC(),
	}
	now := time.Now().UnixMilli()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO timer_records (id, task_id, user_id, scope_key, start_time, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, taskID, userID, scopeKey, toMillis(start), now, now,
	)
	if isUniqueViolation(err) {
		return nil, conflictRunning("")
	}
	if err != nil {
		return nil, wrapErr(err, "insert timer")
	}

	if err := tx.Commit(); err != nil {
		if isUniqueViolation(err) {
			return nil, conflictRunning("")
		}
		return nil, wrapErr(err, "commit timer")
	}
	return rec, nil
}

func conflictRunning(id string) error {
	e := perrors.Conflict("a timer is already running")
	if id != "" {
		e = e.WithDetail("active_timer_id", id)
	}
	return e
}

// FindRunningTimer returns the newest running record matching f, or nil.
func (s *Store) FindRunningTimer(ctx context.Context, f TimerFilter) (*models.TimerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + timerColumns + ` FROM timer_records WHERE user_id = ? AND end_time IS NULL`
	args := []interface{}{f.UserID}
	if f.TaskID != "" {
		query += ` AND task_id = ?`
		args = append(args, f.TaskID)
	}
	if f.RecordID != "" {
		query += ` AND id = ?`
		args = append(args, f.RecordID)
	}
	query += ` ORDER BY start_time DESC, rowid DESC LIMIT 1`

	rec, err := scanTimer(s.db.QueryRowContext(ctx, query, args...))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, wrapErr(err, "find running timer")
	}
	return rec, nil
}

// GetTimer returns a record by id.
func (s *Store) GetTimer(ctx context.Context, id string) (*models.TimerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, err := scanTimer(s.db.QueryRowContext(ctx, `SELECT `+timerColumns+` FROM timer_records WHERE id = ?`, id))
	if noRows(err) {
		return nil, perrors.NotFound("time record not found")
	}
	if err != nil {
		return nil, wrapErr(err, "get timer")
	}
	return rec, nil
}

// StopTimer sets the end time and duration of a running record. It succeeds
// at most once per record; a record that is already stopped (or missing)
// yields NotFound.
func (s *Store) StopTimer(ctx context.Context, id string, end time.Time, durationSeconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE timer_records SET end_time = ?, duration_seconds = ?, updated_at = ?
		WHERE id = ? AND end_time IS NULL`,
		toMillis(end), durationSeconds, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return wrapErr(err, "stop timer")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return perrors.NotFound("no running timer found")
	}
	return nil
}

// ListStoppedTimers returns the user's stopped records whose start lies in
// [from, to], ordered by start time.
func (s *Store) ListStoppedTimers(ctx context.Context, userID string, from, to time.Time) ([]*models.TimerRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+timerColumns+` FROM timer_records
		WHERE user_id = ? AND end_time IS NOT NULL AND start_time >= ? AND start_time <= ?
		ORDER BY start_time ASC, rowid ASC`,
		userID, toMillis(from), toMillis(to),
	)
	if err != nil {
		return nil, wrapErr(err, "list stopped timers")
	}
	defer rows.Close()

	var recs []*models.TimerRecord
	for rows.Next() {
		rec, err := scanTimer(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan timer: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating timers: %w", err)
	}
	return recs, nil
}

// CountRunningTimers reports how many records are currently open.
func (s *Store) CountRunningTimers(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM timer_records WHERE end_time IS NULL`).Scan(&n); err != nil {
		return 0, wrapErr(err, "count running timers")
	}
	return n, nil
}

func scanTimer(row rowScanner) (*models.TimerRecord, error) {
	rec := &models.TimerRecord{}
	var start int64
	var end, dur sql.NullInt64
	if err := row.Scan(&rec.ID, &rec.TaskID, &rec.UserID, &start, &end, &dur); err != nil {
		return nil, err
	}
	rec.StartTime = fromMillis(start)
	if end.Valid {
		t := fromMillis(end.Int64)
		rec.EndTime = &t
	}
	if dur.Valid {
		d := dur.Int64
		rec.DurationSeconds = &d
	}
	return rec, nil
}
