package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DeadLetter is a side effect that failed and is queued for redelivery.
type DeadLetter struct {
	ID          string
	Kind        string
	Payload     string
	Error       string
	CreatedAt   int64
	RetryCount  int
	NextRetryAt int64 // 0 = give up
	ResolvedAt  int64 // 0 = unresolved
}

// SaveDeadLetter saves a dead letter
func (s *Store) SaveDeadLetter(ctx context.Context, dl *DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if dl.CreatedAt == 0 {
		dl.CreatedAt = time.Now().UnixMilli()
	}

	query := `
	INSERT OR REPLACE INTO dead_letters (
		id, kind, payload, error, created_at, retry_count, next_retry_at, resolved_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`

	nextRetry := sql.NullInt64{Int64: dl.NextRetryAt, Valid: dl.NextRetryAt != 0}
	resolved := sql.NullInt64{Int64: dl.ResolvedAt, Valid: dl.ResolvedAt != 0}

	_, err := s.db.ExecContext(ctx, query,
		dl.ID, dl.Kind, dl.Payload, dl.Error,
		dl.CreatedAt, dl.RetryCount, nextRetry, resolved,
	)
	if err != nil {
		return wrapErr(err, "save dead letter")
	}
	return nil
}

// ListRetryable returns unresolved dead letters of the given kind that are
// due for retry.
func (s *Store) ListRetryable(ctx context.Context, kind string, limit int) ([]*DeadLetter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
	SELECT id, kind, payload, error, created_at, retry_count, next_retry_at, resolved_at
	FROM dead_letters
	WHERE kind = ? AND next_retry_at <= ? AND resolved_at IS NULL
	ORDER BY next_retry_at ASC
	`

	args := []interface{}{kind, time.Now().UnixMilli()}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "list retryable dead letters")
	}
	defer rows.Close()

	var dls []*DeadLetter
	for rows.Next() {
		dl := &DeadLetter{}
		var nextRetry, resolved sql.NullInt64

		err := rows.Scan(
			&dl.ID, &dl.Kind, &dl.Payload, &dl.Error,
			&dl.CreatedAt, &dl.RetryCount, &nextRetry, &resolved,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dead letter: %w", err)
		}
		dl.NextRetryAt = nextRetry.Int64
		dl.ResolvedAt = resolved.Int64
		dls = append(dls, dl)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dead letters: %w", err)
	}
	return dls, nil
}

// IncrementRetry bumps the retry count and schedules the next attempt.
// nextRetryAt 0 gives up on the letter.
func (s *Store) IncrementRetry(ctx context.Context, id, lastErr string, nextRetryAt int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := sql.NullInt64{Int64: nextRetryAt, Valid: nextRetryAt != 0}
	result, err := s.db.ExecContext(ctx, `
	UPDATE dead_letters
	SET retry_count = retry_count + 1, next_retry_at = ?, error = ?
	WHERE id = ?
	`, next, lastErr, id)
	if err != nil {
		return wrapErr(err, "increment retry")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("dead letter not found: %s", id)
	}
	return nil
}

// ResolveDeadLetter marks a dead letter as resolved
func (s *Store) ResolveDeadLetter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.ExecContext(ctx, `UPDATE dead_letters SET resolved_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
	if err != nil {
		return wrapErr(err, "resolve dead letter")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("dead letter not found: %s", id)
	}
	return nil
}

// CountUnresolvedDeadLetters reports the redelivery backlog.
func (s *Store) CountUnresolvedDeadLetters(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letters WHERE resolved_at IS NULL`).Scan(&n)
	if err != nil {
		return 0, wrapErr(err, "count dead letters")
	}
	return n, nil
}
