package store

import (
	"context"
	"fmt"
	"time"
)

// RetentionResult reports how many rows a retention run removed.
type RetentionResult struct {
	Activity    int64
	DeadLetters int64
}

// RunRetention removes activity entries older than activityTTL and resolved
// or abandoned dead letters older than a day. Timer records are never
// removed.
func (s *Store) RunRetention(ctx context.Context, activityTTL time.Duration) (RetentionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out RetentionResult
	now := time.Now().UnixMilli()

	if activityTTL > 0 {
		res, err := s.db.ExecContext(ctx,
			"DELETE FROM activity_log WHERE created_at < ?",
			now-activityTTL.Milliseconds(),
		)
		if err != nil {
			return out, fmt.Errorf("failed to delete old activity: %w", err)
		}
		out.Activity, _ = res.RowsAffected()
	}

	// Resolved or abandoned dead letters older than 24 hours
	oneDayAgo := now - (24 * 60 * 60 * 1000)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM dead_letters
		 WHERE (resolved_at IS NOT NULL AND resolved_at < ?)
		    OR (resolved_at IS NULL AND next_retry_at IS NULL AND created_at < ?)`,
		oneDayAgo, oneDayAgo,
	)
	if err != nil {
		return out, fmt.Errorf("failed to delete old dead letters: %w", err)
	}
	out.DeadLetters, _ = res.RowsAffected()

	return out, nil
}

// Ping checks that the database answers queries.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DBSizeBytes returns the database size in bytes
func (s *Store) DBSizeBytes() (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pageCount int64
	var pageSize int64

	err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}

	err = s.db.QueryRow("PRAGMA page_size").Scan(&pageSize)
	if err != nil {
		return 0, fmt.Errorf("failed to get page size: %w", err)
	}

	return pageCount * pageSize, nil
}
