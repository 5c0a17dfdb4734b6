package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/p-blackswan/taskflow/internal/models"
)

// InsertActivity appends an activity entry. ID and CreatedAt are filled in
// when empty. Inserting an entry whose id already exists is a no-op, so
// redelivered entries are not duplicated.
func (s *Store) InsertActivity(ctx context.Context, a *models.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC().Truncate(time.Millisecond)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO activity_log (id, actor_id, subject_kind, subject_id, action, description, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.ActorID, a.SubjectKind, a.SubjectID, a.Action, a.Description, toMillis(a.CreatedAt),
	)
	return wrapErr(err, "insert activity")
}

// ListActivity returns the newest entries first. An empty actorID lists
// every actor's entries.
func (s *Store) ListActivity(ctx context.Context, actorID string, limit int) ([]*models.Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, actor_id, subject_kind, subject_id, action, description, created_at FROM activity_log`
	var args []interface{}
	if actorID != "" {
		query += ` WHERE actor_id = ?`
		args = append(args, actorID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "list activity")
	}
	defer rows.Close()

	entries := []*models.Activity{}
	for rows.Next() {
		a := &models.Activity{}
		var created int64
		if err := rows.Scan(&a.ID, &a.ActorID, &a.SubjectKind, &a.SubjectID, &a.Action, &a.Description, &created); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.CreatedAt = fromMillis(created)
		entries = append(entries, a)
	}
	return entries, rows.Err()
}
