package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/models"
)

// AddComment appends a comment to a task.
func (s *Store) AddComment(ctx context.Context, taskID, userID, content string) (*models.Comment, error) {
	if strings.TrimSpace(content) == "" {
		return nil, perrors.Validation("content is required")
	}
	c := &models.Comment{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		UserID:    userID,
		Content:   content,
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO comments (id, task_id, user_id, content, created_at) VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.TaskID, c.UserID, c.Content, toMillis(c.CreatedAt),
	)
	if err != nil {
		if strings.Contains(err.Error(), "FOREIGN KEY constraint") {
			return nil, perrors.NotFound("task not found")
		}
		return nil, wrapErr(err, "insert comment")
	}
	return c, nil
}

// ListComments returns a task's comments oldest first.
func (s *Store) ListComments(ctx context.Context, taskID string) ([]*models.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, user_id, content, created_at FROM comments
		 WHERE task_id = ? ORDER BY created_at ASC, rowid ASC`, taskID)
	if err != nil {
		return nil, wrapErr(err, "list comments")
	}
	defer rows.Close()

	comments := []*models.Comment{}
	for rows.Next() {
		c := &models.Comment{}
		var created int64
		if err := rows.Scan(&c.ID, &c.TaskID, &c.UserID, &c.Content, &created); err != nil {
			return nil, fmt.Errorf("failed to scan comment: %w", err)
		}
		c.CreatedAt = fromMillis(created)
		comments = append(comments, c)
	}
	return comments, rows.Err()
}
