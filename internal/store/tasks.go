package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/models"
)

// CreateTaskInput holds the fields for a new task.
type CreateTaskInput struct {
	Title       string
	Description string
	Status      string
	Priority    string
	ProjectID   string
	AssigneeID  string
	OwnerID     string
}

// UpdateTaskInput holds optional task changes. An empty AssigneeID clears
// the assignee.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Status      *string
	Priority    *string
	AssigneeID  *string
}

// TaskFilter narrows ListTasks.
type TaskFilter struct {
	ProjectID string
	Status    string
}

const taskColumns = `t.id, t.title, t.description, t.status, t.priority, t.project_id,
	t.assignee_id, t.owner_id, t.actual_seconds, t.created_at, t.updated_at`

// CreateTask inserts a task. A referenced project must exist.
func (s *Store) CreateTask(ctx context.Context, in CreateTaskInput) (*models.Task, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, perrors.Validation("title is required")
	}
	if in.Status == "" {
		in.Status = models.TaskTodo
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if !models.ValidTaskStatus(in.Status) {
		return nil, perrors.Validation("unknown task status %q", in.Status)
	}
	if !models.ValidPriority(in.Priority) {
		return nil, perrors.Validation("unknown task priority %q", in.Priority)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	id := uuid.New().String()

	s.mu.Lock()
	if in.ProjectID != "" {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM projects WHERE id = ?`, in.ProjectID).Scan(&exists)
		if noRows(err) {
			s.mu.Unlock()
			return nil, perrors.Validation("project %s does not exist", in.ProjectID)
		}
		if err != nil {
			s.mu.Unlock()
			return nil, wrapErr(err, "check project")
		}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, title, description, status, priority, project_id, assignee_id,
			owner_id, actual_seconds, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`,
		id, in.Title, in.Description, in.Status, in.Priority,
		nullString(in.ProjectID), nullString(in.AssigneeID), in.OwnerID,
		toMillis(now), toMillis(now),
	)
	s.mu.Unlock()
	if err != nil {
		return nil, wrapErr(err, "insert task")
	}
	return s.GetTask(ctx, id)
}

// GetTask returns a task with its project's members filled in.
func (s *Store) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks t WHERE t.id = ?`, id)
	t, err := scanTask(row)
	if noRows(err) {
		return nil, perrors.NotFound("task not found")
	}
	if err != nil {
		return nil, wrapErr(err, "get task")
	}
	if t.ProjectID != nil {
		if t.ProjectMemberIDs, err = s.membersLocked(ctx, *t.ProjectID); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// ListTasks returns tasks matching the filter ordered by creation time.
// Visibility filtering is left to the caller.
func (s *Store) ListTasks(ctx context.Context, f TaskFilter) ([]*models.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT ` + taskColumns + ` FROM tasks t WHERE 1=1`
	var args []interface{}
	if f.ProjectID != "" {
		query += ` AND t.project_id = ?`
		args = append(args, f.ProjectID)
	}
	if f.Status != "" {
		query += ` AND t.status = ?`
		args = append(args, f.Status)
	}
	query += ` ORDER BY t.created_at ASC, t.rowid ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr(err, "list tasks")
	}
	var tasks []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tasks: %w", err)
	}

	members := make(map[string][]string)
	for _, t := range tasks {
		if t.ProjectID == nil {
			continue
		}
		m, ok := members[*t.ProjectID]
		if !ok {
			if m, err = s.membersLocked(ctx, *t.ProjectID); err != nil {
				return nil, err
			}
			members[*t.ProjectID] = m
		}
		t.ProjectMemberIDs = m
	}
	return tasks, nil
}

// UpdateTask applies the non-nil fields of in.
func (s *Store) UpdateTask(ctx context.Context, id string, in UpdateTaskInput) (*models.Task, error) {
	if in.Title != nil && strings.TrimSpace(*in.Title) == "" {
		return nil, perrors.Validation("title must not be empty")
	}
	if in.Status != nil && !models.ValidTaskStatus(*in.Status) {
		return nil, perrors.Validation("unknown task status %q", *in.Status)
	}
	if in.Priority != nil && !models.ValidPriority(*in.Priority) {
		return nil, perrors.Validation("unknown task priority %q", *in.Priority)
	}

	sets := []string{"updated_at = ?"}
	args := []interface{}{time.Now().UnixMilli()}
	add := func(col string, v interface{}) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if in.Title != nil {
		add("title", *in.Title)
	}
	if in.Description != nil {
		add("description", *in.Description)
	}
	if in.Status != nil {
		add("status", *in.Status)
	}
	if in.Priority != nil {
		add("priority", *in.Priority)
	}
	if in.AssigneeID != nil {
		add("assignee_id", nullString(*in.AssigneeID))
	}
	args = append(args, id)

	s.mu.Lock()
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	s.mu.Unlock()
	if err != nil {
		return nil, wrapErr(err, "update task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, perrors.NotFound("task not found")
	}
	return s.GetTask(ctx, id)
}

// DeleteTask removes a task and its comments. Timer records are kept.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return wrapErr(err, "delete task")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.NotFound("task not found")
	}
	return nil
}

// AddTaskActualSeconds adds tracked seconds to a task's running total.
func (s *Store) AddTaskActualSeconds(ctx context.Context, id string, seconds int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET actual_seconds = actual_seconds + ?, updated_at = ? WHERE id = ?`,
		seconds, time.Now().UnixMilli(), id,
	)
	if err != nil {
		return wrapErr(err, "add actual seconds")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return perrors.NotFound("task not found")
	}
	return nil
}

// GetTaskFacts returns the task metadata and authorization facts used by the
// timer and the timesheet.
func (s *Store) GetTaskFacts(ctx context.Context, id string) (*models.TaskInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := &models.TaskInfo{ID: id}
	var projectID, projectTitle, assignee sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT t.title, t.owner_id, t.assignee_id, t.project_id, p.title
		FROM tasks t LEFT JOIN projects p ON p.id = t.project_id
		WHERE t.id = ?`, id,
	).Scan(&info.Title, &info.Facts.OwnerID, &assignee, &projectID, &projectTitle)
	if noRows(err) {
		return nil, perrors.NotFound("task not found")
	}
	if err != nil {
		return nil, wrapErr(err, "get task facts")
	}
	info.Facts.AssigneeID = assignee.String
	info.ProjectID = projectID.String
	info.ProjectTitle = projectTitle.String
	if projectID.Valid {
		if info.Facts.MemberIDs, err = s.membersLocked(ctx, projectID.String); err != nil {
			return nil, err
		}
	}
	return info, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	t := &models.Task{}
	var projectID, assignee sql.NullString
	var created, updated int64
	err := row.Scan(&t.ID, &t.Title, &t.Description, &t.Status, &t.Priority, &projectID,
		&assignee, &t.OwnerID, &t.ActualSeconds, &created, &updated)
	if err != nil {
		return nil, err
	}
	if projectID.Valid {
		t.ProjectID = &projectID.String
	}
	if assignee.Valid {
		t.AssigneeID = &assignee.String
	}
	t.CreatedAt, t.UpdatedAt = fromMillis(created), fromMillis(updated)
	return t, nil
}
