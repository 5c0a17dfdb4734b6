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

// CreateProjectInput holds the fields for a new project.
type CreateProjectInput struct {
	Title       string
	Description string
	Status      string
	OwnerID     string
	MemberIDs   []string
}

// UpdateProjectInput holds optional project changes. A non-nil MemberIDs
// replaces the member list.
type UpdateProjectInput struct {
	Title       *string
	Description *string
	Status      *string
	MemberIDs   *[]string
}

// CreateProject inserts a project together with its initial members.
func (s *Store) CreateProject(ctx context.Context, in CreateProjectInput) (*models.Project, error) {
	if in.Title == "" {
		return nil, perrors.Validation("title is required")
	}
	if in.Status == "" {
		in.Status = models.ProjectPlanning
	}
	if !models.ValidProjectStatus(in.Status) {
		return nil, perrors.Validation("unknown project status %q", in.Status)
	}

	now := time.Now().UTC().Truncate(time.Millisecond)
	p := &models.Project{
		ID:          uuid.New().String(),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		OwnerID:     in.OwnerID,
		MemberIDs:   dedupe(in.MemberIDs),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, wrapErr(err, "begin tx")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projects (id, title, description, status, owner_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.Description, p.Status, p.OwnerID, toMillis(now), toMillis(now),
	)
	if err != nil {
		return nil, wrapErr(err, "insert project")
	}
	if err := insertMembers(ctx, tx, p.ID, p.MemberIDs); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, wrapErr(err, "commit project")
	}
	return p, nil
}

// GetProject returns a project with its members.
func (s *Store) GetProject(ctx context.Context, id string) (*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := &models.Project{}
	var created, updated int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, description, status, owner_id, created_at, updated_at
		FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.OwnerID, &created, &updated)
	if noRows(err) {
		return nil, perrors.NotFound("project not found")
	}
	if err != nil {
		return nil, wrapErr(err, "get project")
	}
	p.CreatedAt, p.UpdatedAt = fromMillis(created), fromMillis(updated)

	members, err := s.membersLocked(ctx, id)
	if err != nil {
		return nil, err
	}
	p.MemberIDs = members
	return p, nil
}

// ListProjects returns every project ordered by creation time. Visibility
// filtering is left to the caller.
func (s *Store) ListProjects(ctx context.Context) ([]*models.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, status, owner_id, created_at, updated_at
		FROM projects ORDER BY created_at ASC, rowid ASC`)
	if err != nil {
		return nil, wrapErr(err, "list projects")
	}
	defer rows.Close()

	var projects []*models.Project
	byID := make(map[string]*models.Project)
	for rows.Next() {
		p := &models.Project{}
		var created, updated int64
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Status, &p.OwnerID, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.CreatedAt, p.UpdatedAt = fromMillis(created), fromMillis(updated)
		p.MemberIDs = []string{}
		projects = append(projects, p)
		byID[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating projects: %w", err)
	}

	mrows, err := s.db.QueryContext(ctx, `SELECT project_id, user_id FROM project_members ORDER BY user_id`)
	if err != nil {
		return nil, wrapErr(err, "list members")
	}
	defer mrows.Close()
	for mrows.Next() {
		var pid, uid string
		if err := mrows.Scan(&pid, &uid); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		if p, ok := byID[pid]; ok {
			p.MemberIDs = append(p.MemberIDs, uid)
		}
	}
	return projects, mrows.Err()
}

// UpdateProject applies the non-nil fields of in. Field and membership
// changes commit together or not at all.
func (s *Store) UpdateProject(ctx context.Context, id string, in UpdateProjectInput) (*models.Project, error) {
	if in.Title != nil && *in.Title == "" {
		return nil, perrors.Validation("title must not be empty")
	}
	if in.Status != nil && !models.ValidProjectStatus(*in.Status) {
		return nil, perrors.Validation("unknown project status %q", *in.Status)
	}

	s.mu.Lock()
	err := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return wrapErr(err, "begin tx")
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `
			UPDATE projects SET
				title = COALESCE(?, title),
				description = COALESCE(?, description),
				status = COALESCE(?, status),
				updated_at = ?
			WHERE id = ?`,
			optString(in.Title), optString(in.Description), optString(in.Status),
			time.Now().UnixMilli(), id,
		)
		if err != nil {
			return wrapErr(err, "update project")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return perrors.NotFound("project not found")
		}
		if in.MemberIDs != nil {
			if err := replaceMembers(ctx, tx, id, *in.MemberIDs); err != nil {
				return err
			}
		}
		return wrapErr(tx.Commit(), "commit project")
	}()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.GetProject(ctx, id)
}

// SetProjectMembers replaces the member list of a project.
func (s *Store) SetProjectMembers(ctx context.Context, id string, memberIDs []string) (*models.Project, error) {
	s.mu.Lock()
	err := func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return wrapErr(err, "begin tx")
		}
		defer tx.Rollback()

		res, err := tx.ExecContext(ctx, `UPDATE projects SET updated_at = ? WHERE id = ?`, time.Now().UnixMilli(), id)
		if err != nil {
			return wrapErr(err, "touch project")
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return perrors.NotFound("project not found")
		}
		if err := replaceMembers(ctx, tx, id, memberIDs); err != nil {
			return err
		}
		return wrapErr(tx.Commit(), "commit members")
	}()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.GetProject(ctx, id)
}

func replaceMembers(ctx context.Context, tx *sql.Tx, projectID string, memberIDs []string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM project_members WHERE project_id = ?`, projectID); err != nil {
		return wrapErr(err, "clear members")
	}
	return insertMembers(ctx, tx, projectID, dedupe(memberIDs))
}

func (s *Store) membersLocked(ctx context.Context, projectID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM project_members WHERE project_id = ? ORDER BY user_id`, projectID)
	if err != nil {
		return nil, wrapErr(err, "list members")
	}
	defer rows.Close()

	members := []string{}
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, uid)
	}
	return members, rows.Err()
}

func insertMembers(ctx context.Context, tx *sql.Tx, projectID string, memberIDs []string) error {
	for _, uid := range memberIDs {
		if _, err := tx.ExecContext(ctx, `INSERT INTO project_members (project_id, user_id) VALUES (?, ?)`, projectID, uid); err != nil {
			return wrapErr(err, "insert member")
		}
	}
	return nil
}

func dedupe(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func optString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}
