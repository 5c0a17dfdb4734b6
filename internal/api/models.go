// Package api exposes the taskflow core over HTTP with Fiber.
package api

import (
	"github.com/p-blackswan/taskflow/internal/models"
)

// ProblemDetail is an RFC 7807 error body. Type carries the machine-readable
// error kind.
type ProblemDetail struct {
	Type     string            `json:"type"`
	Title    string            `json:"title"`
	Status   int               `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	Instance string            `json:"instance,omitempty"`
	Details  map[string]string `json:"details,omitempty"`
}

// StopTimerRequest is the body of POST /timers/stop. Both fields are
// optional.
type StopTimerRequest struct {
	RecordID    string `json:"record_id"`
	TimeEntryID string `json:"time_entry_id"`
}

// ActiveTimerResponse wraps the running timer, null when idle.
type ActiveTimerResponse struct {
	ActiveTimer *models.TimerRecord `json:"active_timer"`
}

// CreateProjectRequest is the body of POST /projects.
type CreateProjectRequest struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	MemberIDs   []string `json:"member_ids"`
}

// UpdateProjectRequest is the body of PATCH /projects/:id.
type UpdateProjectRequest struct {
	Title       *string   `json:"title"`
	Description *string   `json:"description"`
	Status      *string   `json:"status"`
	MemberIDs   *[]string `json:"member_ids"`
}

// SetMembersRequest is the body of PUT /projects/:id/members.
type SetMembersRequest struct {
	MemberIDs []string `json:"member_ids"`
}

// CreateTaskRequest is the body of POST /tasks.
type CreateTaskRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	ProjectID   string `json:"project_id"`
	AssigneeID  string `json:"assignee_id"`
}

// UpdateTaskRequest is the body of PATCH /tasks/:id.
type UpdateTaskRequest struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
	Status      *string `json:"status"`
	Priority    *string `json:"priority"`
	AssigneeID  *string `json:"assignee_id"`
}

// CommentRequest is the body of POST /tasks/:id/comments.
type CommentRequest struct {
	Content string `json:"content"`
}

// HealthDetailResponse is the response for GET /api/v1/health.
type HealthDetailResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
	Uptime string            `json:"uptime"`
}

// ListResponse wraps list results with their count.
type ListResponse[T any] struct {
	Items []T `json:"items"`
	Total int `json:"total"`
}

func listOf[T any](items []T) ListResponse[T] {
	if items == nil {
		items = []T{}
	}
	return ListResponse[T]{Items: items, Total: len(items)}
}
