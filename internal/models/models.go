// Package models holds the domain types shared by the authorization engine,
// the timer lifecycle and the timesheet aggregator.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the access role carried by an actor.
type Role string

const (
	RoleScrumMaster Role = "scrum_master"
	RoleEmployee    Role = "employee"
)

// ParseRole normalises role spellings ("SCRUM_MASTER", "ScrumMaster",
// "scrum-master") into a Role. Unknown values return false.
func ParseRole(raw string) (Role, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	switch s {
	case "scrum_master", "scrummaster":
		return RoleScrumMaster, true
	case "employee":
		return RoleEmployee, true
	default:
		return "", false
	}
}

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role"`
}

// IsScrumMaster reports whether the actor holds the blanket-access role.
func (a Actor) IsScrumMaster() bool { return a.Role == RoleScrumMaster }

// Authenticated reports whether the actor carries an identity.
func (a Actor) Authenticated() bool { return a.ID != "" }

// ResourceKind names a resource family in the policy table.
type ResourceKind string

const (
	KindProject    ResourceKind = "project"
	KindTask       ResourceKind = "task"
	KindTimeRecord ResourceKind = "time_record"
	KindComment    ResourceKind = "comment"
)

// Facts are the relational facts of a resource, supplied by the store.
type Facts struct {
	OwnerID    string   `json:"owner_id,omitempty"`
	AssigneeID string   `json:"assignee_id,omitempty"`
	MemberIDs  []string `json:"member_ids,omitempty"`
}

// HasMember reports whether id is in MemberIDs.
func (f Facts) HasMember(id string) bool {
	for _, m := range f.MemberIDs {
		if m == id {
			return true
		}
	}
	return false
}

// Scope selects the exclusivity key for running timers.
type Scope string

const (
	// ScopeUser allows one running timer per user, whatever the task.
	ScopeUser Scope = "user"
	// ScopeUserTask allows one running timer per (user, task) pair.
	ScopeUserTask Scope = "user_task"
)

// ParseScope validates a configured scope.
func ParseScope(raw string) (Scope, bool) {
	switch Scope(strings.ToLower(strings.TrimSpace(raw))) {
	case ScopeUser:
		return ScopeUser, true
	case ScopeUserTask:
		return ScopeUserTask, true
	default:
		return "", false
	}
}

// Key returns the exclusivity key for a user and task under this scope.
func (s Scope) Key(userID, taskID string) string {
	if s == ScopeUserTask {
		return userID + ":" + taskID
	}
	return userID
}

// TimerRecord is a single start/stop interval of a user on a task.
type TimerRecord struct {
	ID              string     `json:"id"`
	TaskID          string     `json:"task_id"`
	TaskTitle       string     `json:"task_title,omitempty"`
	UserID          string     `json:"user_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         *time.Time `json:"end_time"`
	DurationSeconds *int64     `json:"duration_seconds"`
	// Anomaly is set when stop observed an end time before the start time.
	Anomaly bool `json:"anomaly,omitempty"`
}

// Running reports whether the record has not been stopped yet.
func (r *TimerRecord) Running() bool { return r.EndTime == nil }

// ComputeDuration returns max(0, round(end-start)) in seconds and whether
// the delta was negative.
func ComputeDuration(start, end time.Time) (int64, bool) {
	delta := end.Sub(start)
	if delta < 0 {
		return 0, true
	}
	return int64(delta.Round(time.Second) / time.Second), false
}

// FormatDuration renders seconds as "{h}h {m}m". Leftover seconds are
// truncated and hours are not capped.
func FormatDuration(seconds int64) string {
	if seconds < 0 {
		seconds = 0
	}
	return fmt.Sprintf("%dh %dm", seconds/3600, (seconds%3600)/60)
}

// TaskInfo is the task metadata the timer and timesheet need from the store.
type TaskInfo struct {
	ID           string
	Title        string
	ProjectID    string
	ProjectTitle string
	Facts        Facts
}

// Placeholder titles used in reports.
const (
	NoProjectTitle   = "No Project"
	UnknownTaskTitle = "Unknown Task"
)

// TimesheetEntry is one task's total within a reporting period.
type TimesheetEntry struct {
	TaskID                 string  `json:"task_id"`
	TaskTitle              string  `json:"task_title"`
	ProjectID              *string `json:"project_id"`
	ProjectTitle           string  `json:"project_title"`
	TotalDurationSeconds   int64   `json:"total_duration_seconds"`
	TotalDurationFormatted string  `json:"total_duration_formatted"`
}

// Activity is an append-only audit entry.
type Activity struct {
	ID          string    `json:"id"`
	ActorID     string    `json:"actor_id"`
	SubjectKind string    `json:"subject_kind"`
	SubjectID   string    `json:"subject_id"`
	Action      string    `json:"action"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Project groups tasks; members may see and work on its tasks.
type Project struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	OwnerID     string    `json:"owner_id"`
	MemberIDs   []string  `json:"member_ids"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Facts returns the authorization facts of the project.
func (p *Project) Facts() Facts {
	return Facts{OwnerID: p.OwnerID, MemberIDs: p.MemberIDs}
}

// Project statuses.
const (
	ProjectPlanning  = "planning"
	ProjectActive    = "active"
	ProjectOnHold    = "on_hold"
	ProjectCompleted = "completed"
)

// ValidProjectStatus reports whether s is a known project status.
func ValidProjectStatus(s string) bool {
	switch s {
	case ProjectPlanning, ProjectActive, ProjectOnHold, ProjectCompleted:
		return true
	}
	return false
}

// Task is a unit of work that time is tracked against.
type Task struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Status        string    `json:"status"`
	Priority      string    `json:"priority"`
	ProjectID     *string   `json:"project_id"`
	AssigneeID    *string   `json:"assignee_id"`
	OwnerID       string    `json:"owner_id"`
	ActualSeconds int64     `json:"actual_seconds"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	// ProjectMemberIDs is filled by the store for authorization; not serialised.
	ProjectMemberIDs []string `json:"-"`
}

// Facts returns the authorization facts of the task. Project members count
// as task members.
func (t *Task) Facts() Facts {
	f := Facts{OwnerID: t.OwnerID, MemberIDs: t.ProjectMemberIDs}
	if t.AssigneeID != nil {
		f.AssigneeID = *t.AssigneeID
	}
	return f
}

// Task statuses and priorities.
const (
	TaskTodo       = "todo"
	TaskInProgress = "in_progress"
	TaskReview     = "review"
	TaskDone       = "done"

	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// ValidTaskStatus reports whether s is a known task status.
func ValidTaskStatus(s string) bool {
	switch s {
	case TaskTodo, TaskInProgress, TaskReview, TaskDone:
		return true
	}
	return false
}

// ValidPriority reports whether s is a known task priority.
func ValidPriority(s string) bool {
	switch s {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Comment is a note left on a task.
type Comment struct {
	ID        string    `json:"id"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Facts returns the authorization facts of the comment.
func (c *Comment) Facts() Facts { return Facts{OwnerID: c.UserID} }
