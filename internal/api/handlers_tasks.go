package api

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/p-blackswan/taskflow/internal/activity"
	"github.com/p-blackswan/taskflow/internal/authz"
	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/models"
	"github.com/p-blackswan/taskflow/internal/store"
)

// CreateTask handles POST /api/v1/tasks. The creator becomes the owner; a
// referenced project must be visible to the creator.
func (h *Handlers) CreateTask(c *fiber.Ctx) error {
	actor := actorFrom(c)
	if err := h.engine.Authorize(actor, authz.ActionCreate, models.KindTask, models.Facts{}); err != nil {
		return err
	}

	var req CreateTaskRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Title) == "" {
		return perrors.Validation("title is required")
	}

	if req.ProjectID != "" {
		p, err := h.store.GetProject(c.UserContext(), req.ProjectID)
		if err != nil {
			return err
		}
		if !h.engine.Visible(actor, models.KindProject, p.Facts()) {
			return perrors.NotFound("project not found")
		}
	}

	t, err := h.store.CreateTask(c.UserContext(), store.CreateTaskInput{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		ProjectID:   req.ProjectID,
		AssigneeID:  req.AssigneeID,
		OwnerID:     actor.ID,
	})
	if err != nil {
		return err
	}

	h.audit(c.UserContext(), actor, models.KindTask, t.ID, activity.ActionCreated,
		fmt.Sprintf("Created task: %s", t.Title))
	return c.Status(fiber.StatusCreated).JSON(t)
}

// ListTasks handles GET /api/v1/tasks. Query: project_id, status.
func (h *Handlers) ListTasks(c *fiber.Ctx) error {
	status := c.Query("status")
	if status != "" && !models.ValidTaskStatus(status) {
		return perrors.Validation("unknown task status %q", status)
	}

	tasks, err := h.store.ListTasks(c.UserContext(), store.TaskFilter{
		ProjectID: c.Query("project_id"),
		Status:    status,
	})
	if err != nil {
		return err
	}
	visible := authz.Filter(h.engine, actorFrom(c), models.KindTask, tasks,
		func(t *models.Task) models.Facts { return t.Facts() })
	return c.JSON(listOf(visible))
}

// GetTask handles GET /api/v1/tasks/:id.
func (h *Handlers) GetTask(c *fiber.Ctx) error {
	t, err := h.authorizedTask(c, authz.ActionRead)
	if err != nil {
		return err
	}
	return c.JSON(t)
}

// UpdateTask handles PATCH /api/v1/tasks/:id.
func (h *Handlers) UpdateTask(c *fiber.Ctx) error {
	actor := actorFrom(c)
	t, err := h.authorizedTask(c, authz.ActionUpdate)
	if err != nil {
		return err
	}

	var req UpdateTaskRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	updated, err := h.store.UpdateTask(c.UserContext(), t.ID, store.UpdateTaskInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		Priority:    req.Priority,
		AssigneeID:  req.AssigneeID,
	})
	if err != nil {
		return err
	}

	desc := fmt.Sprintf("Updated task: %s", updated.Title)
	if req.Status != nil && *req.Status != t.Status {
		desc = fmt.Sprintf("Moved task %s from %s to %s", updated.Title, t.Status, updated.Status)
	}
	h.audit(c.UserContext(), actor, models.KindTask, t.ID, activity.ActionUpdated, desc)
	return c.JSON(updated)
}

// DeleteTask handles DELETE /api/v1/tasks/:id.
func (h *Handlers) DeleteTask(c *fiber.Ctx) error {
	actor := actorFrom(c)
	t, err := h.authorizedTask(c, authz.ActionDelete)
	if err != nil {
		return err
	}

	if err := h.store.DeleteTask(c.UserContext(), t.ID); err != nil {
		return err
	}

	h.audit(c.UserContext(), actor, models.KindTask, t.ID, activity.ActionDeleted,
		fmt.Sprintf("Deleted task: %s", t.Title))
	return c.SendStatus(fiber.StatusNoContent)
}

// AddComment handles POST /api/v1/tasks/:id/comments.
func (h *Handlers) AddComment(c *fiber.Ctx) error {
	actor := actorFrom(c)
	t, err := h.authorizedTask(c, authz.ActionRead)
	if err != nil {
		return err
	}
	if err := h.engine.Authorize(actor, authz.ActionCreate, models.KindComment, models.Facts{}); err != nil {
		return err
	}

	var req CommentRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	cm, err := h.store.AddComment(c.UserContext(), t.ID, actor.ID, strings.TrimSpace(req.Content))
	if err != nil {
		return err
	}

	h.audit(c.UserContext(), actor, models.KindComment, cm.ID, activity.ActionCreated,
		fmt.Sprintf("Commented on task: %s", t.Title))
	return c.Status(fiber.StatusCreated).JSON(cm)
}

// ListComments handles GET /api/v1/tasks/:id/comments.
func (h *Handlers) ListComments(c *fiber.Ctx) error {
	t, err := h.authorizedTask(c, authz.ActionRead)
	if err != nil {
		return err
	}
	comments, err := h.store.ListComments(c.UserContext(), t.ID)
	if err != nil {
		return err
	}
	visible := authz.Filter(h.engine, actorFrom(c), models.KindComment, comments,
		func(cm *models.Comment) models.Facts { return cm.Facts() })
	return c.JSON(listOf(visible))
}

func (h *Handlers) authorizedTask(c *fiber.Ctx, action authz.Action) (*models.Task, error) {
	t, err := h.store.GetTask(c.UserContext(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if err := h.engine.Authorize(actorFrom(c), action, models.KindTask, t.Facts()); err != nil {
		return nil, err
	}
	return t, nil
}
