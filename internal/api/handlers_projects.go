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

// CreateProject handles POST /api/v1/projects.
func (h *Handlers) CreateProject(c *fiber.Ctx) error {
	actor := actorFrom(c)
	if err := h.engine.Authorize(actor, authz.ActionCreate, models.KindProject, models.Facts{}); err != nil {
		return err
	}

	var req CreateProjectRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if strings.TrimSpace(req.Title) == "" {
		return perrors.Validation("title is required")
	}

	p, err := h.store.CreateProject(c.UserContext(), store.CreateProjectInput{
		Title:       strings.TrimSpace(req.Title),
		Description: req.Description,
		Status:      req.Status,
		OwnerID:     actor.ID,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		return err
	}

	h.audit(c.UserContext(), actor, models.KindProject, p.ID, activity.ActionCreated,
		fmt.Sprintf("Created project: %s", p.Title))
	return c.Status(fiber.StatusCreated).JSON(p)
}

// ListProjects handles GET /api/v1/projects. Only visible projects are listed.
func (h *Handlers) ListProjects(c *fiber.Ctx) error {
	projects, err := h.store.ListProjects(c.UserContext())
	if err != nil {
		return err
	}
	visible := authz.Filter(h.engine, actorFrom(c), models.KindProject, projects,
		func(p *models.Project) models.Facts { return p.Facts() })
	return c.JSON(listOf(visible))
}

// GetProject handles GET /api/v1/projects/:id.
func (h *Handlers) GetProject(c *fiber.Ctx) error {
	p, err := h.authorizedProject(c, authz.ActionRead)
	if err != nil {
		return err
	}
	return c.JSON(p)
}

// UpdateProject handles PATCH /api/v1/projects/:id.
func (h *Handlers) UpdateProject(c *fiber.Ctx) error {
	actor := actorFrom(c)
	p, err := h.authorizedProject(c, authz.ActionUpdate)
	if err != nil {
		return err
	}

	var req UpdateProjectRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if req.Title != nil && strings.TrimSpace(*req.Title) == "" {
		return perrors.Validation("title must not be empty")
	}
	// Membership changes go through the stricter update_members rule.
	if req.MemberIDs != nil {
		if err := h.engine.Authorize(actor, authz.ActionUpdateMembers, models.KindProject, p.Facts()); err != nil {
			return err
		}
	}

	updated, err := h.store.UpdateProject(c.UserContext(), p.ID, store.UpdateProjectInput{
		Title:       req.Title,
		Description: req.Description,
		Status:      req.Status,
		MemberIDs:   req.MemberIDs,
	})
	if err != nil {
		return err
	}

	h.audit(c.UserContext(), actor, models.KindProject, p.ID, activity.ActionUpdated,
		fmt.Sprintf("Updated project: %s", updated.Title))
	return c.JSON(updated)
}

// SetProjectMembers handles PUT /api/v1/projects/:id/members.
func (h *Handlers) SetProjectMembers(c *fiber.Ctx) error {
	actor := actorFrom(c)
	p, err := h.authorizedProject(c, authz.ActionUpdateMembers)
	if err != nil {
		return err
	}

	var req SetMembersRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}

	updated, err := h.store.SetProjectMembers(c.UserContext(), p.ID, req.MemberIDs)
	if err != nil {
		return err
	}

	h.audit(c.UserContext(), actor, models.KindProject, p.ID, activity.ActionUpdated,
		fmt.Sprintf("Updated members of project: %s (%d members)", updated.Title, len(updated.MemberIDs)))
	return c.JSON(updated)
}

func (h *Handlers) authorizedProject(c *fiber.Ctx, action authz.Action) (*models.Project, error) {
	p, err := h.store.GetProject(c.UserContext(), c.Params("id"))
	if err != nil {
		return nil, err
	}
	if err := h.engine.Authorize(actorFrom(c), action, models.KindProject, p.Facts()); err != nil {
		return nil, err
	}
	return p, nil
}
