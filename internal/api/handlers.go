package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/taskflow/internal/activity"
	"github.com/p-blackswan/taskflow/internal/authz"
	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/health"
	"github.com/p-blackswan/taskflow/internal/models"
	"github.com/p-blackswan/taskflow/internal/store"
	"github.com/p-blackswan/taskflow/internal/timer"
	"github.com/p-blackswan/taskflow/internal/timesheet"
)

// Handlers holds the HTTP handler functions.
type Handlers struct {
	store      *store.Store
	engine     *authz.Engine
	timers     *timer.Manager
	timesheets *timesheet.Aggregator
	activity   *activity.SQLRecorder
	checker    *health.Checker
	startTime  time.Time
	logger     zerolog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(deps Deps, logger zerolog.Logger) *Handlers {
	engine := deps.Engine
	if engine == nil {
		engine = authz.NewEngine(nil)
	}
	return &Handlers{
		store:      deps.Store,
		engine:     engine,
		timers:     deps.Timers,
		timesheets: deps.Timesheets,
		activity:   deps.Activity,
		checker:    deps.Checker,
		startTime:  time.Now(),
		logger:     logger.With().Str("component", "handlers").Logger(),
	}
}

// Me handles GET /api/v1/me.
func (h *Handlers) Me(c *fiber.Ctx) error {
	return c.JSON(actorFrom(c))
}

// HealthDetail handles GET /api/v1/health. It reports the most recent check
// results and runs the checks when none have run yet.
func (h *Handlers) HealthDetail(c *fiber.Ctx) error {
	results := h.checker.Last()
	if len(results) == 0 {
		results = h.checker.RunAll(c.UserContext())
	}

	checks := make(map[string]string, len(results))
	overall := "ok"
	for name, status := range results {
		checks[name] = string(status)
		if status == health.StatusDown {
			overall = "degraded"
		}
	}

	return c.JSON(HealthDetailResponse{
		Status: overall,
		Checks: checks,
		Uptime: time.Since(h.startTime).Round(time.Second).String(),
	})
}

// ListActivity handles GET /api/v1/activity.
func (h *Handlers) ListActivity(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 0)
	if limit < 0 {
		return perrors.Validation("limit must not be negative")
	}
	entries, err := h.activity.List(c.UserContext(), actorFrom(c), limit)
	if err != nil {
		return err
	}
	return c.JSON(listOf(entries))
}

// parseBody decodes the request body into out. An empty body leaves out
// untouched.
func parseBody(c *fiber.Ctx, out any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(out); err != nil {
		return perrors.Validation("invalid request body: %v", err)
	}
	return nil
}

// audit records an activity entry. Failures are logged and never fail the
// request; the recorder parks them for redelivery.
func (h *Handlers) audit(ctx context.Context, actor models.Actor, kind models.ResourceKind, id, action, description string) {
	if h.activity == nil {
		return
	}
	err := h.activity.Record(ctx, models.Activity{
		ActorID:     actor.ID,
		SubjectKind: string(kind),
		SubjectID:   id,
		Action:      action,
		Description: description,
	})
	if err != nil {
		h.logger.Warn().Err(err).Str("subject", id).Msg("activity not recorded")
	}
}
