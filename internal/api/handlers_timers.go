package api

import (
	"github.com/gofiber/fiber/v2"

	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/timer"
)

// StartTimer handles POST /api/v1/tasks/:id/timer/start.
func (h *Handlers) StartTimer(c *fiber.Ctx) error {
	rec, err := h.timers.Start(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.Status(fiber.StatusCreated).JSON(rec)
}

// StopTaskTimer handles POST /api/v1/tasks/:id/timer/stop.
func (h *Handlers) StopTaskTimer(c *fiber.Ctx) error {
	rec, err := h.timers.Stop(c.UserContext(), actorFrom(c), timer.StopRequest{TaskID: c.Params("id")})
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

// StopTimer handles POST /api/v1/timers/stop. Without a record id the
// actor's newest running timer is stopped.
func (h *Handlers) StopTimer(c *fiber.Ctx) error {
	var req StopTimerRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	id := req.RecordID
	if id == "" {
		id = req.TimeEntryID
	}

	rec, err := h.timers.Stop(c.UserContext(), actorFrom(c), timer.StopRequest{RecordID: id})
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

// ActiveTimer handles GET /api/v1/timers/active.
func (h *Handlers) ActiveTimer(c *fiber.Ctx) error {
	rec, err := h.timers.Active(c.UserContext(), actorFrom(c))
	if err != nil {
		return err
	}
	return c.JSON(ActiveTimerResponse{ActiveTimer: rec})
}

// GetTimer handles GET /api/v1/timers/:id.
func (h *Handlers) GetTimer(c *fiber.Ctx) error {
	rec, err := h.timers.Get(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(rec)
}

// TaskTimer handles GET /api/v1/tasks/:id/timer.
func (h *Handlers) TaskTimer(c *fiber.Ctx) error {
	rec, err := h.timers.ActiveForTask(c.UserContext(), actorFrom(c), c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(ActiveTimerResponse{ActiveTimer: rec})
}

// DailyTimesheet handles GET /api/v1/timesheets/daily?date=YYYY-MM-DD.
func (h *Handlers) DailyTimesheet(c *fiber.Ctx) error {
	s, err := h.timesheets.Daily(c.UserContext(), actorFrom(c), c.Query("date"))
	if err != nil {
		return err
	}
	return c.JSON(s)
}

// WeeklyTimesheet handles GET /api/v1/timesheets/weekly?week_start=YYYY-MM-DD.
func (h *Handlers) WeeklyTimesheet(c *fiber.Ctx) error {
	s, err := h.timesheets.Weekly(c.UserContext(), actorFrom(c), c.Query("week_start"))
	if err != nil {
		return err
	}
	return c.JSON(s)
}

// TimesheetSummary handles GET /api/v1/timesheets/summary?days=N.
func (h *Handlers) TimesheetSummary(c *fiber.Ctx) error {
	days := 0
	if raw := c.Query("days"); raw != "" {
		n := c.QueryInt("days", -1)
		if n < 1 {
			return perrors.Validation("days must be a positive integer")
		}
		days = n
	}
	s, err := h.timesheets.Range(c.UserContext(), actorFrom(c), days)
	if err != nil {
		return err
	}
	return c.JSON(s)
}
