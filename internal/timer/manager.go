// Package timer runs the start/stop lifecycle of time records. At most one
// timer runs per scope key; stopping fixes the end time and duration once.
package timer

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/taskflow/internal/activity"
	"github.com/p-blackswan/taskflow/internal/authz"
	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/metrics"
	"github.com/p-blackswan/taskflow/internal/models"
	"github.com/p-blackswan/taskflow/internal/store"
)

// Store persists timer records.
type Store interface {
	CreateTimer(ctx context.Context, taskID, userID, scopeKey string, start time.Time) (*models.TimerRecord, error)
	FindRunningTimer(ctx context.Context, f store.TimerFilter) (*models.TimerRecord, error)
	GetTimer(ctx context.Context, id string) (*models.TimerRecord, error)
	StopTimer(ctx context.Context, id string, end time.Time, durationSeconds int64) error
}

// TaskLookup resolves task metadata and authorization facts.
type TaskLookup interface {
	GetTaskFacts(ctx context.Context, id string) (*models.TaskInfo, error)
}

// HoursSink accumulates tracked seconds on a task.
type HoursSink interface {
	AddTaskActualSeconds(ctx context.Context, id string, seconds int64) error
}

// StopRequest selects the timer to stop. RecordID wins over TaskID; with
// neither set the actor's running timer is stopped.
type StopRequest struct {
	TaskID   string
	RecordID string
}

// Manager coordinates timer starts and stops.
type Manager struct {
	store    Store
	tasks    TaskLookup
	engine   *authz.Engine
	recorder activity.Recorder
	scope    models.Scope
	clock    func() time.Time
	hours    HoursSink
	metrics  *metrics.Metrics
	logger   zerolog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(clock func() time.Time) Option {
	return func(m *Manager) { m.clock = clock }
}

// WithHoursPropagation adds each stopped duration to the task's total.
func WithHoursPropagation(sink HoursSink) Option {
	return func(m *Manager) { m.hours = sink }
}

// WithMetrics records operation outcomes.
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a timer manager. A nil engine uses the default
// authorization table and a nil recorder discards activity.
func NewManager(st Store, tasks TaskLookup, engine *authz.Engine, recorder activity.Recorder, scope models.Scope, logger zerolog.Logger, opts ...Option) *Manager {
	if engine == nil {
		engine = authz.NewEngine(nil)
	}
	if recorder == nil {
		recorder = activity.Nop{}
	}
	if scope == "" {
		scope = models.ScopeUser
	}
	m := &Manager{
		store:    st,
		tasks:    tasks,
		engine:   engine,
		recorder: recorder,
		scope:    scope,
		clock:    time.Now,
		logger:   logger.With().Str("component", "timer").Logger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Scope returns the configured exclusivity scope.
func (m *Manager) Scope() models.Scope { return m.scope }

func (m *Manager) now() time.Time {
	return m.clock().UTC().Truncate(time.Millisecond)
}

// Start opens a timer for the actor on a task. It fails with NotFound when
// the task is missing or invisible, Forbidden when the actor may not track
// time on it, and Conflict when a timer already runs for the scope key.
func (m *Manager) Start(ctx context.Context, actor models.Actor, taskID string) (rec *models.TimerRecord, err error) {
	defer func() { m.observe("start", err) }()

	if !actor.Authenticated() {
		return nil, perrors.Unauthorized("authentication required")
	}
	info, err := m.tasks.GetTaskFacts(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := m.engine.Authorize(actor, authz.ActionTrack, models.KindTask, info.Facts); err != nil {
		return nil, err
	}

	rec, err = m.store.CreateTimer(ctx, taskID, actor.ID, m.scope.Key(actor.ID, taskID), m.now())
	if err != nil {
		if perrors.KindOf(err) == perrors.KindConflict {
			m.logger.Debug().Str("user", actor.ID).Str("task", taskID).Msg("timer already running")
		}
		return nil, err
	}
	rec.TaskTitle = info.Title

	m.logger.Info().Str("user", actor.ID).Str("task", taskID).Str("record", rec.ID).Msg("timer started")
	m.recordSafely(ctx, models.Activity{
		ActorID:     actor.ID,
		SubjectKind: string(models.KindTimeRecord),
		SubjectID:   rec.ID,
		Action:      activity.ActionCreated,
		Description: fmt.Sprintf("Started timer for task: %s", info.Title),
	})
	return rec, nil
}

// Stop closes the selected running timer. It fails with NotFound when no
// matching timer is running, including when it was stopped already.
func (m *Manager) Stop(ctx context.Context, actor models.Actor, req StopRequest) (rec *models.TimerRecord, err error) {
	defer func() { m.observe("stop", err) }()

	if !actor.Authenticated() {
		return nil, perrors.Unauthorized("authentication required")
	}

	title := models.UnknownTaskTitle
	filter := store.TimerFilter{UserID: actor.ID, RecordID: req.RecordID}
	if req.RecordID == "" && req.TaskID != "" {
		info, err := m.tasks.GetTaskFacts(ctx, req.TaskID)
		if err != nil {
			return nil, err
		}
		if !m.engine.Visible(actor, models.KindTask, info.Facts) {
			return nil, perrors.NotFound("task not found")
		}
		filter.TaskID = req.TaskID
		title = info.Title
	}

	rec, err = m.store.FindRunningTimer(ctx, filter)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, perrors.NotFound("no running timer found")
	}
	if err := m.engine.Authorize(actor, authz.ActionTrack, models.KindTimeRecord, models.Facts{OwnerID: rec.UserID}); err != nil {
		return nil, err
	}

	end := m.now()
	duration, skew := models.ComputeDuration(rec.StartTime, end)
	if err := m.store.StopTimer(ctx, rec.ID, end, duration); err != nil {
		return nil, err
	}
	rec.EndTime = &end
	rec.DurationSeconds = &duration
	rec.Anomaly = skew

	if title == models.UnknownTaskTitle {
		if info, err := m.tasks.GetTaskFacts(ctx, rec.TaskID); err == nil {
			title = info.Title
		}
	}
	rec.TaskTitle = title

	level := zerolog.InfoLevel
	if skew {
		level = zerolog.WarnLevel
		if m.metrics != nil {
			m.metrics.RecordClockSkew()
		}
	}
	m.logger.WithLevel(level).Bool("clock_skew", skew).Str("user", actor.ID).Str("task", rec.TaskID).Str("record", rec.ID).Int64("duration_seconds", duration).Msg("timer stopped")

	desc := fmt.Sprintf("Stopped timer for task: %s (%s)", title, models.FormatDuration(duration))
	if skew {
		desc += " [clock skew: end preceded start, duration clamped to 0]"
	}
	m.recordSafely(ctx, models.Activity{
		ActorID:     actor.ID,
		SubjectKind: string(models.KindTimeRecord),
		SubjectID:   rec.ID,
		Action:      activity.ActionUpdated,
		Description: desc,
	})

	if m.hours != nil && duration > 0 {
		if err := m.hours.AddTaskActualSeconds(ctx, rec.TaskID, duration); err != nil {
			m.logger.Warn().Err(err).Str("task", rec.TaskID).Msg("failed to add tracked time to task")
			m.recordError("hours_propagation_failed")
		}
	}
	return rec, nil
}

// Get returns a time record, running or stopped. Records of other users are
// reported as not found unless the actor is a scrum master.
func (m *Manager) Get(ctx context.Context, actor models.Actor, id string) (*models.TimerRecord, error) {
	if !actor.Authenticated() {
		return nil, perrors.Unauthorized("authentication required")
	}
	rec, err := m.store.GetTimer(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := m.engine.Authorize(actor, authz.ActionRead, models.KindTimeRecord, models.Facts{OwnerID: rec.UserID}); err != nil {
		return nil, err
	}
	m.fillTitle(ctx, rec)
	return rec, nil
}

// Active returns the actor's newest running timer, or nil when idle.
func (m *Manager) Active(ctx context.Context, actor models.Actor) (*models.TimerRecord, error) {
	return m.active(ctx, store.TimerFilter{UserID: actor.ID})
}

// ActiveForTask returns the actor's running timer on a task, or nil.
func (m *Manager) ActiveForTask(ctx context.Context, actor models.Actor, taskID string) (*models.TimerRecord, error) {
	return m.active(ctx, store.TimerFilter{UserID: actor.ID, TaskID: taskID})
}

func (m *Manager) active(ctx context.Context, f store.TimerFilter) (*models.TimerRecord, error) {
	if f.UserID == "" {
		return nil, perrors.Unauthorized("authentication required")
	}
	rec, err := m.store.FindRunningTimer(ctx, f)
	if err != nil || rec == nil {
		return nil, err
	}
	m.fillTitle(ctx, rec)
	return rec, nil
}

func (m *Manager) fillTitle(ctx context.Context, rec *models.TimerRecord) {
	rec.TaskTitle = models.UnknownTaskTitle
	if info, err := m.tasks.GetTaskFacts(ctx, rec.TaskID); err == nil {
		rec.TaskTitle = info.Title
	}
}

// recordSafely appends activity without letting a failure undo the timer
// change that already committed.
func (m *Manager) recordSafely(ctx context.Context, a models.Activity) {
	if err := m.recorder.Record(ctx, a); err != nil {
		m.logger.Error().Err(err).Str("subject_id", a.SubjectID).Str("action", a.Action).Msg("activity not recorded")
		m.recordError("activity_failed")
	}
}

func (m *Manager) observe(op string, err error) {
	if m.metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = string(perrors.KindOf(err))
	}
	m.metrics.RecordTimerOp(op, result)
}

func (m *Manager) recordError(errType string) {
	if m.metrics != nil {
		m.metrics.RecordError("timer", errType)
	}
}
