// Package timesheet turns an actor's stopped time records into per-task
// totals for a day, a week or a trailing range of days.
package timesheet

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/models"
)

// DateLayout is the anchor format accepted by Daily and Weekly.
const DateLayout = "2006-01-02"

// Range limits.
const (
	DefaultRangeDays = 7
	MaxRangeDays     = 366
)

// RecordLister lists stopped records whose start lies in [from, to].
type RecordLister interface {
	ListStoppedTimers(ctx context.Context, userID string, from, to time.Time) ([]*models.TimerRecord, error)
}

// TaskLookup resolves task titles and projects.
type TaskLookup interface {
	GetTaskFacts(ctx context.Context, id string) (*models.TaskInfo, error)
}

// Summary is a timesheet for one day or one week.
type Summary struct {
	Date                   string                  `json:"date,omitempty"`
	WeekStart              string                  `json:"week_start,omitempty"`
	WeekEnd                string                  `json:"week_end,omitempty"`
	PeriodStart            time.Time               `json:"period_start"`
	PeriodEnd              time.Time               `json:"period_end"`
	TotalDurationSeconds   int64                   `json:"total_duration_seconds"`
	TotalDurationFormatted string                  `json:"total_duration_formatted"`
	Entries                []models.TimesheetEntry `json:"entries"`
}

// DayTotal is the tracked time of one calendar day.
type DayTotal struct {
	Date                   string `json:"date"`
	TotalDurationSeconds   int64  `json:"total_duration_seconds"`
	TotalDurationFormatted string `json:"total_duration_formatted"`
}

// ProjectTotal is the tracked time of one project.
type ProjectTotal struct {
	ProjectID              *string `json:"project_id"`
	ProjectTitle           string  `json:"project_title"`
	TotalDurationSeconds   int64   `json:"total_duration_seconds"`
	TotalDurationFormatted string  `json:"total_duration_formatted"`
}

// RangeSummary covers the trailing N days up to and including today.
type RangeSummary struct {
	Days                   int            `json:"days"`
	PeriodStart            time.Time      `json:"period_start"`
	PeriodEnd              time.Time      `json:"period_end"`
	RecordCount            int            `json:"record_count"`
	TotalDurationSeconds   int64          `json:"total_duration_seconds"`
	TotalDurationFormatted string         `json:"total_duration_formatted"`
	AverageSecondsPerDay   int64          `json:"average_seconds_per_day"`
	DailyTotals            []DayTotal     `json:"daily_totals"`
	ProjectTotals          []ProjectTotal `json:"project_totals"`
}

// Aggregator builds timesheets.
type Aggregator struct {
	records RecordLister
	tasks   TaskLookup
	loc     *time.Location
	clock   func() time.Time
	logger  zerolog.Logger
}

// NewAggregator creates an aggregator whose day boundaries follow loc
// (UTC when nil).
func NewAggregator(records RecordLister, tasks TaskLookup, loc *time.Location, logger zerolog.Logger) *Aggregator {
	if loc == nil {
		loc = time.UTC
	}
	return &Aggregator{
		records: records,
		tasks:   tasks,
		loc:     loc,
		clock:   time.Now,
		logger:  logger.With().Str("component", "timesheet").Logger(),
	}
}

// SetClock overrides the time source used for default anchors.
func (a *Aggregator) SetClock(clock func() time.Time) { a.clock = clock }

// Daily returns the actor's totals for date (YYYY-MM-DD, default today).
func (a *Aggregator) Daily(ctx context.Context, actor models.Actor, date string) (*Summary, error) {
	day, err := a.anchor(date, "date")
	if err != nil {
		return nil, err
	}
	start, end := a.bounds(day, 1)

	s, err := a.summarize(ctx, actor, start, end)
	if err != nil {
		return nil, err
	}
	s.Date = day.Format(DateLayout)
	return s, nil
}

// Weekly returns the actor's totals for the Monday-to-Sunday week holding
// weekStart (YYYY-MM-DD, default the current week).
func (a *Aggregator) Weekly(ctx context.Context, actor models.Actor, weekStart string) (*Summary, error) {
	day, err := a.anchor(weekStart, "week_start")
	if err != nil {
		return nil, err
	}
	monday := MondayOf(day)
	start, end := a.bounds(monday, 7)

	s, err := a.summarize(ctx, actor, start, end)
	if err != nil {
		return nil, err
	}
	s.WeekStart = monday.Format(DateLayout)
	s.WeekEnd = monday.AddDate(0, 0, 6).Format(DateLayout)
	return s, nil
}

// Range returns per-day and per-project totals over the trailing days,
// today included. days 0 means the default of 7.
func (a *Aggregator) Range(ctx context.Context, actor models.Actor, days int) (*RangeSummary, error) {
	if days == 0 {
		days = DefaultRangeDays
	}
	if days < 1 || days > MaxRangeDays {
		return nil, perrors.Validation("days must be between 1 and %d", MaxRangeDays).WithDetail("days", "out of range")
	}
	if !actor.Authenticated() {
		return nil, perrors.Unauthorized("authentication required")
	}

	today := a.today()
	first := today.AddDate(0, 0, -(days - 1))
	start, end := a.bounds(first, days)

	recs, err := a.records.ListStoppedTimers(ctx, actor.ID, start, end)
	if err != nil {
		return nil, err
	}

	out := &RangeSummary{
		Days:        days,
		PeriodStart: start,
		PeriodEnd:   end,
		RecordCount: len(recs),
		DailyTotals: make([]DayTotal, 0, days),
	}

	perDay := make(map[string]int64, days)
	byProject := make(map[string]int)
	infos := newInfoCache(a.tasks)
	for _, rec := range recs {
		d := seconds(rec)
		out.TotalDurationSeconds += d
		perDay[rec.StartTime.In(a.loc).Format(DateLayout)] += d

		info, err := infos.get(ctx, rec.TaskID)
		if err != nil {
			return nil, err
		}
		idx, ok := byProject[info.ProjectID]
		if !ok {
			pt := ProjectTotal{ProjectTitle: models.NoProjectTitle}
			if info.ProjectID != "" {
				pid := info.ProjectID
				pt.ProjectID = &pid
				pt.ProjectTitle = info.ProjectTitle
			}
			out.ProjectTotals = append(out.ProjectTotals, pt)
			idx = len(out.ProjectTotals) - 1
			byProject[info.ProjectID] = idx
		}
		out.ProjectTotals[idx].TotalDurationSeconds += d
	}

	for i := 0; i < days; i++ {
		key := first.AddDate(0, 0, i).Format(DateLayout)
		out.DailyTotals = append(out.DailyTotals, DayTotal{
			Date:                   key,
			TotalDurationSeconds:   perDay[key],
			TotalDurationFormatted: models.FormatDuration(perDay[key]),
		})
	}
	for i := range out.ProjectTotals {
		out.ProjectTotals[i].TotalDurationFormatted = models.FormatDuration(out.ProjectTotals[i].TotalDurationSeconds)
	}
	if out.ProjectTotals == nil {
		out.ProjectTotals = []ProjectTotal{}
	}
	out.TotalDurationFormatted = models.FormatDuration(out.TotalDurationSeconds)
	out.AverageSecondsPerDay = out.TotalDurationSeconds / int64(days)
	return out, nil
}

func (a *Aggregator) summarize(ctx context.Context, actor models.Actor, start, end time.Time) (*Summary, error) {
	if !actor.Authenticated() {
		return nil, perrors.Unauthorized("authentication required")
	}
	recs, err := a.records.ListStoppedTimers(ctx, actor.ID, start, end)
	if err != nil {
		return nil, err
	}

	entries := make([]models.TimesheetEntry, 0)
	index := make(map[string]int)
	infos := newInfoCache(a.tasks)
	var total int64
	for _, rec := range recs {
		d := seconds(rec)
		total += d

		i, ok := index[rec.TaskID]
		if !ok {
			info, err := infos.get(ctx, rec.TaskID)
			if err != nil {
				return nil, err
			}
			entries = append(entries, newEntry(info))
			i = len(entries) - 1
			index[rec.TaskID] = i
		}
		entries[i].TotalDurationSeconds += d
	}
	for i := range entries {
		entries[i].TotalDurationFormatted = models.FormatDuration(entries[i].TotalDurationSeconds)
	}

	a.logger.Debug().Str("user", actor.ID).Int("records", len(recs)).Int("tasks", len(entries)).Msg("timesheet built")
	return &Summary{
		PeriodStart:            start,
		PeriodEnd:              end,
		TotalDurationSeconds:   total,
		TotalDurationFormatted: models.FormatDuration(total),
		Entries:                entries,
	}, nil
}

func newEntry(info *models.TaskInfo) models.TimesheetEntry {
	e := models.TimesheetEntry{
		TaskID:       info.ID,
		TaskTitle:    info.Title,
		ProjectTitle: models.NoProjectTitle,
	}
	if info.ProjectID != "" {
		pid := info.ProjectID
		e.ProjectID = &pid
		e.ProjectTitle = info.ProjectTitle
	}
	return e
}

func seconds(rec *models.TimerRecord) int64 {
	if rec.DurationSeconds == nil {
		return 0
	}
	return *rec.DurationSeconds
}

// anchor parses a YYYY-MM-DD date in the reference timezone; empty means
// today.
func (a *Aggregator) anchor(raw, field string) (time.Time, error) {
	if raw == "" {
		return a.today(), nil
	}
	d, err := time.ParseInLocation(DateLayout, raw, a.loc)
	if err != nil {
		return time.Time{}, perrors.Validation("invalid %s %q: expected YYYY-MM-DD", field, raw).WithDetail(field, raw)
	}
	return d, nil
}

func (a *Aggregator) today() time.Time {
	now := a.clock().In(a.loc)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, a.loc)
}

// bounds returns [day 00:00, last day 23:59:59.999999999] spanning n days.
func (a *Aggregator) bounds(day time.Time, n int) (time.Time, time.Time) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, a.loc)
	return start, start.AddDate(0, 0, n).Add(-time.Nanosecond)
}

// MondayOf returns the Monday of the week holding day.
func MondayOf(day time.Time) time.Time {
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// infoCache memoises task lookups within one aggregation. Missing tasks
// resolve to the unknown-task placeholder.
type infoCache struct {
	tasks TaskLookup
	seen  map[string]*models.TaskInfo
}

func newInfoCache(tasks TaskLookup) *infoCache {
	return &infoCache{tasks: tasks, seen: make(map[string]*models.TaskInfo)}
}

func (c *infoCache) get(ctx context.Context, taskID string) (*models.TaskInfo, error) {
	if info, ok := c.seen[taskID]; ok {
		return info, nil
	}
	info, err := c.tasks.GetTaskFacts(ctx, taskID)
	if perrors.KindOf(err) == perrors.KindNotFound {
		info, err = &models.TaskInfo{ID: taskID, Title: models.UnknownTaskTitle}, nil
	}
	if err != nil {
		return nil, err
	}
	c.seen[taskID] = info
	return info, nil
}
