// Package activity records the append-only audit trail of domain operations.
// Failed writes are parked in the dead letter table and replayed later.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/taskflow/internal/metrics"
	"github.com/p-blackswan/taskflow/internal/models"
	"github.com/p-blackswan/taskflow/internal/retry"
	"github.com/p-blackswan/taskflow/internal/store"
)

// DeadLetterKind tags activity entries in the dead letter table.
const DeadLetterKind = "activity"

// Actions recorded by the core.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	maxRedeliveries  = 10
)

// Recorder appends activity entries.
type Recorder interface {
	Record(ctx context.Context, a models.Activity) error
}

// Store is the persistence the SQL recorder needs.
type Store interface {
	InsertActivity(ctx context.Context, a *models.Activity) error
	ListActivity(ctx context.Context, actorID string, limit int) ([]*models.Activity, error)
	SaveDeadLetter(ctx context.Context, dl *store.DeadLetter) error
	ListRetryable(ctx context.Context, kind string, limit int) ([]*store.DeadLetter, error)
	IncrementRetry(ctx context.Context, id, lastErr string, nextRetryAt int64) error
	ResolveDeadLetter(ctx context.Context, id string) error
}

// SQLRecorder writes activity to the store.
type SQLRecorder struct {
	store   Store
	metrics *metrics.Metrics
	retry   retry.Config
	logger  zerolog.Logger
	now     func() time.Time
}

// NewSQLRecorder creates a recorder. m may be nil.
func NewSQLRecorder(s Store, m *metrics.Metrics, logger zerolog.Logger) *SQLRecorder {
	return &SQLRecorder{
		store:   s,
		metrics: m,
		retry:   retry.DefaultConfig(),
		logger:  logger.With().Str("component", "activity").Logger(),
		now:     time.Now,
	}
}

// Record inserts the entry. On failure the entry is parked as a dead letter
// and the insert error is returned.
func (r *SQLRecorder) Record(ctx context.Context, a models.Activity) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.CreatedAt.IsZero() {
		a.CreatedAt = r.now().UTC().Truncate(time.Millisecond)
	}

	err := r.store.InsertActivity(ctx, &a)
	if err == nil {
		r.logger.Info().
			Str("actor", a.ActorID).
			Str("subject_kind", a.SubjectKind).
			Str("subject_id", a.SubjectID).
			Str("action", a.Action).
			Msg("audit event")
		return nil
	}

	r.recordError("insert_failed")
	r.logger.Error().Err(err).Str("subject_id", a.SubjectID).Str("action", a.Action).Msg("failed to record activity")

	payload, merr := json.Marshal(a)
	if merr != nil {
		return fmt.Errorf("record activity: %w", err)
	}
	dl := &store.DeadLetter{
		ID:          uuid.New().String(),
		Kind:        DeadLetterKind,
		Payload:     string(payload),
		Error:       err.Error(),
		NextRetryAt: r.now().Add(retry.Backoff(r.retry, 0)).UnixMilli(),
	}
	if derr := r.store.SaveDeadLetter(ctx, dl); derr != nil {
		r.recordError("dead_letter_failed")
		r.logger.Error().Err(derr).Str("activity_id", a.ID).Msg("failed to park activity in dead letters")
	}
	return fmt.Errorf("record activity: %w", err)
}

// Redeliver replays due activity dead letters. It returns how many were
// delivered. Letters that keep failing are rescheduled with backoff and
// abandoned after a fixed number of attempts.
func (r *SQLRecorder) Redeliver(ctx context.Context, limit int) (int, error) {
	letters, err := r.store.ListRetryable(ctx, DeadLetterKind, limit)
	if err != nil {
		return 0, fmt.Errorf("list dead letters: %w", err)
	}

	delivered := 0
	for _, dl := range letters {
		if ctx.Err() != nil {
			return delivered, ctx.Err()
		}

		var a models.Activity
		if err := json.Unmarshal([]byte(dl.Payload), &a); err != nil {
			r.logger.Error().Err(err).Str("dead_letter", dl.ID).Msg("undecodable activity payload, giving up")
			_ = r.store.IncrementRetry(ctx, dl.ID, err.Error(), 0)
			continue
		}

		err := retry.Do(ctx, r.retry, func(ctx context.Context) error {
			return r.store.InsertActivity(ctx, &a)
		})
		if err == nil {
			if rerr := r.store.ResolveDeadLetter(ctx, dl.ID); rerr != nil {
				r.logger.Warn().Err(rerr).Str("dead_letter", dl.ID).Msg("delivered but failed to resolve dead letter")
			}
			delivered++
			continue
		}

		var next int64
		if dl.RetryCount+1 < maxRedeliveries {
			backoff := retry.Config{BaseDelay: time.Minute, MaxDelay: 6 * time.Hour, Jitter: true}
			next = r.now().Add(retry.Backoff(backoff, dl.RetryCount)).UnixMilli()
		} else {
			r.logger.Error().Str("dead_letter", dl.ID).Int("attempts", dl.RetryCount+1).Msg("giving up on activity redelivery")
		}
		if ierr := r.store.IncrementRetry(ctx, dl.ID, err.Error(), next); ierr != nil {
			r.logger.Warn().Err(ierr).Str("dead_letter", dl.ID).Msg("failed to reschedule dead letter")
		}
		r.recordError("redelivery_failed")
	}

	if delivered > 0 {
		r.logger.Info().Int("delivered", delivered).Int("due", len(letters)).Msg("redelivered activity")
	}
	return delivered, nil
}

// List returns the actor's own activity, or everyone's for a scrum master.
func (r *SQLRecorder) List(ctx context.Context, actor models.Actor, limit int) ([]*models.Activity, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	actorID := actor.ID
	if actor.IsScrumMaster() {
		actorID = ""
	}
	return r.store.ListActivity(ctx, actorID, limit)
}

func (r *SQLRecorder) recordError(errType string) {
	if r.metrics != nil {
		r.metrics.RecordError("activity", errType)
	}
}

// Nop discards every entry.
type Nop struct{}

// Record implements Recorder.
func (Nop) Record(context.Context, models.Activity) error { return nil }
