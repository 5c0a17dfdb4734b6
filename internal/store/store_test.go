package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/taskflow/internal/errors"
	"github.com/p-blackswan/taskflow/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func newMemoryStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestNew_CreatesDB(t *testing.T) {
	store := newTestStore(t)

	tables := []string{
		"projects", "project_members", "tasks", "comments",
		"timer_records", "activity_log", "dead_letters", "meta",
	}

	for _, table := range tables {
		var count int
		err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, "table %s should exist", table)
	}

	var idxCount int
	err := store.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name = 'idx_timer_open_scope'").Scan(&idxCount)
	require.NoError(t, err)
	assert.Equal(t, 1, idxCount)

	var version string
	require.NoError(t, store.db.QueryRow("SELECT value FROM meta WHERE key='schema_version'").Scan(&version))
	assert.Equal(t, "2", version)
}

func TestNew_ReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	s1, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	s2, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	defer s2.Close()
}

func TestProject_CRUD(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, CreateProjectInput{
		Title:     "Website",
		OwnerID:   "sm",
		MemberIDs: []string{"emp", "emp", ""},
	})
	require.NoError(t, err)
	assert.Equal(t, models.ProjectPlanning, p.Status)
	assert.Equal(t, []string{"emp"}, p.MemberIDs)

	got, err := s.GetProject(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Website", got.Title)
	assert.Equal(t, []string{"emp"}, got.MemberIDs)

	title := "Website v2"
	status := models.ProjectActive
	updated, err := s.UpdateProject(ctx, p.ID, UpdateProjectInput{Title: &title, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, "Website v2", updated.Title)
	assert.Equal(t, models.ProjectActive, updated.Status)

	withMembers, err := s.SetProjectMembers(ctx, p.ID, []string{"emp2", "emp"})
	require.NoError(t, err)
	assert.Equal(t, []string{"emp", "emp2"}, withMembers.MemberIDs)

	all, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, []string{"emp", "emp2"}, all[0].MemberIDs)
}

func TestProject_Errors(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	_, err := s.CreateProject(ctx, CreateProjectInput{OwnerID: "sm"})
	assert.ErrorIs(t, err, perrors.ErrValidation)

	_, err = s.CreateProject(ctx, CreateProjectInput{Title: "x", Status: "bogus", OwnerID: "sm"})
	assert.ErrorIs(t, err, perrors.ErrValidation)

	_, err = s.GetProject(ctx, "missing")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	_, err = s.SetProjectMembers(ctx, "missing", []string{"emp"})
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	title := "y"
	_, err = s.UpdateProject(ctx, "missing", UpdateProjectInput{Title: &title})
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestTask_CRUD(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, CreateProjectInput{Title: "Website", OwnerID: "sm", MemberIDs: []string{"emp2"}})
	require.NoError(t, err)

	task, err := s.CreateTask(ctx, CreateTaskInput{
		Title:      "Design homepage",
		ProjectID:  p.ID,
		AssigneeID: "emp",
		OwnerID:    "sm",
	})
	require.NoError(t, err)
	assert.Equal(t, models.TaskTodo, task.Status)
	assert.Equal(t, models.PriorityMedium, task.Priority)
	require.NotNil(t, task.AssigneeID)
	assert.Equal(t, "emp", *task.AssigneeID)
	assert.Equal(t, []string{"emp2"}, task.ProjectMemberIDs)

	facts := task.Facts()
	assert.Equal(t, "sm", facts.OwnerID)
	assert.Equal(t, "emp", facts.AssigneeID)
	assert.True(t, facts.HasMember("emp2"))

	status := models.TaskInProgress
	unassign := ""
	updated, err := s.UpdateTask(ctx, task.ID, UpdateTaskInput{Status: &status, AssigneeID: &unassign})
	require.NoError(t, err)
	assert.Equal(t, models.TaskInProgress, updated.Status)
	assert.Nil(t, updated.AssigneeID)

	loose, err := s.CreateTask(ctx, CreateTaskInput{Title: "Standalone", OwnerID: "emp"})
	require.NoError(t, err)
	assert.Nil(t, loose.ProjectID)

	byProject, err := s.ListTasks(ctx, TaskFilter{ProjectID: p.ID})
	require.NoError(t, err)
	require.Len(t, byProject, 1)
	assert.Equal(t, []string{"emp2"}, byProject[0].ProjectMemberIDs)

	byStatus, err := s.ListTasks(ctx, TaskFilter{Status: models.TaskTodo})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	assert.Equal(t, loose.ID, byStatus[0].ID)

	require.NoError(t, s.DeleteTask(ctx, loose.ID))
	assert.ErrorIs(t, s.DeleteTask(ctx, loose.ID), perrors.ErrNotFound)
}

func TestTask_Validation(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	_, err := s.CreateTask(ctx, CreateTaskInput{Title: "  ", OwnerID: "emp"})
	assert.ErrorIs(t, err, perrors.ErrValidation)

	_, err = s.CreateTask(ctx, CreateTaskInput{Title: "x", ProjectID: "missing", OwnerID: "emp"})
	assert.ErrorIs(t, err, perrors.ErrValidation)

	_, err = s.CreateTask(ctx, CreateTaskInput{Title: "x", Priority: "whenever", OwnerID: "emp"})
	assert.ErrorIs(t, err, perrors.ErrValidation)
}

func TestTaskFacts(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, CreateProjectInput{Title: "Website", OwnerID: "sm", MemberIDs: []string{"emp2"}})
	require.NoError(t, err)
	task, err := s.CreateTask(ctx, CreateTaskInput{Title: "Design", ProjectID: p.ID, AssigneeID: "emp", OwnerID: "sm"})
	require.NoError(t, err)

	info, err := s.GetTaskFacts(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "Design", info.Title)
	assert.Equal(t, p.ID, info.ProjectID)
	assert.Equal(t, "Website", info.ProjectTitle)
	assert.Equal(t, models.Facts{OwnerID: "sm", AssigneeID: "emp", MemberIDs: []string{"emp2"}}, info.Facts)

	_, err = s.GetTaskFacts(ctx, "missing")
	assert.ErrorIs(t, err, perrors.ErrNotFound)
}

func TestAddTaskActualSeconds(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, CreateTaskInput{Title: "x", OwnerID: "emp"})
	require.NoError(t, err)

	require.NoError(t, s.AddTaskActualSeconds(ctx, task.ID, 5400))
	require.NoError(t, s.AddTaskActualSeconds(ctx, task.ID, 600))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(6000), got.ActualSeconds)

	assert.ErrorIs(t, s.AddTaskActualSeconds(ctx, "missing", 1), perrors.ErrNotFound)
}

func TestComments(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, CreateTaskInput{Title: "x", OwnerID: "emp"})
	require.NoError(t, err)

	_, err = s.AddComment(ctx, task.ID, "emp", "first")
	require.NoError(t, err)
	_, err = s.AddComment(ctx, task.ID, "emp2", "second")
	require.NoError(t, err)

	_, err = s.AddComment(ctx, task.ID, "emp", "")
	assert.ErrorIs(t, err, perrors.ErrValidation)

	_, err = s.AddComment(ctx, "missing", "emp", "orphan")
	assert.ErrorIs(t, err, perrors.ErrNotFound)

	comments, err := s.ListComments(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, "first", comments[0].Content)
}

func TestTimer_CreateConflict(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	rec, err := s.CreateTimer(ctx, "task-a", "emp", "emp", start)
	require.NoError(t, err)
	assert.True(t, rec.Running())

	_, err = s.CreateTimer(ctx, "task-b", "emp", "emp", start)
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrConflict)

	var pe *perrors.Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, rec.ID, pe.Details["active_timer_id"])

	// Another scope key is independent.
	_, err = s.CreateTimer(ctx, "task-a", "emp2", "emp2", start)
	require.NoError(t, err)
}

func TestTimer_UniqueIndexRejectsSecondOpenRecord(t *testing.T) {
	s := newMemoryStore(t)
	now := time.Now().UnixMilli()

	insert := `INSERT INTO timer_records (id, task_id, user_id, scope_key, start_time, created_at, updated_at)
		VALUES (?, 't', 'emp', 'emp', ?, ?, ?)`
	_, err := s.db.Exec(insert, "r1", now, now, now)
	require.NoError(t, err)
	_, err = s.db.Exec(insert, "r2", now, now, now)
	require.Error(t, err)
	assert.True(t, isUniqueViolation(err))
}

func TestTimer_ConcurrentCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Now()

	const workers = 8
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.CreateTimer(ctx, "task-a", "emp", "emp", start)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case perrors.KindOf(err) == perrors.KindConflict:
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, conflicts)

	n, err := s.CountRunningTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTimer_StopOnce(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	start := time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)

	rec, err := s.CreateTimer(ctx, "task-a", "emp", "emp", start)
	require.NoError(t, err)

	running, err := s.FindRunningTimer(ctx, TimerFilter{UserID: "emp", TaskID: "task-a"})
	require.NoError(t, err)
	require.NotNil(t, running)
	assert.Equal(t, rec.ID, running.ID)

	require.NoError(t, s.StopTimer(ctx, rec.ID, start.Add(90*time.Minute), 5400))
	assert.ErrorIs(t, s.StopTimer(ctx, rec.ID, start.Add(2*time.Hour), 7200), perrors.ErrNotFound)

	got, err := s.GetTimer(ctx, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got.EndTime)
	require.NotNil(t, got.DurationSeconds)
	assert.Equal(t, int64(5400), *got.DurationSeconds)
	assert.Equal(t, start.Add(90*time.Minute), *got.EndTime)

	running, err = s.FindRunningTimer(ctx, TimerFilter{UserID: "emp"})
	require.NoError(t, err)
	assert.Nil(t, running)

	// The scope is free again once the record is stopped.
	_, err = s.CreateTimer(ctx, "task-a", "emp", "emp", start.Add(3*time.Hour))
	require.NoError(t, err)
}

func TestListStoppedTimers(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()
	day := time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC)

	mk := func(task string, start time.Time, d time.Duration) {
		rec, err := s.CreateTimer(ctx, task, "emp", "emp", start)
		require.NoError(t, err)
		require.NoError(t, s.StopTimer(ctx, rec.ID, start.Add(d), int64(d/time.Second)))
	}
	mk("b", day.Add(13*time.Hour), time.Hour)
	mk("a", day.Add(9*time.Hour), time.Hour)
	mk("a", day.Add(-time.Hour), time.Hour)
	_, err := s.CreateTimer(ctx, "c", "emp", "emp", day.Add(15*time.Hour))
	require.NoError(t, err)

	recs, err := s.ListStoppedTimers(ctx, "emp", day, day.Add(24*time.Hour-time.Nanosecond))
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "a", recs[0].TaskID)
	assert.Equal(t, "b", recs[1].TaskID)
}

func TestActivity(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	a := &models.Activity{ActorID: "emp", SubjectKind: "task", SubjectID: "t1", Action: "created"}
	require.NoError(t, s.InsertActivity(ctx, a))
	assert.NotEmpty(t, a.ID)

	// Same id is ignored.
	require.NoError(t, s.InsertActivity(ctx, a))
	require.NoError(t, s.InsertActivity(ctx, &models.Activity{ActorID: "emp2", SubjectKind: "task", SubjectID: "t2", Action: "updated"}))

	mine, err := s.ListActivity(ctx, "emp", 10)
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	all, err := s.ListActivity(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestDeadLetter_CRUD(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	dl := &DeadLetter{
		ID:          "dl-1",
		Kind:        "activity",
		Payload:     `{"action":"created"}`,
		Error:       "disk full",
		NextRetryAt: time.Now().Add(-time.Second).UnixMilli(),
	}
	require.NoError(t, s.SaveDeadLetter(ctx, dl))

	retryable, err := s.ListRetryable(ctx, "activity", 10)
	require.NoError(t, err)
	require.Len(t, retryable, 1)
	assert.Equal(t, dl.Payload, retryable[0].Payload)

	other, err := s.ListRetryable(ctx, "other", 10)
	require.NoError(t, err)
	assert.Empty(t, other)

	future := time.Now().Add(time.Hour).UnixMilli()
	require.NoError(t, s.IncrementRetry(ctx, "dl-1", "still failing", future))
	retryable, err = s.ListRetryable(ctx, "activity", 10)
	require.NoError(t, err)
	assert.Empty(t, retryable)

	require.NoError(t, s.ResolveDeadLetter(ctx, "dl-1"))
	n, err := s.CountUnresolvedDeadLetters(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	assert.Error(t, s.ResolveDeadLetter(ctx, "missing"))
	assert.Error(t, s.IncrementRetry(ctx, "missing", "", 0))
}

func TestRetention(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	old := &models.Activity{ActorID: "emp", SubjectKind: "task", SubjectID: "t1", Action: "created",
		CreatedAt: time.Now().Add(-48 * time.Hour)}
	fresh := &models.Activity{ActorID: "emp", SubjectKind: "task", SubjectID: "t1", Action: "updated"}
	require.NoError(t, s.InsertActivity(ctx, old))
	require.NoError(t, s.InsertActivity(ctx, fresh))

	stale := time.Now().Add(-48 * time.Hour).UnixMilli()
	require.NoError(t, s.SaveDeadLetter(ctx, &DeadLetter{ID: "resolved", Kind: "activity", Payload: "{}", Error: "x", CreatedAt: stale, ResolvedAt: stale}))
	require.NoError(t, s.SaveDeadLetter(ctx, &DeadLetter{ID: "pending", Kind: "activity", Payload: "{}", Error: "x", NextRetryAt: time.Now().UnixMilli()}))

	res, err := s.RunRetention(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Activity)
	assert.Equal(t, int64(1), res.DeadLetters)

	entries, err := s.ListActivity(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, fresh.ID, entries[0].ID)
}

func TestDBSize(t *testing.T) {
	s := newTestStore(t)

	size, err := s.DBSizeBytes()
	require.NoError(t, err)
	assert.Greater(t, size, int64(0))
	require.NoError(t, s.Ping(context.Background()))
}

func TestListComments_SameMillisecondKeepsInsertionOrder(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	task, err := s.CreateTask(ctx, CreateTaskInput{Title: "x", OwnerID: "emp"})
	require.NoError(t, err)

	const n = 250
	for i := 0; i < n; i++ {
		_, err := s.AddComment(ctx, task.ID, "emp", fmt.Sprintf("c%03d", i))
		require.NoError(t, err)
	}

	comments, err := s.ListComments(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, comments, n)
	for i, c := range comments {
		require.Equal(t, fmt.Sprintf("c%03d", i), c.Content, "position %d", i)
	}
}

func TestListTasksAndProjects_SameMillisecondKeepInsertionOrder(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	const n = 100
	for i := 0; i < n; i++ {
		_, err := s.CreateTask(ctx, CreateTaskInput{Title: fmt.Sprintf("t%03d", i), OwnerID: "emp"})
		require.NoError(t, err)
		_, err = s.CreateProject(ctx, CreateProjectInput{Title: fmt.Sprintf("p%03d", i), OwnerID: "sm"})
		require.NoError(t, err)
	}

	tasks, err := s.ListTasks(ctx, TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, n)
	for i, task := range tasks {
		require.Equal(t, fmt.Sprintf("t%03d", i), task.Title, "position %d", i)
	}

	projects, err := s.ListProjects(ctx)
	require.NoError(t, err)
	require.Len(t, projects, n)
	for i, p := range projects {
		require.Equal(t, fmt.Sprintf("p%03d", i), p.Title, "position %d", i)
	}
}

func TestUpdateProject_FieldsAndMembersTogether(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, CreateProjectInput{Title: "Website", OwnerID: "sm", MemberIDs: []string{"emp"}})
	require.NoError(t, err)

	title := "Website v2"
	members := []string{"emp2", "emp3", "emp2"}
	updated, err := s.UpdateProject(ctx, p.ID, UpdateProjectInput{Title: &title, MemberIDs: &members})
	require.NoError(t, err)
	assert.Equal(t, "Website v2", updated.Title)
	assert.Equal(t, []string{"emp2", "emp3"}, updated.MemberIDs)
}

func TestUpdateProject_MemberFailureRollsBackFields(t *testing.T) {
	s := newMemoryStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, CreateProjectInput{Title: "Website", OwnerID: "sm"})
	require.NoError(t, err)

	// Break the membership write.
	_, err = s.db.Exec(`DROP TABLE project_members`)
	require.NoError(t, err)

	title := "Renamed"
	members := []string{"emp"}
	_, err = s.UpdateProject(ctx, p.ID, UpdateProjectInput{Title: &title, MemberIDs: &members})
	require.Error(t, err)
	assert.Equal(t, perrors.KindInternal, perrors.KindOf(err))

	var got string
	require.NoError(t, s.db.QueryRow(`SELECT title FROM projects WHERE id = ?`, p.ID).Scan(&got))
	assert.Equal(t, "Website", got)
}

func TestTimer_TwoStoresOnOneFileReportConflict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shared.db")
	a, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	b, err := New(path, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })

	ctx := context.Background()
	start := time.Now()

	for round := 0; round < 30; round++ {
		key := fmt.Sprintf("emp-%d", round)
		var wg sync.WaitGroup
		errs := make([]error, 2)
		for i, s := range []*Store{a, b} {
			wg.Add(1)
			go func(i int, s *Store) {
				defer wg.Done()
				_, errs[i] = s.CreateTimer(ctx, "task-a", key, key, start)
			}(i, s)
		}
		wg.Wait()

		var ok, conflicts int
		for _, err := range errs {
			switch {
			case err == nil:
				ok++
			case perrors.KindOf(err) == perrors.KindConflict:
				conflicts++
			default:
				t.Fatalf("round %d: unexpected error: %v", round, err)
			}
		}
		require.Equal(t, 1, ok, "round %d", round)
		require.Equal(t, 1, conflicts, "round %d", round)
	}

	n, err := a.CountRunningTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 30, n)
}

func TestWrapErr(t *testing.T) {
	assert.NoError(t, wrapErr(nil, "noop"))

	plain := wrapErr(errors.New("disk I/O error"), "insert task")
	assert.Equal(t, perrors.KindInternal, perrors.KindOf(plain))
	assert.False(t, perrors.IsRetryable(plain))
	assert.Contains(t, plain.Error(), "insert task")

	busy := wrapErr(errors.New("database is locked (5) (SQLITE_BUSY)"), "insert task")
	assert.Equal(t, perrors.KindInternal, perrors.KindOf(busy))
	assert.ErrorIs(t, busy, perrors.ErrUnavailable)
	assert.True(t, perrors.IsRetryable(busy))
}
