package store

import (
	"fmt"
)

func (s *Store) migrate() error {
	if err := s.migrateV1(); err != nil {
		return err
	}
	return s.migrateV2()
}

func (s *Store) migrateV1() error {
	schema := `
	CREATE TABLE IF NOT EXISTS projects (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'planning',
		owner_id    TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_projects_owner ON projects(owner_id);

	CREATE TABLE IF NOT EXISTS project_members (
		project_id TEXT NOT NULL REFERENCES projects(id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL,
		PRIMARY KEY (project_id, user_id)
	);

	CREATE INDEX IF NOT EXISTS idx_members_user ON project_members(user_id);

	CREATE TABLE IF NOT EXISTS tasks (
		id          TEXT PRIMARY KEY,
		title       TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT 'todo',
		priority    TEXT NOT NULL DEFAULT 'medium',
		project_id  TEXT REFERENCES projects(id) ON DELETE CASCADE,
		assignee_id TEXT,
		owner_id    TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		updated_at  INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee_id);

	CREATE TABLE IF NOT EXISTS comments (
		id         TEXT PRIMARY KEY,
		task_id    TEXT NOT NULL REFERENCES tasks(id) ON DELETE CASCADE,
		user_id    TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_comments_task ON comments(task_id, created_at);

	CREATE TABLE IF NOT EXISTS timer_records (
		id               TEXT PRIMARY KEY,
		task_id          TEXT NOT NULL,
		user_id          TEXT NOT NULL,
		scope_key        TEXT NOT NULL,
		start_time       INTEGER NOT NULL,
		end_time         INTEGER,
		duration_seconds INTEGER,
		created_at       INTEGER NOT NULL,
		updated_at       INTEGER NOT NULL,
		CHECK ((end_time IS NULL) = (duration_seconds IS NULL)),
		CHECK (duration_seconds IS NULL OR duration_seconds >= 0)
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_timer_open_scope ON timer_records(scope_key) WHERE end_time IS NULL;
	CREATE INDEX IF NOT EXISTS idx_timer_user_start ON timer_records(user_id, start_time);

	CREATE TABLE IF NOT EXISTS activity_log (
		id           TEXT PRIMARY KEY,
		actor_id     TEXT NOT NULL,
		subject_kind TEXT NOT NULL,
		subject_id   TEXT NOT NULL,
		action       TEXT NOT NULL,
		description  TEXT NOT NULL DEFAULT '',
		created_at   INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_activity_created ON activity_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_activity_actor ON activity_log(actor_id, created_at);

	CREATE TABLE IF NOT EXISTS dead_letters (
		id            TEXT PRIMARY KEY,
		kind          TEXT NOT NULL,
		payload       TEXT NOT NULL,
		error         TEXT NOT NULL,
		created_at    INTEGER NOT NULL,
		retry_count   INTEGER NOT NULL DEFAULT 0,
		next_retry_at INTEGER,
		resolved_at   INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_dlq_unresolved ON dead_letters(next_retry_at) WHERE resolved_at IS NULL;

	CREATE TABLE IF NOT EXISTS meta (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	INSERT OR IGNORE INTO meta(key, value) VALUES ('schema_version', '1');
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute migration v1: %w", err)
	}

	return nil
}

func (s *Store) migrateV2() error {
	var version string
	err := s.db.QueryRow(`SELECT value FROM meta WHERE key = 'schema_version'`).Scan(&version)
	if err != nil || version >= "2" {
		return nil
	}

	// Accumulated tracked time per task, fed by timer stops.
	_, _ = s.db.Exec(`ALTER TABLE tasks ADD COLUMN actual_seconds INTEGER NOT NULL DEFAULT 0`)

	if _, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', '2')`); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return nil
}
