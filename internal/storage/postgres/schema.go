package postgres

import (
	"context"
	"fmt"
)

// Tables names the configurable post tables.
type Tables struct {
	Posts  string
	Groups string
}

// DefaultTables are used when the config leaves them empty.
var DefaultTables = Tables{Posts: "posts", Groups: "post_groups"}

func (t Tables) withDefaults() (Tables, error) {
	if t.Posts == "" {
		t.Posts = DefaultTables.Posts
	}
	if t.Groups == "" {
		t.Groups = DefaultTables.Groups
	}
	if err := checkTable(t.Posts); err != nil {
		return t, err
	}
	if err := checkTable(t.Groups); err != nil {
		return t, err
	}
	return t, nil
}

const schemaJobs = `
CREATE TABLE IF NOT EXISTS jobs (
	id          BIGSERIAL PRIMARY KEY,
	type        TEXT        NOT NULL,
	remote_id   TEXT        NOT NULL,
	details     JSONB       NOT NULL DEFAULT '{}'::jsonb,
	status      TEXT        NOT NULL DEFAULT 'queued',
	claimed_at  TIMESTAMPTZ,
	claimed_by  TEXT        NOT NULL DEFAULT '',
	claim_after TIMESTAMPTZ NOT NULL DEFAULT now(),
	interval    INTEGER     NOT NULL DEFAULT 0,
	attempts    INTEGER     NOT NULL DEFAULT 0,
	last_error  TEXT        NOT NULL DEFAULT '',
	timestamp   TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);
ALTER TABLE jobs ADD COLUMN IF NOT EXISTS claimed_by TEXT NOT NULL DEFAULT '';
CREATE UNIQUE INDEX IF NOT EXISTS jobs_active_uniq
	ON jobs (type, remote_id) WHERE status IN ('queued', 'claimed');
CREATE INDEX IF NOT EXISTS jobs_claimable
	ON jobs (type, timestamp, id) WHERE status = 'queued';
CREATE INDEX IF NOT EXISTS jobs_leases
	ON jobs (claimed_at) WHERE status = 'claimed';`

const schemaDatasets = `
CREATE TABLE IF NOT EXISTS datasets (
	key              TEXT PRIMARY KEY,
	query            TEXT        NOT NULL DEFAULT '',
	parameters       JSONB       NOT NULL DEFAULT '{}'::jsonb,
	result_file      TEXT        NOT NULL DEFAULT '',
	status           TEXT        NOT NULL DEFAULT '',
	type             TEXT        NOT NULL DEFAULT '',
	timestamp        TIMESTAMPTZ NOT NULL DEFAULT now(),
	is_finished      BOOLEAN     NOT NULL DEFAULT FALSE,
	num_rows         BIGINT      NOT NULL DEFAULT 0 CHECK (num_rows >= 0),
	key_parent       TEXT REFERENCES datasets (key) ON DELETE RESTRICT,
	software_version TEXT        NOT NULL DEFAULT '',
	job              BIGINT
);
CREATE UNIQUE INDEX IF NOT EXISTS datasets_result_file_uniq
	ON datasets (result_file) WHERE result_file <> '';
CREATE INDEX IF NOT EXISTS datasets_key_parent ON datasets (key_parent);
CREATE INDEX IF NOT EXISTS datasets_job ON datasets (job);`

const schemaPosts = `
CREATE TABLE IF NOT EXISTS %[1]s (
	id        BIGINT PRIMARY KEY,
	thread_id BIGINT NOT NULL,
	timestamp BIGINT NOT NULL,
	subject   TEXT   NOT NULL DEFAULT '',
	author    TEXT   NOT NULL DEFAULT '',
	body      TEXT   NOT NULL DEFAULT '',
	board     TEXT   NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS %[1]s_timestamp ON %[1]s (timestamp);
CREATE TABLE IF NOT EXISTS %[2]s (
	post_id BIGINT NOT NULL REFERENCES %[1]s (id) ON DELETE CASCADE,
	"group" TEXT   NOT NULL,
	PRIMARY KEY (post_id, "group")
);`

// Migrate creates the tables and indexes if they do not exist.
func Migrate(ctx context.Context, db DB, tables Tables) error {
	tables, err := tables.withDefaults()
	if err != nil {
		return err
	}
	steps := []struct {
		name string
		sql  string
	}{
		{"jobs", schemaJobs},
		{"datasets", schemaDatasets},
		{"posts", fmt.Sprintf(schemaPosts, tables.Posts, tables.Groups)},
	}
	for _, step := range steps {
		if _, err := db.Exec(ctx, step.sql); err != nil {
			return fmt.Errorf("migrate %s: %w", step.name, err)
		}
	}
	return nil
}
