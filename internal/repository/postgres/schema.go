package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ddl is applied at startup. Statements are idempotent so every instance can
// run them unconditionally.
var ddl = []string{
	`CREATE TABLE IF NOT EXISTS extraction_jobs (
		job_id               uuid PRIMARY KEY,
		submitted_at         timestamptz NOT NULL,
		project_number       text NOT NULL DEFAULT '',
		extraction_directory text NOT NULL DEFAULT '',
		key_tag              text NOT NULL DEFAULT '',
		expected_key_count   int,
		modality             text NOT NULL DEFAULT '',
		is_identifiable      boolean NOT NULL DEFAULT false,
		is_no_filter         boolean NOT NULL DEFAULT false,
		status               text NOT NULL,
		failure_message      text NOT NULL DEFAULT '',
		failed_at            timestamptz,
		producer_header      jsonb NOT NULL DEFAULT '{}'::jsonb,
		revision             int NOT NULL DEFAULT 1,
		created_at           timestamptz NOT NULL,
		updated_at           timestamptz NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS extraction_jobs_status_idx ON extraction_jobs (status)`,

	`CREATE TABLE IF NOT EXISTS job_expectations (
		job_id              uuid NOT NULL,
		key                 text NOT NULL,
		expected_files      jsonb NOT NULL DEFAULT '[]'::jsonb,
		expected_file_count int NOT NULL DEFAULT 0,
		rejections          jsonb NOT NULL DEFAULT '{}'::jsonb,
		created_at          timestamptz NOT NULL,
		PRIMARY KEY (job_id, key)
	)`,

	`CREATE TABLE IF NOT EXISTS job_file_outcomes (
		id                   uuid PRIMARY KEY,
		job_id               uuid NOT NULL,
		file_path            text NOT NULL DEFAULT '',
		anonymised_file_name text NOT NULL DEFAULT '',
		status               text NOT NULL DEFAULT '',
		status_message       text NOT NULL DEFAULT '',
		is_verified_safe     boolean,
		verification_report  text NOT NULL DEFAULT '',
		created_at           timestamptz NOT NULL,
		updated_at           timestamptz NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS job_file_outcomes_path_idx
		ON job_file_outcomes (job_id, file_path) WHERE file_path <> ''`,
	`CREATE UNIQUE INDEX IF NOT EXISTS job_file_outcomes_anon_idx
		ON job_file_outcomes (job_id, anonymised_file_name) WHERE anonymised_file_name <> ''`,
	`CREATE INDEX IF NOT EXISTS job_file_outcomes_job_idx ON job_file_outcomes (job_id)`,

	`CREATE TABLE IF NOT EXISTS completed_jobs (
		job_id       uuid PRIMARY KEY,
		completed_at timestamptz NOT NULL,
		document     jsonb NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS quarantined_jobs (
		job_id          uuid PRIMARY KEY,
		failed_at       timestamptz NOT NULL,
		failure_message text NOT NULL,
		document        jsonb NOT NULL
	)`,
}

// EnsureSchema creates the tracker tables if they do not exist.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range ddl {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: ensure schema: %w", err)
		}
	}
	return nil
}
