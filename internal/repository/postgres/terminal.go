package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/SMI/cohort-tracker/internal/domain"
)

// CompleteJob moves the job and its sub-stores into completed storage in a
// single transaction. Any failure aborts the whole move.
func (s *pgJobStore) CompleteJob(ctx context.Context, jobID uuid.UUID) (*domain.CompletedJob, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, wrapPgError("complete job begin", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE job_id = $1 FOR UPDATE`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, s.missingJobError(ctx, jobID)
	}
	if err != nil {
		return nil, wrapPgError("complete job read", err)
	}
	if job.Status == domain.StatusFailed {
		return nil, &domain.InvalidStateError{Reason: "cannot complete failed job " + jobID.String()}
	}
	if job.IsPlaceholder() {
		return nil, &domain.ApplicationError{Reason: "job " + jobID.String() + " never received its submission event"}
	}

	expectations, err := loadExpectations(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	outcomes, err := loadOutcomes(ctx, tx, jobID)
	if err != nil {
		return nil, err
	}
	if len(expectations) == 0 {
		return nil, &domain.ApplicationError{Reason: "job " + jobID.String() + " has no expectation records"}
	}
	if len(outcomes) == 0 {
		return nil, &domain.ApplicationError{Reason: "job " + jobID.String() + " has no outcome records"}
	}

	now := time.Now().UTC()
	job.Status = domain.StatusCompleted
	completed := &domain.CompletedJob{
		Job:          *job,
		Expectations: expectations,
		Outcomes:     outcomes,
		CompletedAt:  now,
	}
	document, err := json.Marshal(completed)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode completed job: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO completed_jobs (job_id, completed_at, document) VALUES ($1, $2, $3)`,
		jobID, now, document,
	); err != nil {
		return nil, wrapPgError("insert completed job", err)
	}
	for _, stmt := range []string{
		`DELETE FROM job_file_outcomes WHERE job_id = $1`,
		`DELETE FROM job_expectations WHERE job_id = $1`,
		`DELETE FROM extraction_jobs WHERE job_id = $1`,
	} {
		if _, err := tx.Exec(ctx, stmt, jobID); err != nil {
			return nil, wrapPgError("delete in-progress state", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, wrapPgError("complete job commit", err)
	}
	return completed, nil
}

// FailJob freezes the job in place and copies it into quarantine, atomically.
// Sub-stores are deliberately kept so the failure can be inspected.
func (s *pgJobStore) FailJob(ctx context.Context, jobID uuid.UUID, cause error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return wrapPgError("fail job begin", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE job_id = $1 FOR UPDATE`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return s.missingJobError(ctx, jobID)
	}
	if err != nil {
		return wrapPgError("fail job read", err)
	}
	if job.Status == domain.StatusFailed {
		return &domain.InvalidStateError{Reason: "job " + jobID.String() + " is already failed"}
	}

	now := time.Now().UTC()
	message := cause.Error()
	if _, err := tx.Exec(ctx,
		`UPDATE extraction_jobs
		 SET status = $1, failure_message = $2, failed_at = $3, revision = revision + 1, updated_at = $3
		 WHERE job_id = $4`,
		domain.StatusFailed, message, now, jobID,
	); err != nil {
		return wrapPgError("fail job update", err)
	}

	job.Status = domain.StatusFailed
	job.FailureMessage = message
	job.FailedAt = &now
	quarantined := &domain.QuarantinedJob{
		JobID:          jobID,
		FailedAt:       now,
		FailureMessage: message,
		Job:            *job,
	}
	document, err := json.Marshal(quarantined)
	if err != nil {
		return fmt.Errorf("postgres: encode quarantined job: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO quarantined_jobs (job_id, failed_at, failure_message, document) VALUES ($1, $2, $3, $4)`,
		jobID, now, message, document,
	); err != nil {
		return wrapPgError("insert quarantined job", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapPgError("fail job commit", err)
	}
	return nil
}

// missingJobError distinguishes "never seen" from "already moved to terminal
// storage" for a job absent from the in-progress table.
func (s *pgJobStore) missingJobError(ctx context.Context, jobID uuid.UUID) error {
	terminal, err := s.TerminalExists(ctx, jobID)
	if err != nil {
		return err
	}
	if terminal {
		return &domain.InvalidStateError{Reason: "job " + jobID.String() + " already reached a terminal state"}
	}
	return domain.ErrJobNotFound
}

func loadExpectations(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]domain.ExpectationRecord, error) {
	rows, err := tx.Query(ctx,
		`SELECT key, expected_files, rejections FROM job_expectations WHERE job_id = $1 ORDER BY key`, jobID)
	if err != nil {
		return nil, wrapPgError("load expectations", err)
	}
	defer rows.Close()

	var out []domain.ExpectationRecord
	for rows.Next() {
		var rec domain.ExpectationRecord
		var files, rejections []byte
		if err := rows.Scan(&rec.Key, &files, &rejections); err != nil {
			return nil, wrapPgError("scan expectation", err)
		}
		if err := json.Unmarshal(files, &rec.ExpectedFiles); err != nil {
			return nil, fmt.Errorf("postgres: decode expected files: %w", err)
		}
		if err := json.Unmarshal(rejections, &rec.Rejections); err != nil {
			return nil, fmt.Errorf("postgres: decode rejections: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func loadOutcomes(ctx context.Context, tx pgx.Tx, jobID uuid.UUID) ([]domain.OutcomeRecord, error) {
	rows, err := tx.Query(ctx,
		`SELECT id, file_path, anonymised_file_name, status, status_message, is_verified_safe, verification_report
		 FROM job_file_outcomes WHERE job_id = $1 ORDER BY file_path`, jobID)
	if err != nil {
		return nil, wrapPgError("load outcomes", err)
	}
	defer rows.Close()

	var out []domain.OutcomeRecord
	for rows.Next() {
		var rec domain.OutcomeRecord
		if err := rows.Scan(&rec.ID, &rec.FilePath, &rec.AnonymisedFileName, &rec.Status,
			&rec.StatusMessage, &rec.IsVerifiedSafe, &rec.VerificationReport); err != nil {
			return nil, wrapPgError("scan outcome", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *pgJobStore) GetCompletedJob(ctx context.Context, jobID uuid.UUID) (*domain.CompletedJob, error) {
	var document []byte
	err := s.pool.QueryRow(ctx, `SELECT document FROM completed_jobs WHERE job_id = $1`, jobID).Scan(&document)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrCompletedJobNotFound
	}
	if err != nil {
		return nil, wrapPgError("get completed job", err)
	}
	completed := &domain.CompletedJob{}
	if err := json.Unmarshal(document, completed); err != nil {
		return nil, fmt.Errorf("postgres: decode completed job: %w", err)
	}
	return completed, nil
}

func (s *pgJobStore) ListQuarantined(ctx context.Context) ([]*domain.QuarantinedJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT document FROM quarantined_jobs ORDER BY failed_at`)
	if err != nil {
		return nil, wrapPgError("list quarantined", err)
	}
	defer rows.Close()

	var out []*domain.QuarantinedJob
	for rows.Next() {
		var document []byte
		if err := rows.Scan(&document); err != nil {
			return nil, wrapPgError("scan quarantined", err)
		}
		rec := &domain.QuarantinedJob{}
		if err := json.Unmarshal(document, rec); err != nil {
			return nil, fmt.Errorf("postgres: decode quarantined job: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
