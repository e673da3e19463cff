package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SMI/cohort-tracker/internal/domain"
	"github.com/SMI/cohort-tracker/internal/repository"
)

// Ensure pgJobStore implements both store interfaces.
var (
	_ repository.JobStore           = (*pgJobStore)(nil)
	_ repository.CompletedJobReader = (*pgJobStore)(nil)
)

type pgJobStore struct {
	pool *pgxpool.Pool
}

// NewPostgresJobStore creates a new PostgreSQL-backed job store.
func NewPostgresJobStore(pool *pgxpool.Pool) *pgJobStore {
	return &pgJobStore{pool: pool}
}

const jobColumns = `job_id, submitted_at, project_number, extraction_directory, key_tag,
	expected_key_count, modality, is_identifiable, is_no_filter, status,
	failure_message, failed_at, producer_header, revision, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.JobRecord, error) {
	job := &domain.JobRecord{}
	var header []byte
	err := row.Scan(
		&job.JobID, &job.SubmittedAt, &job.ProjectNumber, &job.ExtractionDirectory, &job.KeyTag,
		&job.ExpectedKeyCount, &job.Modality, &job.IsIdentifiable, &job.IsNoFilter, &job.Status,
		&job.FailureMessage, &job.FailedAt, &header, &job.Revision, &job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(header) > 0 {
		if err := json.Unmarshal(header, &job.ProducerHeader); err != nil {
			return nil, fmt.Errorf("decode producer header: %w", err)
		}
	}
	return job, nil
}

func marshalHeader(header domain.MessageHeader) []byte {
	b, _ := json.Marshal(header)
	return b
}

// wrapPgError maps serialization and deadlock aborts to TransientStoreError so
// callers retry with fresh reads; everything else is wrapped as-is.
func wrapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return &domain.TransientStoreError{Reason: op + ": " + pgErr.Message}
		}
	}
	return fmt.Errorf("postgres: %s: %w", op, err)
}

func (s *pgJobStore) RegisterJob(ctx context.Context, evt *domain.JobSubmitted) (*domain.JobRecord, error) {
	terminal, err := s.TerminalExists(ctx, evt.JobID)
	if err != nil {
		return nil, err
	}
	if terminal {
		return nil, &domain.ConflictError{Reason: "job " + evt.JobID.String() + " already reached a terminal state"}
	}

	now := time.Now().UTC()
	insert := `
		INSERT INTO extraction_jobs (` + jobColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, '', NULL, $11, 1, $12, $12)
		ON CONFLICT (job_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, insert,
		evt.JobID, now, evt.ProjectNumber, evt.ExtractionDirectory, evt.KeyTag,
		evt.ExpectedKeyCount, evt.Modality, evt.IsIdentifiable, evt.IsNoFilter,
		domain.StatusWaitingForCollectionInfo, marshalHeader(evt.MessageHeader), now,
	)
	if err != nil {
		return nil, wrapPgError("register job", err)
	}
	if tag.RowsAffected() == 1 {
		return s.GetJob(ctx, evt.JobID)
	}

	// A record already exists: either a placeholder from an early expectation
	// event, or a redelivered submission.
	job, err := s.GetJob(ctx, evt.JobID)
	if err != nil {
		return nil, err
	}
	if job.Status == domain.StatusFailed {
		return nil, &domain.InvalidStateError{Reason: "job " + evt.JobID.String() + " is failed"}
	}
	if !job.IsPlaceholder() {
		// Redelivery of the submission event; nothing to merge.
		return job, nil
	}

	fill := `
		UPDATE extraction_jobs
		SET submitted_at = $1, project_number = $2, extraction_directory = $3,
		    key_tag = $4, expected_key_count = $5, modality = $6,
		    is_identifiable = $7, is_no_filter = $8, producer_header = $9,
		    revision = revision + 1, updated_at = $10
		WHERE job_id = $11 AND expected_key_count IS NULL`

	tag, err = s.pool.Exec(ctx, fill,
		now, evt.ProjectNumber, evt.ExtractionDirectory,
		evt.KeyTag, evt.ExpectedKeyCount, evt.Modality,
		evt.IsIdentifiable, evt.IsNoFilter, marshalHeader(evt.MessageHeader),
		now, evt.JobID,
	)
	if err != nil {
		return nil, wrapPgError("fill placeholder", err)
	}
	if tag.RowsAffected() == 0 {
		// Lost the race to a concurrent filler; a fresh read resolves it.
		return nil, &domain.TransientStoreError{Reason: "placeholder for " + evt.JobID.String() + " changed concurrently"}
	}
	return s.GetJob(ctx, evt.JobID)
}

func (s *pgJobStore) EnsureJob(ctx context.Context, jobID uuid.UUID, header domain.MessageHeader) (*domain.JobRecord, error) {
	now := time.Now().UTC()
	insert := `
		INSERT INTO extraction_jobs (job_id, submitted_at, status, producer_header, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $2, $2)
		ON CONFLICT (job_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, insert, jobID, now, domain.StatusWaitingForCollectionInfo, marshalHeader(header)); err != nil {
		return nil, wrapPgError("ensure job", err)
	}
	return s.GetJob(ctx, jobID)
}

func (s *pgJobStore) GetJob(ctx context.Context, jobID uuid.UUID) (*domain.JobRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM extraction_jobs WHERE job_id = $1`, jobID)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		return nil, wrapPgError("get job", err)
	}
	return job, nil
}

func (s *pgJobStore) ListJobs(ctx context.Context, statuses []domain.JobStatus, jobID *uuid.UUID) ([]*domain.JobRecord, error) {
	query := `SELECT ` + jobColumns + ` FROM extraction_jobs WHERE status = ANY($1)`
	args := []any{statuses}
	if jobID != nil {
		query += ` AND job_id = $2`
		args = append(args, *jobID)
	}
	query += ` ORDER BY submitted_at`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapPgError("list jobs", err)
	}
	defer rows.Close()

	var jobs []*domain.JobRecord
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, wrapPgError("list jobs scan", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapPgError("list jobs", err)
	}
	return jobs, nil
}

func (s *pgJobStore) UpsertExpectation(ctx context.Context, jobID uuid.UUID, rec *domain.ExpectationRecord, header domain.MessageHeader) error {
	files, err := json.Marshal(rec.ExpectedFiles)
	if err != nil {
		return fmt.Errorf("postgres: encode expected files: %w", err)
	}
	rejections, err := json.Marshal(rec.Rejections)
	if err != nil {
		return fmt.Errorf("postgres: encode rejections: %w", err)
	}

	now := time.Now().UTC()
	insert := `
		INSERT INTO job_expectations (job_id, key, expected_files, expected_file_count, rejections, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (job_id, key) DO NOTHING`
	if _, err := s.pool.Exec(ctx, insert, jobID, rec.Key, files, len(rec.ExpectedFiles), rejections, now); err != nil {
		return wrapPgError("upsert expectation", err)
	}
	return s.touchJob(ctx, jobID, header, now)
}

func (s *pgJobStore) WriteOutcome(ctx context.Context, jobID uuid.UUID, rec *domain.OutcomeRecord, header domain.MessageHeader) error {
	now := time.Now().UTC()

	// A verification verdict may have arrived first and left a stub keyed by
	// the anonymised file name; merge into it if so.
	if rec.AnonymisedFileName != "" {
		merge := `
			UPDATE job_file_outcomes
			SET file_path = $1, status = $2, status_message = $3, updated_at = $4
			WHERE job_id = $5 AND anonymised_file_name = $6 AND file_path = ''`
		tag, err := s.pool.Exec(ctx, merge, rec.FilePath, rec.Status, rec.StatusMessage, now, jobID, rec.AnonymisedFileName)
		if err != nil {
			return wrapPgError("merge outcome into stub", err)
		}
		if tag.RowsAffected() == 1 {
			return s.touchJob(ctx, jobID, header, now)
		}
	}

	insert := `
		INSERT INTO job_file_outcomes (id, job_id, file_path, anonymised_file_name, status, status_message, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7)`
	_, err := s.pool.Exec(ctx, insert, uuid.New(), jobID, rec.FilePath, rec.AnonymisedFileName, rec.Status, rec.StatusMessage, now)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if pgErr.ConstraintName == "job_file_outcomes_anon_idx" {
				// A stub appeared between the merge attempt and the insert;
				// a retry will take the merge path.
				return &domain.TransientStoreError{Reason: "verification stub raced outcome for " + rec.FilePath}
			}
			return domain.Validationf("duplicate outcome for file " + rec.FilePath)
		}
		return wrapPgError("write outcome", err)
	}
	return s.touchJob(ctx, jobID, header, now)
}

func (s *pgJobStore) MergeVerification(ctx context.Context, jobID uuid.UUID, res *domain.VerificationResult, header domain.MessageHeader) error {
	now := time.Now().UTC()
	safe := !res.IsIdentifiable

	merge := `
		UPDATE job_file_outcomes
		SET is_verified_safe = $1, verification_report = $2, updated_at = $3
		WHERE job_id = $4 AND anonymised_file_name = $5`
	tag, err := s.pool.Exec(ctx, merge, safe, res.Report, now, jobID, res.AnonymisedFileName)
	if err != nil {
		return wrapPgError("merge verification", err)
	}
	if tag.RowsAffected() == 1 {
		return s.touchJob(ctx, jobID, header, now)
	}

	// The anonymisation outcome has not arrived yet; leave a stub for it.
	insert := `
		INSERT INTO job_file_outcomes (id, job_id, anonymised_file_name, is_verified_safe, verification_report, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)`
	if _, err := s.pool.Exec(ctx, insert, uuid.New(), jobID, res.AnonymisedFileName, safe, res.Report, now); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return &domain.TransientStoreError{Reason: "outcome raced verification for " + res.AnonymisedFileName}
		}
		return wrapPgError("write verification stub", err)
	}
	return s.touchJob(ctx, jobID, header, now)
}

// touchJob records the provenance of the last mutating event on the parent
// record. Informational only, so no revision precondition.
func (s *pgJobStore) touchJob(ctx context.Context, jobID uuid.UUID, header domain.MessageHeader, now time.Time) error {
	update := `
		UPDATE extraction_jobs
		SET producer_header = $1, revision = revision + 1, updated_at = $2
		WHERE job_id = $3`
	if _, err := s.pool.Exec(ctx, update, marshalHeader(header), now, jobID); err != nil {
		return wrapPgError("touch job", err)
	}
	return nil
}

func (s *pgJobStore) ExpectationTotals(ctx context.Context, jobID uuid.UUID) (*domain.ExpectationTotals, error) {
	query := `SELECT COUNT(*), COALESCE(SUM(expected_file_count), 0) FROM job_expectations WHERE job_id = $1`
	totals := &domain.ExpectationTotals{}
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&totals.KeyCount, &totals.FileCount); err != nil {
		return nil, wrapPgError("expectation totals", err)
	}
	return totals, nil
}

func (s *pgJobStore) OutcomeCount(ctx context.Context, jobID uuid.UUID) (int, error) {
	// Verification-only stubs have an empty file path and do not count as
	// received outcomes.
	query := `SELECT COUNT(*) FROM job_file_outcomes WHERE job_id = $1 AND file_path <> ''`
	var n int
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&n); err != nil {
		return 0, wrapPgError("outcome count", err)
	}
	return n, nil
}

func (s *pgJobStore) AdvanceStatus(ctx context.Context, jobID uuid.UUID, from, to domain.JobStatus) (bool, error) {
	update := `
		UPDATE extraction_jobs
		SET status = $1, revision = revision + 1, updated_at = $2
		WHERE job_id = $3 AND status = $4`
	tag, err := s.pool.Exec(ctx, update, to, time.Now().UTC(), jobID, from)
	if err != nil {
		return false, wrapPgError("advance status", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *pgJobStore) TerminalExists(ctx context.Context, jobID uuid.UUID) (bool, error) {
	query := `
		SELECT EXISTS (SELECT 1 FROM completed_jobs WHERE job_id = $1)
		    OR EXISTS (SELECT 1 FROM quarantined_jobs WHERE job_id = $1)`
	var exists bool
	if err := s.pool.QueryRow(ctx, query, jobID).Scan(&exists); err != nil {
		return false, wrapPgError("terminal exists", err)
	}
	return exists, nil
}
