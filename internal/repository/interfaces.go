package repository

import (
	"context"

	"github.com/google/uuid"

	"github.com/SMI/cohort-tracker/internal/domain"
)

// JobStore defines the persistence operations the aggregation engine depends
// on. Implementations must be safe for concurrent use across processes:
// single-record mutations use optimistic preconditions and surface
// TransientStoreError on contention; CompleteJob and FailJob are atomic across
// all of a job's records.
type JobStore interface {
	// RegisterJob creates the job record from a job-submitted event, or
	// merges the event's fields into a placeholder record created by an
	// earlier expectation event. Redelivery against a fully populated record
	// is a no-op. Returns ConflictError if the job already reached terminal
	// storage and InvalidStateError if it is failed.
	RegisterJob(ctx context.Context, evt *domain.JobSubmitted) (*domain.JobRecord, error)

	// EnsureJob returns the job record, creating a placeholder in
	// WaitingForCollectionInfo if none exists yet.
	EnsureJob(ctx context.Context, jobID uuid.UUID, header domain.MessageHeader) (*domain.JobRecord, error)

	// GetJob retrieves the in-progress job record.
	GetJob(ctx context.Context, jobID uuid.UUID) (*domain.JobRecord, error)

	// ListJobs returns in-progress jobs in any of the given statuses,
	// optionally filtered to a single job ID.
	ListJobs(ctx context.Context, statuses []domain.JobStatus, jobID *uuid.UUID) ([]*domain.JobRecord, error)

	// UpsertExpectation inserts the expectation record for one extraction
	// key. Redelivery for an already-recorded key is a no-op.
	UpsertExpectation(ctx context.Context, jobID uuid.UUID, rec *domain.ExpectationRecord, header domain.MessageHeader) error

	// WriteOutcome writes the outcome record for one produced file, merging
	// into a stub created by an earlier verification event if present.
	// A duplicate outcome for the same file is a ValidationError.
	WriteOutcome(ctx context.Context, jobID uuid.UUID, rec *domain.OutcomeRecord, header domain.MessageHeader) error

	// MergeVerification merges a content-safety verdict into the outcome
	// record for the named output file, or creates a stub if the outcome
	// event has not arrived yet.
	MergeVerification(ctx context.Context, jobID uuid.UUID, res *domain.VerificationResult, header domain.MessageHeader) error

	// ExpectationTotals returns the durable expectation counts for a job.
	ExpectationTotals(ctx context.Context, jobID uuid.UUID) (*domain.ExpectationTotals, error)

	// OutcomeCount returns the number of outcome records written for a job,
	// excluding verification-only stubs.
	OutcomeCount(ctx context.Context, jobID uuid.UUID) (int, error)

	// AdvanceStatus atomically moves the job from one status to the next.
	// Returns false without error if the job was no longer in the expected
	// status (a concurrent promoter won).
	AdvanceStatus(ctx context.Context, jobID uuid.UUID, from, to domain.JobStatus) (bool, error)

	// TerminalExists reports whether the job ID is present in completed or
	// quarantined storage.
	TerminalExists(ctx context.Context, jobID uuid.UUID) (bool, error)

	// CompleteJob atomically merges the job record and its sub-stores into a
	// single completed document, inserts it into completed storage and
	// removes all in-progress state. Aborts leave everything untouched.
	CompleteJob(ctx context.Context, jobID uuid.UUID) (*domain.CompletedJob, error)

	// FailJob atomically freezes the job with the cause of failure and
	// copies it into quarantine. Sub-stores are kept for triage.
	FailJob(ctx context.Context, jobID uuid.UUID, cause error) error
}

// CompletedJobReader serves the reporting collaborator. Pure reads against
// completed and quarantined storage, no business logic.
type CompletedJobReader interface {
	// GetCompletedJob fetches the merged document for a completed job.
	GetCompletedJob(ctx context.Context, jobID uuid.UUID) (*domain.CompletedJob, error)

	// ListQuarantined returns all failed jobs held for triage.
	ListQuarantined(ctx context.Context) ([]*domain.QuarantinedJob, error)
}

// DedupStore defines the interface for distributed message deduplication.
// Best effort: the engine stays idempotent even when dedup misses.
type DedupStore interface {
	// FirstDelivery attempts to mark a bus message as seen. Returns true on
	// first delivery, false when the message was already processed.
	FirstDelivery(ctx context.Context, messageID uuid.UUID) (bool, error)

	// Forget drops the seen-marker so a nacked message can be reprocessed
	// after redelivery.
	Forget(ctx context.Context, messageID uuid.UUID) error
}
