package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SMI/cohort-tracker/internal/domain"
	"github.com/SMI/cohort-tracker/internal/repository"
)

// maxTransientRetries bounds how often an operation is re-run after an
// optimistic-write precondition failure. Each retry starts from fresh reads.
const maxTransientRetries = 3

// IngestEventUsecase is the single ingestion entry point of the aggregation
// engine. It dispatches on event kind, mutates the stores and re-evaluates
// readiness after every mutation.
type IngestEventUsecase struct {
	store  repository.JobStore
	logger *zap.Logger
}

// NewIngestEventUsecase creates a new IngestEventUsecase.
func NewIngestEventUsecase(store repository.JobStore, logger *zap.Logger) *IngestEventUsecase {
	return &IngestEventUsecase{store: store, logger: logger}
}

// Execute validates the event and applies it to the job's durable state.
// Returned errors follow the engine taxonomy; the caller maps them to
// ack/nack decisions.
func (uc *IngestEventUsecase) Execute(ctx context.Context, evt domain.Event) error {
	if err := evt.Validate(); err != nil {
		return err
	}

	switch e := evt.(type) {
	case *domain.JobSubmitted:
		return uc.retryTransient(ctx, func() error { return uc.ingestJobSubmitted(ctx, e) })
	case *domain.KeyExpectationReported:
		return uc.retryTransient(ctx, func() error { return uc.ingestKeyExpectation(ctx, e) })
	case *domain.FileOutcomeReported:
		return uc.retryTransient(ctx, func() error { return uc.ingestFileOutcome(ctx, e) })
	case *domain.FileVerificationReported:
		return uc.retryTransient(ctx, func() error { return uc.ingestFileVerification(ctx, e) })
	default:
		return domain.Validationf(fmt.Sprintf("unknown event kind %q", evt.Kind()))
	}
}

// retryTransient re-runs fn after optimistic-concurrency misses. Anything
// other than a TransientStoreError is returned as-is.
func (uc *IngestEventUsecase) retryTransient(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= maxTransientRetries; attempt++ {
		if err = fn(); err == nil || !domain.IsTransient(err) {
			return err
		}
		uc.logger.Debug("Retrying after store contention", zap.Int("attempt", attempt+1), zap.Error(err))
	}
	return err
}

func (uc *IngestEventUsecase) ingestJobSubmitted(ctx context.Context, evt *domain.JobSubmitted) error {
	job, err := uc.store.RegisterJob(ctx, evt)
	if err != nil {
		return err
	}

	uc.logger.Info("Job registered",
		zap.String("job_id", evt.JobID.String()),
		zap.String("key_tag", evt.KeyTag),
		zap.Int("expected_key_count", evt.ExpectedKeyCount),
	)

	// Expectation events may have arrived before the submission; the job can
	// be ready to advance the moment its expected key count is known.
	if !job.Status.IsTerminal() {
		return uc.evaluateReadiness(ctx, evt.JobID)
	}
	return nil
}

func (uc *IngestEventUsecase) ingestKeyExpectation(ctx context.Context, evt *domain.KeyExpectationReported) error {
	job, err := uc.ensureAcceptingJob(ctx, evt.JobID, evt.MessageHeader)
	if err != nil {
		return err
	}

	if err := uc.store.UpsertExpectation(ctx, evt.JobID, evt.Record(), evt.MessageHeader); err != nil {
		return err
	}

	uc.logger.Debug("Expectation recorded",
		zap.String("job_id", evt.JobID.String()),
		zap.String("key", evt.Key),
		zap.Int("dispatched_files", len(evt.DispatchedFiles)),
		zap.String("status", string(job.Status)),
	)
	return uc.evaluateReadiness(ctx, evt.JobID)
}

func (uc *IngestEventUsecase) ingestFileOutcome(ctx context.Context, evt *domain.FileOutcomeReported) error {
	if _, err := uc.ensureAcceptingJob(ctx, evt.JobID, evt.MessageHeader); err != nil {
		return err
	}

	if err := uc.store.WriteOutcome(ctx, evt.JobID, evt.Record(), evt.MessageHeader); err != nil {
		return err
	}

	uc.logger.Debug("File outcome recorded",
		zap.String("job_id", evt.JobID.String()),
		zap.String("file_path", evt.FilePath),
		zap.String("status", string(evt.Status)),
	)
	return uc.evaluateReadiness(ctx, evt.JobID)
}

func (uc *IngestEventUsecase) ingestFileVerification(ctx context.Context, evt *domain.FileVerificationReported) error {
	if _, err := uc.ensureAcceptingJob(ctx, evt.JobID, evt.MessageHeader); err != nil {
		return err
	}

	if err := uc.store.MergeVerification(ctx, evt.JobID, evt.Result(), evt.MessageHeader); err != nil {
		return err
	}

	uc.logger.Debug("Verification recorded",
		zap.String("job_id", evt.JobID.String()),
		zap.String("anonymised_file_name", evt.AnonymisedFileName),
		zap.Bool("is_identifiable", evt.IsIdentifiable),
	)
	return uc.evaluateReadiness(ctx, evt.JobID)
}

// ensureAcceptingJob returns the job record, creating a placeholder when the
// event beat the job-submitted event. Jobs that already reached a terminal
// state cannot accept further events.
func (uc *IngestEventUsecase) ensureAcceptingJob(ctx context.Context, jobID uuid.UUID, header domain.MessageHeader) (*domain.JobRecord, error) {
	job, err := uc.store.GetJob(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		terminal, terr := uc.store.TerminalExists(ctx, jobID)
		if terr != nil {
			return nil, terr
		}
		if terminal {
			return nil, &domain.InvalidStateError{Reason: "job " + jobID.String() + " already reached a terminal state"}
		}
		return uc.store.EnsureJob(ctx, jobID, header)
	}
	if err != nil {
		return nil, err
	}
	if job.Status == domain.StatusFailed {
		return nil, &domain.InvalidStateError{Reason: "job " + jobID.String() + " is failed"}
	}
	return job, nil
}

func (uc *IngestEventUsecase) evaluateReadiness(ctx context.Context, jobID uuid.UUID) error {
	return evaluateReadiness(ctx, uc.store, uc.logger, jobID)
}
