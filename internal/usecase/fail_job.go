package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SMI/cohort-tracker/internal/repository"
)

// FailJobUsecase performs the failure-path terminal transition: freeze the
// job with the causing error and quarantine it for manual triage. There is no
// automatic recovery from a failed job.
type FailJobUsecase struct {
	store  repository.JobStore
	logger *zap.Logger
}

// NewFailJobUsecase creates a new FailJobUsecase.
func NewFailJobUsecase(store repository.JobStore, logger *zap.Logger) *FailJobUsecase {
	return &FailJobUsecase{store: store, logger: logger}
}

// Execute fails the job. Failing is a one-way transition: re-failing an
// already-failed job is rejected, and the job's sub-stores are kept so the
// failure can be inspected.
func (uc *FailJobUsecase) Execute(ctx context.Context, jobID uuid.UUID, cause error) error {
	if cause == nil {
		cause = errors.New("unspecified failure")
	}
	if err := uc.store.FailJob(ctx, jobID, cause); err != nil {
		uc.logger.Warn("Job failure rejected", zap.String("job_id", jobID.String()), zap.Error(err))
		return err
	}

	uc.logger.Error("Job failed and quarantined",
		zap.String("job_id", jobID.String()),
		zap.String("cause", cause.Error()),
	)
	return nil
}
