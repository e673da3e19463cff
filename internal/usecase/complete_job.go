package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SMI/cohort-tracker/internal/domain"
	"github.com/SMI/cohort-tracker/internal/repository"
)

// CompleteJobUsecase performs the success-path terminal transition: merge the
// job and its sub-stores into one completed document and move it to completed
// storage in a single transaction.
type CompleteJobUsecase struct {
	store  repository.JobStore
	logger *zap.Logger
}

// NewCompleteJobUsecase creates a new CompleteJobUsecase.
func NewCompleteJobUsecase(store repository.JobStore, logger *zap.Logger) *CompleteJobUsecase {
	return &CompleteJobUsecase{store: store, logger: logger}
}

// Execute completes the job. If the store transaction aborts for any reason
// the job is left exactly as it was.
func (uc *CompleteJobUsecase) Execute(ctx context.Context, jobID uuid.UUID) (*domain.CompletedJob, error) {
	completed, err := uc.store.CompleteJob(ctx, jobID)
	if err != nil {
		uc.logger.Warn("Job completion rejected", zap.String("job_id", jobID.String()), zap.Error(err))
		return nil, err
	}

	uc.logger.Info("Job completed",
		zap.String("job_id", jobID.String()),
		zap.Int("expectation_keys", len(completed.Expectations)),
		zap.Int("file_outcomes", len(completed.Outcomes)),
	)
	return completed, nil
}
