package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SMI/cohort-tracker/internal/domain"
	"github.com/SMI/cohort-tracker/internal/repository"
)

// ListReadyJobsUsecase returns the jobs that have collected every expected
// report and are waiting for their completion checks.
type ListReadyJobsUsecase struct {
	store  repository.JobStore
	logger *zap.Logger
}

// NewListReadyJobsUsecase creates a new ListReadyJobsUsecase.
func NewListReadyJobsUsecase(store repository.JobStore, logger *zap.Logger) *ListReadyJobsUsecase {
	return &ListReadyJobsUsecase{store: store, logger: logger}
}

// Execute lists ReadyForChecks jobs, optionally filtered to one job ID. It
// first re-runs the readiness check for every waiting job, picking up any
// promotion whose triggering event raced the query. Failed jobs are never
// returned.
func (uc *ListReadyJobsUsecase) Execute(ctx context.Context, jobID *uuid.UUID) ([]domain.JobSummary, error) {
	waiting, err := uc.store.ListJobs(ctx, []domain.JobStatus{
		domain.StatusWaitingForCollectionInfo,
		domain.StatusWaitingForStatuses,
	}, jobID)
	if err != nil {
		return nil, err
	}
	for _, job := range waiting {
		if err := evaluateReadiness(ctx, uc.store, uc.logger, job.JobID); err != nil {
			return nil, err
		}
	}

	ready, err := uc.store.ListJobs(ctx, []domain.JobStatus{domain.StatusReadyForChecks}, jobID)
	if err != nil {
		return nil, err
	}
	summaries := make([]domain.JobSummary, 0, len(ready))
	for _, job := range ready {
		summaries = append(summaries, job.Summary())
	}
	return summaries, nil
}
