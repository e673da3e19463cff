package usecase

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SMI/cohort-tracker/internal/domain"
	"github.com/SMI/cohort-tracker/internal/repository"
)

// ReportQueriesUsecase serves the downstream reporting component. Every query
// is a pure read against terminal storage.
type ReportQueriesUsecase struct {
	reader repository.CompletedJobReader
	logger *zap.Logger
}

// NewReportQueriesUsecase creates a new ReportQueriesUsecase.
func NewReportQueriesUsecase(reader repository.CompletedJobReader, logger *zap.Logger) *ReportQueriesUsecase {
	return &ReportQueriesUsecase{reader: reader, logger: logger}
}

// CompletedJob fetches the merged document for a completed job.
func (uc *ReportQueriesUsecase) CompletedJob(ctx context.Context, jobID uuid.UUID) (*domain.CompletedJob, error) {
	return uc.reader.GetCompletedJob(ctx, jobID)
}

// Rejections returns the flattened pre-dispatch rejection tallies of a
// completed job.
func (uc *ReportQueriesUsecase) Rejections(ctx context.Context, jobID uuid.UUID) (map[string]int, error) {
	completed, err := uc.reader.GetCompletedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return completed.Rejections(), nil
}

// AnonymisationFailures returns the outcomes whose anonymisation failed.
func (uc *ReportQueriesUsecase) AnonymisationFailures(ctx context.Context, jobID uuid.UUID) ([]domain.OutcomeRecord, error) {
	completed, err := uc.reader.GetCompletedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return completed.AnonymisationFailures(), nil
}

// VerificationFailures returns the outcomes judged identifiable by the
// content-safety check.
func (uc *ReportQueriesUsecase) VerificationFailures(ctx context.Context, jobID uuid.UUID) ([]domain.OutcomeRecord, error) {
	completed, err := uc.reader.GetCompletedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return completed.VerificationFailures(), nil
}

// MissingFiles returns the dispatched files that never produced an outcome.
func (uc *ReportQueriesUsecase) MissingFiles(ctx context.Context, jobID uuid.UUID) ([]string, error) {
	completed, err := uc.reader.GetCompletedJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	return completed.MissingFiles(), nil
}

// Quarantined lists all failed jobs held for manual triage.
func (uc *ReportQueriesUsecase) Quarantined(ctx context.Context) ([]*domain.QuarantinedJob, error) {
	return uc.reader.ListQuarantined(ctx)
}
