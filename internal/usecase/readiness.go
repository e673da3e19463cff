package usecase

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SMI/cohort-tracker/internal/domain"
	"github.com/SMI/cohort-tracker/internal/repository"
)

// evaluateReadiness recomputes the job's promotion predicates from durable
// counts and advances the status where they hold. It runs after every
// mutation and again on the ready-jobs query, so a promotion-triggering event
// racing either caller still lands. Promotion is a compare-and-swap on the
// status field, so concurrent evaluators collapse to a single winner.
func evaluateReadiness(ctx context.Context, store repository.JobStore, logger *zap.Logger, jobID uuid.UUID) error {
	job, err := store.GetJob(ctx, jobID)
	if errors.Is(err, domain.ErrJobNotFound) {
		// Completed concurrently; nothing left to promote.
		return nil
	}
	if err != nil {
		return err
	}
	if job.IsPlaceholder() || job.Status.IsTerminal() {
		return nil
	}

	totals, err := store.ExpectationTotals(ctx, jobID)
	if err != nil {
		return err
	}

	if job.Status == domain.StatusWaitingForCollectionInfo {
		if totals.KeyCount < *job.ExpectedKeyCount {
			return nil
		}
		advanced, err := store.AdvanceStatus(ctx, jobID, domain.StatusWaitingForCollectionInfo, domain.StatusWaitingForStatuses)
		if err != nil {
			return err
		}
		if advanced {
			logger.Info("All expectation keys collected",
				zap.String("job_id", jobID.String()),
				zap.Int("key_count", totals.KeyCount),
			)
		}
		job.Status = domain.StatusWaitingForStatuses
	}

	if job.Status == domain.StatusWaitingForStatuses {
		received, err := store.OutcomeCount(ctx, jobID)
		if err != nil {
			return err
		}
		if received < totals.FileCount {
			return nil
		}
		advanced, err := store.AdvanceStatus(ctx, jobID, domain.StatusWaitingForStatuses, domain.StatusReadyForChecks)
		if err != nil {
			return err
		}
		if advanced {
			logger.Info("All file outcomes collected",
				zap.String("job_id", jobID.String()),
				zap.Int("outcome_count", received),
			)
		}
	}
	return nil
}
