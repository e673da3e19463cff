package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SMI/cohort-tracker/internal/domain"
	"github.com/SMI/cohort-tracker/internal/metrics"
	"github.com/SMI/cohort-tracker/internal/usecase"
)

// JobHandler exposes the engine's command and query surface to operators and
// the downstream completion checker.
type JobHandler struct {
	listReadyUC *usecase.ListReadyJobsUsecase
	completeUC  *usecase.CompleteJobUsecase
	failUC      *usecase.FailJobUsecase
	logger      *zap.Logger
}

// NewJobHandler creates a new JobHandler.
func NewJobHandler(listReadyUC *usecase.ListReadyJobsUsecase, completeUC *usecase.CompleteJobUsecase, failUC *usecase.FailJobUsecase, logger *zap.Logger) *JobHandler {
	return &JobHandler{
		listReadyUC: listReadyUC,
		completeUC:  completeUC,
		failUC:      failUC,
		logger:      logger,
	}
}

// respondError maps the engine error taxonomy onto HTTP statuses.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var (
		validation *domain.ValidationError
		state      *domain.InvalidStateError
		conflict   *domain.ConflictError
		app        *domain.ApplicationError
		transient  *domain.TransientStoreError
	)
	switch {
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrCompletedJobNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &state), errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &app):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.As(err, &transient):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		logger.Error("Request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func parseJobID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job ID format"})
		return uuid.Nil, false
	}
	return id, true
}

// ListReady handles GET /api/v1/jobs/ready[?job_id=...]
func (h *JobHandler) ListReady(c *gin.Context) {
	var jobID *uuid.UUID
	if raw := c.Query("job_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid job_id filter"})
			return
		}
		jobID = &id
	}

	jobs, err := h.listReadyUC.Execute(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// Complete handles POST /api/v1/jobs/:id/complete
func (h *JobHandler) Complete(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}

	completed, err := h.completeUC.Execute(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	metrics.TerminalTransitions.WithLabelValues("completed").Inc()
	c.JSON(http.StatusOK, completed)
}

type failRequest struct {
	Reason string `json:"reason" binding:"required"`
}

// Fail handles POST /api/v1/jobs/:id/fail
func (h *JobHandler) Fail(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}

	var req failRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
		return
	}

	if err := h.failUC.Execute(c.Request.Context(), id, errors.New(req.Reason)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	metrics.TerminalTransitions.WithLabelValues("failed").Inc()
	c.JSON(http.StatusOK, gin.H{"job_id": id, "status": domain.StatusFailed})
}
