package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/SMI/cohort-tracker/internal/usecase"
)

// ReportHandler serves the reporting collaborator's reads against terminal
// storage.
type ReportHandler struct {
	reportsUC *usecase.ReportQueriesUsecase
	logger    *zap.Logger
}

// NewReportHandler creates a new ReportHandler.
func NewReportHandler(reportsUC *usecase.ReportQueriesUsecase, logger *zap.Logger) *ReportHandler {
	return &ReportHandler{reportsUC: reportsUC, logger: logger}
}

// GetCompleted handles GET /api/v1/jobs/completed/:id
func (h *ReportHandler) GetCompleted(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	completed, err := h.reportsUC.CompletedJob(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, completed)
}

// Rejections handles GET /api/v1/jobs/completed/:id/rejections
func (h *ReportHandler) Rejections(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	rejections, err := h.reportsUC.Rejections(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"rejections": rejections})
}

// AnonymisationFailures handles GET /api/v1/jobs/completed/:id/anonymisation-failures
func (h *ReportHandler) AnonymisationFailures(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	failures, err := h.reportsUC.AnonymisationFailures(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": failures})
}

// VerificationFailures handles GET /api/v1/jobs/completed/:id/verification-failures
func (h *ReportHandler) VerificationFailures(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	failures, err := h.reportsUC.VerificationFailures(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"failures": failures})
}

// MissingFiles handles GET /api/v1/jobs/completed/:id/missing-files
func (h *ReportHandler) MissingFiles(c *gin.Context) {
	id, ok := parseJobID(c)
	if !ok {
		return
	}
	missing, err := h.reportsUC.MissingFiles(c.Request.Context(), id)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"missing_files": missing})
}

// ListQuarantined handles GET /api/v1/jobs/quarantined
func (h *ReportHandler) ListQuarantined(c *gin.Context) {
	quarantined, err := h.reportsUC.Quarantined(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": quarantined})
}
