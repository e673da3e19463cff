package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/SMI/cohort-tracker/internal/delivery/http/middleware"
	"github.com/SMI/cohort-tracker/internal/usecase"
)

// NewRouter creates and configures the Gin router with all routes and middleware.
func NewRouter(
	listReadyUC *usecase.ListReadyJobsUsecase,
	completeUC *usecase.CompleteJobUsecase,
	failUC *usecase.FailJobUsecase,
	reportsUC *usecase.ReportQueriesUsecase,
	logger *zap.Logger,
) *gin.Engine {
	router := gin.New()

	// Global middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))

	// Metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 group
	v1 := router.Group("/api/v1")
	{
		healthHandler := NewHealthHandler(logger)
		v1.GET("/health", healthHandler.Health)

		jobHandler := NewJobHandler(listReadyUC, completeUC, failUC, logger)
		v1.GET("/jobs/ready", jobHandler.ListReady)
		v1.POST("/jobs/:id/complete", jobHandler.Complete)
		v1.POST("/jobs/:id/fail", jobHandler.Fail)

		reportHandler := NewReportHandler(reportsUC, logger)
		v1.GET("/jobs/quarantined", reportHandler.ListQuarantined)
		v1.GET("/jobs/completed/:id", reportHandler.GetCompleted)
		v1.GET("/jobs/completed/:id/rejections", reportHandler.Rejections)
		v1.GET("/jobs/completed/:id/anonymisation-failures", reportHandler.AnonymisationFailures)
		v1.GET("/jobs/completed/:id/verification-failures", reportHandler.VerificationFailures)
		v1.GET("/jobs/completed/:id/missing-files", reportHandler.MissingFiles)
	}

	return router
}
