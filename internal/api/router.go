package api

import (
	"github.com/flexprice/billing/internal/api/cron"
	"github.com/flexprice/billing/internal/config"
	"github.com/flexprice/billing/internal/logger"
	"github.com/flexprice/billing/internal/metrics"
	"github.com/flexprice/billing/internal/rest/middleware"
	"github.com/gin-gonic/gin"
)

type Handlers struct {
	Health *HealthHandler
	Cron   *cron.BillingCronHandler
}

// NewRouter builds the HTTP surface of the billing service: the cron
// triggers, health and metrics.
func NewRouter(handlers Handlers, cfg *config.Configuration, log *logger.Logger, m *metrics.Metrics) *gin.Engine {
	if cfg.Deployment.Mode != config.ModeLocal {
		gin.SetMode(gin.ReleaseMode)
	}
	gin.DefaultWriter = log.GetGinLogger()

	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestIDMiddleware,
		middleware.SentryMiddleware(cfg),
		middleware.SentryRequestContextMiddleware,
		middleware.LoggingMiddleware(log),
		middleware.MetricsMiddleware(m),
		middleware.ErrorHandler(),
	)

	router.GET("/health", handlers.Health.Health)
	router.GET("/metrics", gin.WrapH(m.Handler()))

	v1 := router.Group("/v1")
	cronGroup := v1.Group("/cron")
	{
		cronGroup.GET("/sweeps", handlers.Cron.ListSweeps)
		cronGroup.POST("/sweeps/:sweep", handlers.Cron.RunSweep)
	}

	return router
}
