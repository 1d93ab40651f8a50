package router

import (
	"github.com/cuongbtq/jobcore/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	h := handler.New(deps)

	r.GET("/health", h.Health)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		scheduled := v1.Group("/scheduled-jobs")
		{
			scheduled.GET("", h.ListScheduledJobs)
			scheduled.POST("", h.CreateScheduledJob)

			// :ref is a scheduled job id or name
			scheduled.GET("/:ref", h.GetScheduledJob)
			scheduled.PUT("/:ref", h.UpdateScheduledJob)
			scheduled.DELETE("/:ref", h.DeleteScheduledJob)
			scheduled.POST("/:ref/trigger", h.TriggerScheduledJob)
			scheduled.POST("/:ref/pause", h.PauseScheduledJob)
			scheduled.POST("/:ref/resume", h.ResumeScheduledJob)
		}

		queues := v1.Group("/queues")
		{
			queues.GET("", h.ListQueues)
			queues.GET("/:queue/stats", h.QueueStats)
			queues.GET("/:queue/jobs", h.ListJobs)
			queues.POST("/:queue/jobs", h.EnqueueJob)
			queues.GET("/:queue/jobs/:id", h.GetJob)
			queues.DELETE("/:queue/jobs/:id", h.DeleteJob)
			queues.POST("/:queue/jobs/:id/retry", h.RetryJob)
		}

		v1.POST("/jobs/cleanup", h.CleanupJobs)
		v1.POST("/maintenance/run", h.RunMaintenance)
		v1.GET("/system/status", h.SystemStatus)
	}

	return r
}
