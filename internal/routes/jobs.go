package routes

import (
	"venturemarket/internal/handlers"
	"venturemarket/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupJobRoutes sets up job routes. Posting is rate limited per IP.
func SetupJobRoutes(r *gin.Engine, h *handlers.Handlers) {
	jobs := r.Group("/jobs")
	{
		jobs.GET("", h.ListJobs)
		jobs.GET("/:id", h.GetJob)
		jobs.POST("/:id/revisions", h.RequestRevision)
	}

	posting := r.Group("/jobs")
	posting.Use(middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: 1,
		Burst:             5,
	}))
	posting.POST("", h.PostJob)
}
