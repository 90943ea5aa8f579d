package routes

import (
	"venturemarket/internal/handlers"
	"venturemarket/internal/middleware"

	"github.com/gin-gonic/gin"
)

// SetupArbiterRoutes sets up violation and dispute routes
func SetupArbiterRoutes(r *gin.Engine, h *handlers.Handlers) {
	arbiter := r.Group("/arbiter")
	{
		arbiter.GET("/violations", h.ListViolations)
		arbiter.POST("/violations/:id/close", h.CloseViolation)
	}

	// A full scan walks every venture; one every 10 seconds per IP
	scan := r.Group("/arbiter")
	scan.Use(middleware.RateLimiterMiddleware(middleware.RateLimiterConfig{
		RequestsPerSecond: 0.1,
		Burst:             1,
	}))
	scan.POST("/scan", h.RunScan)

	disputes := r.Group("/disputes")
	{
		disputes.POST("", h.FileDispute)
		disputes.POST("/:id/testimony", h.AddTestimony)
		disputes.POST("/:id/resolve", h.ResolveDispute)
	}
}

// SetupWebhookRoutes sets up payment gateway callbacks
func SetupWebhookRoutes(r *gin.Engine, h *handlers.Handlers) {
	r.POST("/webhooks/stripe", h.StripeWebhook)
}
