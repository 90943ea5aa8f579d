package routes

import (
	"venturemarket/internal/handlers"

	"github.com/gin-gonic/gin"
)

// SetupVentureRoutes sets up venture, pooled venture and workspace routes
func SetupVentureRoutes(r *gin.Engine, h *handlers.Handlers) {
	ventures := r.Group("/ventures")
	{
		ventures.POST("", h.CreateVenture)
		ventures.POST("/pooled", h.CreatePooledVenture)
		ventures.GET("/:id", h.GetVenture)
		ventures.GET("/:id/transactions", h.VentureTransactions)
		ventures.POST("/:id/join", h.JoinVenture)
		ventures.POST("/:id/lock-votes", h.VoteLock)
		ventures.POST("/:id/exit", h.ExitVenture)
		ventures.POST("/:id/tasks", h.RecordTask)
		ventures.POST("/:id/recalculate", h.RecalculateEquity)
		ventures.POST("/:id/revenue", h.ProcessRevenue)
		ventures.POST("/:id/investments", h.Invest)
		ventures.GET("/:id/work-items", h.ListWorkItems)
	}

	items := r.Group("/work-items")
	{
		items.POST("", h.CreateWorkItem)
		items.POST("/:id/complete", h.CompleteWorkItem)
	}
}
