package routes

import (
	"venturemarket/internal/handlers"

	"github.com/gin-gonic/gin"
)

// SetupAccountRoutes sets up human, bot and platform routes
func SetupAccountRoutes(r *gin.Engine, h *handlers.Handlers) {
	humans := r.Group("/humans")
	{
		humans.POST("", h.RegisterHuman)
		humans.GET("/:id", h.GetHuman)
		humans.POST("/:id/deposit", h.Deposit)
		humans.GET("/:id/transactions", h.HumanTransactions)
	}

	bots := r.Group("/bots")
	{
		bots.POST("", h.DeployBot)
		bots.GET("/:id", h.GetBot)
		bots.PUT("/:id/reinvest-rate", h.SetReinvestRate)
	}

	r.GET("/platform/stats", h.PlatformStats)
	r.GET("/platform/unreconciled", h.UnreconciledPayments)
}
