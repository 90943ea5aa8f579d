package handlers

import (
	"net/http"

	"venturemarket/internal/models"
	"venturemarket/internal/services/equity"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type registerHumanRequest struct {
	Name  string `json:"name" binding:"required"`
	Email string `json:"email"`
}

type depositRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
	Source string          `json:"source"`
}

type deployBotRequest struct {
	OwnerID  uint     `json:"owner_id" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Skills   []string `json:"skills"`
	Provider string   `json:"provider"`
}

type reinvestRateRequest struct {
	OwnerID uint     `json:"owner_id" binding:"required"`
	Rate    *float64 `json:"rate" binding:"required"`
}

type createVentureRequest struct {
	FounderBotID  uint    `json:"founder_bot_id" binding:"required"`
	Name          string  `json:"name" binding:"required"`
	Description   string  `json:"description"`
	ExpectedHours float64 `json:"expected_hours"`
}

type botActionRequest struct {
	BotID         uint    `json:"bot_id" binding:"required"`
	ExpectedHours float64 `json:"expected_hours"`
}

type recordTaskRequest struct {
	BotID       uint    `json:"bot_id" binding:"required"`
	Hours       float64 `json:"hours" binding:"required"`
	Description string  `json:"description"`
	Impact      float64 `json:"impact"`
}

type revenueRequest struct {
	Amount decimal.Decimal `json:"amount" binding:"required"`
	Source string          `json:"source"`
}

type investment struct {
	HumanID uint            `json:"human_id" binding:"required"`
	Amount  decimal.Decimal `json:"amount" binding:"required"`
}

type createPooledRequest struct {
	Name        string       `json:"name" binding:"required"`
	Investments []investment `json:"investments" binding:"required,min=1,dive"`
}

// RegisterHuman creates a human account
func (h *Handlers) RegisterHuman(c *gin.Context) {
	var req registerHumanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	human, err := h.Equity.RegisterHuman(c.Request.Context(), req.Name, req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, human)
}

// GetHuman returns a human and their bots
func (h *Handlers) GetHuman(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	human, bots, err := h.Equity.Human(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"human": human, "bots": bots})
}

// Deposit funds a human's wallet
func (h *Handlers) Deposit(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req depositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	human, err := h.Equity.Deposit(c.Request.Context(), id, req.Amount, req.Source)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, human)
}

// HumanTransactions lists ledger entries for a human
func (h *Handlers) HumanTransactions(c *gin.Context) {
	h.transactions(c, models.PartyHuman)
}

// VentureTransactions lists ledger entries for a venture
func (h *Handlers) VentureTransactions(c *gin.Context) {
	h.transactions(c, models.PartyVenture)
}

func (h *Handlers) transactions(c *gin.Context, kind string) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	rows, err := h.Equity.Transactions(c.Request.Context(), kind, id, queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// DeployBot creates a bot for a human
func (h *Handlers) DeployBot(c *gin.Context) {
	var req deployBotRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	bot, err := h.Equity.DeployBot(c.Request.Context(), equity.DeployBotRequest{
		OwnerID:  req.OwnerID,
		Name:     req.Name,
		Skills:   req.Skills,
		Provider: req.Provider,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, bot)
}

func (h *Handlers) GetBot(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	bot, err := h.Equity.Bot(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

// SetReinvestRate changes how much of a bot's revenue share stays as capital
func (h *Handlers) SetReinvestRate(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req reinvestRateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	bot, err := h.Equity.SetReinvestRate(c.Request.Context(), req.OwnerID, id, *req.Rate)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, bot)
}

// CreateVenture founds a standard venture
func (h *Handlers) CreateVenture(c *gin.Context) {
	var req createVentureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	venture, err := h.Equity.CreateVenture(c.Request.Context(), equity.CreateVentureRequest{
		FounderBotID:  req.FounderBotID,
		Name:          req.Name,
		Description:   req.Description,
		ExpectedHours: req.ExpectedHours,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, venture)
}

// GetVenture returns a venture with its cap table
func (h *Handlers) GetVenture(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()
	venture, err := h.Equity.Venture(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	table, err := h.Equity.CapTable(ctx, id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"venture": venture, "cap_table": table})
}

func (h *Handlers) JoinVenture(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req botActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.Equity.JoinVenture(c.Request.Context(), id, req.BotID, req.ExpectedHours)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *Handlers) VoteLock(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req botActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	res, err := h.Equity.VoteLock(c.Request.Context(), id, req.BotID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (h *Handlers) ExitVenture(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req botActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	p, err := h.Equity.ExitVenture(c.Request.Context(), id, req.BotID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// RecordTask logs hours for a participant
func (h *Handlers) RecordTask(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req recordTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	task, err := h.Equity.RecordTask(c.Request.Context(), equity.RecordTaskRequest{
		VentureID:   id,
		BotID:       req.BotID,
		Hours:       req.Hours,
		Description: req.Description,
		Impact:      req.Impact,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, task)
}

func (h *Handlers) RecalculateEquity(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	rows, err := h.Equity.RecalculateEquity(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// ProcessRevenue books externally reported revenue for a venture
func (h *Handlers) ProcessRevenue(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req revenueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !req.Amount.IsPositive() {
		badRequest(c, "amount must be positive")
		return
	}
	dist, err := h.Equity.ProcessRevenue(c.Request.Context(), id, req.Amount, req.Source)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, dist)
}

// CreatePooledVenture opens a capital-equity venture
func (h *Handlers) CreatePooledVenture(c *gin.Context) {
	var req createPooledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	investments := make(map[uint]decimal.Decimal, len(req.Investments))
	for _, inv := range req.Investments {
		investments[inv.HumanID] = investments[inv.HumanID].Add(inv.Amount)
	}
	venture, investors, err := h.Equity.CreatePooledVenture(c.Request.Context(), req.Name, investments)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"venture": venture, "investors": investors})
}

// Invest adds capital to a pooled venture, diluting existing investors
func (h *Handlers) Invest(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req investment
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	investors, err := h.Equity.ReinvestInPooledVenture(c.Request.Context(), id, req.HumanID, req.Amount)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, investors)
}

func (h *Handlers) PlatformStats(c *gin.Context) {
	stat, err := h.Equity.PlatformStats(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stat)
}

// UnreconciledPayments lists gateway events booked as unreconciled
func (h *Handlers) UnreconciledPayments(c *gin.Context) {
	rows, err := h.Equity.Unreconciled(c.Request.Context(), queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, rows)
}
