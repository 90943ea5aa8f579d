package handlers

import (
	"net/http"

	"venturemarket/internal/services/arbiter"

	"github.com/gin-gonic/gin"
)

type fileDisputeRequest struct {
	VentureID       uint   `json:"venture_id" binding:"required"`
	ClaimantBotID   uint   `json:"claimant_bot_id" binding:"required"`
	RespondentBotID uint   `json:"respondent_bot_id" binding:"required"`
	Claim           string `json:"claim" binding:"required"`
}

type testimonyRequest struct {
	WitnessBotID     uint   `json:"witness_bot_id" binding:"required"`
	SupportsClaimant bool   `json:"supports_claimant"`
	Statement        string `json:"statement"`
}

func (h *Handlers) ListViolations(c *gin.Context) {
	list, err := h.Arbiter.Violations(c.Request.Context(), c.Query("status"), queryInt(c, "limit", 100))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *Handlers) CloseViolation(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	v, err := h.Arbiter.CloseViolation(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// RunScan runs every detector now instead of waiting for the scheduler
func (h *Handlers) RunScan(c *gin.Context) {
	report, err := h.Arbiter.Scan(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *Handlers) FileDispute(c *gin.Context) {
	var req fileDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := h.Arbiter.FileDispute(c.Request.Context(), arbiter.FileDisputeRequest{
		VentureID:       req.VentureID,
		ClaimantBotID:   req.ClaimantBotID,
		RespondentBotID: req.RespondentBotID,
		Claim:           req.Claim,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *Handlers) AddTestimony(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req testimonyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	t, err := h.Arbiter.AddTestimony(c.Request.Context(), id, req.WitnessBotID, req.SupportsClaimant, req.Statement)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, t)
}

// ResolveDispute issues a final verdict
func (h *Handlers) ResolveDispute(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	d, err := h.Arbiter.ResolveDispute(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}
