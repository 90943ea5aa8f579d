package handlers

import (
	"net/http"

	"venturemarket/internal/services/jobs"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

type postJobRequest struct {
	PosterID       uint            `json:"poster_id" binding:"required"`
	Title          string          `json:"title" binding:"required"`
	Description    string          `json:"description"`
	Category       string          `json:"category"`
	RequiredSkills []string        `json:"required_skills"`
	Budget         decimal.Decimal `json:"budget" binding:"required"`
	MaxRevisions   int             `json:"max_revisions"`
	// Paid jobs wait for checkout before matching
	Paid bool `json:"paid"`
}

type revisionRequest struct {
	RequesterID uint   `json:"requester_id" binding:"required"`
	Feedback    string `json:"feedback"`
}

// PostJob creates a job. Paid jobs return the checkout to complete.
func (h *Handlers) PostJob(c *gin.Context) {
	var req postJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	if !req.Budget.IsPositive() {
		badRequest(c, "budget must be positive")
		return
	}
	in := jobs.PostJobRequest{
		PosterID:       req.PosterID,
		Title:          req.Title,
		Description:    req.Description,
		Category:       req.Category,
		RequiredSkills: req.RequiredSkills,
		Budget:         req.Budget,
		MaxRevisions:   req.MaxRevisions,
	}

	ctx := c.Request.Context()
	if !req.Paid {
		job, err := h.Jobs.PostJob(ctx, in)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"job": job})
		return
	}
	job, checkout, err := h.Jobs.PostPaidJob(ctx, in)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"job": job, "checkout": checkout})
}

func (h *Handlers) ListJobs(c *gin.Context) {
	list, err := h.Jobs.List(c.Request.Context(), c.Query("status"), queryInt(c, "limit", 50))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// GetJob returns a job with its plan steps and collaborators
func (h *Handlers) GetJob(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	job, steps, collaborators, err := h.Jobs.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"job": job, "steps": steps, "collaborators": collaborators})
}

// RequestRevision reopens a delivered job for its poster
func (h *Handlers) RequestRevision(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req revisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	job, err := h.Jobs.RequestRevision(c.Request.Context(), id, req.RequesterID, req.Feedback)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}
