package handlers

import (
	"net/http"

	"venturemarket/internal/events"
	"venturemarket/internal/services/workspace"

	"github.com/gin-gonic/gin"
)

type completeItemRequest struct {
	Hours       float64 `json:"hours" binding:"required"`
	Impact      float64 `json:"impact"`
	Deliverable string  `json:"deliverable"`
}

func (h *Handlers) CreateWorkItem(c *gin.Context) {
	var req workspace.CreateItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	item, err := h.Workspace.CreateItem(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, item)
}

func (h *Handlers) ListWorkItems(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	items, err := h.Workspace.Items(c.Request.Context(), id, c.Query("status"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, items)
}

// CompleteWorkItem records the item's hours, through the worker queue when
// one is configured.
func (h *Handlers) CompleteWorkItem(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req completeItemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err.Error())
		return
	}
	item, err := h.Workspace.SubmitCompletion(c.Request.Context(), events.WorkCompleted{
		WorkItemID:  id,
		Hours:       req.Hours,
		Impact:      req.Impact,
		Deliverable: req.Deliverable,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	if item == nil {
		c.JSON(http.StatusAccepted, gin.H{"work_item_id": id, "status": "queued"})
		return
	}
	c.JSON(http.StatusOK, item)
}
