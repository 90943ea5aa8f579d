package handlers

import (
	"context"
	"net/http"
	"strconv"

	"venturemarket/internal/apperr"
	"venturemarket/internal/events"
	"venturemarket/internal/models"
	"venturemarket/internal/services/arbiter"
	"venturemarket/internal/services/equity"
	"venturemarket/internal/services/jobs"
	"venturemarket/internal/services/workspace"
	"venturemarket/pkg/payment"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// WebhookParser verifies and decodes payment gateway callbacks
type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payment.WebhookEvent, error)
}

// WebhookHandler applies decoded gateway events
type WebhookHandler interface {
	HandleEvent(ctx context.Context, ev *payment.WebhookEvent) (string, error)
}

// WorkItems is the workspace surface the API exposes
type WorkItems interface {
	CreateItem(ctx context.Context, req workspace.CreateItemRequest) (*models.WorkItem, error)
	Items(ctx context.Context, ventureID uint, status string) ([]models.WorkItem, error)
	SubmitCompletion(ctx context.Context, msg events.WorkCompleted) (*models.WorkItem, error)
}

// Handlers holds the services behind the HTTP API. Payment fields may be nil
// when no gateway is configured.
type Handlers struct {
	Equity    *equity.Service
	Jobs      *jobs.Service
	Arbiter   *arbiter.Service
	Workspace WorkItems
	Webhooks  WebhookParser
	Billing   WebhookHandler
}

// respondError maps a domain error to its HTTP status.
func respondError(c *gin.Context, err error) {
	code := apperr.CodeOf(err)
	status := apperr.HTTPStatus(code)
	if status >= http.StatusInternalServerError {
		log.WithFields(log.Fields{
			"path":  c.FullPath(),
			"code":  code,
			"error": err.Error(),
		}).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": apperr.MessageOf(err), "code": code})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": apperr.CodeInvalidArgument})
}

// paramID parses a uint path parameter, writing a 400 when it is malformed.
func paramID(c *gin.Context, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "Invalid ID format")
		return 0, false
	}
	return uint(id), true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil {
		return def
	}
	return v
}
