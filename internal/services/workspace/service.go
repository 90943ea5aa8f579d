// Package workspace tracks work items bots pick up inside a venture.
// Completing an item logs a Task on the equity ledger.
package workspace

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"venturemarket/internal/apperr"
	"venturemarket/internal/events"
	"venturemarket/internal/models"
	"venturemarket/internal/services/equity"
	"venturemarket/internal/store"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// TaskRecorder logs work against a venture
type TaskRecorder interface {
	RecordTask(ctx context.Context, req equity.RecordTaskRequest) (*models.Task, error)
}

// Service manages work items
type Service struct {
	db    *gorm.DB
	log   *logrus.Entry
	tasks TaskRecorder
	queue events.Publisher
	now   func() time.Time
}

// Option configures a Service
type Option func(*Service)

// WithQueue makes SubmitCompletion hand completions to a worker instead of
// recording them inline.
func WithQueue(p events.Publisher) Option {
	return func(s *Service) { s.queue = p }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a workspace service
func NewService(db *gorm.DB, tasks TaskRecorder, opts ...Option) *Service {
	s := &Service{
		db:    db,
		log:   logrus.WithField("component", "workspace"),
		tasks: tasks,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateItemRequest describes a new work item
type CreateItemRequest struct {
	VentureID   uint   `json:"venture_id"`
	BotID       uint   `json:"bot_id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// CreateItem opens a work item for an active participant.
func (s *Service) CreateItem(ctx context.Context, req CreateItemRequest) (*models.WorkItem, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "title is required")
	}
	db := s.db.WithContext(ctx)
	var n int64
	if err := db.Model(&models.VentureParticipant{}).
		Where("venture_id = ? AND bot_id = ? AND status = ?", req.VentureID, req.BotID, models.ParticipantStatusActive).
		Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, apperr.Newf(apperr.CodeNotAuthorized, "bot %d is not an active participant of venture %d", req.BotID, req.VentureID)
	}

	item := models.WorkItem{
		VentureID:   req.VentureID,
		BotID:       req.BotID,
		Title:       title,
		Description: strings.TrimSpace(req.Description),
		Status:      models.WorkItemStatusOpen,
	}
	if err := db.Create(&item).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

// Items lists a venture's work items, optionally filtered by status.
func (s *Service) Items(ctx context.Context, ventureID uint, status string) ([]models.WorkItem, error) {
	q := s.db.WithContext(ctx).Where("venture_id = ?", ventureID)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var items []models.WorkItem
	return items, q.Order("id").Find(&items).Error
}

// SubmitCompletion queues a completion for the worker, or completes the item
// inline when no queue is configured. The returned item is nil when queued.
func (s *Service) SubmitCompletion(ctx context.Context, msg events.WorkCompleted) (*models.WorkItem, error) {
	if msg.Hours <= 0 {
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "hours must be positive, got %v", msg.Hours)
	}
	if s.queue != nil {
		if err := s.queue.Publish(events.QueueWorkCompleted, msg); err != nil {
			s.log.WithField("work_item_id", msg.WorkItemID).Warnf("Queue unavailable, completing inline: %v", err)
		} else {
			return nil, nil
		}
	}
	return s.CompleteItem(ctx, msg)
}

// CompleteItem records the item's Task and marks it completed. Completing an
// item twice returns the stored item without logging hours again.
func (s *Service) CompleteItem(ctx context.Context, msg events.WorkCompleted) (*models.WorkItem, error) {
	db := s.db.WithContext(ctx)
	var item models.WorkItem
	if err := db.First(&item, msg.WorkItemID).Error; err != nil {
		return nil, store.NotFound(err, "work item", msg.WorkItemID)
	}
	if item.Status == models.WorkItemStatusCompleted {
		return &item, nil
	}

	// Claim the item so a redelivered message cannot log the same hours twice.
	now := s.now()
	res := db.Model(&models.WorkItem{}).
		Where("id = ? AND status = ?", item.ID, models.WorkItemStatusOpen).
		Updates(map[string]interface{}{"status": models.WorkItemStatusCompleted, "completed_at": &now})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return &item, db.First(&item, item.ID).Error
	}

	description := item.Title
	if item.Description != "" {
		description += ": " + item.Description
	}
	task, err := s.tasks.RecordTask(ctx, equity.RecordTaskRequest{
		VentureID:   item.VentureID,
		BotID:       item.BotID,
		Hours:       msg.Hours,
		Description: description,
		Impact:      msg.Impact,
	})
	if err != nil {
		if rerr := db.Model(&models.WorkItem{}).Where("id = ?", item.ID).
			Updates(map[string]interface{}{"status": models.WorkItemStatusOpen, "completed_at": nil}).Error; rerr != nil {
			s.log.WithField("work_item_id", item.ID).Errorf("Failed to reopen work item: %v", rerr)
		}
		return nil, err
	}

	if err := db.Model(&models.WorkItem{}).Where("id = ?", item.ID).Updates(map[string]interface{}{
		"task_id":      task.ID,
		"hours_spent":  task.HoursSpent,
		"impact_score": task.ImpactScore,
		"deliverable":  msg.Deliverable,
	}).Error; err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"work_item_id": item.ID,
		"task_id":      task.ID,
		"hours":        task.HoursSpent,
	}).Info("Work item completed")
	return &item, db.First(&item, item.ID).Error
}

// HandleMessage consumes a work_completed delivery. Errors that a retry
// cannot fix are logged and the message is dropped.
func (s *Service) HandleMessage(ctx context.Context, body []byte) error {
	var msg events.WorkCompleted
	if err := json.Unmarshal(body, &msg); err != nil {
		s.log.Errorf("Dropping malformed work_completed message: %v", err)
		return nil
	}
	_, err := s.CompleteItem(ctx, msg)
	if err == nil || apperr.CodeOf(err) == apperr.CodeUnknown {
		return err
	}
	s.log.WithField("work_item_id", msg.WorkItemID).Warnf("Dropping work_completed message: %v", err)
	return nil
}
