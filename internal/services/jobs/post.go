package jobs

import (
	"context"
	"strings"

	"venturemarket/internal/apperr"
	"venturemarket/internal/events"
	"venturemarket/internal/models"
	"venturemarket/internal/skills"
	"venturemarket/internal/store"
	"venturemarket/pkg/payment"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// PostJobRequest describes a new job
type PostJobRequest struct {
	PosterID       uint
	Title          string
	Description    string
	Category       string
	RequiredSkills []string
	Budget         decimal.Decimal
	MaxRevisions   int
}

// PostJob creates an open job. A title already posted within DuplicateWindow
// is rejected.
func (s *Service) PostJob(ctx context.Context, req PostJobRequest) (*models.Job, error) {
	job, err := s.createJob(ctx, req, models.JobStatusOpen)
	if err != nil {
		return nil, err
	}
	s.enqueue(job.ID)
	return job, nil
}

// PostPaidJob creates a job that waits in pending_payment until the gateway
// confirms the checkout.
func (s *Service) PostPaidJob(ctx context.Context, req PostJobRequest) (*models.Job, *payment.Checkout, error) {
	if s.gateway == nil {
		return nil, nil, apperr.New(apperr.CodeFailedPrecondition, "no payment gateway configured")
	}
	job, err := s.createJob(ctx, req, models.JobStatusPendingPayment)
	if err != nil {
		return nil, nil, err
	}

	checkout, err := s.gateway.CreateCheckout(ctx, payment.CheckoutRequest{
		Title:    job.Title,
		Amount:   job.Budget,
		Metadata: map[string]string{"job_id": payment.FormatID(job.ID)},
	})
	if err != nil {
		reason := "checkout failed: " + apperr.MessageOf(err)
		if terr := transition(s.db.WithContext(ctx), job, models.JobStatusFailed, map[string]interface{}{
			"status_reason": reason,
		}); terr != nil {
			s.log.WithField("job_id", job.ID).Errorf("Failed to mark job failed: %v", terr)
		} else {
			s.statusChanged(job.ID, models.JobStatusPendingPayment, models.JobStatusFailed, reason)
		}
		return nil, nil, err
	}

	job.StripeSessionID = checkout.SessionID
	if err := s.db.WithContext(ctx).Model(job).Update("stripe_session_id", checkout.SessionID).Error; err != nil {
		return nil, nil, err
	}
	return job, checkout, nil
}

func (s *Service) createJob(ctx context.Context, req PostJobRequest, status string) (*models.Job, error) {
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "job title is required")
	}
	if !req.Budget.IsPositive() {
		return nil, apperr.Newf(apperr.CodeInvalidArgument, "job budget must be positive, got %s", req.Budget.String())
	}
	maxRevisions := req.MaxRevisions
	if maxRevisions <= 0 {
		maxRevisions = s.maxRevisions
	}

	now := s.now()
	job := models.Job{
		PosterHumanID:  req.PosterID,
		Title:          title,
		Description:    req.Description,
		Category:       strings.TrimSpace(req.Category),
		RequiredSkills: models.StringList(skills.Parse(req.RequiredSkills...).Tags()),
		Budget:         req.Budget,
		Status:         status,
		MaxRevisions:   maxRevisions,
		CreatedAt:      now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var poster models.Human
		if err := tx.Select("id").First(&poster, req.PosterID).Error; err != nil {
			return store.NotFound(err, "human", req.PosterID)
		}

		var dup int64
		if err := tx.Model(&models.Job{}).
			Where("LOWER(title) = LOWER(?) AND created_at > ?", title, now.Add(-DuplicateWindow)).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return apperr.Newf(apperr.CodeDuplicateJob, "a job titled %q was posted within the last hour", title)
		}
		return tx.Create(&job).Error
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"job_id": job.ID, "status": job.Status, "budget": job.Budget.StringFixed(2)}).Info("Job posted")
	events.Emit(s.events, events.QueueLedgerEvents, events.JobPosted, job.ID, map[string]interface{}{"status": job.Status})
	return &job, nil
}

// ActivateJob opens a pending_payment job once its payment is confirmed.
// A repeated confirmation for the same payment is a no-op.
func (s *Service) ActivateJob(ctx context.Context, jobID uint, paymentRef string) (*models.Job, error) {
	var job models.Job
	activated := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := store.ForUpdate(tx).First(&job, jobID).Error; err != nil {
			return store.NotFound(err, "job", jobID)
		}
		if job.Status != models.JobStatusPendingPayment && paymentRef != "" && job.StripePaymentRef == paymentRef {
			return nil
		}
		if err := transition(tx, &job, models.JobStatusOpen, map[string]interface{}{
			"stripe_payment_ref": paymentRef,
		}); err != nil {
			return err
		}
		job.StripePaymentRef = paymentRef
		activated = true
		_, err := store.Append(tx, s.now(), store.Entry{
			FromKind: models.PartyExternal,
			ToKind:   models.PartyJob, ToID: job.ID,
			Amount: job.Budget, Type: models.TxTypeJobFunding,
			Metadata: models.JSONMap{"payment_ref": paymentRef},
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if activated {
		s.statusChanged(job.ID, models.JobStatusPendingPayment, models.JobStatusOpen, "")
		s.enqueue(job.ID)
	}
	return &job, nil
}

// ActivateJobBySession activates the job that owns a checkout session.
func (s *Service) ActivateJobBySession(ctx context.Context, sessionID, paymentRef string) (*models.Job, error) {
	var job models.Job
	if err := s.db.WithContext(ctx).Select("id").Where("stripe_session_id = ?", sessionID).First(&job).Error; err != nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "no job for checkout session %s", sessionID)
	}
	return s.ActivateJob(ctx, job.ID, paymentRef)
}

// Get returns a job with its steps and collaborators.
func (s *Service) Get(ctx context.Context, jobID uint) (*models.Job, []models.JobStep, []models.JobCollaborator, error) {
	db := s.db.WithContext(ctx)
	var job models.Job
	if err := db.First(&job, jobID).Error; err != nil {
		return nil, nil, nil, store.NotFound(err, "job", jobID)
	}
	var steps []models.JobStep
	if err := db.Where("job_id = ?", jobID).Order("step_order").Find(&steps).Error; err != nil {
		return nil, nil, nil, err
	}
	var collaborators []models.JobCollaborator
	if err := db.Where("job_id = ?", jobID).Order("id").Find(&collaborators).Error; err != nil {
		return nil, nil, nil, err
	}
	return &job, steps, collaborators, nil
}

// List returns jobs newest first, optionally filtered by status.
func (s *Service) List(ctx context.Context, status string, limit int) ([]models.Job, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.db.WithContext(ctx).Order("id DESC").Limit(limit)
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Job
	return out, q.Find(&out).Error
}
