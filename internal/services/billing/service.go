// Package billing applies verified payment gateway events to jobs and
// ventures exactly once.
package billing

import (
	"context"
	"errors"
	"time"

	"venturemarket/internal/apperr"
	"venturemarket/internal/models"
	"venturemarket/internal/services/equity"
	"venturemarket/internal/store"
	"venturemarket/pkg/payment"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RevenueSource is the Transaction source recorded for gateway revenue
const RevenueSource = "stripe"

// Outcomes
const (
	OutcomeJobActivated     = "job_activated"
	OutcomeJobRefunded      = "job_refunded"
	OutcomeRevenueProcessed = "revenue_processed"
	OutcomeDuplicate        = "duplicate"
	OutcomeIgnored          = "ignored"
	OutcomeUnreconciled     = "unreconciled"

	outcomeProcessing = "processing"
)

// claimTimeout is how long a claimed event may stay unfinished before another
// delivery may take it over.
const claimTimeout = 10 * time.Minute

// JobPayments is the part of the job pipeline driven by payments
type JobPayments interface {
	ActivateJobBySession(ctx context.Context, sessionID, paymentRef string) (*models.Job, error)
	HandleJobRefund(ctx context.Context, paymentRef string) (*models.Job, error)
}

// RevenueProcessor books venture revenue at most once per key
type RevenueProcessor interface {
	ProcessRevenueOnce(ctx context.Context, key string, ventureID uint, amount decimal.Decimal, source string) (*equity.Distribution, error)
}

// Service routes gateway events
type Service struct {
	db      *gorm.DB
	log     *logrus.Entry
	jobs    JobPayments
	revenue RevenueProcessor
	now     func() time.Time
}

// NewService creates a billing service
func NewService(db *gorm.DB, jobs JobPayments, revenue RevenueProcessor) *Service {
	return &Service{
		db:      db,
		log:     logrus.WithField("component", "billing"),
		jobs:    jobs,
		revenue: revenue,
		now:     time.Now,
	}
}

// HandleEvent claims ev's id, applies it and records the outcome. A delivery
// that finds the id already claimed is acknowledged without side effects.
// Money-bearing events that cannot be applied are booked as unreconciled
// rather than dropped.
func (s *Service) HandleEvent(ctx context.Context, ev *payment.WebhookEvent) (string, error) {
	db := s.db.WithContext(ctx)
	log := s.log.WithFields(logrus.Fields{"event_id": ev.ID, "kind": ev.Kind})

	if ev.ID != "" {
		claimed, err := s.claim(db, ev)
		if err != nil {
			return "", err
		}
		if !claimed {
			return OutcomeDuplicate, nil
		}
	}

	outcome, applyErr := s.apply(ctx, ev)
	if applyErr != nil && !permanent(applyErr) {
		s.release(db, ev)
		return "", applyErr
	}
	if applyErr != nil {
		outcome = OutcomeUnreconciled
	}

	err := db.Transaction(func(tx *gorm.DB) error {
		if applyErr != nil {
			if err := s.recordUnreconciled(tx, ev, applyErr); err != nil {
				return err
			}
		}
		if ev.ID == "" {
			return nil
		}
		return tx.Model(&models.ProcessedWebhook{}).Where("event_id = ?", ev.ID).Update("outcome", outcome).Error
	})
	if err != nil {
		s.release(db, ev)
		return "", err
	}

	if applyErr != nil {
		log.Errorf("Payment event booked as unreconciled: %v", applyErr)
	} else {
		log.WithField("outcome", outcome).Info("Payment event handled")
	}
	return outcome, nil
}

// claim inserts the dedup row for ev, or takes over one abandoned mid-way.
func (s *Service) claim(db *gorm.DB, ev *payment.WebhookEvent) (bool, error) {
	now := s.now()
	row := models.ProcessedWebhook{EventID: ev.ID, Kind: ev.Kind, Outcome: outcomeProcessing, CreatedAt: now}
	res := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		return true, nil
	}
	res = db.Model(&models.ProcessedWebhook{}).
		Where("event_id = ? AND outcome = ? AND created_at < ?", ev.ID, outcomeProcessing, now.Add(-claimTimeout)).
		Update("created_at", now)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 1 {
		s.log.WithField("event_id", ev.ID).Warn("Reclaiming abandoned payment event")
		return true, nil
	}
	return false, nil
}

// release drops an unfinished claim so a redelivery can retry the event.
func (s *Service) release(db *gorm.DB, ev *payment.WebhookEvent) {
	if ev.ID == "" {
		return
	}
	err := db.Where("event_id = ? AND outcome = ?", ev.ID, outcomeProcessing).Delete(&models.ProcessedWebhook{}).Error
	if err != nil {
		s.log.WithField("event_id", ev.ID).Errorf("Could not release payment event claim: %v", err)
	}
}

func (s *Service) recordUnreconciled(tx *gorm.DB, ev *payment.WebhookEvent, cause error) error {
	meta := models.JSONMap{
		"event_id":    ev.ID,
		"kind":        ev.Kind,
		"payment_ref": ev.PaymentRef,
		"error":       cause.Error(),
	}
	if id := ev.JobID(); id != 0 {
		meta["job_id"] = id
	}
	if id := ev.VentureID(); id != 0 {
		meta["venture_id"] = id
	}
	entry := store.Entry{
		FromKind: models.PartyExternal,
		ToKind:   models.PartyPlatform,
		Amount:   ev.Amount,
		Type:     models.TxTypeUnreconciled,
		Metadata: meta,
	}
	if ev.ID != "" {
		entry.Reference = store.ReferenceFor("unreconciled:" + ev.ID)
	}
	_, err := store.Append(tx, s.now(), entry)
	return err
}

func (s *Service) apply(ctx context.Context, ev *payment.WebhookEvent) (string, error) {
	switch ev.Kind {
	case payment.EventCheckoutCompleted:
		if ev.JobID() != 0 || ev.VentureID() == 0 {
			if _, err := s.jobs.ActivateJobBySession(ctx, ev.SessionID, ev.PaymentRef); err != nil {
				return "", err
			}
			return OutcomeJobActivated, nil
		}
		_, err := s.revenue.ProcessRevenueOnce(ctx, ev.ID, ev.VentureID(), ev.Amount, RevenueSource)
		if errors.Is(err, apperr.ErrAlreadyProcessed) {
			return OutcomeDuplicate, nil
		}
		if err != nil {
			return "", err
		}
		return OutcomeRevenueProcessed, nil
	case payment.EventChargeRefunded:
		if ev.PaymentRef == "" {
			return OutcomeIgnored, nil
		}
		if _, err := s.jobs.HandleJobRefund(ctx, ev.PaymentRef); err != nil {
			return "", err
		}
		return OutcomeJobRefunded, nil
	default:
		return OutcomeIgnored, nil
	}
}

// permanent reports errors a redelivery cannot fix.
func permanent(err error) bool {
	var appErr *apperr.Error
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Code != apperr.CodeExternalServiceUnavailable
}
