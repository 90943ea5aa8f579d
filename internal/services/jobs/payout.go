package jobs

import (
	"context"
	"database/sql"
	"strings"

	"venturemarket/internal/apperr"
	"venturemarket/internal/events"
	"venturemarket/internal/models"
	"venturemarket/internal/store"
	"venturemarket/pkg/utils"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ProcessPayment pays a completed job: the platform keeps the job fee and the
// rest is split between collaborators by share. A job is paid out at most
// once; completing it again after a revision only moves it back to paid.
func (s *Service) ProcessPayment(ctx context.Context, jobID uint) (*models.Job, error) {
	var (
		job     models.Job
		fee     decimal.Decimal
		paidOut bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := store.ForUpdate(tx).First(&job, jobID).Error; err != nil {
			return store.NotFound(err, "job", jobID)
		}
		if err := ValidateTransition(job.Status, models.JobStatusPaid); err != nil {
			return err
		}

		var collaborators []models.JobCollaborator
		if err := tx.Where("job_id = ?", job.ID).Order("id").Find(&collaborators).Error; err != nil {
			return err
		}
		if len(collaborators) == 0 {
			return apperr.Newf(apperr.CodeFailedPrecondition, "job %d has no collaborators", job.ID)
		}

		if job.PaidAt == nil {
			var err error
			fee, err = s.payCollaborators(tx, &job, collaborators)
			if err != nil {
				return err
			}
			paidOut = true
		}
		for _, c := range collaborators {
			if err := s.refreshBotStats(tx, c.BotID, paidOut); err != nil {
				return err
			}
		}

		now := s.now()
		updates := map[string]interface{}{}
		if paidOut {
			updates["paid_at"] = &now
		}
		return transition(tx, &job, models.JobStatusPaid, updates)
	})
	if err != nil {
		return nil, err
	}

	s.statusChanged(job.ID, models.JobStatusCompleted, models.JobStatusPaid, "")
	if paidOut {
		s.log.WithFields(logrus.Fields{
			"job_id":       job.ID,
			"budget":       job.Budget.StringFixed(2),
			"platform_fee": fee.StringFixed(2),
		}).Info("Job paid")
		events.Emit(s.events, events.QueueLedgerEvents, events.JobPaid, job.ID, map[string]interface{}{
			"budget":       job.Budget.StringFixed(2),
			"platform_fee": fee.StringFixed(2),
		})
	}
	return &job, nil
}

func (s *Service) payCollaborators(tx *gorm.DB, job *models.Job, collaborators []models.JobCollaborator) (decimal.Decimal, error) {
	fee, pool := utils.SplitFee(job.Budget, s.feeRate)
	weights := make([]float64, len(collaborators))
	for i, c := range collaborators {
		weights[i] = c.EarningsShare
	}
	amounts, err := utils.Allocate(pool, weights)
	if err != nil {
		return decimal.Zero, apperr.Wrap(apperr.CodeFailedPrecondition, err, "invalid collaborator shares")
	}

	for i, c := range collaborators {
		if amounts[i].IsZero() {
			continue
		}
		if _, err := store.CreditBot(tx, c.BotID, decimal.Zero, amounts[i]); err != nil {
			return decimal.Zero, err
		}
		if err := tx.Model(&models.JobCollaborator{ID: c.ID}).Update("earned", amounts[i]).Error; err != nil {
			return decimal.Zero, err
		}
		if _, err := store.Append(tx, s.now(), store.Entry{
			FromKind: models.PartyJob, FromID: job.ID,
			ToKind: models.PartyBot, ToID: c.BotID,
			Amount: amounts[i], Type: models.TxTypeJobPayment,
			Metadata: models.JSONMap{"earnings_share": c.EarningsShare},
		}); err != nil {
			return decimal.Zero, err
		}
	}

	if fee.IsPositive() {
		if _, err := store.Append(tx, s.now(), store.Entry{
			FromKind: models.PartyJob, FromID: job.ID,
			ToKind: models.PartyPlatform,
			Amount: fee, Type: models.TxTypePlatformFee,
			Metadata: models.JSONMap{"rate": s.feeRate.String()},
		}); err != nil {
			return decimal.Zero, err
		}
	}
	return fee, store.BumpPlatformStat(tx, store.StatDelta{JobFees: fee})
}

// refreshBotStats recomputes a bot's average quality over every job it has
// collaborated on that carries a score.
func (s *Service) refreshBotStats(tx *gorm.DB, botID uint, countJob bool) error {
	var avg sql.NullFloat64
	if err := tx.Model(&models.Job{}).
		Select("AVG(job.quality_score)").
		Joins("JOIN job_collaborator ON job_collaborator.job_id = job.id").
		Where("job_collaborator.bot_id = ? AND job.quality_score IS NOT NULL", botID).
		Scan(&avg).Error; err != nil {
		return err
	}
	updates := map[string]interface{}{}
	if avg.Valid {
		updates["avg_quality_score"] = avg.Float64
	}
	if countJob {
		updates["jobs_completed"] = gorm.Expr("jobs_completed + 1")
	}
	if len(updates) == 0 {
		return nil
	}
	return tx.Model(&models.Bot{ID: botID}).Updates(updates).Error
}

// RequestRevision reopens a completed or paid job at its poster's request.
// The old plan is discarded before the job is matched again.
func (s *Service) RequestRevision(ctx context.Context, jobID, requesterID uint, feedback string) (*models.Job, error) {
	feedback = strings.TrimSpace(feedback)
	var (
		job  models.Job
		from string
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := store.ForUpdate(tx).First(&job, jobID).Error; err != nil {
			return store.NotFound(err, "job", jobID)
		}
		if job.PosterHumanID != requesterID {
			return apperr.Newf(apperr.CodeNotAuthorized, "human %d did not post job %d", requesterID, jobID)
		}
		if job.Status != models.JobStatusCompleted && job.Status != models.JobStatusPaid {
			return apperr.Newf(apperr.CodeInvalidTransition, "job %d is %s; revisions need a completed or paid job", jobID, job.Status)
		}
		if job.RevisionCount >= job.MaxRevisions {
			return apperr.Newf(apperr.CodeRevisionLimitExceeded, "job %d already used %d of %d revisions", jobID, job.RevisionCount, job.MaxRevisions)
		}
		if err := purgeWork(tx, job.ID); err != nil {
			return err
		}
		from = job.Status
		if err := transition(tx, &job, models.JobStatusOpen, map[string]interface{}{
			"revision_count":    job.RevisionCount + 1,
			"revision_feedback": feedback,
			"status_reason":     "revision requested",
		}); err != nil {
			return err
		}
		job.RevisionCount++
		job.RevisionFeedback = feedback
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.statusChanged(job.ID, from, models.JobStatusOpen, "revision requested")

	if s.enqueue(job.ID) {
		return &job, nil
	}
	matched, err := s.AnalyzeAndMatch(ctx, job.ID)
	if err != nil {
		s.log.WithField("job_id", job.ID).Warnf("Rematch after revision request failed: %v", err)
		return &job, nil
	}
	return matched, nil
}

// HandleJobRefund applies a refund confirmed by the payment gateway. Refunds
// already recorded are ignored.
func (s *Service) HandleJobRefund(ctx context.Context, paymentRef string) (*models.Job, error) {
	if paymentRef == "" {
		return nil, apperr.New(apperr.CodeInvalidArgument, "payment reference is required")
	}
	db := s.db.WithContext(ctx)
	var job models.Job
	if err := db.Where("stripe_payment_ref = ?", paymentRef).First(&job).Error; err != nil {
		return nil, apperr.Newf(apperr.CodeNotFound, "no job for payment %s", paymentRef)
	}
	if job.Status == models.JobStatusRefunded {
		return &job, nil
	}

	from := job.Status
	reason := "refunded by payment gateway"
	if err := s.markRefunded(db, &job, reason, ""); err != nil {
		return nil, err
	}
	s.statusChanged(job.ID, from, models.JobStatusRefunded, reason)
	return &job, nil
}
