package jobs

import (
	"context"
	"fmt"
	"strings"

	"venturemarket/internal/apperr"
	"venturemarket/internal/models"
	"venturemarket/internal/store"
	"venturemarket/pkg/generation"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Quality gate thresholds on the reviewer's overall score
const (
	PassScore        = 6.0
	RevisedPassScore = 5.0
)

// Outcome reports how one execution cycle ended
type Outcome struct {
	JobID  uint    `json:"job_id"`
	Status string  `json:"status"`
	Passed bool    `json:"passed"`
	Score  float64 `json:"score"`
	Reason string  `json:"reason,omitempty"`
}

// PassThreshold is the overall score a job must reach. A job that has been
// revised at least once is held to the lower bar.
func PassThreshold(revisionCount int) float64 {
	if revisionCount >= 1 {
		return RevisedPassScore
	}
	return PassScore
}

// ExecuteJobPipeline runs a claimed job's steps in order, persisting each
// output before the next starts, then applies the quality gate. A passing
// job is completed and paid; a failing one is sent back for another cycle or
// closed out.
func (s *Service) ExecuteJobPipeline(ctx context.Context, jobID uint) (*Outcome, error) {
	db := s.db.WithContext(ctx)
	var job models.Job
	if err := db.First(&job, jobID).Error; err != nil {
		return nil, store.NotFound(err, "job", jobID)
	}
	if s.gen == nil {
		return nil, apperr.New(apperr.CodeFailedPrecondition, "no generation service configured")
	}

	now := s.now()
	if err := transition(db, &job, models.JobStatusInProgress, map[string]interface{}{"started_at": &now}); err != nil {
		return nil, err
	}
	s.statusChanged(job.ID, models.JobStatusClaimed, models.JobStatusInProgress, "")
	log := s.log.WithField("job_id", job.ID)

	var steps []models.JobStep
	if err := db.Where("job_id = ?", job.ID).Order("step_order").Find(&steps).Error; err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return s.failCycle(ctx, &job, "job has no planned steps")
	}

	var outputs []string
	for i := range steps {
		step := &steps[i]
		if step.Status == models.StepStatusCompleted {
			outputs = append(outputs, step.Output)
			continue
		}
		out, err := s.gen.Generate(ctx, generation.StepRequest{
			JobTitle:       job.Title,
			JobDescription: job.Description,
			Role:           step.Role,
			OutputType:     step.OutputType,
			Instructions:   step.Instructions,
			PriorOutputs:   outputs,
			Feedback:       job.RevisionFeedback,
		})
		if err != nil {
			if uerr := db.Model(step).Update("status", models.StepStatusFailed).Error; uerr != nil {
				log.WithField("step", step.StepOrder).Warnf("Could not mark step failed: %v", uerr)
			}
			return s.failCycle(ctx, &job, fmt.Sprintf("step %d failed: %s", step.StepOrder, apperr.MessageOf(err)))
		}
		if err := s.completeStep(db, step, out); err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
		log.WithField("step", step.StepOrder).Debug("Step completed")
	}

	draft := strings.Join(outputs, "\n\n")
	if s.peerReview {
		revised, err := s.reviewPass(ctx, db, &job, steps[len(steps)-1], draft, outputs)
		if err != nil {
			return nil, err
		}
		draft = revised
	}

	if err := transition(db, &job, models.JobStatusReview, nil); err != nil {
		return nil, err
	}
	s.statusChanged(job.ID, models.JobStatusInProgress, models.JobStatusReview, "")

	return s.qualityGate(ctx, &job, draft)
}

func (s *Service) completeStep(db *gorm.DB, step *models.JobStep, output string) error {
	now := s.now()
	step.Output = output
	step.Status = models.StepStatusCompleted
	step.CompletedAt = &now
	return db.Model(step).Updates(map[string]interface{}{
		"output":       output,
		"status":       models.StepStatusCompleted,
		"completed_at": &now,
	}).Error
}

// reviewPass asks a peer to check the draft and, if it is rejected, runs a
// single revision of the final step. Peer review is advisory: if it cannot
// be reached the draft goes to the quality gate unchanged.
func (s *Service) reviewPass(ctx context.Context, db *gorm.DB, job *models.Job, last models.JobStep, draft string, outputs []string) (string, error) {
	review, err := s.gen.Review(ctx, generation.ReviewRequest{
		JobTitle:       job.Title,
		JobDescription: job.Description,
		Draft:          draft,
	})
	if err != nil {
		s.log.WithField("job_id", job.ID).Warnf("Peer review unavailable: %v", err)
		return draft, nil
	}
	if review.Approved {
		return draft, nil
	}

	out, err := s.gen.Generate(ctx, generation.StepRequest{
		JobTitle:       job.Title,
		JobDescription: job.Description,
		Role:           last.Role,
		OutputType:     last.OutputType,
		Instructions:   last.Instructions,
		PriorOutputs:   outputs,
		Feedback:       review.Feedback,
	})
	if err != nil {
		s.log.WithField("job_id", job.ID).Warnf("Peer revision failed, keeping draft: %v", err)
		return draft, nil
	}

	revision := models.JobStep{
		JobID:        job.ID,
		StepOrder:    last.StepOrder + 1,
		BotID:        last.BotID,
		Role:         "revision",
		OutputType:   last.OutputType,
		Instructions: review.Feedback,
		Status:       models.StepStatusPending,
	}
	if err := db.Create(&revision).Error; err != nil {
		return "", err
	}
	if err := s.completeStep(db, &revision, out); err != nil {
		return "", err
	}

	revised := append(append([]string{}, outputs[:len(outputs)-1]...), out)
	return strings.Join(revised, "\n\n"), nil
}

// qualityGate grades the deliverable. Passing requires the reviewer's pass
// flag and an overall score at or above PassThreshold.
func (s *Service) qualityGate(ctx context.Context, job *models.Job, deliverable string) (*Outcome, error) {
	db := s.db.WithContext(ctx)
	a, err := s.gen.Assess(ctx, generation.AssessRequest{
		JobTitle:       job.Title,
		JobDescription: job.Description,
		Category:       job.Category,
		Deliverable:    deliverable,
	})
	if err != nil {
		return s.failCycle(ctx, job, "quality review failed: "+apperr.MessageOf(err))
	}
	a.Normalize()

	score := a.Score()
	threshold := PassThreshold(job.RevisionCount)
	passed := a.Pass && score >= threshold
	s.log.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"score":     score,
		"threshold": threshold,
		"pass_flag": a.Pass,
	}).Info("Quality gate evaluated")

	if !passed {
		if err := db.Model(&models.Job{ID: job.ID}).Updates(map[string]interface{}{
			"quality_score":    score,
			"quality_feedback": a.Feedback,
		}).Error; err != nil {
			return nil, err
		}
		job.QualityScore = &score
		reason := fmt.Sprintf("quality %.1f below %.1f", score, threshold)
		if !a.Pass {
			reason = fmt.Sprintf("quality %.1f rejected by reviewer", score)
		}
		if a.Feedback != "" {
			reason += ": " + a.Feedback
		}
		if len(a.Issues) > 0 {
			reason += " (" + strings.Join(a.Issues, "; ") + ")"
		}
		return s.failCycle(ctx, job, reason)
	}

	now := s.now()
	if err := transition(db, job, models.JobStatusCompleted, map[string]interface{}{
		"deliverable":      deliverable,
		"quality_score":    score,
		"quality_feedback": a.Feedback,
		"completed_at":     &now,
		"status_reason":    "",
	}); err != nil {
		return nil, err
	}
	job.QualityScore = &score
	s.statusChanged(job.ID, models.JobStatusReview, models.JobStatusCompleted, "")

	paid, err := s.ProcessPayment(ctx, job.ID)
	if err != nil {
		return nil, err
	}
	return &Outcome{JobID: job.ID, Status: paid.Status, Passed: true, Score: score}, nil
}

// failCycle applies the revision cap to a failed cycle. Below the cap the job
// reopens for a fresh cycle. At the cap a paid job is refunded and any other
// job fails.
func (s *Service) failCycle(ctx context.Context, job *models.Job, reason string) (*Outcome, error) {
	from := job.Status
	db := s.db.WithContext(ctx)
	log := s.log.WithFields(logrus.Fields{"job_id": job.ID, "revision_count": job.RevisionCount})

	if job.RevisionCount < job.MaxRevisions {
		if err := transition(db, job, models.JobStatusOpen, map[string]interface{}{
			"revision_count":    job.RevisionCount + 1,
			"revision_feedback": reason,
			"status_reason":     reason,
		}); err != nil {
			return nil, err
		}
		job.RevisionCount++
		log.Infof("Job sent back for revision: %s", reason)
		s.statusChanged(job.ID, from, models.JobStatusOpen, reason)
		return &Outcome{JobID: job.ID, Status: job.Status, Reason: reason, Score: scoreOf(job)}, nil
	}

	if job.StripePaymentRef == "" || s.gateway == nil {
		final := fmt.Sprintf("failed after %d revisions: %s", job.RevisionCount, reason)
		if err := transition(db, job, models.JobStatusFailed, map[string]interface{}{"status_reason": final}); err != nil {
			return nil, err
		}
		log.Warn(final)
		s.statusChanged(job.ID, from, models.JobStatusFailed, final)
		return &Outcome{JobID: job.ID, Status: job.Status, Reason: final, Score: scoreOf(job)}, nil
	}

	refund, err := s.gateway.Refund(ctx, job.StripePaymentRef, reason)
	if err != nil {
		final := fmt.Sprintf("failed after %d revisions, refund not issued: %s", job.RevisionCount, apperr.MessageOf(err))
		if terr := transition(db, job, models.JobStatusFailed, map[string]interface{}{"status_reason": final}); terr != nil {
			return nil, terr
		}
		log.Errorf("Refund failed for payment %s: %v", job.StripePaymentRef, err)
		s.statusChanged(job.ID, from, models.JobStatusFailed, final)
		return &Outcome{JobID: job.ID, Status: job.Status, Reason: final, Score: scoreOf(job)}, nil
	}

	final := fmt.Sprintf("refunded after %d revisions: %s", job.RevisionCount, reason)
	if err := s.markRefunded(db, job, final, refund.ID); err != nil {
		return nil, err
	}
	log.Info(final)
	s.statusChanged(job.ID, from, models.JobStatusRefunded, final)
	return &Outcome{JobID: job.ID, Status: job.Status, Reason: final, Score: scoreOf(job)}, nil
}

// markRefunded closes a job as refunded, discarding its plan and booking the
// refund in the ledger. A job that was already paid out has its collaborator
// earnings and platform fee reversed first.
func (s *Service) markRefunded(db *gorm.DB, job *models.Job, reason, refundID string) error {
	return db.Transaction(func(tx *gorm.DB) error {
		if err := purgeWork(tx, job.ID); err != nil {
			return err
		}
		if err := transition(tx, job, models.JobStatusRefunded, map[string]interface{}{"status_reason": reason}); err != nil {
			return err
		}
		if job.PaidAt != nil {
			if err := s.reversePayout(tx, job); err != nil {
				return err
			}
		}
		_, err := store.Append(tx, s.now(), store.Entry{
			FromKind: models.PartyJob, FromID: job.ID,
			ToKind: models.PartyHuman, ToID: job.PosterHumanID,
			Amount: job.Budget, Type: models.TxTypeRefund,
			Metadata: models.JSONMap{"payment_ref": job.StripePaymentRef, "refund_id": refundID},
		})
		return err
	})
}

// reversePayout claws back what a job paid out. Collaborator rows are gone
// after a revision, so the payout is read back from the ledger.
func (s *Service) reversePayout(tx *gorm.DB, job *models.Job) error {
	var paid []models.Transaction
	if err := tx.Where("from_kind = ? AND from_id = ? AND type IN ?",
		models.PartyJob, job.ID, []string{models.TxTypeJobPayment, models.TxTypePlatformFee}).
		Order("id").Find(&paid).Error; err != nil {
		return err
	}

	fees := decimal.Zero
	for _, p := range paid {
		if p.Type == models.TxTypePlatformFee {
			fees = fees.Add(p.Amount)
		} else if _, err := store.CreditBot(tx, p.ToID, decimal.Zero, p.Amount.Neg()); err != nil {
			return err
		}
		if _, err := store.Append(tx, s.now(), store.Entry{
			FromKind: p.ToKind, FromID: p.ToID,
			ToKind: models.PartyJob, ToID: job.ID,
			Amount: p.Amount, Type: models.TxTypePayoutReversal,
			Metadata: models.JSONMap{"reversed_reference": p.Reference, "reversed_type": p.Type},
		}); err != nil {
			return err
		}
	}
	if fees.IsZero() {
		return nil
	}
	return store.BumpPlatformStat(tx, store.StatDelta{JobFees: fees.Neg()})
}

func scoreOf(job *models.Job) float64 {
	if job.QualityScore == nil {
		return 0
	}
	return *job.QualityScore
}
