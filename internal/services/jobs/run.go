package jobs

import (
	"context"
	"fmt"
	"time"

	"venturemarket/internal/apperr"
	"venturemarket/internal/models"
	"venturemarket/internal/store"

	"github.com/sirupsen/logrus"
)

// Run drives a job until it reaches a state that needs an outside event:
// matched, executed and gated, and through as many revision cycles as the
// cap allows.
func (s *Service) Run(ctx context.Context, jobID uint) (*models.Job, error) {
	db := s.db.WithContext(ctx)
	var job models.Job
	if err := db.First(&job, jobID).Error; err != nil {
		return nil, store.NotFound(err, "job", jobID)
	}

	// Each cycle is match + execute; failures raise revision_count, so the
	// loop ends by the cap.
	maxSteps := 3 * (job.MaxRevisions + 2)
	for i := 0; i < maxSteps; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := db.First(&job, jobID).Error; err != nil {
			return nil, err
		}

		var err error
		switch job.Status {
		case models.JobStatusOpen:
			_, err = s.AnalyzeAndMatch(ctx, job.ID)
		case models.JobStatusClaimed:
			_, err = s.ExecuteJobPipeline(ctx, job.ID)
		case models.JobStatusCompleted:
			_, err = s.ProcessPayment(ctx, job.ID)
		default:
			return &job, nil
		}
		if err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("job %d did not settle after %d steps", jobID, maxSteps)
}

// SweepStalledJobs fails in-progress jobs that started more than timeout ago.
// Each counts as a quality failure toward the revision cap.
func (s *Service) SweepStalledJobs(ctx context.Context, timeout time.Duration) (int, error) {
	cutoff := s.now().Add(-timeout)
	var stalled []models.Job
	if err := s.db.WithContext(ctx).
		Where("status = ? AND started_at < ?", models.JobStatusInProgress, cutoff).
		Find(&stalled).Error; err != nil {
		return 0, err
	}

	swept := 0
	for i := range stalled {
		job := &stalled[i]
		reason := fmt.Sprintf("stalled in progress for more than %s", timeout)
		if _, err := s.failCycle(ctx, job, reason); err != nil {
			if apperr.CodeOf(err) == apperr.CodeInvalidTransition {
				continue
			}
			return swept, err
		}
		swept++
	}
	if swept > 0 {
		s.log.WithFields(logrus.Fields{"swept": swept, "timeout": timeout.String()}).Info("Stalled jobs swept")
	}
	return swept, nil
}
