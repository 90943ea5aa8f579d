package jobs

import (
	"venturemarket/internal/apperr"
	"venturemarket/internal/models"

	"gorm.io/gorm"
)

var allowedTransitions = map[string]map[string]struct{}{
	models.JobStatusPendingPayment: {
		models.JobStatusOpen:   {},
		models.JobStatusFailed: {},
	},
	models.JobStatusOpen: {
		models.JobStatusClaimed:  {},
		models.JobStatusFailed:   {},
		models.JobStatusRefunded: {},
	},
	models.JobStatusClaimed: {
		models.JobStatusInProgress: {},
		models.JobStatusFailed:     {},
		models.JobStatusRefunded:   {},
	},
	models.JobStatusInProgress: {
		models.JobStatusReview:   {},
		models.JobStatusOpen:     {},
		models.JobStatusFailed:   {},
		models.JobStatusRefunded: {},
	},
	models.JobStatusReview: {
		models.JobStatusCompleted: {},
		models.JobStatusOpen:      {},
		models.JobStatusFailed:    {},
		models.JobStatusRefunded:  {},
	},
	models.JobStatusCompleted: {
		models.JobStatusPaid:     {},
		models.JobStatusOpen:     {},
		models.JobStatusRefunded: {},
	},
	models.JobStatusPaid: {
		models.JobStatusOpen:     {},
		models.JobStatusRefunded: {},
	},
	models.JobStatusFailed:   {},
	models.JobStatusRefunded: {},
}

// ValidateTransition reports whether a job may move from one status to another.
func ValidateTransition(from, to string) error {
	next, ok := allowedTransitions[from]
	if !ok {
		return apperr.Newf(apperr.CodeInvalidTransition, "unknown job status %q", from)
	}
	if _, ok := allowedTransitions[to]; !ok {
		return apperr.Newf(apperr.CodeInvalidTransition, "unknown job status %q", to)
	}
	if _, ok := next[to]; !ok {
		return apperr.Newf(apperr.CodeInvalidTransition, "job cannot move from %s to %s", from, to)
	}
	return nil
}

// IsTerminal reports whether no transition leaves status.
func IsTerminal(status string) bool {
	return len(allowedTransitions[status]) == 0
}

// transition moves job to status `to` only if its row still holds the
// status job was read with. updates are applied in the same statement.
func transition(tx *gorm.DB, job *models.Job, to string, updates map[string]interface{}) error {
	if err := ValidateTransition(job.Status, to); err != nil {
		return err
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	updates["status"] = to

	res := tx.Model(&models.Job{}).Where("id = ? AND status = ?", job.ID, job.Status).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.Newf(apperr.CodeInvalidTransition, "job %d is no longer %s", job.ID, job.Status)
	}
	job.Status = to
	return nil
}

// purgeWork removes a job's plan rows. Payments already made stay in the
// transaction ledger.
func purgeWork(tx *gorm.DB, jobID uint) error {
	if err := tx.Where("job_id = ?", jobID).Delete(&models.JobStep{}).Error; err != nil {
		return err
	}
	return tx.Where("job_id = ?", jobID).Delete(&models.JobCollaborator{}).Error
}
