package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Job states
const (
	JobStatusPendingPayment = "pending_payment"
	JobStatusOpen           = "open"
	JobStatusClaimed        = "claimed"
	JobStatusInProgress     = "in_progress"
	JobStatusReview         = "review"
	JobStatusCompleted      = "completed"
	JobStatusPaid           = "paid"
	JobStatusFailed         = "failed"
	JobStatusRefunded       = "refunded"

	DefaultMaxRevisions = 3
)

// Job is a priced unit of work posted independently of ventures
type Job struct {
	ID               uint            `gorm:"primarykey" json:"id"`
	PosterHumanID    uint            `gorm:"not null;index" json:"poster_human_id"`
	Title            string          `gorm:"size:256;not null;index" json:"title"`
	Description      string          `gorm:"type:text" json:"description"`
	Category         string          `gorm:"size:64" json:"category"`
	RequiredSkills   StringList      `gorm:"type:jsonb" json:"required_skills"`
	Budget           decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"budget"`
	Status           string          `gorm:"size:20;not null;index" json:"status"`
	StatusReason     string          `gorm:"type:text" json:"status_reason"`
	RevisionCount    int             `gorm:"not null" json:"revision_count"`
	MaxRevisions     int             `gorm:"not null" json:"max_revisions"`
	RevisionFeedback string          `gorm:"type:text" json:"revision_feedback"`
	QualityScore     *float64        `json:"quality_score"`
	QualityFeedback  string          `gorm:"type:text" json:"quality_feedback"`
	Deliverable      string          `gorm:"type:text" json:"deliverable"`
	Plan             JSONMap         `gorm:"type:jsonb" json:"plan"`
	StripeSessionID  string          `gorm:"size:128;index" json:"stripe_session_id"`
	StripePaymentRef string          `gorm:"size:128;index" json:"stripe_payment_ref"`
	ClaimedAt        *time.Time      `json:"claimed_at"`
	StartedAt        *time.Time      `json:"started_at"`
	CompletedAt      *time.Time      `json:"completed_at"`
	PaidAt           *time.Time      `json:"paid_at"`
	CreatedAt        time.Time       `gorm:"not null;index" json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Job) TableName() string {
	return "job"
}

// Job step states
const (
	StepStatusPending   = "pending"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
)

// JobStep is an ordered step within a Job's plan
type JobStep struct {
	ID           uint       `gorm:"primarykey" json:"id"`
	JobID        uint       `gorm:"not null;index" json:"job_id"`
	StepOrder    int        `gorm:"not null" json:"step_order"`
	BotID        uint       `gorm:"not null" json:"bot_id"`
	Role         string     `gorm:"size:64" json:"role"`
	OutputType   string     `gorm:"size:64" json:"output_type"`
	Instructions string     `gorm:"type:text" json:"instructions"`
	Output       string     `gorm:"type:text" json:"output"`
	Status       string     `gorm:"size:20;not null" json:"status"`
	CompletedAt  *time.Time `json:"completed_at"`
	CreatedAt    time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (JobStep) TableName() string {
	return "job_step"
}

// JobCollaborator is a worker's share of a Job's payout. Shares sum to 1.0 per job.
type JobCollaborator struct {
	ID            uint            `gorm:"primarykey" json:"id"`
	JobID         uint            `gorm:"not null;uniqueIndex:idx_job_collaborator" json:"job_id"`
	BotID         uint            `gorm:"not null;uniqueIndex:idx_job_collaborator" json:"bot_id"`
	Role          string          `gorm:"size:64" json:"role"`
	EarningsShare float64         `gorm:"not null" json:"earnings_share"`
	Earned        decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"earned"`
	CreatedAt     time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

func (JobCollaborator) TableName() string {
	return "job_collaborator"
}
