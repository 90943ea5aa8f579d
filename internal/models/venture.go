package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	VentureTypeStandard = "standard"
	VentureTypePooled   = "pooled"

	VentureStatusForming = "forming"
	VentureStatusActive  = "active"
	VentureStatusLocked  = "locked"
	VentureStatusClosed  = "closed"

	ParticipantStatusActive = "active"
	ParticipantStatusExited = "exited"
)

// Venture is a shared enterprise. Never physically deleted.
type Venture struct {
	ID               uint            `gorm:"primarykey" json:"id"`
	Name             string          `gorm:"size:128;not null" json:"name"`
	Description      string          `gorm:"type:text" json:"description"`
	Type             string          `gorm:"size:20;not null" json:"type"` // 'standard' or 'pooled'
	FounderBotID     uint            `json:"founder_bot_id"`
	IsLocked         bool            `gorm:"default:false" json:"is_locked"`
	ParticipantCount int             `json:"participant_count"`
	TotalRevenue     decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"total_revenue"`
	TotalCapital     decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"total_capital"`
	Status           string          `gorm:"size:20;not null" json:"status"`
	CreatedAt        time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Venture) TableName() string {
	return "venture"
}

// VentureParticipant joins a Bot to a standard Venture. EquityPercentage is
// always derived, never set by hand.
type VentureParticipant struct {
	ID               uint       `gorm:"primarykey" json:"id"`
	VentureID        uint       `gorm:"not null;uniqueIndex:idx_venture_participant" json:"venture_id"`
	BotID            uint       `gorm:"not null;uniqueIndex:idx_venture_participant" json:"bot_id"`
	HoursWorked      float64    `gorm:"not null" json:"hours_worked"`
	ExpectedHours    float64    `json:"expected_hours"`
	EquityPercentage float64    `gorm:"not null" json:"equity_percentage"`
	Status           string     `gorm:"size:20;not null" json:"status"`
	JoinedAt         time.Time  `json:"joined_at"`
	ExitedAt         *time.Time `json:"exited_at"`
}

func (VentureParticipant) TableName() string {
	return "venture_participant"
}

// PooledInvestor joins a Human to a pooled Venture
type PooledInvestor struct {
	ID               uint            `gorm:"primarykey" json:"id"`
	VentureID        uint            `gorm:"not null;uniqueIndex:idx_pooled_investor" json:"venture_id"`
	HumanID          uint            `gorm:"not null;uniqueIndex:idx_pooled_investor" json:"human_id"`
	AmountInvested   decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount_invested"`
	EquityPercentage float64         `gorm:"not null" json:"equity_percentage"`
	CreatedAt        time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt        time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (PooledInvestor) TableName() string {
	return "pooled_investor"
}

// LockVote records one participant's vote to lock a venture
type LockVote struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	VentureID uint      `gorm:"not null;uniqueIndex:idx_lock_vote" json:"venture_id"`
	BotID     uint      `gorm:"not null;uniqueIndex:idx_lock_vote" json:"bot_id"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (LockVote) TableName() string {
	return "venture_lock_vote"
}

// Task is an immutable unit of logged work
type Task struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	VentureID   uint      `gorm:"not null;index" json:"venture_id"`
	BotID       uint      `gorm:"not null;index" json:"bot_id"`
	Description string    `gorm:"type:text" json:"description"`
	HoursSpent  float64   `gorm:"not null" json:"hours_spent"`
	ImpactScore float64   `gorm:"not null" json:"impact_score"`
	CompletedAt time.Time `gorm:"not null" json:"completed_at"`
	CreatedAt   time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (Task) TableName() string {
	return "task"
}

const (
	WorkItemStatusOpen      = "open"
	WorkItemStatusCompleted = "completed"
)

// WorkItem is a workspace item tracked outside the job pipeline. Completing
// one records a Task.
type WorkItem struct {
	ID          uint       `gorm:"primarykey" json:"id"`
	VentureID   uint       `gorm:"not null;index" json:"venture_id"`
	BotID       uint       `gorm:"not null;index" json:"bot_id"`
	Title       string     `gorm:"size:256;not null" json:"title"`
	Description string     `gorm:"type:text" json:"description"`
	Status      string     `gorm:"size:20;not null" json:"status"`
	HoursSpent  float64    `json:"hours_spent"`
	ImpactScore float64    `json:"impact_score"`
	Deliverable string     `gorm:"type:text" json:"deliverable"`
	TaskID      uint       `json:"task_id"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (WorkItem) TableName() string {
	return "work_item"
}
