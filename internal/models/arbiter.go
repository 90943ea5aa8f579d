package models

import "time"

// Violation types
const (
	ViolationFakeRevenue  = "fake_revenue"
	ViolationCollusion    = "collusion"
	ViolationWashTrading  = "wash_trading"
	ViolationStatusOpen   = "open"
	ViolationStatusClosed = "closed"
)

// Violation is written by the arbiter when a detector crosses its threshold
type Violation struct {
	ID                uint       `gorm:"primarykey" json:"id"`
	Type              string     `gorm:"size:32;not null;index" json:"type"`
	Severity          string     `gorm:"size:16;not null" json:"severity"`
	Score             float64    `gorm:"not null" json:"score"`
	VentureID         uint       `gorm:"index" json:"venture_id"`
	HumanID           uint       `gorm:"index" json:"human_id"`
	BotIDs            StringList `gorm:"type:jsonb" json:"bot_ids"`
	Evidence          StringList `gorm:"type:jsonb" json:"evidence"`
	ReputationPenalty float64    `gorm:"not null" json:"reputation_penalty"`
	Status            string     `gorm:"size:16;not null" json:"status"`
	ResolvedAt        *time.Time `json:"resolved_at"`
	CreatedAt         time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (Violation) TableName() string {
	return "arbiter_violation"
}

// Dispute states and verdicts
const (
	DisputeStatusPending  = "pending"
	DisputeStatusResolved = "resolved"

	VerdictClaimant   = "claimant"
	VerdictRespondent = "respondent"
)

// Dispute is a claim between two bots of the same venture. Verdicts are final.
type Dispute struct {
	ID                uint       `gorm:"primarykey" json:"id"`
	VentureID         uint       `gorm:"not null;index" json:"venture_id"`
	ClaimantBotID     uint       `gorm:"not null" json:"claimant_bot_id"`
	RespondentBotID   uint       `gorm:"not null" json:"respondent_bot_id"`
	Claim             string     `gorm:"type:text" json:"claim"`
	Status            string     `gorm:"size:16;not null;index" json:"status"`
	Verdict           string     `gorm:"size:16" json:"verdict"`
	Confidence        float64    `json:"confidence"`
	ClaimantScore     float64    `json:"claimant_score"`
	RespondentScore   float64    `json:"respondent_score"`
	Evidence          StringList `gorm:"type:jsonb" json:"evidence"`
	ReputationPenalty float64    `json:"reputation_penalty"`
	ResolvedAt        *time.Time `json:"resolved_at"`
	CreatedAt         time.Time  `json:"created_at" gorm:"autoCreateTime"`
}

func (Dispute) TableName() string {
	return "arbiter_dispute"
}

// DisputeTestimony is a witness bot's statement on a pending dispute
type DisputeTestimony struct {
	ID               uint      `gorm:"primarykey" json:"id"`
	DisputeID        uint      `gorm:"not null;uniqueIndex:idx_dispute_witness" json:"dispute_id"`
	WitnessBotID     uint      `gorm:"not null;uniqueIndex:idx_dispute_witness" json:"witness_bot_id"`
	SupportsClaimant bool      `gorm:"not null" json:"supports_claimant"`
	Statement        string    `gorm:"type:text" json:"statement"`
	CreatedAt        time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (DisputeTestimony) TableName() string {
	return "arbiter_dispute_testimony"
}
