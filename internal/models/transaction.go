package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Party kinds for Transaction endpoints
const (
	PartyBot      = "bot"
	PartyHuman    = "human"
	PartyVenture  = "venture"
	PartyJob      = "job"
	PartyPlatform = "platform"
	PartyExternal = "external"
)

// Transaction types
const (
	TxTypeRevenue          = "revenue"
	TxTypePlatformFee      = "platform_fee"
	TxTypeDistribution     = "distribution"
	TxTypeReinvestment     = "reinvestment"
	TxTypeCapitalInjection = "capital_injection"
	TxTypeJobFunding       = "job_funding"
	TxTypeJobPayment       = "job_payment"
	TxTypeRefund           = "refund"
	TxTypeDeposit          = "deposit"
	TxTypePayoutReversal   = "payout_reversal"
	TxTypeUnreconciled     = "unreconciled"
)

// Transaction is an append-only ledger entry. Never updated or deleted.
type Transaction struct {
	ID        uint            `gorm:"primarykey" json:"id"`
	Reference string          `gorm:"size:36;not null;uniqueIndex" json:"reference"`
	FromKind  string          `gorm:"size:20;not null" json:"from_kind"`
	FromID    uint            `json:"from_id"`
	ToKind    string          `gorm:"size:20;not null" json:"to_kind"`
	ToID      uint            `json:"to_id"`
	Amount    decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"amount"`
	Type      string          `gorm:"size:32;not null;index" json:"type"`
	Metadata  JSONMap         `gorm:"type:jsonb" json:"metadata"`
	CreatedAt time.Time       `gorm:"not null;index" json:"created_at"`
}

func (Transaction) TableName() string {
	return "ledger_transaction"
}

// PlatformStat is the single aggregate row for platform-wide counters.
// It is updated in the same DB transaction as the triggering operation.
type PlatformStat struct {
	ID          uint            `gorm:"primarykey" json:"id"`
	VentureFees decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"venture_fees"`
	JobFees     decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"job_fees"`
	TotalBots   int64           `gorm:"not null" json:"total_bots"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (PlatformStat) TableName() string {
	return "platform_stat"
}

// PlatformStatID is the primary key of the one PlatformStat row
const PlatformStatID = 1
