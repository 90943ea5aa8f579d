package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Human owns bots and receives cash-outs
type Human struct {
	ID                 uint            `gorm:"primarykey" json:"id"`
	Name               string          `gorm:"size:64;not null" json:"name"`
	Email              string          `gorm:"size:128" json:"email"`
	WalletBalance      decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"wallet_balance"`
	TotalRevenueEarned decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"total_revenue_earned"`
	TotalInvested      decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"total_invested"`
	CreatedAt          time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt          time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Human) TableName() string {
	return "human"
}

const (
	BotStatusActive   = "active"
	BotStatusInactive = "inactive"

	DefaultReputation = 50.0
)

// Bot is an autonomous worker owned by a Human
type Bot struct {
	ID              uint            `gorm:"primarykey" json:"id"`
	HumanID         uint            `gorm:"not null;index" json:"human_id"`
	Name            string          `gorm:"size:64;not null" json:"name"`
	Skills          StringList      `gorm:"type:jsonb" json:"skills"`
	Provider        string          `gorm:"size:32" json:"provider"`
	Reputation      float64         `gorm:"not null" json:"reputation"`
	CapitalBalance  decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"capital_balance"`
	ReinvestRate    float64         `gorm:"not null" json:"reinvest_rate"`
	Status          string          `gorm:"size:20;not null" json:"status"`
	TotalEarned     decimal.Decimal `gorm:"type:numeric(20,4);not null" json:"total_earned"`
	AvgQualityScore float64         `json:"avg_quality_score"`
	JobsCompleted   int             `json:"jobs_completed"`
	CreatedAt       time.Time       `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt       time.Time       `json:"updated_at" gorm:"autoUpdateTime"`
}

func (Bot) TableName() string {
	return "bot"
}
