package models

import "time"

// ProcessedWebhook remembers gateway events already applied to the ledger
type ProcessedWebhook struct {
	EventID   string    `gorm:"primaryKey;size:255" json:"event_id"`
	Kind      string    `gorm:"size:32;not null" json:"kind"`
	Outcome   string    `gorm:"size:64" json:"outcome"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime"`
}

func (ProcessedWebhook) TableName() string {
	return "payment_webhook_event"
}
