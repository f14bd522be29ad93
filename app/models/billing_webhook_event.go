package models

import (
	"time"

	"gorm.io/datatypes"
)

// BillingWebhookEvent is one ledger row per provider event. Rows are never
// rewritten; only ProcessedAt, ProcessingError and Attempts change.
type BillingWebhookEvent struct {
	ID              uint           `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"type:varchar(20);not null;index" json:"provider"`
	ProviderEventID string         `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_event_id"`
	EventType       string         `gorm:"type:varchar(100);not null;index" json:"event_type"`
	Payload         datatypes.JSON `gorm:"not null" json:"payload"`
	ReceivedAt      time.Time      `gorm:"type:timestamp;not null;index" json:"received_at"`
	ProcessedAt     *time.Time     `gorm:"type:timestamp;default:null;index" json:"processed_at,omitempty"`
	ProcessingError string         `gorm:"type:text" json:"processing_error"`
	Attempts        int            `gorm:"not null;default:0" json:"attempts"`
	CreatedAt       time.Time      `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsProcessed reports whether downstream processing already completed.
func (e *BillingWebhookEvent) IsProcessed() bool {
	return e != nil && e.ProcessedAt != nil
}
