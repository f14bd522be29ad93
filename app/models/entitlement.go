package models

import "time"

// Entitlement holds the resolved limits and the usage counters of one account.
// A limit of -1 means unlimited. UsagePeriodAnchor is the first period start;
// later period starts keep its day of month.
type Entitlement struct {
	ID                uint       `gorm:"primaryKey" json:"id"`
	AccountID         uint       `gorm:"not null;uniqueIndex" json:"account_id"`
	MaxShortcuts      int64      `gorm:"column:max_shortcuts;not null;default:50" json:"max_shortcuts"`
	ShortcutsUsed     int64      `gorm:"column:shortcuts_used;not null;default:0" json:"shortcuts_used"`
	MaxAIRequests     int64      `gorm:"column:max_ai_requests;not null;default:100" json:"max_ai_requests"`
	AIRequestsUsed    int64      `gorm:"column:ai_requests_used;not null;default:0" json:"ai_requests_used"`
	UsagePeriodStart  time.Time  `gorm:"column:usage_period_start;type:timestamp;not null;index" json:"usage_period_start"`
	UsagePeriodAnchor *time.Time `gorm:"column:usage_period_anchor;type:timestamp;default:null" json:"-"`
	CreatedAt         time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
