package models

import "time"

const (
	BillingStatusIncomplete = "incomplete"
	BillingStatusTrialing   = "trialing"
	BillingStatusActive     = "active"
	BillingStatusPastDue    = "past_due"
	BillingStatusCanceled   = "canceled"
	BillingStatusUnpaid     = "unpaid"
	BillingStatusExpired    = "expired"
)

// BillingSubscription mirrors a provider subscription. Status and period
// fields are owned by the newest provider event seen (LastEventAt, LastEventID).
// BonusKey is set once, when the subscription raised its account to a higher
// plan, and keys the referral bonus paid for that upgrade.
type BillingSubscription struct {
	ID                     uint       `gorm:"primaryKey" json:"id"`
	AccountID              uint       `gorm:"not null;index" json:"account_id"`
	Provider               string     `gorm:"type:varchar(20);not null;index:idx_billing_subscriptions_provider_status,priority:1" json:"provider"`
	ProviderSubscriptionID string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"provider_subscription_id"`
	Plan                   string     `gorm:"type:varchar(50);not null;default:'free';index" json:"plan"`
	Status                 string     `gorm:"type:varchar(32);not null;default:'incomplete';index:idx_billing_subscriptions_provider_status,priority:2" json:"status"`
	CurrentPeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd      bool       `gorm:"default:false" json:"cancel_at_period_end"`
	LastEventAt            time.Time  `gorm:"type:timestamp;not null" json:"last_event_at"`
	LastEventID            string     `gorm:"type:varchar(191);not null;default:''" json:"last_event_id"`
	UpgradeRequestID       string     `gorm:"type:varchar(36);not null;default:''" json:"upgrade_request_id,omitempty"`
	BonusKey               string     `gorm:"type:varchar(191);not null;default:''" json:"-"`
	CreatedAt              time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
