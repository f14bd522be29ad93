package models

import "time"

// ReferralRelationship links a referred account to the account that referred
// it. A referred account has at most one referrer and the link never changes.
type ReferralRelationship struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	ReferrerID uint      `gorm:"not null;index" json:"referrer_id"`
	ReferredID uint      `gorm:"not null;uniqueIndex" json:"referred_id"`
	Code       string    `gorm:"type:varchar(32);not null" json:"code"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
}

// ReferralBonusGrant records one awarded bonus. The row's existence is what
// keeps a bonus from being granted twice for the same upgrade.
type ReferralBonusGrant struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	ReferrerID          uint      `gorm:"not null;index:ux_referral_bonus_grants_triple,unique,priority:1" json:"referrer_id"`
	ReferredID          uint      `gorm:"not null;index:ux_referral_bonus_grants_triple,unique,priority:2" json:"referred_id"`
	TriggeringUpgradeID string    `gorm:"type:varchar(191);not null;index:ux_referral_bonus_grants_triple,unique,priority:3" json:"triggering_upgrade_id"`
	Plan                string    `gorm:"type:varchar(50);not null" json:"plan"`
	Amount              int64     `gorm:"not null" json:"amount"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
}
