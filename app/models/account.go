package models

import (
	"time"

	"github.com/go-playground/validator/v10"
)

// Account is a tenant of the shortcut service. Plan is the effective plan
// currently applied to the account's entitlement.
type Account struct {
	ID                  uint      `gorm:"primaryKey" json:"id"`
	Email               string    `gorm:"type:varchar(200);not null;uniqueIndex" json:"email" validate:"required,email,max=200"`
	Plan                string    `gorm:"type:varchar(50);not null;default:'free';index" json:"plan" validate:"oneof=free premium enterprise"`
	ReferralCode        string    `gorm:"type:varchar(32);not null;uniqueIndex" json:"referral_code"`
	ReferralBonusEarned int64     `gorm:"not null;default:0" json:"referral_bonus_earned"`
	ReferralUpgrades    int64     `gorm:"not null;default:0" json:"referral_upgrades"`
	CreatedAt           time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt           time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (a *Account) Validate() error {
	v := validator.New()

	return v.Struct(a)
}
