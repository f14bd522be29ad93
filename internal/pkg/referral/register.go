package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/metrics"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/shortener"
)

type Reason string

const (
	ReasonInvalidCode     Reason = "invalid_code"
	ReasonAccountNotFound Reason = "account_not_found"
	ReasonSelfReferral    Reason = "self_referral"
	ReasonAlreadyReferred Reason = "already_referred"
)

// RegisterResult is the typed outcome of a referral registration. Rejections
// are results, not errors.
type RegisterResult struct {
	Success    bool   `json:"success"`
	Reason     Reason `json:"error,omitempty"`
	ReferrerID uint   `json:"referrer_id,omitempty"`
}

func rejected(reason Reason) RegisterResult {
	metrics.ReferralRegistrationsTotal.WithLabelValues(string(reason)).Inc()
	return RegisterResult{Reason: reason}
}

// Register links referredAccountID to the owner of code.
func (e *Engine) Register(ctx context.Context, referredAccountID uint, code string) (RegisterResult, error) {
	return e.RegisterTx(e.db.WithContext(ctx), referredAccountID, code)
}

// RegisterTx runs Register on tx, so account creation can include it.
func (e *Engine) RegisterTx(tx *gorm.DB, referredAccountID uint, code string) (RegisterResult, error) {
	code = shortener.NormalizeCode(code)
	if code == "" {
		return rejected(ReasonInvalidCode), nil
	}

	var referred models.Account
	if err := tx.Select("id").First(&referred, referredAccountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rejected(ReasonAccountNotFound), nil
		}
		return RegisterResult{}, fmt.Errorf("load referred account: %w", err)
	}

	var referrer models.Account
	if err := tx.Select("id").Where("referral_code = ?", code).First(&referrer).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return rejected(ReasonInvalidCode), nil
		}
		return RegisterResult{}, fmt.Errorf("load referrer: %w", err)
	}

	if referrer.ID == referred.ID {
		log.Warnf("[Referral] account %d tried to refer itself", referred.ID)
		return rejected(ReasonSelfReferral), nil
	}

	rel := models.ReferralRelationship{ReferrerID: referrer.ID, ReferredID: referred.ID, Code: code}
	ins := tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "referred_id"}},
		DoNothing: true,
	}).Create(&rel)
	if ins.Error != nil {
		return RegisterResult{}, fmt.Errorf("insert referral relationship: %w", ins.Error)
	}
	if ins.RowsAffected == 0 {
		log.Warnf("[Referral] account %d is already referred, code %s rejected", referred.ID, code)
		return rejected(ReasonAlreadyReferred), nil
	}

	metrics.ReferralRegistrationsTotal.WithLabelValues("registered").Inc()
	log.Infof("[Referral] account %d referred by account %d", referred.ID, referrer.ID)
	return RegisterResult{Success: true, ReferrerID: referrer.ID}, nil
}

type Stats struct {
	AccountID     uint   `json:"account_id"`
	ReferralCode  string `json:"referral_code"`
	BonusEarned   int64  `json:"bonus_earned"`
	Upgrades      int64  `json:"upgrades"`
	ReferredCount int64  `json:"referred_count"`
	ReferredBy    *uint  `json:"referred_by,omitempty"`
}

func (e *Engine) Stats(ctx context.Context, accountID uint) (Stats, error) {
	db := e.db.WithContext(ctx)

	var account models.Account
	if err := db.First(&account, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Stats{}, ErrAccountNotFound
		}
		return Stats{}, fmt.Errorf("load account: %w", err)
	}

	stats := Stats{
		AccountID:    account.ID,
		ReferralCode: account.ReferralCode,
		BonusEarned:  account.ReferralBonusEarned,
		Upgrades:     account.ReferralUpgrades,
	}
	if err := db.Model(&models.ReferralRelationship{}).Where("referrer_id = ?", accountID).Count(&stats.ReferredCount).Error; err != nil {
		return Stats{}, fmt.Errorf("count referred accounts: %w", err)
	}

	var rel models.ReferralRelationship
	err := db.Where("referred_id = ?", accountID).First(&rel).Error
	switch {
	case err == nil:
		stats.ReferredBy = &rel.ReferrerID
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return Stats{}, fmt.Errorf("load referral relationship: %w", err)
	}
	return stats, nil
}
