package referral

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/metrics"
)

var ErrAccountNotFound = errors.New("referral: account not found")

// GrantResult reports whether a bonus was credited by this call.
type GrantResult struct {
	Granted    bool  `json:"granted"`
	Amount     int64 `json:"amount"`
	ReferrerID uint  `json:"referrer_id,omitempty"`
}

// Decision is the pure part of a grant: who would receive how much.
type Decision struct {
	Grant      bool
	Amount     int64
	ReferrerID uint
	ReferredID uint
}

// Decide determines whether an upgrade to plan earns the referrer of rel a
// bonus. rel is nil when the upgraded account was not referred.
func Decide(plan entitlements.Plan, rel *models.ReferralRelationship) Decision {
	amount := entitlements.ReferralBonus(plan)
	if amount <= 0 || rel == nil || rel.ReferrerID == rel.ReferredID {
		return Decision{}
	}
	return Decision{Grant: true, Amount: amount, ReferrerID: rel.ReferrerID, ReferredID: rel.ReferredID}
}

type Engine struct {
	db *gorm.DB
}

func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// OnQualifyingUpgrade credits the referrer of accountID once per
// triggeringUpgradeID. The grant row and the credit commit together; a
// repeated call finds the grant row and credits nothing.
func (e *Engine) OnQualifyingUpgrade(ctx context.Context, accountID uint, plan entitlements.Plan, triggeringUpgradeID string) (GrantResult, error) {
	plan = entitlements.Normalize(string(plan))
	if entitlements.ReferralBonus(plan) == 0 {
		return GrantResult{}, nil
	}

	var rel models.ReferralRelationship
	err := e.db.WithContext(ctx).Where("referred_id = ?", accountID).First(&rel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return GrantResult{}, nil
	}
	if err != nil {
		return GrantResult{}, fmt.Errorf("load referral relationship: %w", err)
	}

	decision := Decide(plan, &rel)
	if !decision.Grant {
		return GrantResult{}, nil
	}

	granted := false
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		grant := models.ReferralBonusGrant{
			ReferrerID:          decision.ReferrerID,
			ReferredID:          decision.ReferredID,
			TriggeringUpgradeID: triggeringUpgradeID,
			Plan:                string(plan),
			Amount:              decision.Amount,
		}
		ins := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "referrer_id"}, {Name: "referred_id"}, {Name: "triggering_upgrade_id"}},
			DoNothing: true,
		}).Create(&grant)
		if ins.Error != nil {
			return fmt.Errorf("insert bonus grant: %w", ins.Error)
		}
		if ins.RowsAffected == 0 {
			return nil
		}

		upd := tx.Model(&models.Account{}).Where("id = ?", decision.ReferrerID).
			UpdateColumns(map[string]interface{}{
				"referral_bonus_earned": gorm.Expr("referral_bonus_earned + ?", decision.Amount),
				"referral_upgrades":     gorm.Expr("referral_upgrades + ?", 1),
			})
		if upd.Error != nil {
			return fmt.Errorf("credit referrer: %w", upd.Error)
		}
		if upd.RowsAffected == 0 {
			return fmt.Errorf("credit referrer %d: %w", decision.ReferrerID, ErrAccountNotFound)
		}
		granted = true
		return nil
	})
	if err != nil {
		return GrantResult{}, err
	}
	if !granted {
		log.Infof("[Referral] bonus for upgrade %s of account %d already granted", triggeringUpgradeID, accountID)
		return GrantResult{}, nil
	}

	metrics.ReferralGrantsTotal.WithLabelValues(string(plan)).Inc()
	log.Infof("[Referral] granted %d to account %d for upgrade %s of account %d",
		decision.Amount, decision.ReferrerID, triggeringUpgradeID, accountID)
	return GrantResult{Granted: true, Amount: decision.Amount, ReferrerID: decision.ReferrerID}, nil
}
