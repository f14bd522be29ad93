package quota

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/entitlements"
)

// ApplyPlan writes the limits of plan into the account's entitlement and sets
// the account plan. Usage counters are left alone: a downgrade keeps what was
// already consumed this period and only refuses further consumption.
func (e *Enforcer) ApplyPlan(ctx context.Context, accountID uint, plan entitlements.Plan) error {
	plan = entitlements.Normalize(string(plan))
	limits := entitlements.Resolve(plan)

	var previous string
	err := e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var account models.Account
		if err := tx.Select("id", "plan").First(&account, accountID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("load account: %w", err)
		}
		previous = account.Plan

		if err := tx.Model(&models.Account{}).Where("id = ?", accountID).
			Update("plan", string(plan)).Error; err != nil {
			return fmt.Errorf("update account plan: %w", err)
		}

		upd := tx.Model(&models.Entitlement{}).Where("account_id = ?", accountID).
			Updates(map[string]interface{}{
				"max_shortcuts":   limits.MaxShortcuts,
				"max_ai_requests": limits.MaxAIRequests,
			})
		if upd.Error != nil {
			return fmt.Errorf("update entitlement limits: %w", upd.Error)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if previous != string(plan) {
		log.Infof("[Quota] account %d plan %s -> %s (shortcuts=%d ai=%d)",
			accountID, previous, plan, limits.MaxShortcuts, limits.MaxAIRequests)
	}
	e.invalidate(ctx, accountID)
	return nil
}

// CurrentPlan returns the plan currently applied to the account.
func (e *Enforcer) CurrentPlan(ctx context.Context, accountID uint) (entitlements.Plan, error) {
	var account models.Account
	if err := e.db.WithContext(ctx).Select("id", "plan").First(&account, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrAccountNotFound
		}
		return "", fmt.Errorf("load account: %w", err)
	}
	return entitlements.Normalize(account.Plan), nil
}
