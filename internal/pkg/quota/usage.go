package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/entitlements"
)

type Counter struct {
	Limit     int64 `json:"limit"`
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

type Usage struct {
	AccountID        uint      `json:"account_id"`
	Shortcuts        Counter   `json:"shortcuts"`
	AIRequests       Counter   `json:"ai_requests"`
	UsagePeriodStart time.Time `json:"usage_period_start"`
}

func usageFrom(ent *models.Entitlement) Usage {
	return Usage{
		AccountID: ent.AccountID,
		Shortcuts: Counter{
			Limit:     ent.MaxShortcuts,
			Used:      ent.ShortcutsUsed,
			Remaining: entitlements.Remaining(ent.MaxShortcuts, ent.ShortcutsUsed),
		},
		AIRequests: Counter{
			Limit:     ent.MaxAIRequests,
			Used:      ent.AIRequestsUsed,
			Remaining: entitlements.Remaining(ent.MaxAIRequests, ent.AIRequestsUsed),
		},
		UsagePeriodStart: ent.UsagePeriodStart.UTC(),
	}
}

// Usage returns a read-only snapshot of the account's limits and counters.
// It may be served from cache and must not be used for quota decisions.
func (e *Enforcer) Usage(ctx context.Context, accountID uint) (Usage, error) {
	if e.cache != nil {
		ent, err := e.cache.Get(ctx, accountID)
		if err != nil {
			log.Warnf("[Quota] snapshot cache read failed for account %d: %v", accountID, err)
		} else if ent != nil {
			return usageFrom(ent), nil
		}
	}

	var ent models.Entitlement
	if err := e.db.WithContext(ctx).Where("account_id = ?", accountID).First(&ent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Usage{}, ErrAccountNotFound
		}
		return Usage{}, fmt.Errorf("load entitlement: %w", err)
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, &ent); err != nil {
			log.Warnf("[Quota] snapshot cache write failed for account %d: %v", accountID, err)
		}
	}
	return usageFrom(&ent), nil
}
