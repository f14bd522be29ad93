package quota

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/metrics"
)

// PeriodStart normalizes a timestamp the way usage_period_start is stored.
func PeriodStart(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// nextPeriodStart returns the latest monthly boundary counted from anchor
// that is not after now, or start unchanged if that boundary is not past
// start. A zero anchor counts from start.
func nextPeriodStart(anchor, start, now time.Time) time.Time {
	if anchor.IsZero() || anchor.After(start) {
		anchor = start
	}
	months := (now.Year()-anchor.Year())*12 + int(now.Month()) - int(anchor.Month())
	for months > 0 && addMonths(anchor, months).After(now) {
		months--
	}
	if months <= 0 {
		return start
	}
	next := addMonths(anchor, months)
	if !next.After(start) {
		return start
	}
	return next
}

func periodAnchor(ent *models.Entitlement) time.Time {
	if ent.UsagePeriodAnchor == nil {
		return time.Time{}
	}
	return PeriodStart(*ent.UsagePeriodAnchor)
}

// addMonths moves t by n calendar months. The day is clamped to the length of
// the target month, so Jan 31 becomes Feb 28 and not Mar 3.
func addMonths(t time.Time, n int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(n), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	day := t.Day()
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return first.AddDate(0, 0, day-1)
}

// ResetPeriod zeroes AI usage and moves usage_period_start forward once the
// current period has elapsed. It is a no-op otherwise, and a concurrent
// reset of the same period is detected by the unchanged period start.
func (e *Enforcer) ResetPeriod(ctx context.Context, accountID uint, now time.Time) (bool, error) {
	var ent models.Entitlement
	if err := e.db.WithContext(ctx).Where("account_id = ?", accountID).First(&ent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, ErrAccountNotFound
		}
		return false, fmt.Errorf("load entitlement: %w", err)
	}

	start := PeriodStart(ent.UsagePeriodStart)
	next := nextPeriodStart(periodAnchor(&ent), start, PeriodStart(now))
	if !next.After(start) {
		return false, nil
	}

	upd := e.db.WithContext(ctx).Model(&models.Entitlement{}).
		Where("account_id = ? AND usage_period_start < ?", accountID, next).
		Updates(map[string]interface{}{
			"ai_requests_used":   0,
			"usage_period_start": next,
		})
	if upd.Error != nil {
		return false, fmt.Errorf("reset period: %w", upd.Error)
	}
	if upd.RowsAffected == 0 {
		return false, nil
	}

	metrics.PeriodResetsTotal.Inc()
	log.Infof("[Quota] account %d usage period reset to %s", accountID, next.Format(time.RFC3339))
	e.invalidate(ctx, accountID)
	return true, nil
}

// DueAccounts lists accounts whose usage period has elapsed at now.
func (e *Enforcer) DueAccounts(ctx context.Context, now time.Time, limit int) ([]uint, error) {
	if limit <= 0 {
		limit = 200
	}
	now = PeriodStart(now)
	// no clamped month is shorter than 28 days; rows inside that bound are
	// checked against their anchor below
	threshold := now.AddDate(0, 0, -28)

	var rows []models.Entitlement
	err := e.db.WithContext(ctx).Model(&models.Entitlement{}).
		Select("account_id", "usage_period_start", "usage_period_anchor").
		Where("usage_period_start <= ?", threshold).
		Order("usage_period_start ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list due accounts: %w", err)
	}

	ids := make([]uint, 0, len(rows))
	for i := range rows {
		start := PeriodStart(rows[i].UsagePeriodStart)
		if nextPeriodStart(periodAnchor(&rows[i]), start, now).After(start) {
			ids = append(ids, rows[i].AccountID)
		}
	}
	return ids, nil
}

// ResetDuePeriods resets every due account in one pass and returns how many rolled over.
func (e *Enforcer) ResetDuePeriods(ctx context.Context, now time.Time, limit int) (int, error) {
	ids, err := e.DueAccounts(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	reset := 0
	for _, id := range ids {
		ok, err := e.ResetPeriod(ctx, id, now)
		if err != nil {
			log.Errorf("[Quota] period reset failed for account %d: %v", id, err)
			continue
		}
		if ok {
			reset++
		}
	}
	return reset, nil
}
