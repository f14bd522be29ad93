package quota

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/entitlements"
)

var seq int

func seedAccount(t *testing.T, db *gorm.DB, plan entitlements.Plan, periodStart time.Time) uint {
	t.Helper()

	limits := entitlements.Resolve(plan)
	seq++
	account := models.Account{
		Email:        fmt.Sprintf("user%d@example.com", seq),
		Plan:         string(plan),
		ReferralCode: fmt.Sprintf("CODE%04d", seq),
	}
	require.NoError(t, db.Create(&account).Error)
	require.NoError(t, db.Create(&models.Entitlement{
		AccountID:        account.ID,
		MaxShortcuts:     limits.MaxShortcuts,
		MaxAIRequests:    limits.MaxAIRequests,
		UsagePeriodStart: PeriodStart(periodStart),
	}).Error)
	return account.ID
}

func setUsage(t *testing.T, db *gorm.DB, accountID uint, column string, used int64) {
	t.Helper()
	require.NoError(t, db.Model(&models.Entitlement{}).Where("account_id = ?", accountID).UpdateColumn(column, used).Error)
}

func TestTryConsumeWithinLimit(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEnforcer(db, nil)
	id := seedAccount(t, db, entitlements.PlanFree, time.Now())

	res, err := e.TryConsume(context.Background(), id, ResourceShortcuts, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(49), res.Remaining)
	assert.Equal(t, int64(1), res.Used)
	assert.Equal(t, int64(50), res.Limit)
}

func TestTryConsumeDeniedAtLimit(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEnforcer(db, nil)
	id := seedAccount(t, db, entitlements.PlanFree, time.Now())
	setUsage(t, db, id, "shortcuts_used", 50)

	res, err := e.TryConsume(context.Background(), id, ResourceShortcuts, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
	assert.Equal(t, int64(50), res.Used)
}

func TestTryConsumeAmountLargerThanRemaining(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEnforcer(db, nil)
	id := seedAccount(t, db, entitlements.PlanFree, time.Now())
	setUsage(t, db, id, "ai_requests_used", 98)

	res, err := e.TryConsume(context.Background(), id, ResourceAIRequests, 3)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(2), res.Remaining)

	res, err = e.TryConsume(context.Background(), id, ResourceAIRequests, 2)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestTryConsumeUnlimitedNeverDenied(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEnforcer(db, nil)
	id := seedAccount(t, db, entitlements.PlanEnterprise, time.Now())
	setUsage(t, db, id, "ai_requests_used", 1_000_000)

	for i := 0; i < 10; i++ {
		res, err := e.TryConsume(context.Background(), id, ResourceAIRequests, 100)
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, entitlements.Unlimited, res.Remaining)
	}
}

func TestTryConsumeConcurrentNeverOvershoots(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEnforcer(db, nil)
	id := seedAccount(t, db, entitlements.PlanFree, time.Now())
	setUsage(t, db, id, "shortcuts_used", 45) // 5 slots left

	const callers = 25
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.TryConsume(context.Background(), id, ResourceShortcuts, 1)
			if err != nil {
				t.Errorf("TryConsume: %v", err)
				return
			}
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, allowed)
	var ent models.Entitlement
	require.NoError(t, db.Where("account_id = ?", id).First(&ent).Error)
	assert.Equal(t, int64(50), ent.ShortcutsUsed)
}

func TestTryConsumeErrors(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEnforcer(db, nil)
	id := seedAccount(t, db, entitlements.PlanFree, time.Now())

	_, err := e.TryConsume(context.Background(), id, Resource("storage"), 1)
	assert.ErrorIs(t, err, ErrUnknownResource)

	_, err = e.TryConsume(context.Background(), id, ResourceShortcuts, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = e.TryConsume(context.Background(), 9999, ResourceShortcuts, 1)
	assert.ErrorIs(t, err, ErrAccountNotFound)
}

func TestRelease(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEnforcer(db, nil)
	id := seedAccount(t, db, entitlements.PlanFree, time.Now())
	setUsage(t, db, id, "shortcuts_used", 3)

	res, err := e.Release(context.Background(), id, ResourceShortcuts, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Used)

	res, err = e.Release(context.Background(), id, ResourceShortcuts, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.Used)
	assert.Equal(t, int64(50), res.Remaining)
}

func TestApplyPlanKeepsUsage(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEnforcer(db, nil)
	ctx := context.Background()
	id := seedAccount(t, db, entitlements.PlanFree, time.Now())
	setUsage(t, db, id, "shortcuts_used", 50)

	res, err := e.TryConsume(ctx, id, ResourceShortcuts, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	require.NoError(t, e.ApplyPlan(ctx, id, entitlements.PlanPremium))

	res, err = e.TryConsume(ctx, id, ResourceShortcuts, 1)
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(449), res.Remaining)

	plan, err := e.CurrentPlan(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, entitlements.PlanPremium, plan)
}

func TestApplyPlanDowngradeRefusesFurtherUse(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEnforcer(db, nil)
	ctx := context.Background()
	id := seedAccount(t, db, entitlements.PlanPremium, time.Now())
	setUsage(t, db, id, "shortcuts_used", 120)

	require.NoError(t, e.ApplyPlan(ctx, id, entitlements.PlanFree))

	var ent models.Entitlement
	require.NoError(t, db.Where("account_id = ?", id).First(&ent).Error)
	assert.Equal(t, int64(120), ent.ShortcutsUsed)
	assert.Equal(t, int64(50), ent.MaxShortcuts)

	res, err := e.TryConsume(ctx, id, ResourceShortcuts, 1)
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, int64(0), res.Remaining)
}

func TestApplyPlanUnknownAccount(t *testing.T) {
	db := dbtest.Open(t)
	e := NewEnforcer(db, nil)

	assert.ErrorIs(t, e.ApplyPlan(context.Background(), 42, entitlements.PlanPremium), ErrAccountNotFound)
}

func TestParseResource(t *testing.T) {
	r, err := ParseResource("ai_requests")
	require.NoError(t, err)
	assert.Equal(t, ResourceAIRequests, r)

	_, err = ParseResource("bandwidth")
	assert.ErrorIs(t, err, ErrUnknownResource)
}
