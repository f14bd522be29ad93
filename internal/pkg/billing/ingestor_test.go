package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/quota"
)

func TestIngest_RejectsBadSignature(t *testing.T) {
	h := newHarness(t, nil)
	payload := eventPayload(eventFixture{ID: "evt_1", Type: EventSubscriptionCreated, Created: time.Now().Unix(), Sub: "sub_1"})

	_, err := h.ingestor.Ingest(context.Background(), payload, Sign(payload, "other-secret", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = h.ingestor.Ingest(context.Background(), payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	var count int64
	require.NoError(t, h.db.Model(&models.BillingWebhookEvent{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestIngest_RejectsMalformedPayload(t *testing.T) {
	h := newHarness(t, nil)
	payload := []byte(`{"type":"customer.subscription.created"}`)

	_, err := h.ingestor.Ingest(context.Background(), payload, Sign(payload, testSecret, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

func TestIngest_PremiumPaymentLiftsQuota(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	account := h.seedAccount(t, "")

	for i := 0; i < 50; i++ {
		res, err := h.quota.TryConsume(ctx, account, quota.ResourceShortcuts, 1)
		require.NoError(t, err)
		require.True(t, res.Allowed)
	}
	denied, err := h.quota.TryConsume(ctx, account, quota.ResourceShortcuts, 1)
	require.NoError(t, err)
	assert.False(t, denied.Allowed)

	res, err := h.ingest(t, eventFixture{
		ID: "evt_pay", Type: "invoice.payment_succeeded", Created: time.Now().Unix(),
		Object: "invoice", Sub: "sub_1", AccountID: account, Plan: "premium",
	})
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, ReasonProcessed, res.Reason)

	allowed, err := h.quota.TryConsume(ctx, account, quota.ResourceShortcuts, 1)
	require.NoError(t, err)
	assert.True(t, allowed.Allowed)
	assert.EqualValues(t, 449, allowed.Remaining)
	assert.Equal(t, "premium", h.account(t, account).Plan)
}

func TestIngest_DuplicateDeliveryIsNoop(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	referrer := h.seedAccount(t, "R7K2")
	referred := h.seedAccount(t, "")
	reg, err := h.referrals.Register(ctx, referred, "R7K2")
	require.NoError(t, err)
	require.True(t, reg.Success)

	fixture := eventFixture{
		ID: "evt_1", Type: "customer.subscription.created", Created: time.Now().Unix(),
		Sub: "sub_1", Status: "active", AccountID: referred, Plan: "premium",
	}
	first, err := h.ingest(t, fixture)
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := h.ingest(t, fixture)
	require.NoError(t, err)
	assert.True(t, second.Accepted)
	assert.True(t, second.Duplicate)
	assert.Equal(t, ReasonDuplicate, second.Reason)

	var subs, events int64
	require.NoError(t, h.db.Model(&models.BillingSubscription{}).Count(&subs).Error)
	require.NoError(t, h.db.Model(&models.BillingWebhookEvent{}).Count(&events).Error)
	assert.EqualValues(t, 1, subs)
	assert.EqualValues(t, 1, events)

	credited := h.account(t, referrer)
	assert.EqualValues(t, 500, credited.ReferralBonusEarned)
	assert.EqualValues(t, 1, credited.ReferralUpgrades)
}

func TestIngest_CheckoutApprovesUpgradeAndGrantsBonusOnce(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	referrer := h.seedAccount(t, "R7K2")
	referred := h.seedAccount(t, "")
	_, err := h.referrals.Register(ctx, referred, "R7K2")
	require.NoError(t, err)

	req, err := h.coordinator.Create(ctx, referred, "premium", "card")
	require.NoError(t, err)

	now := time.Now().Unix()
	_, err = h.ingest(t, eventFixture{
		ID: "evt_checkout", Type: "checkout.session.completed", Created: now - 10,
		Object: "checkout.session", Sub: "sub_1", Status: "active",
		AccountID: referred, Plan: "premium", UpgradeID: req.PublicID,
	})
	require.NoError(t, err)

	approved, err := h.coordinator.Get(ctx, req.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.UpgradeStatusApproved, approved.Status)
	assert.Equal(t, "premium", h.account(t, referred).Plan)

	// a renewal without the upgrade id must not pay the referrer again
	_, err = h.ingest(t, eventFixture{
		ID: "evt_renewal", Type: "invoice.payment_succeeded", Created: now,
		Object: "invoice", Sub: "sub_1", AccountID: referred, Plan: "premium",
	})
	require.NoError(t, err)

	// force the checkout event through processing again
	require.NoError(t, h.db.Model(&models.BillingWebhookEvent{}).
		Where("provider_event_id = ?", "evt_checkout").
		Update("processed_at", nil).Error)
	res, err := h.ingestor.Replay(ctx, "evt_checkout")
	require.NoError(t, err)
	assert.True(t, res.Accepted)

	credited := h.account(t, referrer)
	assert.EqualValues(t, 500, credited.ReferralBonusEarned)
	assert.EqualValues(t, 1, credited.ReferralUpgrades)

	var grants int64
	require.NoError(t, h.db.Model(&models.ReferralBonusGrant{}).Count(&grants).Error)
	assert.EqualValues(t, 1, grants)
}

func TestIngest_SubscriptionDoesNotLowerDirectChargeOrPayTwice(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	referrer := h.seedAccount(t, "R7K2")
	referred := h.seedAccount(t, "")
	_, err := h.referrals.Register(ctx, referred, "R7K2")
	require.NoError(t, err)

	req, err := h.coordinator.Create(ctx, referred, "enterprise", "card")
	require.NoError(t, err)
	approved, err := h.coordinator.Approve(ctx, req.PublicID, "ch_1")
	require.NoError(t, err)
	require.True(t, approved.Bonus.Granted)

	res, err := h.ingest(t, eventFixture{
		ID: "evt_sub", Type: "customer.subscription.created", Created: time.Now().Unix(),
		Sub: "sub_p", Status: "active", AccountID: referred, Plan: "premium",
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonProcessed, res.Reason)

	assert.Equal(t, "enterprise", h.account(t, referred).Plan)
	var ent models.Entitlement
	require.NoError(t, h.db.Where("account_id = ?", referred).First(&ent).Error)
	assert.EqualValues(t, -1, ent.MaxShortcuts)

	credited := h.account(t, referrer)
	assert.EqualValues(t, 2000, credited.ReferralBonusEarned)
	assert.EqualValues(t, 1, credited.ReferralUpgrades)
	assert.Empty(t, h.subscription(t, "sub_p").BonusKey)

	var grants int64
	require.NoError(t, h.db.Model(&models.ReferralBonusGrant{}).Count(&grants).Error)
	assert.EqualValues(t, 1, grants)
}

func TestIngest_BonusGrantedOnceAfterPartialFailure(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	referrer := h.seedAccount(t, "R7K2")
	referred := h.seedAccount(t, "")
	_, err := h.referrals.Register(ctx, referred, "R7K2")
	require.NoError(t, err)
	h.bonuses.failures = 1

	fixture := eventFixture{
		ID: "evt_1", Type: "customer.subscription.created", Created: time.Now().Unix(),
		Sub: "sub_1", Status: "active", AccountID: referred, Plan: "premium",
	}
	_, err = h.ingest(t, fixture)
	require.Error(t, err)
	// the plan was applied before the grant failed
	assert.Equal(t, "premium", h.account(t, referred).Plan)
	assert.Equal(t, "sub:sub_1:premium", h.subscription(t, "sub_1").BonusKey)
	assert.Zero(t, h.account(t, referrer).ReferralBonusEarned)

	res, err := h.ingest(t, fixture)
	require.NoError(t, err)
	assert.Equal(t, ReasonProcessed, res.Reason)

	res, err = h.ingest(t, fixture)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)

	credited := h.account(t, referrer)
	assert.EqualValues(t, 500, credited.ReferralBonusEarned)
	assert.EqualValues(t, 1, credited.ReferralUpgrades)
}

func TestIngest_CheckoutWithoutPlanUsesRequestPlan(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	referrer := h.seedAccount(t, "R7K2")
	referred := h.seedAccount(t, "")
	_, err := h.referrals.Register(ctx, referred, "R7K2")
	require.NoError(t, err)

	req, err := h.coordinator.Create(ctx, referred, "premium", "card")
	require.NoError(t, err)

	_, err = h.ingest(t, eventFixture{
		ID: "evt_checkout", Type: "checkout.session.completed", Created: time.Now().Unix(),
		Object: "checkout.session", Sub: "sub_1", Status: "active",
		AccountID: referred, UpgradeID: req.PublicID,
	})
	require.NoError(t, err)

	approved, err := h.coordinator.Get(ctx, req.PublicID)
	require.NoError(t, err)
	assert.Equal(t, models.UpgradeStatusApproved, approved.Status)
	assert.Equal(t, "premium", h.subscription(t, "sub_1").Plan)
	assert.Equal(t, "premium", h.account(t, referred).Plan)

	credited := h.account(t, referrer)
	assert.EqualValues(t, 500, credited.ReferralBonusEarned)
	assert.EqualValues(t, 1, credited.ReferralUpgrades)
}

func TestIngest_FailedProcessingIsRetried(t *testing.T) {
	h := newHarness(t, nil)
	account := h.seedAccount(t, "")
	h.plans.failures = 1

	fixture := eventFixture{
		ID: "evt_1", Type: "customer.subscription.created", Created: time.Now().Unix(),
		Sub: "sub_1", Status: "active", AccountID: account, Plan: "enterprise",
	}
	_, err := h.ingest(t, fixture)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrInvalidPayload))

	row, err := h.ingestor.Ledger().Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.False(t, row.IsProcessed())
	assert.Contains(t, row.ProcessingError, "database unavailable")
	assert.Equal(t, "free", h.account(t, account).Plan)

	res, err := h.ingest(t, fixture)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, ReasonProcessed, res.Reason)
	assert.Equal(t, "enterprise", h.account(t, account).Plan)

	row, err = h.ingestor.Ledger().Get(context.Background(), "evt_1")
	require.NoError(t, err)
	assert.True(t, row.IsProcessed())
	assert.Equal(t, 2, row.Attempts)
}

func TestIngest_CancellationFallsBackToFree(t *testing.T) {
	h := newHarness(t, nil)
	account := h.seedAccount(t, "")
	now := time.Now().Unix()

	_, err := h.ingest(t, eventFixture{
		ID: "evt_1", Type: "customer.subscription.created", Created: now - 60,
		Sub: "sub_1", Status: "active", AccountID: account, Plan: "premium",
	})
	require.NoError(t, err)
	assert.Equal(t, "premium", h.account(t, account).Plan)

	_, err = h.ingest(t, eventFixture{
		ID: "evt_2", Type: "customer.subscription.deleted", Created: now,
		Sub: "sub_1", Status: "canceled",
	})
	require.NoError(t, err)
	assert.Equal(t, "free", h.account(t, account).Plan)
	assert.Equal(t, models.BillingStatusCanceled, h.subscription(t, "sub_1").Status)

	var ent models.Entitlement
	require.NoError(t, h.db.Where("account_id = ?", account).First(&ent).Error)
	assert.EqualValues(t, 50, ent.MaxShortcuts)
}

func TestIngest_IgnoresUnrelatedEventTypes(t *testing.T) {
	h := newHarness(t, nil)
	payload := []byte(`{"id":"evt_x","type":"customer.created","created":1700000000,"data":{"object":{"id":"cus_1"}}}`)

	res, err := h.ingestor.Ingest(context.Background(), payload, Sign(payload, testSecret, time.Now()))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, ReasonIgnored, res.Reason)

	row, err := h.ingestor.Ledger().Get(context.Background(), "evt_x")
	require.NoError(t, err)
	assert.True(t, row.IsProcessed())
}

func TestIngest_DiscardsUpdateForUnknownSubscription(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.ingest(t, eventFixture{
		ID: "evt_1", Type: "customer.subscription.updated", Created: time.Now().Unix(),
		Sub: "sub_missing", Status: "active",
	})
	require.NoError(t, err)
	assert.Equal(t, ReasonDiscarded, res.Reason)
}

func TestReplay(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.ingestor.Replay(ctx, "evt_missing")
	assert.ErrorIs(t, err, ErrEventNotFound)

	account := h.seedAccount(t, "")
	h.plans.failures = 1
	_, err = h.ingest(t, eventFixture{
		ID: "evt_1", Type: "customer.subscription.created", Created: time.Now().Unix(),
		Sub: "sub_1", Status: "trialing", AccountID: account, Plan: "premium",
	})
	require.Error(t, err)

	res, err := h.ingestor.Replay(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, ReasonProcessed, res.Reason)
	assert.Equal(t, "premium", h.account(t, account).Plan)

	res, err = h.ingestor.Replay(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
}

type fakeFetcher struct {
	ev  *ProviderEvent
	err error
}

func (f *fakeFetcher) RetrieveSubscription(_ context.Context, id string) (*ProviderEvent, error) {
	if f.err != nil {
		return nil, f.err
	}
	ev := *f.ev
	ev.SubscriptionID = id
	return &ev, nil
}

func TestResyncSubscription(t *testing.T) {
	fetcher := &fakeFetcher{}
	h := newHarness(t, fetcher)
	ctx := context.Background()
	account := h.seedAccount(t, "")

	_, err := h.ingestor.ResyncSubscription(ctx, "sub_1")
	assert.ErrorIs(t, err, ErrSubscriptionNotFound)

	_, err = h.ingest(t, eventFixture{
		ID: "evt_1", Type: "customer.subscription.created", Created: time.Now().Add(-time.Hour).Unix(),
		Sub: "sub_1", Status: "past_due", AccountID: account, Plan: "premium",
	})
	require.NoError(t, err)
	assert.Equal(t, "free", h.account(t, account).Plan)

	fetcher.err = errors.New("connection refused")
	_, err = h.ingestor.ResyncSubscription(ctx, "sub_1")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.Equal(t, models.BillingStatusPastDue, h.subscription(t, "sub_1").Status)

	fetcher.err = nil
	fetcher.ev = &ProviderEvent{
		ID:      "resync:sub_1",
		Type:    EventSubscriptionUpdated,
		Created: time.Now().UTC(),
		Status:  models.BillingStatusActive,
		Plan:    "premium",
	}
	diff, err := h.ingestor.ResyncSubscription(ctx, "sub_1")
	require.NoError(t, err)
	assert.True(t, diff.Applied)
	assert.True(t, diff.BecameEntitling())
	assert.Equal(t, "premium", h.account(t, account).Plan)
}
