package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/config"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/quota"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/referral"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/upgrade"
)

const testSecret = "whsec_test"

type eventFixture struct {
	ID        string
	Type      string
	Created   int64
	Object    string
	Sub       string
	Status    string
	AccountID uint
	Plan      string
	UpgradeID string
	PeriodEnd int64
}

func eventPayload(s eventFixture) []byte {
	obj := map[string]any{}
	metadata := map[string]any{}
	if s.AccountID != 0 {
		metadata["account_id"] = fmt.Sprint(s.AccountID)
	}
	if s.Plan != "" {
		metadata["plan"] = s.Plan
	}
	if s.UpgradeID != "" {
		metadata["upgrade_request_id"] = s.UpgradeID
	}
	obj["metadata"] = metadata

	switch s.Object {
	case "invoice", "checkout.session":
		obj["id"] = "obj_" + s.ID
		obj["object"] = s.Object
		obj["subscription"] = s.Sub
		if s.Status != "" {
			obj["subscription_status"] = s.Status
		}
	default:
		obj["id"] = s.Sub
		obj["object"] = "subscription"
		if s.Status != "" {
			obj["status"] = s.Status
		}
	}
	if s.PeriodEnd != 0 {
		obj["current_period_start"] = s.Created
		obj["current_period_end"] = s.PeriodEnd
	}

	body, _ := json.Marshal(map[string]any{
		"id":      s.ID,
		"type":    s.Type,
		"created": s.Created,
		"data":    map[string]any{"object": obj},
	})
	return body
}

// flakyPlans fails the next n ApplyPlan calls.
type flakyPlans struct {
	*quota.Enforcer
	failures int
}

func (f *flakyPlans) ApplyPlan(ctx context.Context, accountID uint, plan entitlements.Plan) error {
	if f.failures > 0 {
		f.failures--
		return errors.New("database unavailable")
	}
	return f.Enforcer.ApplyPlan(ctx, accountID, plan)
}

// flakyBonuses fails the next n grants.
type flakyBonuses struct {
	*referral.Engine
	failures int
}

func (f *flakyBonuses) OnQualifyingUpgrade(ctx context.Context, accountID uint, plan entitlements.Plan, triggeringUpgradeID string) (referral.GrantResult, error) {
	if f.failures > 0 {
		f.failures--
		return referral.GrantResult{}, errors.New("lock wait timeout")
	}
	return f.Engine.OnQualifyingUpgrade(ctx, accountID, plan, triggeringUpgradeID)
}

type harness struct {
	db          *gorm.DB
	quota       *quota.Enforcer
	plans       *flakyPlans
	bonuses     *flakyBonuses
	referrals   *referral.Engine
	coordinator *upgrade.Coordinator
	ingestor    *Ingestor
	seq         int
}

func newHarness(t *testing.T, fetcher SubscriptionFetcher) *harness {
	t.Helper()

	db := dbtest.Open(t)
	enforcer := quota.NewEnforcer(db, nil)
	plans := &flakyPlans{Enforcer: enforcer}
	engine := referral.NewEngine(db)
	bonuses := &flakyBonuses{Engine: engine}
	coordinator := upgrade.NewCoordinator(db, enforcer, engine, nil, time.Second)
	cfg := config.Billing{
		Provider:           "stripe",
		WebhookSecret:      testSecret,
		SignatureTolerance: 5 * time.Minute,
		ProviderTimeout:    time.Second,
	}

	return &harness{
		db:          db,
		quota:       enforcer,
		plans:       plans,
		bonuses:     bonuses,
		referrals:   engine,
		coordinator: coordinator,
		ingestor:    NewIngestor(db, cfg, plans, bonuses, coordinator, fetcher),
	}
}

func (h *harness) seedAccount(t *testing.T, code string) uint {
	t.Helper()

	h.seq++
	if code == "" {
		code = fmt.Sprintf("CODE%d", h.seq)
	}
	account := models.Account{Email: fmt.Sprintf("user%d@example.com", h.seq), Plan: "free", ReferralCode: code}
	require.NoError(t, h.db.Create(&account).Error)
	require.NoError(t, h.db.Create(&models.Entitlement{
		AccountID:        account.ID,
		MaxShortcuts:     50,
		MaxAIRequests:    100,
		UsagePeriodStart: time.Now().UTC().Truncate(time.Second),
	}).Error)
	return account.ID
}

func (h *harness) ingest(t *testing.T, s eventFixture) (IngestResult, error) {
	t.Helper()
	payload := eventPayload(s)
	return h.ingestor.Ingest(context.Background(), payload, Sign(payload, testSecret, time.Now()))
}

func (h *harness) subscription(t *testing.T, id string) models.BillingSubscription {
	t.Helper()
	var sub models.BillingSubscription
	require.NoError(t, h.db.Where("provider_subscription_id = ?", id).First(&sub).Error)
	return sub
}

func (h *harness) account(t *testing.T, id uint) models.Account {
	t.Helper()
	var account models.Account
	require.NoError(t, h.db.First(&account, id).Error)
	return account
}
