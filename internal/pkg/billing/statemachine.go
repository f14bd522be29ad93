package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/metrics"
)

// SubscriptionDiff describes what applying one event did to a subscription.
type SubscriptionDiff struct {
	Subscription   *models.BillingSubscription
	Created        bool
	Applied        bool // false when a newer event already owns the row
	Discarded      bool // event for an untracked subscription that may not create it
	PreviousStatus string
	Status         string
	WasEntitling   bool
	IsEntitling    bool
}

// BecameEntitling reports a transition from non-entitling into entitling.
func (d SubscriptionDiff) BecameEntitling() bool {
	return d.IsEntitling && !d.WasEntitling
}

// StateMachine applies provider events to subscriptions. Status is recorded as
// the provider reports it; ordering between events is decided by the event
// timestamp, then the event id, never by arrival order.
type StateMachine struct {
	db       *gorm.DB
	provider string
}

func NewStateMachine(db *gorm.DB, provider string) *StateMachine {
	return &StateMachine{db: db, provider: provider}
}

func (m *StateMachine) Find(ctx context.Context, providerSubscriptionID string) (*models.BillingSubscription, error) {
	var sub models.BillingSubscription
	err := m.db.WithContext(ctx).Where("provider_subscription_id = ?", providerSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// Apply updates the subscription named by ev. Only creating event types with
// an account in their metadata may start tracking a new subscription; other
// events for unknown subscriptions are discarded.
func (m *StateMachine) Apply(ctx context.Context, ev *ProviderEvent) (SubscriptionDiff, error) {
	status := NextStatus(ev.Type, ev.Status)

	existing, err := m.Find(ctx, ev.SubscriptionID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return SubscriptionDiff{}, fmt.Errorf("load subscription %s: %w", ev.SubscriptionID, err)
	}

	if existing == nil {
		if !createsSubscription(ev.Type) || ev.AccountID == 0 {
			log.Warnf("[Billing] discarding %s %s for untracked subscription %s", ev.Type, ev.ID, ev.SubscriptionID)
			return SubscriptionDiff{Discarded: true}, nil
		}
		created, err := m.create(ctx, ev, status)
		if err != nil {
			return SubscriptionDiff{}, err
		}
		if created != nil {
			metrics.SubscriptionTransitionsTotal.WithLabelValues(created.Status).Inc()
			log.Infof("[Billing] tracking subscription %s for account %d (%s, %s)",
				created.ProviderSubscriptionID, created.AccountID, created.Plan, created.Status)
			return SubscriptionDiff{
				Subscription: created,
				Created:      true,
				Applied:      true,
				Status:       created.Status,
				IsEntitling:  IsEntitling(created.Status),
			}, nil
		}
		// lost a concurrent create; continue as an update
		existing, err = m.Find(ctx, ev.SubscriptionID)
		if err != nil {
			return SubscriptionDiff{}, fmt.Errorf("load subscription %s: %w", ev.SubscriptionID, err)
		}
	}

	previous := existing.Status
	applied, err := m.update(ctx, ev, status)
	if err != nil {
		return SubscriptionDiff{}, err
	}

	current, err := m.Find(ctx, ev.SubscriptionID)
	if err != nil {
		return SubscriptionDiff{}, fmt.Errorf("reload subscription %s: %w", ev.SubscriptionID, err)
	}
	if applied && previous != current.Status {
		metrics.SubscriptionTransitionsTotal.WithLabelValues(current.Status).Inc()
		log.Infof("[Billing] subscription %s: %s -> %s (%s)", current.ProviderSubscriptionID, previous, current.Status, ev.ID)
	}
	if !applied {
		log.Infof("[Billing] event %s older than state of subscription %s, state kept", ev.ID, ev.SubscriptionID)
	}

	return SubscriptionDiff{
		Subscription:   current,
		Applied:        applied,
		PreviousStatus: previous,
		Status:         current.Status,
		WasEntitling:   IsEntitling(previous),
		IsEntitling:    IsEntitling(current.Status),
	}, nil
}

func (m *StateMachine) create(ctx context.Context, ev *ProviderEvent, status string) (*models.BillingSubscription, error) {
	sub := &models.BillingSubscription{
		AccountID:              ev.AccountID,
		Provider:               m.provider,
		ProviderSubscriptionID: ev.SubscriptionID,
		Plan:                   string(entitlements.Normalize(ev.Plan)),
		Status:                 status,
		CurrentPeriodStart:     ev.CurrentPeriodStart,
		CurrentPeriodEnd:       ev.CurrentPeriodEnd,
		CancelAtPeriodEnd:      ev.CancelAtPeriodEnd,
		LastEventAt:            eventTime(ev.Created),
		LastEventID:            ev.ID,
		UpgradeRequestID:       ev.UpgradeRequestID,
	}
	tx := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_subscription_id"}},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return nil, fmt.Errorf("create subscription %s: %w", ev.SubscriptionID, tx.Error)
	}
	if tx.RowsAffected == 0 {
		return nil, nil
	}
	return sub, nil
}

// update overwrites the state fields if ev is newer than the last applied
// event. The comparison and the write are one statement, so concurrent
// deliveries converge on the newest event whatever order they commit in.
func (m *StateMachine) update(ctx context.Context, ev *ProviderEvent, status string) (bool, error) {
	at := eventTime(ev.Created)
	updates := map[string]interface{}{
		"cancel_at_period_end": ev.CancelAtPeriodEnd,
		"last_event_at":        at,
		"last_event_id":        ev.ID,
	}
	// invoice and checkout events often carry no period; keep the known one
	if ev.CurrentPeriodStart != nil {
		updates["current_period_start"] = ev.CurrentPeriodStart
	}
	if ev.CurrentPeriodEnd != nil {
		updates["current_period_end"] = ev.CurrentPeriodEnd
	}
	if status != "" {
		updates["status"] = status
	}
	if ev.Plan != "" {
		updates["plan"] = string(entitlements.Normalize(ev.Plan))
	}
	if ev.UpgradeRequestID != "" {
		updates["upgrade_request_id"] = ev.UpgradeRequestID
	}

	tx := m.db.WithContext(ctx).Model(&models.BillingSubscription{}).
		Where("provider_subscription_id = ?", ev.SubscriptionID).
		Where("(last_event_at < ? OR (last_event_at = ? AND last_event_id < ?))", at, at, ev.ID).
		Updates(updates)
	if tx.Error != nil {
		return false, fmt.Errorf("update subscription %s: %w", ev.SubscriptionID, tx.Error)
	}
	return tx.RowsAffected > 0, nil
}

// EntitlingPlans lists the plans of the account's entitling subscriptions.
func (m *StateMachine) EntitlingPlans(ctx context.Context, accountID uint) ([]entitlements.Plan, error) {
	var plans []string
	err := m.db.WithContext(ctx).Model(&models.BillingSubscription{}).
		Where("account_id = ? AND status IN ?", accountID, []string{models.BillingStatusActive, models.BillingStatusTrialing}).
		Pluck("plan", &plans).Error
	if err != nil {
		return nil, fmt.Errorf("list entitling subscriptions: %w", err)
	}
	out := make([]entitlements.Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, entitlements.Normalize(p))
	}
	return out, nil
}

// DirectChargePlans lists the target plans of the account's approved upgrade
// requests that no subscription refers to, i.e. those paid by a direct charge.
func (m *StateMachine) DirectChargePlans(ctx context.Context, accountID uint) ([]entitlements.Plan, error) {
	var plans []string
	err := m.db.WithContext(ctx).Model(&models.UpgradeRequest{}).
		Where("account_id = ? AND status = ?", accountID, models.UpgradeStatusApproved).
		Where("NOT EXISTS (SELECT 1 FROM billing_subscriptions s WHERE s.upgrade_request_id = upgrade_requests.public_id)").
		Pluck("to_plan", &plans).Error
	if err != nil {
		return nil, fmt.Errorf("list direct charge upgrades: %w", err)
	}
	out := make([]entitlements.Plan, 0, len(plans))
	for _, p := range plans {
		out = append(out, entitlements.Normalize(p))
	}
	return out, nil
}

// ClaimBonusKey stores key as the subscription's bonus key unless one is
// already set, and returns the key the row holds afterwards.
func (m *StateMachine) ClaimBonusKey(ctx context.Context, sub *models.BillingSubscription, key string) (string, error) {
	tx := m.db.WithContext(ctx).Model(&models.BillingSubscription{}).
		Where("id = ? AND bonus_key = ?", sub.ID, "").
		Update("bonus_key", key)
	if tx.Error != nil {
		return "", fmt.Errorf("store bonus key of subscription %s: %w", sub.ProviderSubscriptionID, tx.Error)
	}
	if tx.RowsAffected > 0 {
		sub.BonusKey = key
		return key, nil
	}
	current, err := m.Find(ctx, sub.ProviderSubscriptionID)
	if err != nil {
		return "", fmt.Errorf("reload subscription %s: %w", sub.ProviderSubscriptionID, err)
	}
	sub.BonusKey = current.BonusKey
	return current.BonusKey, nil
}

func eventTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}
