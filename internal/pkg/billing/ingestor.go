package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/config"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/metrics"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/referral"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/upgrade"
)

var (
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrProviderUnavailable  = errors.New("billing: payment provider unavailable")
)

const (
	ReasonProcessed = "processed"
	ReasonDuplicate = "duplicate"
	ReasonIgnored   = "ignored"
	ReasonDiscarded = "discarded"
)

// PlanApplier reads and writes the effective plan of an account.
type PlanApplier interface {
	CurrentPlan(ctx context.Context, accountID uint) (entitlements.Plan, error)
	ApplyPlan(ctx context.Context, accountID uint, plan entitlements.Plan) error
}

type BonusGranter interface {
	OnQualifyingUpgrade(ctx context.Context, accountID uint, plan entitlements.Plan, triggeringUpgradeID string) (referral.GrantResult, error)
}

// UpgradeApprover finalizes upgrade requests paid through a checkout flow.
type UpgradeApprover interface {
	Get(ctx context.Context, publicID string) (*models.UpgradeRequest, error)
	Approve(ctx context.Context, publicID string, paymentRef string) (upgrade.ApproveResult, error)
}

// SubscriptionFetcher reads the current state of a subscription from the provider.
type SubscriptionFetcher interface {
	RetrieveSubscription(ctx context.Context, providerSubscriptionID string) (*ProviderEvent, error)
}

type IngestResult struct {
	Accepted  bool   `json:"ok"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Reason    string `json:"reason"`
	EventID   string `json:"event_id,omitempty"`
}

type Ingestor struct {
	cfg      config.Billing
	ledger   *Ledger
	machine  *StateMachine
	plans    PlanApplier
	bonuses  BonusGranter
	upgrades UpgradeApprover
	fetcher  SubscriptionFetcher
	now      func() time.Time
}

// NewIngestor wires the webhook pipeline. upgrades and fetcher may be nil.
func NewIngestor(db *gorm.DB, cfg config.Billing, plans PlanApplier, bonuses BonusGranter, upgrades UpgradeApprover, fetcher SubscriptionFetcher) *Ingestor {
	return &Ingestor{
		cfg:      cfg,
		ledger:   NewLedger(db, cfg.Provider),
		machine:  NewStateMachine(db, cfg.Provider),
		plans:    plans,
		bonuses:  bonuses,
		upgrades: upgrades,
		fetcher:  fetcher,
		now:      time.Now,
	}
}

func (i *Ingestor) Ledger() *Ledger { return i.ledger }

// Ingest verifies, records and processes one webhook delivery. Signature and
// payload errors wrap ErrInvalidSignature / ErrInvalidPayload and must not be
// retried; any other error is transient and leaves the event unprocessed.
func (i *Ingestor) Ingest(ctx context.Context, payload []byte, signatureHeader string) (IngestResult, error) {
	if err := VerifySignature(payload, signatureHeader, i.cfg.WebhookSecret, i.cfg.SignatureTolerance, i.now()); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("invalid_signature").Inc()
		return IngestResult{}, err
	}

	ev, err := ParseEvent(payload)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("invalid_payload").Inc()
		return IngestResult{}, err
	}

	rec, err := i.ledger.Record(ctx, RecordInput{
		ProviderEventID: ev.ID,
		EventType:       ev.Type,
		Payload:         payload,
		ReceivedAt:      i.now(),
	})
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("failed").Inc()
		return IngestResult{}, err
	}
	if !rec.IsNew && rec.Event.IsProcessed() {
		metrics.WebhookEventsTotal.WithLabelValues(ReasonDuplicate).Inc()
		return IngestResult{Accepted: true, Duplicate: true, Reason: ReasonDuplicate, EventID: ev.ID}, nil
	}
	if !rec.IsNew {
		log.Infof("[Billing] event %s seen before but never processed, processing again", ev.ID)
	}

	return i.process(ctx, rec.Event, ev)
}

// Replay processes a stored event that was never marked processed.
func (i *Ingestor) Replay(ctx context.Context, providerEventID string) (IngestResult, error) {
	row, err := i.ledger.Get(ctx, providerEventID)
	if err != nil {
		return IngestResult{}, err
	}
	if row.IsProcessed() {
		return IngestResult{Accepted: true, Duplicate: true, Reason: ReasonDuplicate, EventID: providerEventID}, nil
	}

	ev, err := ParseEvent(row.Payload)
	if err != nil {
		// payloads are parsed before they are stored; only a hand-edited row gets here
		_ = i.ledger.MarkFailed(ctx, row.ID, err)
		return IngestResult{}, err
	}
	return i.process(ctx, row, ev)
}

func (i *Ingestor) process(ctx context.Context, row *models.BillingWebhookEvent, ev *ProviderEvent) (IngestResult, error) {
	start := time.Now()
	defer func() {
		metrics.WebhookProcessingDuration.Observe(time.Since(start).Seconds())
	}()

	reason, err := i.apply(ctx, ev)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("failed").Inc()
		log.Errorf("[Billing] processing event %s (%s) failed: %v", ev.ID, ev.Type, err)
		if markErr := i.ledger.MarkFailed(ctx, row.ID, err); markErr != nil {
			log.Errorf("[Billing] recording failure of event %s failed: %v", ev.ID, markErr)
		}
		return IngestResult{}, fmt.Errorf("process event %s: %w", ev.ID, err)
	}

	if err := i.ledger.MarkProcessed(ctx, row.ID); err != nil {
		metrics.WebhookEventsTotal.WithLabelValues("failed").Inc()
		return IngestResult{}, fmt.Errorf("mark event %s processed: %w", ev.ID, err)
	}

	metrics.WebhookEventsTotal.WithLabelValues(reason).Inc()
	return IngestResult{Accepted: true, Reason: reason, EventID: ev.ID}, nil
}

func (i *Ingestor) apply(ctx context.Context, ev *ProviderEvent) (string, error) {
	if !IsSubscriptionEvent(ev.Type) {
		log.Infof("[Billing] ignoring event %s of type %s", ev.ID, ev.Type)
		return ReasonIgnored, nil
	}
	if err := i.planFromRequest(ctx, ev); err != nil {
		return "", err
	}

	diff, err := i.machine.Apply(ctx, ev)
	if err != nil {
		return "", err
	}
	if diff.Discarded {
		return ReasonDiscarded, nil
	}
	if err := i.reconcile(ctx, diff, ev.UpgradeRequestID); err != nil {
		return "", err
	}
	return ReasonProcessed, nil
}

// planFromRequest fills a missing plan from the upgrade request the event
// names, so a checkout without plan metadata does not track a free subscription.
func (i *Ingestor) planFromRequest(ctx context.Context, ev *ProviderEvent) error {
	if ev.Plan != "" || ev.UpgradeRequestID == "" || i.upgrades == nil {
		return nil
	}
	req, err := i.upgrades.Get(ctx, ev.UpgradeRequestID)
	if errors.Is(err, upgrade.ErrRequestNotFound) {
		log.Warnf("[Billing] event %s names unknown upgrade request %s", ev.ID, ev.UpgradeRequestID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load upgrade request %s: %w", ev.UpgradeRequestID, err)
	}
	ev.Plan = req.ToPlan
	return nil
}

// reconcile derives the consequences of a subscription's state. Every step is
// idempotent, so it runs again in full when an event is reprocessed.
func (i *Ingestor) reconcile(ctx context.Context, diff SubscriptionDiff, upgradeRequestID string) error {
	sub := diff.Subscription
	plan := entitlements.Normalize(sub.Plan)

	previous, err := i.plans.CurrentPlan(ctx, sub.AccountID)
	if err != nil {
		return fmt.Errorf("load plan of account %d: %w", sub.AccountID, err)
	}
	// the bonus decision is stored before the plan changes; a retry sees the
	// raised plan and relies on the stored key
	if diff.IsEntitling && sub.BonusKey == "" && entitlements.IsUpgrade(previous, plan) {
		key := firstNonEmpty(upgradeRequestID, sub.UpgradeRequestID)
		if key == "" {
			key = fmt.Sprintf("sub:%s:%s", sub.ProviderSubscriptionID, plan)
		}
		if _, err := i.machine.ClaimBonusKey(ctx, sub, key); err != nil {
			return err
		}
	}

	if upgradeRequestID != "" && diff.IsEntitling && i.upgrades != nil {
		_, err := i.upgrades.Approve(ctx, upgradeRequestID, sub.ProviderSubscriptionID)
		switch {
		case errors.Is(err, upgrade.ErrRequestNotFound), errors.Is(err, upgrade.ErrInvalidTransition):
			log.Warnf("[Billing] upgrade request %s from subscription %s not approved: %v", upgradeRequestID, sub.ProviderSubscriptionID, err)
		case err != nil:
			return fmt.Errorf("approve upgrade request %s: %w", upgradeRequestID, err)
		}
	}

	entitling, err := i.machine.EntitlingPlans(ctx, sub.AccountID)
	if err != nil {
		return err
	}
	direct, err := i.machine.DirectChargePlans(ctx, sub.AccountID)
	if err != nil {
		return err
	}
	effective := entitlements.Best(append(entitling, direct...)...)
	if err := i.plans.ApplyPlan(ctx, sub.AccountID, effective); err != nil {
		return fmt.Errorf("apply plan %s to account %d: %w", effective, sub.AccountID, err)
	}

	if !diff.IsEntitling || sub.BonusKey == "" {
		return nil
	}
	if _, err := i.bonuses.OnQualifyingUpgrade(ctx, sub.AccountID, plan, sub.BonusKey); err != nil {
		return fmt.Errorf("referral bonus for account %d: %w", sub.AccountID, err)
	}
	return nil
}

// ResyncSubscription pulls the subscription from the provider and applies it
// like an event stamped with the fetch time. Provider failures wrap
// ErrProviderUnavailable and change nothing.
func (i *Ingestor) ResyncSubscription(ctx context.Context, providerSubscriptionID string) (SubscriptionDiff, error) {
	if i.fetcher == nil {
		return SubscriptionDiff{}, fmt.Errorf("%w: no provider client configured", ErrProviderUnavailable)
	}
	if _, err := i.machine.Find(ctx, providerSubscriptionID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SubscriptionDiff{}, ErrSubscriptionNotFound
		}
		return SubscriptionDiff{}, fmt.Errorf("load subscription %s: %w", providerSubscriptionID, err)
	}

	timeout := i.cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ev, err := i.fetcher.RetrieveSubscription(fetchCtx, providerSubscriptionID)
	if err != nil {
		return SubscriptionDiff{}, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if err := i.planFromRequest(ctx, ev); err != nil {
		return SubscriptionDiff{}, err
	}

	diff, err := i.machine.Apply(ctx, ev)
	if err != nil {
		return SubscriptionDiff{}, err
	}
	if diff.Discarded {
		return diff, nil
	}
	if err := i.reconcile(ctx, diff, ev.UpgradeRequestID); err != nil {
		return SubscriptionDiff{}, err
	}
	return diff, nil
}
