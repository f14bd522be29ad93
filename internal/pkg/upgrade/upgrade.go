package upgrade

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ManuelReschke/ExpandFox/app/models"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/entitlements"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/metrics"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/referral"
)

var (
	ErrRequestNotFound      = errors.New("upgrade: request not found")
	ErrAccountNotFound      = errors.New("upgrade: account not found")
	ErrUnknownPlan          = errors.New("upgrade: unknown plan")
	ErrNotAnUpgrade         = errors.New("upgrade: target plan is not higher than the current plan")
	ErrPendingRequestExists = errors.New("upgrade: a pending request already exists for this account")
	ErrInvalidTransition    = errors.New("upgrade: request is no longer pending")
)

// PlanApplier writes a plan's limits to an account.
type PlanApplier interface {
	CurrentPlan(ctx context.Context, accountID uint) (entitlements.Plan, error)
	ApplyPlan(ctx context.Context, accountID uint, plan entitlements.Plan) error
}

// BonusGranter credits a referrer once per qualifying upgrade.
type BonusGranter interface {
	OnQualifyingUpgrade(ctx context.Context, accountID uint, plan entitlements.Plan, triggeringUpgradeID string) (referral.GrantResult, error)
}

type ApproveResult struct {
	Request *models.UpgradeRequest `json:"request"`
	Bonus   referral.GrantResult   `json:"bonus"`
}

type Coordinator struct {
	db            *gorm.DB
	plans         PlanApplier
	bonuses       BonusGranter
	gateway       PaymentGateway
	chargeTimeout time.Duration
}

// NewCoordinator wires the coordinator. gateway may be nil when only
// checkout flows (approval via webhook) are used.
func NewCoordinator(db *gorm.DB, plans PlanApplier, bonuses BonusGranter, gateway PaymentGateway, chargeTimeout time.Duration) *Coordinator {
	if chargeTimeout <= 0 {
		chargeTimeout = 10 * time.Second
	}
	return &Coordinator{db: db, plans: plans, bonuses: bonuses, gateway: gateway, chargeTimeout: chargeTimeout}
}

// Create opens a pending upgrade request. The unique pending_key makes a
// second pending request for the same account fail at the storage level.
func (c *Coordinator) Create(ctx context.Context, accountID uint, toPlan string, paymentMethod string) (*models.UpgradeRequest, error) {
	if !entitlements.IsKnown(toPlan) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPlan, toPlan)
	}
	target := entitlements.Normalize(toPlan)

	var account models.Account
	if err := c.db.WithContext(ctx).Select("id", "plan").First(&account, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, fmt.Errorf("load account: %w", err)
	}
	current := entitlements.Normalize(account.Plan)
	if !entitlements.IsUpgrade(current, target) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrNotAnUpgrade, current, target)
	}

	pendingKey := strconv.FormatUint(uint64(accountID), 10)
	req := &models.UpgradeRequest{
		PublicID:      uuid.NewString(),
		AccountID:     accountID,
		FromPlan:      string(current),
		ToPlan:        string(target),
		Amount:        entitlements.Price(target),
		Status:        models.UpgradeStatusPending,
		PaymentMethod: paymentMethod,
		PendingKey:    &pendingKey,
	}
	ins := c.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "pending_key"}},
		DoNothing: true,
	}).Create(req)
	if ins.Error != nil {
		return nil, fmt.Errorf("insert upgrade request: %w", ins.Error)
	}
	if ins.RowsAffected == 0 {
		return nil, ErrPendingRequestExists
	}

	metrics.UpgradeRequestsTotal.WithLabelValues(models.UpgradeStatusPending).Inc()
	log.Infof("[Upgrade] request %s created for account %d: %s -> %s (%d)", req.PublicID, accountID, current, target, req.Amount)
	return req, nil
}

func (c *Coordinator) Get(ctx context.Context, publicID string) (*models.UpgradeRequest, error) {
	var req models.UpgradeRequest
	if err := c.db.WithContext(ctx).Where("public_id = ?", publicID).First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, fmt.Errorf("load upgrade request: %w", err)
	}
	return &req, nil
}

// Approve marks a pending request approved after payment succeeded, then
// applies the plan and grants the referral bonus. Calling it again on an
// approved request re-runs only those idempotent consequences.
func (c *Coordinator) Approve(ctx context.Context, publicID string, paymentRef string) (ApproveResult, error) {
	now := time.Now().UTC().Truncate(time.Second)
	upd := c.db.WithContext(ctx).Model(&models.UpgradeRequest{}).
		Where("public_id = ? AND status = ?", publicID, models.UpgradeStatusPending).
		Updates(map[string]interface{}{
			"status":      models.UpgradeStatusApproved,
			"payment_ref": paymentRef,
			"pending_key": nil,
			"decided_at":  now,
		})
	if upd.Error != nil {
		return ApproveResult{}, fmt.Errorf("approve upgrade request: %w", upd.Error)
	}

	req, err := c.Get(ctx, publicID)
	if err != nil {
		return ApproveResult{}, err
	}
	if req.Status != models.UpgradeStatusApproved {
		return ApproveResult{Request: req}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, publicID, req.Status)
	}
	if upd.RowsAffected > 0 {
		metrics.UpgradeRequestsTotal.WithLabelValues(models.UpgradeStatusApproved).Inc()
		log.Infof("[Upgrade] request %s approved (payment %s)", publicID, paymentRef)
	}

	target := entitlements.Normalize(req.ToPlan)
	current, err := c.plans.CurrentPlan(ctx, req.AccountID)
	if err != nil {
		return ApproveResult{Request: req}, fmt.Errorf("load current plan: %w", err)
	}
	// never lower an account that reached a higher plan in the meantime
	if entitlements.Rank(current) <= entitlements.Rank(target) {
		if err := c.plans.ApplyPlan(ctx, req.AccountID, target); err != nil {
			return ApproveResult{Request: req}, fmt.Errorf("apply plan: %w", err)
		}
	}

	bonus, err := c.bonuses.OnQualifyingUpgrade(ctx, req.AccountID, target, req.PublicID)
	if err != nil {
		return ApproveResult{Request: req}, fmt.Errorf("grant referral bonus: %w", err)
	}
	return ApproveResult{Request: req, Bonus: bonus}, nil
}

// Reject closes a pending request without touching the entitlement.
// Rejecting an already rejected request is a no-op.
func (c *Coordinator) Reject(ctx context.Context, publicID string, reason string) (*models.UpgradeRequest, error) {
	now := time.Now().UTC().Truncate(time.Second)
	upd := c.db.WithContext(ctx).Model(&models.UpgradeRequest{}).
		Where("public_id = ? AND status = ?", publicID, models.UpgradeStatusPending).
		Updates(map[string]interface{}{
			"status":        models.UpgradeStatusRejected,
			"reject_reason": reason,
			"pending_key":   nil,
			"decided_at":    now,
		})
	if upd.Error != nil {
		return nil, fmt.Errorf("reject upgrade request: %w", upd.Error)
	}

	req, err := c.Get(ctx, publicID)
	if err != nil {
		return nil, err
	}
	if req.Status != models.UpgradeStatusRejected {
		return req, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, publicID, req.Status)
	}
	if upd.RowsAffected > 0 {
		metrics.UpgradeRequestsTotal.WithLabelValues(models.UpgradeStatusRejected).Inc()
		log.Infof("[Upgrade] request %s rejected: %s", publicID, reason)
	}
	return req, nil
}
