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
	"github.com/ManuelReschke/ExpandFox/internal/pkg/metrics"
)

type Resource string

const (
	ResourceShortcuts  Resource = "shortcuts"
	ResourceAIRequests Resource = "ai_requests"
)

var (
	ErrUnknownResource = errors.New("quota: unknown resource")
	ErrInvalidAmount   = errors.New("quota: amount must be at least 1")
	ErrAccountNotFound = errors.New("quota: account not found")
)

// SnapshotCache holds read-only entitlement snapshots for Usage.
type SnapshotCache interface {
	Get(ctx context.Context, accountID uint) (*models.Entitlement, error)
	Set(ctx context.Context, ent *models.Entitlement) error
	Invalidate(ctx context.Context, accountID uint) error
}

// Result is the outcome of a consume or release call. Remaining is
// entitlements.Unlimited when the resource has no cap.
type Result struct {
	Allowed   bool  `json:"allowed"`
	Remaining int64 `json:"remaining"`
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
}

type Enforcer struct {
	db    *gorm.DB
	cache SnapshotCache
}

// NewEnforcer creates an enforcer. cache may be nil.
func NewEnforcer(db *gorm.DB, cache SnapshotCache) *Enforcer {
	return &Enforcer{db: db, cache: cache}
}

// ParseResource validates a resource name coming from a request.
func ParseResource(s string) (Resource, error) {
	switch Resource(s) {
	case ResourceShortcuts, ResourceAIRequests:
		return Resource(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownResource, s)
	}
}

func columns(resource Resource) (used, limit string, err error) {
	switch resource {
	case ResourceShortcuts:
		return "shortcuts_used", "max_shortcuts", nil
	case ResourceAIRequests:
		return "ai_requests_used", "max_ai_requests", nil
	default:
		return "", "", fmt.Errorf("%w: %q", ErrUnknownResource, resource)
	}
}

func counters(ent *models.Entitlement, resource Resource) (used, limit int64) {
	if resource == ResourceShortcuts {
		return ent.ShortcutsUsed, ent.MaxShortcuts
	}
	return ent.AIRequestsUsed, ent.MaxAIRequests
}

// TryConsume increments usage of resource by amount if the result stays
// within the limit. The check and the increment are one conditional UPDATE,
// so concurrent callers can never overshoot the limit together.
func (e *Enforcer) TryConsume(ctx context.Context, accountID uint, resource Resource, amount int64) (Result, error) {
	start := time.Now()
	usedCol, limitCol, err := columns(resource)
	if err != nil {
		return Result{}, err
	}
	if amount < 1 {
		return Result{}, ErrInvalidAmount
	}

	var res Result
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&models.Entitlement{}).
			Where("account_id = ?", accountID).
			Where(fmt.Sprintf("(%s = ? OR %s + ? <= %s)", limitCol, usedCol, limitCol), entitlements.Unlimited, amount).
			UpdateColumn(usedCol, gorm.Expr(usedCol+" + ?", amount))
		if upd.Error != nil {
			return fmt.Errorf("consume %s: %w", resource, upd.Error)
		}

		var ent models.Entitlement
		if err := tx.Where("account_id = ?", accountID).First(&ent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("load entitlement: %w", err)
		}

		used, limit := counters(&ent, resource)
		res = Result{
			Allowed:   upd.RowsAffected > 0,
			Remaining: entitlements.Remaining(limit, used),
			Used:      used,
			Limit:     limit,
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	outcome := "denied"
	if res.Allowed {
		outcome = "allowed"
		e.invalidate(ctx, accountID)
	}
	metrics.QuotaChecksTotal.WithLabelValues(string(resource), outcome).Inc()
	metrics.QuotaCheckDuration.WithLabelValues(string(resource)).Observe(time.Since(start).Seconds())

	return res, nil
}

// Release gives back amount units of resource, never dropping usage below zero.
func (e *Enforcer) Release(ctx context.Context, accountID uint, resource Resource, amount int64) (Result, error) {
	usedCol, _, err := columns(resource)
	if err != nil {
		return Result{}, err
	}
	if amount < 1 {
		return Result{}, ErrInvalidAmount
	}

	var res Result
	err = e.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upd := tx.Model(&models.Entitlement{}).
			Where("account_id = ?", accountID).
			UpdateColumn(usedCol, gorm.Expr(fmt.Sprintf("CASE WHEN %s >= ? THEN %s - ? ELSE 0 END", usedCol, usedCol), amount, amount))
		if upd.Error != nil {
			return fmt.Errorf("release %s: %w", resource, upd.Error)
		}

		var ent models.Entitlement
		if err := tx.Where("account_id = ?", accountID).First(&ent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrAccountNotFound
			}
			return fmt.Errorf("load entitlement: %w", err)
		}
		used, limit := counters(&ent, resource)
		res = Result{Allowed: true, Remaining: entitlements.Remaining(limit, used), Used: used, Limit: limit}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	e.invalidate(ctx, accountID)
	return res, nil
}

func (e *Enforcer) invalidate(ctx context.Context, accountID uint) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Invalidate(ctx, accountID); err != nil {
		log.Warnf("[Quota] failed to invalidate snapshot for account %d: %v", accountID, err)
	}
}
