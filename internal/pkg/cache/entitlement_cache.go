package cache

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/ExpandFox/app/models"
)

const (
	entitlementKeyPrefix = "entitlement:snapshot:"

	fieldMaxShortcuts   = "max_shortcuts"
	fieldShortcutsUsed  = "shortcuts_used"
	fieldMaxAIRequests  = "max_ai_requests"
	fieldAIRequestsUsed = "ai_requests_used"
	fieldPeriodStart    = "usage_period_start"
)

// EntitlementCache keeps short-lived read snapshots of entitlements in a Redis
// hash. It serves usage queries only; quota decisions always hit the database.
type EntitlementCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewEntitlementCache(client *redis.Client, ttl time.Duration) *EntitlementCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &EntitlementCache{client: client, ttl: ttl}
}

func (c *EntitlementCache) key(accountID uint) string {
	return fmt.Sprintf("%s%d", entitlementKeyPrefix, accountID)
}

// Get returns nil, nil on a miss.
func (c *EntitlementCache) Get(ctx context.Context, accountID uint) (*models.Entitlement, error) {
	result, err := c.client.HGetAll(ctx, c.key(accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("get entitlement snapshot: %w", err)
	}
	if len(result) == 0 {
		return nil, nil
	}

	ent := &models.Entitlement{AccountID: accountID}
	ent.MaxShortcuts, _ = strconv.ParseInt(result[fieldMaxShortcuts], 10, 64)
	ent.ShortcutsUsed, _ = strconv.ParseInt(result[fieldShortcutsUsed], 10, 64)
	ent.MaxAIRequests, _ = strconv.ParseInt(result[fieldMaxAIRequests], 10, 64)
	ent.AIRequestsUsed, _ = strconv.ParseInt(result[fieldAIRequestsUsed], 10, 64)
	if start, err := strconv.ParseInt(result[fieldPeriodStart], 10, 64); err == nil {
		ent.UsagePeriodStart = time.Unix(start, 0).UTC()
	}
	return ent, nil
}

func (c *EntitlementCache) Set(ctx context.Context, ent *models.Entitlement) error {
	key := c.key(ent.AccountID)
	fields := map[string]interface{}{
		fieldMaxShortcuts:   ent.MaxShortcuts,
		fieldShortcutsUsed:  ent.ShortcutsUsed,
		fieldMaxAIRequests:  ent.MaxAIRequests,
		fieldAIRequestsUsed: ent.AIRequestsUsed,
		fieldPeriodStart:    ent.UsagePeriodStart.Unix(),
	}

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, fields)
	pipe.Expire(ctx, key, c.ttlWithJitter())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set entitlement snapshot: %w", err)
	}
	return nil
}

func (c *EntitlementCache) Invalidate(ctx context.Context, accountID uint) error {
	if err := c.client.Del(ctx, c.key(accountID)).Err(); err != nil {
		return fmt.Errorf("invalidate entitlement snapshot: %w", err)
	}
	return nil
}

// up to 20% extra so snapshots written together do not expire together
func (c *EntitlementCache) ttlWithJitter() time.Duration {
	jitter := time.Duration(rand.Int64N(int64(c.ttl)/5 + 1))
	return c.ttl + jitter
}
