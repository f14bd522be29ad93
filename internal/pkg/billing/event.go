package billing

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ProviderEvent is the typed form of a provider webhook event.
type ProviderEvent struct {
	ID                 string
	Type               string
	Created            time.Time
	SubscriptionID     string
	Status             string // as reported; empty when the payload has none
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	CancelAtPeriodEnd  bool
	AccountID          uint
	Plan               string
	UpgradeRequestID   string
}

type rawEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object rawObject `json:"object"`
	} `json:"data"`
}

// rawObject covers subscription, invoice and checkout session objects.
type rawObject struct {
	ID                 string         `json:"id"`
	Object             string         `json:"object"`
	Subscription       string         `json:"subscription"`
	Status             string         `json:"status"`
	SubscriptionStatus string         `json:"subscription_status"`
	CurrentPeriodStart int64          `json:"current_period_start"`
	CurrentPeriodEnd   int64          `json:"current_period_end"`
	PeriodStart        int64          `json:"period_start"`
	PeriodEnd          int64          `json:"period_end"`
	CancelAtPeriodEnd  bool           `json:"cancel_at_period_end"`
	Metadata           map[string]any `json:"metadata"`
}

// ParseEvent decodes a webhook body. Errors wrap ErrInvalidPayload.
func ParseEvent(payload []byte) (*ProviderEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrInvalidPayload)
	}
	if strings.TrimSpace(raw.Type) == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrInvalidPayload)
	}
	if raw.Created <= 0 {
		return nil, fmt.Errorf("%w: missing event timestamp", ErrInvalidPayload)
	}

	ev, err := eventFromObject(strings.TrimSpace(raw.ID), normalizeEventType(raw.Type), time.Unix(raw.Created, 0).UTC(), raw.Data.Object)
	if err != nil {
		return nil, err
	}
	if IsSubscriptionEvent(ev.Type) && ev.SubscriptionID == "" {
		return nil, fmt.Errorf("%w: %s without subscription id", ErrInvalidPayload, ev.Type)
	}
	return ev, nil
}

func eventFromObject(id, eventType string, created time.Time, obj rawObject) (*ProviderEvent, error) {
	ev := &ProviderEvent{
		ID:                id,
		Type:              eventType,
		Created:           created,
		CancelAtPeriodEnd: obj.CancelAtPeriodEnd,
	}

	switch {
	case obj.Subscription != "":
		ev.SubscriptionID = obj.Subscription
	case strings.HasPrefix(eventType, "subscription."), obj.Object == "subscription":
		ev.SubscriptionID = obj.ID
	}
	ev.SubscriptionID = strings.TrimSpace(ev.SubscriptionID)

	ev.Status = obj.Status
	if obj.SubscriptionStatus != "" || obj.Object == "invoice" || obj.Object == "checkout.session" {
		// invoice and checkout objects have their own status field
		ev.Status = obj.SubscriptionStatus
	}

	ev.CurrentPeriodStart = unixPtr(obj.CurrentPeriodStart, obj.PeriodStart)
	ev.CurrentPeriodEnd = unixPtr(obj.CurrentPeriodEnd, obj.PeriodEnd)

	if raw := metadataString(obj.Metadata, "account_id"); raw != "" {
		accountID, err := strconv.ParseUint(raw, 10, 64)
		if err != nil || accountID == 0 {
			return nil, fmt.Errorf("%w: bad metadata account_id %q", ErrInvalidPayload, raw)
		}
		ev.AccountID = uint(accountID)
	}
	ev.Plan = strings.ToLower(metadataString(obj.Metadata, "plan"))
	ev.UpgradeRequestID = metadataString(obj.Metadata, "upgrade_request_id")
	return ev, nil
}

func unixPtr(primary, fallback int64) *time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value <= 0 {
		return nil
	}
	t := time.Unix(value, 0).UTC()
	return &t
}

func metadataString(metadata map[string]any, key string) string {
	if metadata == nil {
		return ""
	}
	switch v := metadata[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		return ""
	}
}
