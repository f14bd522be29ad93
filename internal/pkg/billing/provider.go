package billing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/config"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/upgrade"
)

const chargeCurrency = "usd"

// ProviderClient talks to the payment provider's REST API. It is built from
// configuration in main and injected; nothing in this package holds a global
// client.
type ProviderClient struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	now        func() time.Time
}

func NewProviderClient(cfg config.Billing) *ProviderClient {
	timeout := cfg.ProviderTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ProviderClient{
		BaseURL: strings.TrimRight(strings.TrimSpace(cfg.ProviderBaseURL), "/"),
		APIKey:  strings.TrimSpace(cfg.ProviderAPIKey),
		HTTPClient: &http.Client{
			Timeout: timeout,
		},
		now: time.Now,
	}
}

type providerError struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type chargeResponse struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	FailureCode string `json:"failure_code"`
}

// Charge creates a one-off charge. Declines wrap upgrade.ErrPaymentDeclined;
// everything else is an error with unknown outcome. The upgrade request id is
// sent as idempotency key, so retrying a charge never bills twice.
func (c *ProviderClient) Charge(ctx context.Context, req upgrade.ChargeRequest) (upgrade.ChargeResult, error) {
	if c.APIKey == "" {
		return upgrade.ChargeResult{}, errors.New("BILLING_PROVIDER_API_KEY is not configured")
	}

	form := url.Values{}
	form.Set("amount", strconv.FormatInt(req.Amount, 10))
	form.Set("currency", chargeCurrency)
	form.Set("payment_method", req.PaymentMethod)
	form.Set("confirm", "true")
	form.Set("metadata[account_id]", strconv.FormatUint(uint64(req.AccountID), 10))
	form.Set("metadata[plan]", string(req.Plan))
	form.Set("metadata[upgrade_request_id]", req.RequestID)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/payment_intents", strings.NewReader(form.Encode()))
	if err != nil {
		return upgrade.ChargeResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	httpReq.Header.Set("Idempotency-Key", "upgrade-"+req.RequestID)

	status, body, err := c.do(httpReq)
	if err != nil {
		return upgrade.ChargeResult{}, err
	}

	if status == http.StatusPaymentRequired {
		var perr providerError
		_ = json.Unmarshal(body, &perr)
		return upgrade.ChargeResult{}, fmt.Errorf("%w: %s", upgrade.ErrPaymentDeclined, firstNonEmpty(perr.Error.Code, perr.Error.Message, "card_error"))
	}
	if status < 200 || status >= 300 {
		return upgrade.ChargeResult{}, fmt.Errorf("provider charge failed: status=%d body=%s", status, string(body))
	}

	var out chargeResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return upgrade.ChargeResult{}, fmt.Errorf("decode charge response: %w", err)
	}
	switch out.Status {
	case "succeeded":
		return upgrade.ChargeResult{PaymentRef: out.ID}, nil
	case "requires_payment_method", "canceled", "failed":
		return upgrade.ChargeResult{}, fmt.Errorf("%w: %s", upgrade.ErrPaymentDeclined, firstNonEmpty(out.FailureCode, out.Status))
	default:
		return upgrade.ChargeResult{}, fmt.Errorf("charge %s in unexpected status %q", out.ID, out.Status)
	}
}

// RetrieveSubscription reads a subscription and shapes it like a
// subscription.updated event stamped with the fetch time.
func (c *ProviderClient) RetrieveSubscription(ctx context.Context, providerSubscriptionID string) (*ProviderEvent, error) {
	if c.APIKey == "" {
		return nil, errors.New("BILLING_PROVIDER_API_KEY is not configured")
	}
	id := strings.TrimSpace(providerSubscriptionID)
	if id == "" {
		return nil, errors.New("subscription id is required")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/v1/subscriptions/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	status, body, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("provider subscription request failed: status=%d body=%s", status, string(body))
	}

	var obj rawObject
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, fmt.Errorf("decode subscription: %w", err)
	}
	if obj.ID == "" {
		obj.ID = id
	}
	obj.Object = "subscription"

	fetchedAt := c.now().UTC().Truncate(time.Second)
	eventID := fmt.Sprintf("resync:%s:%d", obj.ID, fetchedAt.Unix())
	return eventFromObject(eventID, EventSubscriptionUpdated, fetchedAt, obj)
}

func (c *ProviderClient) do(req *http.Request) (int, []byte, error) {
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
