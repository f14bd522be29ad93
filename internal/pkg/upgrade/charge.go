package upgrade

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/entitlements"
)

var (
	// ErrPaymentDeclined is returned by a gateway when the provider refused the charge.
	ErrPaymentDeclined = errors.New("upgrade: payment declined")
	// ErrPaymentUnavailable means the charge outcome is unknown; the request stays pending.
	ErrPaymentUnavailable = errors.New("upgrade: payment provider unavailable")
	ErrNoGateway          = errors.New("upgrade: no payment gateway configured")
)

type ChargeRequest struct {
	RequestID     string
	AccountID     uint
	Plan          entitlements.Plan
	Amount        int64
	PaymentMethod string
}

type ChargeResult struct {
	PaymentRef string
}

// PaymentGateway charges a payment method directly.
type PaymentGateway interface {
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)
}

// Charge runs the direct-charge flow for a pending request. A provider
// failure or timeout fails closed: the request stays pending and the error
// is retryable. A decline rejects the request.
func (c *Coordinator) Charge(ctx context.Context, publicID string) (ApproveResult, error) {
	if c.gateway == nil {
		return ApproveResult{}, ErrNoGateway
	}

	req, err := c.Get(ctx, publicID)
	if err != nil {
		return ApproveResult{}, err
	}
	if !req.IsPending() {
		return ApproveResult{Request: req}, fmt.Errorf("%w: %s is %s", ErrInvalidTransition, publicID, req.Status)
	}

	chargeCtx, cancel := context.WithTimeout(ctx, c.chargeTimeout)
	defer cancel()

	res, err := c.gateway.Charge(chargeCtx, ChargeRequest{
		RequestID:     req.PublicID,
		AccountID:     req.AccountID,
		Plan:          entitlements.Normalize(req.ToPlan),
		Amount:        req.Amount,
		PaymentMethod: req.PaymentMethod,
	})
	switch {
	case errors.Is(err, ErrPaymentDeclined):
		rejected, rejErr := c.Reject(ctx, publicID, "payment_declined")
		if rejErr != nil {
			return ApproveResult{Request: req}, rejErr
		}
		return ApproveResult{Request: rejected}, ErrPaymentDeclined
	case err != nil:
		log.Warnf("[Upgrade] charge for request %s failed, leaving it pending: %v", publicID, err)
		return ApproveResult{Request: req}, fmt.Errorf("%w: %v", ErrPaymentUnavailable, err)
	}

	return c.Approve(ctx, publicID, res.PaymentRef)
}
