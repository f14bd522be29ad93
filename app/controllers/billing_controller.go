package controllers

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/billing"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/callercontext"
)

type BillingController struct {
	ingestor *billing.Ingestor
}

func NewBillingController(ingestor *billing.Ingestor) *BillingController {
	return &BillingController{ingestor: ingestor}
}

// HandleWebhook receives provider webhooks. 200 tells the provider to stop
// retrying, 400 marks a delivery it must not retry, 5xx asks for a retry.
func (h *BillingController) HandleWebhook(c *fiber.Ctx) error {
	// fasthttp reuses the body buffer after the handler returns
	payload := append([]byte(nil), c.Body()...)

	res, err := h.ingestor.Ingest(c.UserContext(), payload, c.Get(billing.SignatureHeader))
	if err != nil {
		if errors.Is(err, billing.ErrInvalidSignature) {
			log.Warnf("[Billing] rejected webhook from %s: %v", GetClientIP(c), err)
		}
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(res)
}

// HandleResync re-reads a subscription from the provider.
func (h *BillingController) HandleResync(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return badRequest(c, "subscription id missing")
	}

	diff, err := h.ingestor.ResyncSubscription(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("[Billing] subscription %s resynced by %s", id, callercontext.Service(c))

	return c.JSON(fiber.Map{
		"subscription": diff.Subscription,
		"applied":      diff.Applied,
		"discarded":    diff.Discarded,
		"status":       diff.Status,
	})
}

// HandleReplay reprocesses a stored event that was never processed.
func (h *BillingController) HandleReplay(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if id == "" {
		return badRequest(c, "event id missing")
	}

	res, err := h.ingestor.Replay(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("[Billing] event %s replayed by %s: %s", id, callercontext.Service(c), res.Reason)
	return c.JSON(res)
}
