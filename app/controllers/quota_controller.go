package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/quota"
)

type QuotaController struct {
	enforcer *quota.Enforcer
}

func NewQuotaController(enforcer *quota.Enforcer) *QuotaController {
	return &QuotaController{enforcer: enforcer}
}

type quotaRequest struct {
	AccountID uint   `json:"account_id" validate:"required"`
	Resource  string `json:"resource" validate:"required,oneof=shortcuts ai_requests"`
	Amount    int64  `json:"amount" validate:"omitempty,min=1"`
}

func (r *quotaRequest) amount() int64 {
	if r.Amount == 0 {
		return 1
	}
	return r.Amount
}

// HandleConsume checks and reserves quota. A denied request is a normal 200
// response with allowed=false.
func (h *QuotaController) HandleConsume(c *fiber.Ctx) error {
	var req quotaRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	res, err := h.enforcer.TryConsume(c.UserContext(), req.AccountID, quota.Resource(req.Resource), req.amount())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

func (h *QuotaController) HandleRelease(c *fiber.Ctx) error {
	var req quotaRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	res, err := h.enforcer.Release(c.UserContext(), req.AccountID, quota.Resource(req.Resource), req.amount())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// HandleEntitlement returns the usage snapshot of an account. It may be
// slightly stale and is for display only.
func (h *QuotaController) HandleEntitlement(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid account id")
	}

	usage, err := h.enforcer.Usage(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(usage)
}
