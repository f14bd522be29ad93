package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/callercontext"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/upgrade"
)

type UpgradeController struct {
	coordinator *upgrade.Coordinator
}

func NewUpgradeController(coordinator *upgrade.Coordinator) *UpgradeController {
	return &UpgradeController{coordinator: coordinator}
}

type createUpgradeRequest struct {
	AccountID     uint   `json:"account_id" validate:"required"`
	Plan          string `json:"plan" validate:"required,max=50"`
	PaymentMethod string `json:"payment_method" validate:"required,max=50"`
}

type approveUpgradeRequest struct {
	PaymentConfirmation string `json:"payment_confirmation" validate:"required,max=255"`
}

type rejectUpgradeRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

func (h *UpgradeController) HandleCreate(c *fiber.Ctx) error {
	var req createUpgradeRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	created, err := h.coordinator.Create(c.UserContext(), req.AccountID, req.Plan, req.PaymentMethod)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"request_id": created.PublicID,
		"amount":     created.Amount,
		"status":     created.Status,
		"from_plan":  created.FromPlan,
		"to_plan":    created.ToPlan,
	})
}

func (h *UpgradeController) HandleGet(c *fiber.Ctx) error {
	req, err := h.coordinator.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(req)
}

// HandleCharge runs the payment through the configured gateway and approves
// or rejects the request accordingly.
func (h *UpgradeController) HandleCharge(c *fiber.Ctx) error {
	res, err := h.coordinator.Charge(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(res)
}

// HandleApprove approves a request paid outside the gateway.
func (h *UpgradeController) HandleApprove(c *fiber.Ctx) error {
	var req approveUpgradeRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	res, err := h.coordinator.Approve(c.UserContext(), c.Params("id"), req.PaymentConfirmation)
	if err != nil {
		return respondError(c, err)
	}
	log.Infof("[Upgrade] request %s approved by %s", c.Params("id"), callercontext.Service(c))
	return c.JSON(res)
}

func (h *UpgradeController) HandleReject(c *fiber.Ctx) error {
	var req rejectUpgradeRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	rejected, err := h.coordinator.Reject(c.UserContext(), c.Params("id"), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(rejected)
}
