package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/referral"
)

type ReferralController struct {
	engine *referral.Engine
}

func NewReferralController(engine *referral.Engine) *ReferralController {
	return &ReferralController{engine: engine}
}

type registerReferralRequest struct {
	AccountID    uint   `json:"account_id" validate:"required"`
	ReferralCode string `json:"referral_code" validate:"required,max=32"`
}

// HandleRegister links an account to the owner of a referral code. Rejected
// codes answer with success=false and the reason.
func (h *ReferralController) HandleRegister(c *fiber.Ctx) error {
	var req registerReferralRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	res, err := h.engine.Register(c.UserContext(), req.AccountID, req.ReferralCode)
	if err != nil {
		return respondError(c, err)
	}
	switch res.Reason {
	case "":
		return c.JSON(res)
	case referral.ReasonAccountNotFound:
		return c.Status(fiber.StatusNotFound).JSON(res)
	case referral.ReasonSelfReferral, referral.ReasonAlreadyReferred:
		log.Warnf("[Referral] %s for account %d from %s", res.Reason, req.AccountID, GetClientIP(c))
	}
	return c.Status(fiber.StatusUnprocessableEntity).JSON(res)
}

func (h *ReferralController) HandleStats(c *fiber.Ctx) error {
	id, ok := paramID(c, "account_id")
	if !ok {
		return badRequest(c, "invalid account id")
	}

	stats, err := h.engine.Stats(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(stats)
}
