package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/accounts"
)

type AccountController struct {
	factory *accounts.Factory
}

func NewAccountController(factory *accounts.Factory) *AccountController {
	return &AccountController{factory: factory}
}

type createAccountRequest struct {
	Email        string `json:"email" validate:"required,email,max=200"`
	ReferralCode string `json:"referral_code" validate:"omitempty,max=32"`
}

func (h *AccountController) HandleCreate(c *fiber.Ctx) error {
	var req createAccountRequest
	if ok, err := parseBody(c, &req); !ok {
		return err
	}

	res, err := h.factory.Create(c.UserContext(), accounts.CreateInput{Email: req.Email, ReferralCode: req.ReferralCode})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(res)
}

func (h *AccountController) HandleGet(c *fiber.Ctx) error {
	id, ok := paramID(c, "id")
	if !ok {
		return badRequest(c, "invalid account id")
	}

	account, err := h.factory.Get(c.UserContext(), id)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(account)
}
