package controllers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/accounts"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/billing"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/quota"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/referral"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/upgrade"
)

var validate = validator.New()

type errorStatus struct {
	status int
	code   string
}

// errorStatuses maps domain errors to responses, first match wins.
var errorStatuses = []struct {
	err error
	errorStatus
}{
	{billing.ErrInvalidSignature, errorStatus{fiber.StatusBadRequest, "invalid_signature"}},
	{billing.ErrInvalidPayload, errorStatus{fiber.StatusBadRequest, "invalid_payload"}},
	{quota.ErrUnknownResource, errorStatus{fiber.StatusBadRequest, "bad_request"}},
	{quota.ErrInvalidAmount, errorStatus{fiber.StatusBadRequest, "bad_request"}},
	{upgrade.ErrUnknownPlan, errorStatus{fiber.StatusBadRequest, "bad_request"}},
	{accounts.ErrInvalidAccount, errorStatus{fiber.StatusUnprocessableEntity, "unprocessable_entity"}},

	{quota.ErrAccountNotFound, errorStatus{fiber.StatusNotFound, "not_found"}},
	{upgrade.ErrAccountNotFound, errorStatus{fiber.StatusNotFound, "not_found"}},
	{upgrade.ErrRequestNotFound, errorStatus{fiber.StatusNotFound, "not_found"}},
	{referral.ErrAccountNotFound, errorStatus{fiber.StatusNotFound, "not_found"}},
	{accounts.ErrAccountNotFound, errorStatus{fiber.StatusNotFound, "not_found"}},
	{billing.ErrEventNotFound, errorStatus{fiber.StatusNotFound, "not_found"}},
	{billing.ErrSubscriptionNotFound, errorStatus{fiber.StatusNotFound, "not_found"}},

	{upgrade.ErrNotAnUpgrade, errorStatus{fiber.StatusConflict, "conflict"}},
	{upgrade.ErrPendingRequestExists, errorStatus{fiber.StatusConflict, "conflict"}},
	{upgrade.ErrInvalidTransition, errorStatus{fiber.StatusConflict, "conflict"}},
	{accounts.ErrEmailTaken, errorStatus{fiber.StatusConflict, "conflict"}},

	{upgrade.ErrPaymentDeclined, errorStatus{fiber.StatusPaymentRequired, "payment_declined"}},
	{upgrade.ErrPaymentUnavailable, errorStatus{fiber.StatusServiceUnavailable, "service_unavailable"}},
	{upgrade.ErrNoGateway, errorStatus{fiber.StatusServiceUnavailable, "service_unavailable"}},
	{billing.ErrProviderUnavailable, errorStatus{fiber.StatusServiceUnavailable, "service_unavailable"}},
}

func statusFor(err error) errorStatus {
	for _, m := range errorStatuses {
		if errors.Is(err, m.err) {
			return m.errorStatus
		}
	}
	return errorStatus{fiber.StatusInternalServerError, "internal_server_error"}
}

// respondError writes the JSON error for err. Internal errors are logged and
// their text is not sent to the caller.
func respondError(c *fiber.Ctx, err error) error {
	s := statusFor(err)
	message := err.Error()
	if s.status >= fiber.StatusInternalServerError && s.status != fiber.StatusServiceUnavailable {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		message = "Internal error"
	}
	return c.Status(s.status).JSON(fiber.Map{"error": s.code, "message": message})
}

func badRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "bad_request", "message": message})
}

// parseBody decodes the JSON body into dst and validates its struct tags.
// It writes the 400 response itself and returns false on failure.
func parseBody(c *fiber.Ctx, dst interface{}) (bool, error) {
	if err := c.BodyParser(dst); err != nil {
		return false, badRequest(c, "Invalid JSON body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
			}
			return false, badRequest(c, "Invalid fields: "+strings.Join(fields, ", "))
		}
		return false, badRequest(c, err.Error())
	}
	return true, nil
}

func paramID(c *fiber.Ctx, name string) (uint, bool) {
	id, err := strconv.ParseUint(c.Params(name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// GetClientIP returns the original client address behind Cloudflare or a proxy.
func GetClientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return ip
	}
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	if ip := strings.TrimSpace(c.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return strings.TrimPrefix(c.IP(), "::ffff:")
}
