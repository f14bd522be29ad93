package apiv1

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ExpandFox/app/controllers"
)

// Pong is the body of the ping endpoint
type Pong struct {
	Ping string `json:"ping"`
}

// APIServer delegates the v1 operations to the controllers.
type APIServer struct {
	Accounts  *controllers.AccountController
	Quota     *controllers.QuotaController
	Upgrades  *controllers.UpgradeController
	Referrals *controllers.ReferralController
	Billing   *controllers.BillingController
}

func NewAPIServer(
	accounts *controllers.AccountController,
	quota *controllers.QuotaController,
	upgrades *controllers.UpgradeController,
	referrals *controllers.ReferralController,
	billing *controllers.BillingController,
) *APIServer {
	return &APIServer{Accounts: accounts, Quota: quota, Upgrades: upgrades, Referrals: referrals, Billing: billing}
}

// GetPing handles the ping endpoint
func (s *APIServer) GetPing(c *fiber.Ctx) error {
	return c.Status(fiber.StatusOK).JSON(Pong{Ping: "pong"})
}

// RegisterHandlers installs every v1 operation on router.
func RegisterHandlers(router fiber.Router, s *APIServer) {
	router.Get("/ping", s.GetPing)

	router.Post("/accounts", s.Accounts.HandleCreate)
	router.Get("/accounts/:id", s.Accounts.HandleGet)
	router.Get("/accounts/:id/entitlement", s.Quota.HandleEntitlement)

	router.Post("/quota/consume", s.Quota.HandleConsume)
	router.Post("/quota/release", s.Quota.HandleRelease)

	router.Post("/upgrades", s.Upgrades.HandleCreate)
	router.Get("/upgrades/:id", s.Upgrades.HandleGet)
	router.Post("/upgrades/:id/charge", s.Upgrades.HandleCharge)
	router.Post("/upgrades/:id/approve", s.Upgrades.HandleApprove)
	router.Post("/upgrades/:id/reject", s.Upgrades.HandleReject)

	router.Post("/referrals", s.Referrals.HandleRegister)
	router.Get("/referrals/:account_id", s.Referrals.HandleStats)

	router.Post("/subscriptions/:id/resync", s.Billing.HandleResync)
	router.Post("/billing/events/:id/replay", s.Billing.HandleReplay)
}
