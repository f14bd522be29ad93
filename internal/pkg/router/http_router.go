package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ManuelReschke/ExpandFox/app/controllers"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/constants"
)

// HttpRouter installs the routes outside the internal API: the provider
// webhook, health and metrics.
type HttpRouter struct {
	billing *controllers.BillingController
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	app.Get(constants.HealthRoute, func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})
	app.Get(constants.MetricsRoute, adaptor.HTTPHandler(promhttp.Handler()))

	// signature-verified in the controller
	app.Post(constants.WebhookRoute, h.billing.HandleWebhook)
}

func NewHttpRouter(billing *controllers.BillingController) *HttpRouter {
	return &HttpRouter{billing: billing}
}
