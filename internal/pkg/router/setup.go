package router

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ManuelReschke/ExpandFox/app/controllers"
	apiv1 "github.com/ManuelReschke/ExpandFox/internal/api/v1"
)

type Router interface {
	InstallRouter(app *fiber.App)
}

// Dependencies are the handlers and settings the routers need.
type Dependencies struct {
	Billing         *controllers.BillingController
	API             *apiv1.APIServer
	InternalToken   string
	RateLimitMax    int
	RateLimitWindow time.Duration
	LimiterStorage  fiber.Storage // nil keeps limiter counters in memory
}

func InstallRouter(app *fiber.App, deps Dependencies) {
	// public routes first; the api group adds its own middleware
	setup(app, NewHttpRouter(deps.Billing), NewApiRouter(deps))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
