package router

import (
	"github.com/gofiber/fiber/v2"

	apiv1 "github.com/ManuelReschke/ExpandFox/internal/api/v1"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/constants"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/middleware"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/ratelimit"
)

type ApiRouter struct {
	deps Dependencies
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group(constants.APIPrefix,
		middleware.InternalTokenMiddleware(h.deps.InternalToken),
		ratelimit.New(h.deps.RateLimitMax, h.deps.RateLimitWindow, h.deps.LimiterStorage),
	)
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group(constants.APIVersion)
	apiv1.RegisterHandlers(v1, h.deps.API)
}

func NewApiRouter(deps Dependencies) *ApiRouter {
	return &ApiRouter{deps: deps}
}
