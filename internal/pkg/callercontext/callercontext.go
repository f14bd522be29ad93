// Package callercontext carries the identity of the internal service that
// made the current request.
package callercontext

import "github.com/gofiber/fiber/v2"

// CallerContext describes the service calling an internal endpoint
type CallerContext struct {
	Service       string `json:"service"`
	Authenticated bool   `json:"authenticated"`
	RemoteIP      string `json:"remote_ip"`
}

// Get returns the caller context, or an anonymous one if none is set.
func Get(c *fiber.Ctx) CallerContext {
	if ctx, ok := c.Locals(KeyCaller).(CallerContext); ok {
		return ctx
	}
	return CallerContext{RemoteIP: c.IP()}
}

func Set(c *fiber.Ctx, caller CallerContext) {
	c.Locals(KeyCaller, caller)
	c.Locals(KeyAuthenticated, caller.Authenticated)
	c.Locals(KeyService, caller.Service)
}

func IsAuthenticated(c *fiber.Ctx) bool {
	return Get(c).Authenticated
}

// Service returns the calling service name, "unknown" when it sent none.
func Service(c *fiber.Ctx) string {
	if s := Get(c).Service; s != "" {
		return s
	}
	return "unknown"
}
