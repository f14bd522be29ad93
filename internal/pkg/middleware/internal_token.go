package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/callercontext"
)

const (
	InternalTokenHeader = "X-Internal-Token"
	ServiceNameHeader   = "X-Service-Name"
)

// InternalTokenMiddleware admits requests carrying the shared internal
// service token. An empty configured token rejects every request.
func InternalTokenMiddleware(token string) fiber.Handler {
	expected := []byte(token)
	return func(c *fiber.Ctx) error {
		presented := extractTokenFromHeader(c)
		if presented == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Missing internal token"})
		}
		if len(expected) == 0 || subtle.ConstantTimeCompare([]byte(presented), expected) != 1 {
			log.Warnf("[Auth] rejected internal token from %s for %s %s", c.IP(), c.Method(), c.Path())
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized", "message": "Invalid internal token"})
		}

		callercontext.Set(c, callercontext.CallerContext{
			Service:       strings.TrimSpace(c.Get(ServiceNameHeader)),
			Authenticated: true,
			RemoteIP:      c.IP(),
		})
		return c.Next()
	}
}

func extractTokenFromHeader(c *fiber.Ctx) string {
	token := strings.TrimSpace(c.Get(InternalTokenHeader))
	if token != "" {
		return token
	}
	auth := strings.TrimSpace(c.Get("Authorization"))
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}
