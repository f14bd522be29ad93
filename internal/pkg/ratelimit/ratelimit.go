// Package ratelimit throttles the internal API with counters kept in Redis,
// so every server instance shares the same budget.
package ratelimit

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/storage/redis"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/callercontext"
	"github.com/ManuelReschke/ExpandFox/internal/pkg/config"
)

// limiterDatabase keeps limiter keys away from the cache database.
const limiterDatabase = 1

func NewStorage(cfg config.Cache) fiber.Storage {
	port, err := strconv.Atoi(cfg.Port)
	if err != nil {
		port = 6379
	}

	return redis.New(redis.Config{
		Host:     cfg.Host,
		Port:     port,
		Password: cfg.Password,
		Database: limiterDatabase,
		Reset:    false,
	})
}

// New returns a limiter allowing max requests per window and caller. storage
// may be nil, then counters are kept in memory.
func New(max int, window time.Duration, storage fiber.Storage) fiber.Handler {
	if max <= 0 {
		max = 600
	}
	if window <= 0 {
		window = time.Minute
	}

	return limiter.New(limiter.Config{
		Max:          max,
		Expiration:   window,
		Storage:      storage,
		KeyGenerator: Key,
		LimitReached: func(c *fiber.Ctx) error {
			log.Warnf("[RateLimit] %s exceeded %d requests per %s", Key(c), max, window)
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"error": "too_many_requests", "message": "Rate limit exceeded"})
		},
	})
}

// Key identifies the caller: the service name when authenticated, else the IP.
func Key(c *fiber.Ctx) string {
	caller := callercontext.Get(c)
	if caller.Authenticated && caller.Service != "" {
		return "svc:" + caller.Service
	}
	return "ip:" + c.IP()
}
