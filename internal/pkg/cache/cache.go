package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/config"
)

// SetupCache initializes the connection to the Redis server. An unreachable
// server is logged, not fatal: the snapshot cache falls back to the database.
func SetupCache(cfg config.Cache) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	pong, err := client.Ping(pingCtx).Result()
	if err != nil {
		log.Warnf("[Cache] could not connect to redis: %v", err)
	} else {
		log.Infof("[Cache] connected to redis: %s", pong)
	}
	return client
}
