// Package cachetest connects tests to a local Redis and skips them when none is reachable.
package cachetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/ExpandFox/internal/pkg/env"
)

// NewIsolatedClient returns a client on a flushed Redis database db.
func NewIsolatedClient(t *testing.T, db int) *redis.Client {
	t.Helper()

	hosts := []string{env.GetEnv("CACHE_HOST", "localhost"), "cache", "127.0.0.1"}
	port := env.GetEnv("CACHE_PORT", "6379")

	var lastErr error
	for _, host := range hosts {
		client := redis.NewClient(&redis.Options{
			Addr:     fmt.Sprintf("%s:%s", host, port),
			Password: env.GetEnv("CACHE_PASSWORD", ""),
			DB:       db,
		})

		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		_, err := client.Ping(ctx).Result()
		cancel()
		if err != nil {
			lastErr = err
			_ = client.Close()
			continue
		}

		if err := client.FlushDB(context.Background()).Err(); err != nil {
			_ = client.Close()
			t.Fatalf("failed to flush isolated redis db %d: %v", db, err)
		}
		t.Cleanup(func() {
			_ = client.FlushDB(context.Background()).Err()
			_ = client.Close()
		})
		return client
	}

	t.Skipf("Skipping Redis-dependent test: no reachable Redis endpoint (%v)", lastErr)
	return nil
}
