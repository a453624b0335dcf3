// Package redis provides the durable-bus plumbing: consumer-group stream
// consumers for signals and candles, stream publishers for trade results
// and dead letters, and the restart-safe idempotency set.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

// Config configures the Redis connection.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// NewClient connects and pings the server.
func NewClient(cfg Config) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	slog.Info("redis connected", "addr", cfg.Addr)
	return client, nil
}
