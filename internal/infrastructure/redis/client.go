package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/cassiomorais/cashier/internal/infrastructure/config"
	"github.com/cassiomorais/cashier/pkg/retry"
	"github.com/redis/go-redis/v9"
)

// NewClient connects and pings until Redis answers, backing off linearly between attempts.
// The client is closed when the ping never succeeds.
func NewClient(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
	})

	attempts := uint(max(cfg.ConnectRetries, 1))
	delay := cfg.ConnectRetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	err := retry.Do(ctx, retry.Config{
		MaxAttempts:  attempts,
		InitialDelay: delay,
		MaxDelay:     time.Duration(attempts) * delay,
		Backoff:      retry.Linear,
	}, func() error {
		return client.Ping(ctx).Err()
	})
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("redis %s unreachable after %d attempts: %w", cfg.RedisAddr(), attempts, err)
	}
	return client, nil
}
