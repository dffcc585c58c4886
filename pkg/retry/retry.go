// Package retry runs a call again after transient failures. Backoff, attempt limits and
// context cancellation come from retry-go.
package retry

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
)

type Backoff int

const (
	// Exponential doubles the delay after every attempt, up to MaxDelay.
	Exponential Backoff = iota
	// Linear waits InitialDelay times the attempt number, up to MaxDelay.
	Linear
)

type Config struct {
	MaxAttempts  uint
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Backoff      Backoff

	// Retryable filters which errors are worth another attempt. Nil retries everything.
	Retryable func(error) bool
	// OnRetry observes each failed attempt before the next delay.
	OnRetry func(attempt uint, err error)
}

// DefaultConfig suits idempotent calls to the merchant backend.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     2 * time.Second,
	}
}

func (c Config) options(ctx context.Context) []retry.Option {
	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(max(c.MaxAttempts, 1)),
		retry.Delay(c.InitialDelay),
		retry.MaxDelay(c.MaxDelay),
		retry.LastErrorOnly(true),
	}
	switch c.Backoff {
	case Linear:
		opts = append(opts, retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return min(time.Duration(n+1)*c.InitialDelay, c.MaxDelay)
		}))
	default:
		opts = append(opts, retry.DelayType(retry.BackOffDelay))
	}
	if c.Retryable != nil {
		opts = append(opts, retry.RetryIf(c.Retryable))
	}
	if c.OnRetry != nil {
		opts = append(opts, retry.OnRetry(c.OnRetry))
	}
	return opts
}

func Do(ctx context.Context, cfg Config, fn func() error) error {
	return retry.Do(fn, cfg.options(ctx)...)
}

// DoWithResult is Do for calls that produce a value. The value of the last attempt is returned.
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	return retry.DoWithData[T](fn, cfg.options(ctx)...)
}
