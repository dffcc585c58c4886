package redis

import (
	"context"
	"fmt"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/polling"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Both scripts act only while the key still holds our token.
var (
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	extendScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
)

// ownedKey is a Redis key set to a random token by its owner.
type ownedKey struct {
	client redis.Cmdable
	key    string
	token  string
}

func (k *ownedKey) acquire(ctx context.Context, ttl time.Duration) (bool, error) {
	ok, err := k.client.SetNX(ctx, k.key, k.token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %s: %w", domainErrors.ErrLockAcquisitionFailed, k.key, err)
	}
	return ok, nil
}

func (k *ownedKey) run(ctx context.Context, script *redis.Script, args ...any) error {
	res, err := script.Run(ctx, k.client, []string{k.key}, append([]any{k.token}, args...)...).Int64()
	if err != nil {
		return fmt.Errorf("lock %s: %w", k.key, err)
	}
	if res == 0 {
		return domainErrors.ErrLockNotHeld
	}
	return nil
}

// PollLocker hands out one polling session per order across processes. Held locks are
// refreshed every ttl/2, so a session may outlive ttl while a crashed process frees its
// orders once ttl passes.
type PollLocker struct {
	client redis.Cmdable
	ttl    time.Duration
	logger zerolog.Logger
}

var _ polling.Locker = (*PollLocker)(nil)

func NewPollLocker(client redis.Cmdable, ttl time.Duration, logger zerolog.Logger) *PollLocker {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &PollLocker{client: client, ttl: ttl, logger: logger}
}

func (p *PollLocker) Lock(ctx context.Context, key string) (polling.Unlock, error) {
	k := &ownedKey{client: p.client, key: "lock:poll:" + key, token: uuid.NewString()}
	ok, err := k.acquire(ctx, p.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, polling.ErrLocked
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go p.keepAlive(k, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		once.Do(func() { close(stop) })
		<-done
		return k.run(ctx, releaseScript)
	}, nil
}

func (p *PollLocker) keepAlive(k *ownedKey, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), p.ttl/2)
			err := k.run(ctx, extendScript, p.ttl.Milliseconds())
			cancel()
			if err != nil {
				p.logger.Warn().Err(err).Str("key", k.key).Msg("Poll lock lost")
				return
			}
		}
	}
}
