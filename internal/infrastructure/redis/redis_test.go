package redis

import (
	"context"
	"net"
	"os"
	"strconv"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/cashier/internal/domain/errors"
	"github.com/cassiomorais/cashier/internal/infrastructure/config"
	"github.com/cassiomorais/cashier/internal/polling"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestClient connects to CASHIER_TEST_REDIS_ADDR or skips.
func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("CASHIER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("CASHIER_TEST_REDIS_ADDR not set")
	}
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	client, err := NewClient(ctx, &config.RedisConfig{Host: host, Port: port, ConnectRetries: 1})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestPollLocker_ExclusivePerKey(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	locker := NewPollLocker(client, time.Minute, zerolog.Nop())
	key := "wechat:" + uuid.NewString()

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	_, err = locker.Lock(ctx, key)
	assert.ErrorIs(t, err, polling.ErrLocked)

	require.NoError(t, unlock(ctx))

	unlock, err = locker.Lock(ctx, key)
	require.NoError(t, err)
	require.NoError(t, unlock(ctx))
}

func TestPollLocker_KeepsLockPastTTL(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	locker := NewPollLocker(client, 200*time.Millisecond, zerolog.Nop())
	key := "alipay:" + uuid.NewString()

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)

	time.Sleep(600 * time.Millisecond)
	_, err = locker.Lock(ctx, key)
	assert.ErrorIs(t, err, polling.ErrLocked)

	require.NoError(t, unlock(ctx))
	assert.Equal(t, int64(0), client.Exists(ctx, "lock:poll:"+key).Val())
}

func TestPollLocker_UnlockAfterExpiryReportsNotHeld(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	locker := NewPollLocker(client, time.Minute, zerolog.Nop())
	key := "stripe:" + uuid.NewString()

	unlock, err := locker.Lock(ctx, key)
	require.NoError(t, err)
	require.NoError(t, client.Del(ctx, "lock:poll:"+key).Err())

	assert.ErrorIs(t, unlock(ctx), domainErrors.ErrLockNotHeld)
}

func TestStreamProducer_AppendsAndTrims(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()
	stream := "cashier:test:" + uuid.NewString()
	t.Cleanup(func() { client.Del(context.Background(), stream) })

	producer := NewStreamProducer(client, 1000)
	require.NoError(t, producer.Publish(ctx, stream, map[string]any{"order_id": "O1", "status": "success"}))

	msgs, err := client.XRange(ctx, stream, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "O1", msgs[0].Values["order_id"])
	assert.Equal(t, "success", msgs[0].Values["status"])
	assert.Contains(t, msgs[0].Values, "published_at")
}
