package lock

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a connected client.
func setupRedis(t *testing.T) (*redis.Client, func()) {
	t.Helper()

	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	client, err := NewRedisClient(ctx, RedisConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	require.NoError(t, err)

	return client, func() {
		client.Close()
		_ = container.Terminate(ctx)
	}
}

func TestRedisLocker_AcquireRelease(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	l := NewRedisLocker(client, RedisConfig{KeyPrefix: "test:", RetryInterval: 5 * time.Millisecond})
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "candles:NIFTY", 5*time.Second)
	require.NoError(t, err)

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = l.Acquire(tctx, "candles:NIFTY", 5*time.Second)
	cancel()
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, lease.Release(ctx))

	again, err := l.Acquire(ctx, "candles:NIFTY", 5*time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release(ctx))
}

func TestRedisLocker_RenewsHeldLease(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	l := NewRedisLocker(client, RedisConfig{KeyPrefix: "test:", RetryInterval: 5 * time.Millisecond})
	ctx := context.Background()

	lease, err := l.Acquire(ctx, "candles:NIFTY", 300*time.Millisecond)
	require.NoError(t, err)

	// held well past the original ttl
	time.Sleep(time.Second)

	tctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	_, err = l.Acquire(tctx, "candles:NIFTY", 300*time.Millisecond)
	cancel()
	assert.ErrorIs(t, err, ErrNotAcquired)

	require.NoError(t, lease.Release(ctx))

	exists, err := client.Exists(ctx, "test:candles:NIFTY").Result()
	require.NoError(t, err)
	assert.Zero(t, exists)
}

func TestRedisLocker_TakenOverLeaseNotReleasedByOldHolder(t *testing.T) {
	client, cleanup := setupRedis(t)
	defer cleanup()

	l := NewRedisLocker(client, RedisConfig{KeyPrefix: "test:", RetryInterval: 5 * time.Millisecond})
	ctx := context.Background()

	old, err := l.Acquire(ctx, "k", 300*time.Millisecond)
	require.NoError(t, err)

	// another holder owns the key after the old one stalled past its ttl
	require.NoError(t, client.Set(ctx, "test:k", "other-holder", 5*time.Second).Err())
	time.Sleep(200 * time.Millisecond)

	assert.ErrorIs(t, old.Release(ctx), ErrNotHeld)

	val, err := client.Get(ctx, "test:k").Result()
	require.NoError(t, err)
	assert.Equal(t, "other-holder", val, "current holder's key must survive the stale release")

	ttl, err := client.PTTL(ctx, "test:k").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Second, "old holder must not extend a key it lost")
}
