package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only if it still holds the caller's token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// extendScript resets the key's ttl only if it still holds the caller's token.
var extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisConfig holds Redis locker settings.
type RedisConfig struct {
	Addr          string        `env:"ADDR" envDefault:"localhost:6379"`
	Password      string        `env:"PASSWORD"`
	DB            int           `env:"DB" envDefault:"0"`
	KeyPrefix     string        `env:"KEY_PREFIX" envDefault:"candle-engine:lock:"`
	RetryInterval time.Duration `env:"RETRY_INTERVAL" envDefault:"25ms"`
}

// RedisLocker implements Locker with SET NX PX and a token-checked release,
// for single-writer-per-instrument across processes. A held lease is renewed
// every ttl/3 until Release, so ttl only bounds how long a crashed holder
// keeps the key.
type RedisLocker struct {
	client redis.UniversalClient
	prefix string
	retry  time.Duration
}

// NewRedisClient creates a client from cfg and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// NewRedisLocker creates a locker over client.
func NewRedisLocker(client redis.UniversalClient, cfg RedisConfig) *RedisLocker {
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = 25 * time.Millisecond
	}
	return &RedisLocker{client: client, prefix: cfg.KeyPrefix, retry: retry}
}

// Acquire polls SET NX until the key is free or ctx is done.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (Lease, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("lock %s: ttl must be positive", key)
	}
	full := l.prefix + key
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, full, token, ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return newRedisLease(l.client, full, token, ttl), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s: %v", ErrNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

type redisLease struct {
	client redis.UniversalClient
	key    string
	token  string

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func newRedisLease(client redis.UniversalClient, key, token string, ttl time.Duration) *redisLease {
	ls := &redisLease{
		client: client,
		key:    key,
		token:  token,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go ls.renew(ttl)
	return ls
}

// renew extends the key until Release or until another holder owns it.
func (ls *redisLease) renew(ttl time.Duration) {
	defer close(ls.done)

	interval := ttl / 3
	if interval <= 0 {
		interval = ttl
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ls.stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := extendScript.Run(ctx, ls.client, []string{ls.key}, ls.token, ttl.Milliseconds()).Int()
		cancel()
		if err == nil && n == 0 {
			return
		}
	}
}

func (ls *redisLease) Release(ctx context.Context) error {
	ls.stopOnce.Do(func() { close(ls.stop) })
	<-ls.done

	n, err := releaseScript.Run(ctx, ls.client, []string{ls.key}, ls.token).Int()
	if err != nil {
		return fmt.Errorf("release %s: %w", ls.key, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotHeld, ls.key)
	}
	return nil
}

var _ Locker = (*RedisLocker)(nil)
