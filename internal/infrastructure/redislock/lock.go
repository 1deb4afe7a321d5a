// Package redislock serializes allocation cascades across service instances
// with a Redis key per product.
package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pos-platform/stock-service/pkg/logging"
	"github.com/pos-platform/stock-service/pkg/metrics"
)

// ErrLockTimeout is returned when the key stayed held until ctx was done.
var ErrLockTimeout = errors.New("timed out waiting for lock")

// releaseScript deletes the key only if it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Config controls lock lifetime and polling.
type Config struct {
	Addr          string        `yaml:"addr"`
	Password      string        `yaml:"password"`
	DB            int           `yaml:"db"`
	TTL           time.Duration `yaml:"ttl" validate:"gt=0"`
	RetryInterval time.Duration `yaml:"retryInterval" validate:"gt=0"`
}

func DefaultConfig() *Config {
	return &Config{
		Addr:          "localhost:6379",
		TTL:           30 * time.Second,
		RetryInterval: 25 * time.Millisecond,
	}
}

// NewClient creates a go-redis client for cfg.
func NewClient(cfg *Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
}

// Locker holds per-key locks as SET NX PX entries. A holder that dies
// loses the lock once the TTL expires.
type Locker struct {
	client  redis.UniversalClient
	ttl     time.Duration
	retry   time.Duration
	logger  *logging.Logger
	metrics *metrics.Metrics
	tokens  func() string
}

func New(client redis.UniversalClient, cfg *Config, logger *logging.Logger, m *metrics.Metrics) *Locker {
	return &Locker{
		client:  client,
		ttl:     cfg.TTL,
		retry:   cfg.RetryInterval,
		logger:  logger.WithComponent("redis-lock"),
		metrics: m,
		tokens:  func() string { return uuid.New().String() },
	}
}

// Lock polls until key is acquired or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string) (func(), error) {
	token := l.tokens()
	start := time.Now()

	for {
		ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("acquire lock %s: %w", key, err)
		}
		if ok {
			l.metrics.RecordLockWait("redis", time.Since(start))
			return l.unlocker(key, token), nil
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w %s: %w", ErrLockTimeout, key, ctx.Err())
		case <-time.After(l.retry):
		}
	}
}

func (l *Locker) unlocker(key, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		// release even when the caller's context is already cancelled
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		n, err := releaseScript.Run(ctx, l.client, []string{key}, token).Int64()
		if err != nil {
			l.logger.WithError(err).Error("Failed to release lock", "key", key)
			return
		}
		if n == 0 {
			l.logger.Warn("Lock expired before release", "key", key, "ttl", l.ttl)
		}
	}
}
