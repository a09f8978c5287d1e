package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const defaultLeaseKey = "catalog-sync:cycle-lease"

// releaseScript deletes the key only if it still holds our token
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLease keeps a single cycle running across replicas. With no client
// it always grants the lease and the service falls back to local exclusion.
type RedisLease struct {
	client *redis.Client
	key    string
	ttl    time.Duration
	logger *logrus.Entry
}

// NewRedisLease connects to redisURL. An empty URL or an unreachable server
// yields a lease without a client.
func NewRedisLease(redisURL string, ttl time.Duration, logger *logrus.Entry) *RedisLease {
	lease := &RedisLease{
		key:    defaultLeaseKey,
		ttl:    ttl,
		logger: logger.WithField("component", "lease"),
	}
	if lease.ttl <= 0 {
		lease.ttl = 30 * time.Minute
	}
	if redisURL == "" {
		return lease
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		lease.logger.WithError(err).Warn("Invalid REDIS_URL, cycle lease disabled")
		return lease
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		lease.logger.WithError(err).Warn("Redis unavailable, cycle lease disabled")
		_ = client.Close()
		return lease
	}

	lease.client = client
	lease.logger.Info("Cycle lease enabled")
	return lease
}

// NewRedisLeaseWithClient wraps an existing client
func NewRedisLeaseWithClient(client *redis.Client, key string, ttl time.Duration) *RedisLease {
	if key == "" {
		key = defaultLeaseKey
	}
	return &RedisLease{client: client, key: key, ttl: ttl, logger: logrus.NewEntry(logrus.StandardLogger())}
}

// Enabled reports whether a Redis client backs the lease
func (l *RedisLease) Enabled() bool {
	return l.client != nil
}

// Acquire takes the lease. ok is false when another holder has it.
func (l *RedisLease) Acquire(ctx context.Context) (func(), bool, error) {
	if l.client == nil {
		return func() {}, true, nil
	}

	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease: %w", err)
	}
	if !ok {
		return nil, false, nil
	}

	release := func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := releaseScript.Run(releaseCtx, l.client, []string{l.key}, token).Err(); err != nil {
			l.logger.WithError(err).Warn("Failed to release cycle lease")
		}
	}
	return release, true, nil
}

// Close closes the Redis client
func (l *RedisLease) Close() error {
	if l.client == nil {
		return nil
	}
	return l.client.Close()
}
