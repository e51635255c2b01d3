package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultKeyPrefix namespaces every key this service writes.
	DefaultKeyPrefix = "isvicre:"

	// DefaultRedisTimeout bounds each remote call. A slow remote must not
	// stall a request for longer than this.
	DefaultRedisTimeout = 2 * time.Second

	scanBatchSize = 200
)

// RedisConfig holds Redis connection configuration.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379/0")
	URL string

	// KeyPrefix is prepended to every key (defaults to "isvicre:")
	KeyPrefix string

	// Timeout applies to dial, read and write (defaults to 2s)
	Timeout time.Duration
}

// RedisRemote implements Remote on top of go-redis. Failed calls are not
// retried; the caller falls back to memory instead.
type RedisRemote struct {
	client  *redis.Client
	prefix  string
	timeout time.Duration
}

// NewRedisRemote creates a Redis-backed remote store. An unreachable server
// is not an error here: the client reconnects on demand and callers treat
// failures as StatusUnavailable.
func NewRedisRemote(cfg RedisConfig) (*RedisRemote, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultRedisTimeout
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	opts.DialTimeout = timeout
	opts.ReadTimeout = timeout
	opts.WriteTimeout = timeout
	opts.PoolTimeout = timeout
	opts.MaxRetries = -1

	r := &RedisRemote{
		client:  redis.NewClient(opts),
		prefix:  prefix,
		timeout: timeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		slog.Warn("redis unreachable, using in-memory fallback until it recovers",
			"addr", opts.Addr, "error", err)
	} else {
		slog.Info("redis connected", "addr", opts.Addr, "prefix", prefix)
	}

	return r, nil
}

func (r *RedisRemote) key(k string) string {
	return r.prefix + k
}

func (r *RedisRemote) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, r.timeout)
}

// Get returns the value at key, or ErrNotFound.
func (r *RedisRemote) Get(ctx context.Context, key string) (string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	val, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("redis get: %w", err)
	}
	return val, nil
}

// Set stores value at key. A non-positive ttl stores without expiry.
func (r *RedisRemote) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	if ttl < 0 {
		ttl = 0
	}
	if err := r.client.Set(ctx, r.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// incrScript increments KEYS[1] by ARGV[1] and, when ARGV[2] > 0, sets a
// PEXPIRE of ARGV[2] ms on a counter that has no expiry yet. Running both in
// one script means a counter can never be left without its window.
var incrScript = redis.NewScript(`
local n = redis.call('INCRBY', KEYS[1], ARGV[1])
if tonumber(ARGV[2]) > 0 and redis.call('PTTL', KEYS[1]) < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return n
`)

// IncrBy increments the counter at key. The expiry is set only when the
// counter has none, so the window is anchored at its first increment.
func (r *RedisRemote) IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var ttlMS int64
	if ttl > 0 {
		ttlMS = max(ttl.Milliseconds(), 1)
	}
	val, err := incrScript.Run(ctx, r.client, []string{r.key(key)}, amount, ttlMS).Int64()
	if err != nil {
		return 0, fmt.Errorf("redis incrby: %w", err)
	}
	return val, nil
}

// Delete removes the given keys.
func (r *RedisRemote) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = r.key(k)
	}
	if err := r.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching pattern using SCAN, so large
// keyspaces never block the server the way KEYS would.
func (r *RedisRemote) DeletePattern(ctx context.Context, pattern string) (int, error) {
	keys, err := r.scan(ctx, pattern)
	if err != nil {
		return 0, err
	}
	if len(keys) == 0 {
		return 0, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	deleted := 0
	for start := 0; start < len(keys); start += scanBatchSize {
		end := min(start+scanBatchSize, len(keys))
		n, err := r.client.Del(ctx, keys[start:end]...).Result()
		if err != nil {
			return deleted, fmt.Errorf("redis del: %w", err)
		}
		deleted += int(n)
	}
	return deleted, nil
}

// Count returns the number of keys matching pattern.
func (r *RedisRemote) Count(ctx context.Context, pattern string) (int, error) {
	keys, err := r.scan(ctx, pattern)
	if err != nil {
		return 0, err
	}
	return len(keys), nil
}

func (r *RedisRemote) scan(ctx context.Context, pattern string) ([]string, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var keys []string
	iter := r.client.Scan(ctx, 0, r.key(pattern), scanBatchSize).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return keys, nil
}

// Ping checks connectivity.
func (r *RedisRemote) Ping(ctx context.Context) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *RedisRemote) Close() error {
	return r.client.Close()
}
