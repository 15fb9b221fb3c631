package kv

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/b89k57w62/discourse-ai-replier/internal/config"
)

// acquireScript is the single round trip that closes the check-then-increment
// race: the counter is bumped, capped against max and (on the first hit of a
// fresh bucket) given its expiry, all inside one script execution.
var acquireScript = redis.NewScript(`
local v = redis.call('INCR', KEYS[1])
if v == 1 then
  redis.call('EXPIRE', KEYS[1], ARGV[2])
end
if v > tonumber(ARGV[1]) then
  redis.call('DECR', KEYS[1])
  return 0
end
return v
`)

// releaseScript refunds a slot without ever driving the counter negative.
// If the bucket expired in the meantime the refund is dropped.
var releaseScript = redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]) or '0')
if v > 0 then
  redis.call('DECR', KEYS[1])
end
return v
`)

// RedisStore implements Store on top of a Redis client.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore creates a RedisStore from configuration.
func NewRedisStore(cfg config.RedisConfig) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &RedisStore{client: client}
}

// NewRedisStoreFromClient wraps an existing client; used by tests.
func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Ping verifies connectivity to the store.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func (s *RedisStore) AcquireSlot(ctx context.Context, key string, max int64, ttl time.Duration) (bool, error) {
	res, err := acquireScript.Run(ctx, s.client, []string{key}, max, int64(ttl.Seconds())).Int64()
	if err != nil {
		return false, fmt.Errorf("acquire slot %s: %w", key, err)
	}
	return res > 0, nil
}

func (s *RedisStore) ReleaseSlot(ctx context.Context, key string) error {
	if err := releaseScript.Run(ctx, s.client, []string{key}).Err(); err != nil {
		return fmt.Errorf("release slot %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) IncrWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

func (s *RedisStore) GetInt(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", key, err)
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s value %q: %w", key, val, err)
	}
	return n, nil
}

func (s *RedisStore) SetWithExpiry(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := s.client.SetEx(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("setex %s: %w", key, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, error) {
	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w", key, err)
	}
	return val, nil
}

func (s *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("ttl %s: %w", key, err)
	}
	if ttl < 0 {
		// -1 (no expiry) and -2 (missing key) both mean "no remaining TTL"
		// for our purposes.
		return 0, nil
	}
	return ttl, nil
}

func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("del: %w", err)
	}
	return nil
}

func (s *RedisStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	keys, err := s.client.Keys(ctx, pattern).Result()
	if err != nil {
		return nil, fmt.Errorf("keys %s: %w", pattern, err)
	}
	return keys, nil
}
