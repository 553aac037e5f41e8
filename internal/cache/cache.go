// Package cache provides the Redis-backed support store the engine uses
// for state that does not belong in the durable Postgres repository: the
// TIMER step's persisted deadline, plus step-level idempotency marker
// helpers (spec §6's at-least-once execution note).
// Grounded on internal/storage/storage.go's Storage interface and
// RedisStorage adapter.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// Cache is the abstract key-value store the engine depends on.
type Cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	Incr(ctx context.Context, key string) (int64, error)
	Close() error
}

// RedisCache implements Cache using Redis.
type RedisCache struct {
	client *redis.Client
	logger *zap.Logger
}

// NewRedisCache dials addr and verifies connectivity before returning.
func NewRedisCache(addr, password string, db int, logger *zap.Logger) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &RedisCache{client: client, logger: logger}, nil
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", fmt.Errorf("key not found: %s", key)
	} else if err != nil {
		return "", fmt.Errorf("get key %s: %w", key, err)
	}
	return val, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if err := c.client.Set(ctx, key, value, expiration).Err(); err != nil {
		return fmt.Errorf("set key %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete key %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	val, err := c.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("check existence of key %s: %w", key, err)
	}
	return val > 0, nil
}

// Incr atomically increments key and returns the new value.
func (c *RedisCache) Incr(ctx context.Context, key string) (int64, error) {
	val, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("incr key %s: %w", key, err)
	}
	return val, nil
}

func (c *RedisCache) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("close redis connection: %w", err)
	}
	return nil
}

// IdempotencyKey returns a per-attempt key, idem:<instance>:<step>:<attempt>.
// MarkIdempotent and WasExecuted do not use it: their marker key is
// idem:<instance>:<step>, without the attempt.
func IdempotencyKey(instanceID, stepID string, attempt int) string {
	return fmt.Sprintf("idem:%s:%s:%d", instanceID, stepID, attempt)
}

// MarkIdempotent records that (instanceID, stepID) has executed, with ttl
// bounding how long the marker is honored.
func MarkIdempotent(ctx context.Context, c Cache, instanceID, stepID string, ttl time.Duration) error {
	return c.Set(ctx, fmt.Sprintf("idem:%s:%s", instanceID, stepID), time.Now().UTC().Format(time.RFC3339), ttl)
}

// WasExecuted reports whether (instanceID, stepID) already has an
// idempotency marker.
func WasExecuted(ctx context.Context, c Cache, instanceID, stepID string) (bool, error) {
	return c.Exists(ctx, fmt.Sprintf("idem:%s:%s", instanceID, stepID))
}
