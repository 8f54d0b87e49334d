// Package cache stores encoded liveness verdicts keyed by image and settings
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/faceattend/faceattend/internal/config"
	"github.com/go-redis/redis/v8"
)

// ErrMiss is returned by Get when the key is absent
var ErrMiss = errors.New("cache miss")

// Cache abstracts the Redis operations used by the engine
type Cache interface {
	Set(ctx context.Context, key string, value []byte, expiration time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Close() error
}

// RedisCache is a Cache backed by go-redis
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache constructs a Redis-backed cache adapter
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Set writes a value to Redis
func (c *RedisCache) Set(ctx context.Context, key string, value []byte, expiration time.Duration) error {
	return c.client.Set(ctx, key, value, expiration).Err()
}

// Get retrieves a cached value from Redis
func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return data, err
}

// Close closes the Redis client
func (c *RedisCache) Close() error {
	return c.client.Close()
}

// Noop is used when no cache is configured. Every lookup misses.
type Noop struct{}

func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Get(context.Context, string) ([]byte, error)              { return nil, ErrMiss }
func (Noop) Close() error                                             { return nil }

// New returns a Redis cache for the configured address, or Noop when the
// address is empty. The connection is verified with a ping.
func New(ctx context.Context, cfg config.CacheConfig) (Cache, error) {
	if cfg.Address == "" {
		return Noop{}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Address, err)
	}

	return NewRedisCache(client), nil
}

// Key derives the cache key of an image checked under the given settings.
// Any settings change yields a different key.
func Key(prefix string, image []byte, settings interface{}) (string, error) {
	settingsJSON, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("failed to encode settings: %w", err)
	}

	imageSum := sha256.Sum256(image)
	settingsSum := sha256.Sum256(settingsJSON)

	return prefix + ":" + hex.EncodeToString(imageSum[:]) + ":" + hex.EncodeToString(settingsSum[:8]), nil
}
