package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"example.com/backstage/services/webhooks/config"
	"example.com/backstage/services/webhooks/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/pkg/errors"
)

// IdempotencyGuard is a claim-once barrier used to deduplicate inbound
// webhook deliveries before any work is done for them.
type IdempotencyGuard interface {
	// Claim atomically creates key with the given TTL if it is absent.
	// It returns true if this caller now owns the claim, false if
	// another caller already claimed it within the TTL window.
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// RedisCache provides caching and idempotency claims using Redis
type RedisCache struct {
	client  *redis.Client
	enabled bool
}

// NewRedisCache creates a new Redis cache
func NewRedisCache(cfg config.RedisConfig) (*RedisCache, error) {
	if !cfg.Enabled {
		return &RedisCache{enabled: false}, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	// Test the connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, errors.Wrap(err, "failed to connect to Redis")
	}

	return &RedisCache{
		client:  client,
		enabled: true,
	}, nil
}

// Claim implements IdempotencyGuard via SET NX with expiry. When the
// cache is disabled every claim succeeds; the storage-level unique
// constraint remains the authoritative dedup boundary.
func (c *RedisCache) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if !c.enabled {
		return true, nil
	}

	ok, err := c.client.SetNX(ctx, key, 1, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "failed to claim idempotency key")
	}
	return ok, nil
}

// Get retrieves a value from cache
func (c *RedisCache) Get(ctx context.Context, key string, value interface{}) error {
	if !c.enabled {
		return errors.New("cache is disabled")
	}

	data, err := c.client.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			return errors.Wrap(err, "key not found in cache")
		}
		return errors.Wrap(err, "failed to get value from Redis")
	}

	if err := json.Unmarshal(data, value); err != nil {
		return errors.Wrap(err, "failed to unmarshal cached value")
	}

	return nil
}

// Set stores a value in cache with optional expiration
func (c *RedisCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	if !c.enabled {
		return errors.New("cache is disabled")
	}

	data, err := json.Marshal(value)
	if err != nil {
		return errors.Wrap(err, "failed to marshal value for caching")
	}

	if err := c.client.Set(ctx, key, data, expiration).Err(); err != nil {
		return errors.Wrap(err, "failed to set value in Redis")
	}

	return nil
}

// InboundEventKey builds the idempotency key for an inbound webhook
// delivery, namespaced by provider and the provider's own event id.
func InboundEventKey(provider models.Provider, naturalEventID string) string {
	return fmt.Sprintf("webhook:in:%s:%s", provider, naturalEventID)
}

// Close closes the Redis connection
func (c *RedisCache) Close() error {
	if !c.enabled || c.client == nil {
		return nil
	}

	return c.client.Close()
}
