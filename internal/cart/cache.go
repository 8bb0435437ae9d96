package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache persists cart contents per device.
type Cache interface {
	Get(ctx context.Context, deviceID string) ([]LineItem, error)
	Set(ctx context.Context, deviceID string, items []LineItem) error
	Delete(ctx context.Context, deviceID string) error
}

var ErrCacheMiss = errors.New("cache miss")

// RedisCache stores carts as JSON documents under "cart:<deviceID>".
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
	}
}

func (r *RedisCache) Get(ctx context.Context, deviceID string) ([]LineItem, error) {
	data, err := r.client.Get(ctx, cacheKey(deviceID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var items []LineItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("unmarshal cart failed: %w", err)
	}
	return items, nil
}

func (r *RedisCache) Set(ctx context.Context, deviceID string, items []LineItem) error {
	data, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal cart failed: %w", err)
	}

	if err := r.client.Set(ctx, cacheKey(deviceID), data, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (r *RedisCache) Delete(ctx context.Context, deviceID string) error {
	if err := r.client.Del(ctx, cacheKey(deviceID)).Err(); err != nil {
		return fmt.Errorf("redis delete failed: %w", err)
	}
	return nil
}

func cacheKey(deviceID string) string {
	return fmt.Sprintf("cart:%s", deviceID)
}
