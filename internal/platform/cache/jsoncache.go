package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrMiss indicates the key is absent or expired.
var ErrMiss = errors.New("platform/cache: miss")

// JSONCache stores JSON-encoded values in Redis with a fixed TTL. It backs
// the stock summary listings; writes through the ledger invalidate by prefix.
type JSONCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewJSONCache constructs a JSONCache.
func NewJSONCache(client *redis.Client, prefix string, ttl time.Duration) *JSONCache {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &JSONCache{client: client, ttl: ttl, prefix: prefix}
}

// Get decodes the cached value for key into target.
func (c *JSONCache) Get(ctx context.Context, key string, target any) error {
	if c == nil || c.client == nil {
		return ErrMiss
	}
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, target)
}

// Set stores value under key with the cache TTL.
func (c *JSONCache) Set(ctx context.Context, key string, value any) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.prefix+key, raw, c.ttl).Err()
}

// Invalidate drops every key under the cache prefix.
func (c *JSONCache) Invalidate(ctx context.Context) error {
	if c == nil || c.client == nil {
		return nil
	}
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}
