package redis

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when a key is absent from the cache
var ErrCacheMiss = errors.New("cache miss")

// Cache is a small JSON cache on top of the Redis client. Values are
// marshaled on write and unmarshaled on read, so callers deal only with
// their own types.
type Cache struct {
	client    *Client
	keyPrefix string
}

// NewCache creates a new Cache
func NewCache(client *Client, keyPrefix string) *Cache {
	if keyPrefix == "" {
		keyPrefix = "cache:"
	}
	return &Cache{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// GetJSON reads a cached value into dest. Returns ErrCacheMiss when the key
// does not exist.
func (c *Cache) GetJSON(ctx context.Context, key string, dest any) error {
	raw, err := c.client.Get(ctx, c.keyPrefix+key)
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}

	return json.Unmarshal([]byte(raw), dest)
}

// SetJSON marshals value and stores it under key with the given TTL
func (c *Cache) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}

	return c.client.Set(ctx, c.keyPrefix+key, raw, ttl)
}

// Invalidate removes a cached value
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.keyPrefix+key)
}
