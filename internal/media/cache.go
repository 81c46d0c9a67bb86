package media

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
)

const (
	DefaultCacheSize = 1024
	DefaultCacheTTL  = time.Hour
)

// Cache stores resolved URLs keyed by MediaReference.CacheKey.
// Only successful resolutions are ever stored.
// A non-zero expiresAt shortens the entry's lifetime below the cache TTL.
type Cache interface {
	Get(ctx context.Context, key string) (string, bool)
	Set(ctx context.Context, key, value string, expiresAt time.Time)
	Delete(ctx context.Context, key string)
	Clear(ctx context.Context) error
}

// LRUCache is a bounded in-process cache whose entries expire after a TTL.
type LRUCache struct {
	lru *expirable.LRU[string, cacheEntry]
	now func() time.Time
}

type cacheEntry struct {
	value     string
	expiresAt time.Time
}

// NewLRUCache creates a cache holding at most size entries for ttl each.
func NewLRUCache(size int, ttl time.Duration) *LRUCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &LRUCache{lru: expirable.NewLRU[string, cacheEntry](size, nil, ttl), now: time.Now}
}

func (c *LRUCache) Get(_ context.Context, key string) (string, bool) {
	e, ok := c.lru.Get(key)
	if !ok {
		return "", false
	}
	if !e.expiresAt.IsZero() && !c.now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return "", false
	}
	return e.value, true
}

func (c *LRUCache) Set(_ context.Context, key, value string, expiresAt time.Time) {
	if !expiresAt.IsZero() && !c.now().Before(expiresAt) {
		return
	}
	c.lru.Add(key, cacheEntry{value: value, expiresAt: expiresAt})
}

func (c *LRUCache) Delete(_ context.Context, key string) {
	c.lru.Remove(key)
}

func (c *LRUCache) Clear(context.Context) error {
	c.lru.Purge()
	return nil
}

// Len returns the number of live entries.
func (c *LRUCache) Len() int {
	return c.lru.Len()
}

// RedisCache shares resolutions between api-service replicas.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewRedisCache stores keys as prefix+key with the given TTL.
func NewRedisCache(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if prefix == "" {
		prefix = "media:resolve:"
	}
	return &RedisCache{client: client, prefix: prefix, ttl: ttl}
}

// Get treats any redis failure as a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (string, bool) {
	v, err := c.client.Get(ctx, c.prefix+key).Result()
	if err != nil {
		return "", false
	}
	return v, true
}

func (c *RedisCache) Set(ctx context.Context, key, value string, expiresAt time.Time) {
	ttl := c.ttl
	if !expiresAt.IsZero() {
		ttl = min(ttl, time.Until(expiresAt).Truncate(time.Second))
	}
	if ttl <= 0 {
		return
	}
	c.client.Set(ctx, c.prefix+key, value, ttl)
}

func (c *RedisCache) Delete(ctx context.Context, key string) {
	c.client.Del(ctx, c.prefix+key)
}

// Clear removes every key under the cache prefix.
func (c *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("scan media cache: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil && !errors.Is(err, redis.Nil) {
				return fmt.Errorf("delete media cache keys: %w", err)
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}
