package location

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache stores postcode → location name entries with a TTL.
type Cache interface {
	Get(ctx context.Context, postcode string) (string, bool, error)
	Set(ctx context.Context, postcode, name string) error
	Has(ctx context.Context, postcode string) (bool, error)
}

type memoryEntry struct {
	name    string
	expires time.Time
}

// MemoryCache is an in-process Cache. The clock is injectable for tests.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryCache creates a MemoryCache. A nil clock uses time.Now.
func NewMemoryCache(ttl time.Duration, now func() time.Time) *MemoryCache {
	if now == nil {
		now = time.Now
	}
	return &MemoryCache{ttl: ttl, now: now, entries: make(map[string]memoryEntry)}
}

func (c *MemoryCache) Get(_ context.Context, postcode string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[postcode]
	if !ok {
		return "", false, nil
	}
	if !c.now().Before(e.expires) {
		delete(c.entries, postcode)
		return "", false, nil
	}
	return e.name, true, nil
}

func (c *MemoryCache) Set(_ context.Context, postcode, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[postcode] = memoryEntry{name: name, expires: c.now().Add(c.ttl)}
	return nil
}

func (c *MemoryCache) Has(ctx context.Context, postcode string) (bool, error) {
	_, ok, err := c.Get(ctx, postcode)
	return ok, err
}

// RedisCache keeps entries in Redis so every API instance shares lookups.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisCache creates a RedisCache.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl, prefix: "location:"}
}

func (c *RedisCache) key(postcode string) string {
	return c.prefix + postcode
}

func (c *RedisCache) Get(ctx context.Context, postcode string) (string, bool, error) {
	name, err := c.client.Get(ctx, c.key(postcode)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("location: redis get: %w", err)
	}
	return name, true, nil
}

func (c *RedisCache) Set(ctx context.Context, postcode, name string) error {
	if err := c.client.Set(ctx, c.key(postcode), name, c.ttl).Err(); err != nil {
		return fmt.Errorf("location: redis set: %w", err)
	}
	return nil
}

func (c *RedisCache) Has(ctx context.Context, postcode string) (bool, error) {
	n, err := c.client.Exists(ctx, c.key(postcode)).Result()
	if err != nil {
		return false, fmt.Errorf("location: redis exists: %w", err)
	}
	return n > 0, nil
}
