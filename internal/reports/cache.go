package reports

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache holds rendered report responses in Redis for a short TTL so report
// dashboards polling the API do not hammer the aggregate queries. A nil
// *Cache is valid and bypasses caching entirely; Redis errors degrade to
// cache misses.
type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewCache connects to Redis and verifies connectivity.
func NewCache(addr string, ttl time.Duration) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping failed (%s): %w", addr, err)
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// Get returns the cached response for key, if any.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool) {
	if c == nil {
		return nil, false
	}
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).WithField("key", key).Debug("report cache read")
		}
		return nil, false
	}
	return data, true
}

// Set stores a rendered response under key for the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, data []byte) {
	if c == nil {
		return
	}
	if err := c.rdb.Set(ctx, key, data, c.ttl).Err(); err != nil {
		log.WithError(err).WithField("key", key).Debug("report cache write")
	}
}

// Close releases the Redis connection. Safe on a nil cache.
func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	return c.rdb.Close()
}
