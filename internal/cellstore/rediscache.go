package cellstore

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisIndexCache keeps (table, entity) → row index hints in Redis. It is a
// pure optimization: every hint is validated against a fresh snapshot before
// use, so eviction, staleness and Redis outages only cost a scan. All cache
// errors are swallowed.
type RedisIndexCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewRedisIndexCache(redisURL string) (*RedisIndexCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisIndexCacheWithClient(client), nil
}

// NewRedisIndexCacheWithClient builds a cache from an existing Redis client.
func NewRedisIndexCacheWithClient(client *redis.Client) *RedisIndexCache {
	return &RedisIndexCache{
		client: client,
		prefix: "rowidx:",
		ttl:    10 * time.Minute,
	}
}

func (c *RedisIndexCache) key(table, entityID string) string {
	return c.prefix + table + ":" + entityID
}

// RowHint returns the cached row index for (table, entityID), if any.
func (c *RedisIndexCache) RowHint(ctx context.Context, table, entityID string) (int, bool) {
	raw, err := c.client.Get(ctx, c.key(table, entityID)).Result()
	if err == redis.Nil {
		return 0, false
	}
	if err != nil {
		log.Printf("cellstore: row hint lookup %s/%s: %v", table, entityID, err)
		return 0, false
	}
	rowIdx, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return rowIdx, true
}

// StoreRowHint records the row index observed in the latest snapshot.
func (c *RedisIndexCache) StoreRowHint(ctx context.Context, table, entityID string, rowIdx int) {
	if err := c.client.Set(ctx, c.key(table, entityID), strconv.Itoa(rowIdx), c.ttl).Err(); err != nil {
		log.Printf("cellstore: store row hint %s/%s: %v", table, entityID, err)
	}
}

// Close closes the Redis connection.
func (c *RedisIndexCache) Close() error {
	return c.client.Close()
}
