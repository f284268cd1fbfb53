package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache keeps JSON encoded catalog rows in redis. A nil cache, or one without a
// client, misses every read and drops every write.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache constructs a cache with the given entry ttl.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) enabled() bool { return c != nil && c.client != nil }

// getMany reads keys with a single MGET and decodes the hits. Entries that fail
// to decode count as misses.
func getMany[T any](ctx context.Context, c *Cache, keys []string) (map[string]T, error) {
	hits := make(map[string]T, len(keys))
	if !c.enabled() || len(keys) == 0 {
		return hits, nil
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return hits, nil
		}
		return hits, err
	}
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var decoded T
		if err := json.Unmarshal([]byte(raw), &decoded); err != nil {
			continue
		}
		hits[keys[i]] = decoded
	}
	return hits, nil
}

// setMany writes every entry in one pipeline.
func (c *Cache) setMany(ctx context.Context, entries map[string]any) error {
	if !c.enabled() || len(entries) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for key, v := range entries {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		pipe.Set(ctx, key, data, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Delete removes the given keys.
func (c *Cache) Delete(ctx context.Context, keys ...string) error {
	if !c.enabled() || len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
