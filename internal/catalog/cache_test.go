package catalog

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-marketplace/internal/domain"
)

func TestCacheBatchRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.setMany(ctx, map[string]any{
		storeCacheKey("s-1"): domain.Store{ID: "s-1", Tier: domain.StoreTierPrime},
	}))
	require.NoError(t, mr.Set(storeCacheKey("s-2"), "{not json"))
	require.Equal(t, time.Minute, mr.TTL(storeCacheKey("s-1")))

	hits, err := getMany[domain.Store](ctx, cache, []string{storeCacheKey("s-1"), storeCacheKey("s-2"), storeCacheKey("s-3")})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	require.Equal(t, domain.StoreTierPrime, hits[storeCacheKey("s-1")].Tier)
}

func TestNilCacheMisses(t *testing.T) {
	var cache *Cache
	hits, err := getMany[domain.Product](context.Background(), cache, []string{"k"})
	require.NoError(t, err)
	require.Empty(t, hits)
	require.NoError(t, cache.setMany(context.Background(), map[string]any{"k": 1}))
	require.NoError(t, cache.Delete(context.Background(), "k"))
}
