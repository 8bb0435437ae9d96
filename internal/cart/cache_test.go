package cart

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestRedis creates a miniredis server and returns a RedisCache instance
func setupTestRedis(t *testing.T) (*RedisCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewRedisCache(client, 24*time.Hour), mr
}

func TestCacheGet_Success(t *testing.T) {
	cache, mr := setupTestRedis(t)

	items := []LineItem{{ProductID: "p1", Name: "Tea", Price: 120, Quantity: 2}}
	data, err := json.Marshal(items)
	require.NoError(t, err)
	require.NoError(t, mr.Set(cacheKey("dev-1"), string(data)))

	got, err := cache.Get(context.Background(), "dev-1")
	require.NoError(t, err)
	assert.Equal(t, items, got)
}

func TestCacheGet_Miss(t *testing.T) {
	cache, _ := setupTestRedis(t)

	got, err := cache.Get(context.Background(), "nobody")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Nil(t, got)
}

func TestCacheGet_InvalidJSON(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("dev-1"), `[{"product_id":`))

	_, err := cache.Get(context.Background(), "dev-1")
	require.ErrorContains(t, err, "unmarshal cart failed")
}

func TestCacheSet_StoresWithTTL(t *testing.T) {
	cache, mr := setupTestRedis(t)

	err := cache.Set(context.Background(), "dev-2", []LineItem{{ProductID: "p1", Quantity: 1}})
	require.NoError(t, err)

	stored, err := mr.Get(cacheKey("dev-2"))
	require.NoError(t, err)

	var items []LineItem
	require.NoError(t, json.Unmarshal([]byte(stored), &items))
	assert.Len(t, items, 1)
	assert.Equal(t, 24*time.Hour, mr.TTL(cacheKey("dev-2")))
}

func TestCacheDelete(t *testing.T) {
	cache, mr := setupTestRedis(t)
	require.NoError(t, mr.Set(cacheKey("dev-3"), "[]"))

	require.NoError(t, cache.Delete(context.Background(), "dev-3"))
	assert.False(t, mr.Exists(cacheKey("dev-3")))

	assert.NoError(t, cache.Delete(context.Background(), "never-existed"))
}

func TestCacheKey_Format(t *testing.T) {
	assert.Equal(t, "cart:abc", cacheKey("abc"))
}
