package cache_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/partprice/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/partprice/internal/cache"
)

func newRedisCache(t *testing.T) (*cache.Redis, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return cache.NewRedis(client, "partprice:", logger.NewNop()), mr
}

func TestRedis_SetGetRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Set(ctx, "token:marketplace", []byte("abc"), time.Minute))
	assert.True(t, mr.Exists("partprice:token:marketplace"))

	got, found, err := c.Get(ctx, "token:marketplace")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []byte("abc"), got)

	require.NoError(t, c.Remove(ctx, "token:marketplace"))
	_, found, err = c.Get(ctx, "token:marketplace")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedis_TTLExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newRedisCache(t)

	require.NoError(t, c.Set(ctx, "search:a:x", []byte("1"), 15*time.Minute))
	mr.FastForward(16 * time.Minute)

	_, found, err := c.Get(ctx, "search:a:x")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRedis_RemoveByPrefix(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newRedisCache(t)
	for i := range 250 {
		require.NoError(t, c.Set(ctx, fmt.Sprintf("search:a:term-%d", i), []byte("1"), time.Hour))
	}
	require.NoError(t, c.Set(ctx, "search:b:x", []byte("1"), time.Hour))
	require.NoError(t, mr.Set("foreign:search:a:x", "1"))

	require.NoError(t, c.RemoveByPrefix(ctx, "search:a:"))

	assert.Len(t, mr.Keys(), 2)
	assert.True(t, mr.Exists("partprice:search:b:x"))
	assert.True(t, mr.Exists("foreign:search:a:x"))
}

func TestRedis_RemoveByPrefixUnsupportedIsNoop(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	c, mr := newRedisCache(t)
	require.NoError(t, c.Set(ctx, "search:a:x", []byte("1"), time.Hour))

	mr.SetError("ERR unknown command 'SCAN'")
	require.NoError(t, c.RemoveByPrefix(ctx, "search:a:"))
	mr.SetError("")

	assert.True(t, mr.Exists("partprice:search:a:x"))
}
