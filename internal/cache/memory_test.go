package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheGetSet(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	now = now.Add(2 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	c.evictExpired()
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheClearPattern(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	for _, k := range []string{"authz:a", "authz:b", "other:a"} {
		require.NoError(t, c.Set(ctx, k, []byte("x"), time.Minute))
	}

	require.NoError(t, c.Clear(ctx, "authz:*"))
	assert.Equal(t, 1, c.Len())

	_, err := c.Get(ctx, "other:a")
	assert.NoError(t, err)

	require.NoError(t, c.Clear(ctx, "other:a"))
	assert.Equal(t, 0, c.Len())
}

func TestMemoryCacheCloseTwice(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestMemoryCacheSetIfVersions(t *testing.T) {
	c := NewMemoryCache(0)
	defer c.Close()
	ctx := context.Background()

	v, err := c.Version(ctx, "gen")
	require.NoError(t, err)
	assert.Zero(t, v)

	ok, err := c.SetIfVersions(ctx, "k", []byte("v1"), time.Minute, map[string]int64{"gen": v})
	require.NoError(t, err)
	assert.True(t, ok)

	bumped, err := c.Bump(ctx, "gen")
	require.NoError(t, err)
	assert.Equal(t, int64(1), bumped)

	// A writer that read the old version loses.
	ok, err = c.SetIfVersions(ctx, "k", []byte("stale"), time.Minute, map[string]int64{"gen": v})
	require.NoError(t, err)
	assert.False(t, ok)
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), got)

	// Counters survive Clear and Delete.
	require.NoError(t, c.Clear(ctx, "*"))
	require.NoError(t, c.Delete(ctx, "gen"))
	v, err = c.Version(ctx, "gen")
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)
}
