package drivetime_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentbruecke/matchengine/internal/drivetime"
)

func TestMemoryCache_UnorderedKey(t *testing.T) {
	c := drivetime.NewMemoryCache()
	ctx := context.Background()
	r := drivetime.Result{CarMin: 20, TransitMin: 40, CarKM: 18, Status: drivetime.StatusOK}

	c.Put(ctx, "20095", "22767", r)
	got, ok := c.Get(ctx, "22767", "20095")
	require.True(t, ok)
	assert.Equal(t, r, got)
	assert.Equal(t, 1, c.Len())

	// Writing the reversed pair does not grow the cache.
	c.Put(ctx, "22767", "20095", r)
	assert.Equal(t, 1, c.Len())
}

func TestRedisCache_RoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := drivetime.NewRedisCache(rdb, time.Hour)
	ctx := context.Background()

	_, ok := c.Get(ctx, "20095", "22767")
	assert.False(t, ok)

	r := drivetime.Result{CarMin: 20, TransitMin: 40, CarKM: 18, Status: drivetime.StatusOK}
	c.Put(ctx, "20095", "22767", r)

	got, ok := c.Get(ctx, "22767", "20095")
	require.True(t, ok)
	assert.Equal(t, r, got)
}

func TestTieredCache_PromotesSharedHits(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	shared := drivetime.NewRedisCache(rdb, time.Hour)
	local := drivetime.NewMemoryCache()
	tiered := drivetime.NewTieredCache(local, shared)
	ctx := context.Background()

	r := drivetime.Result{CarMin: 12, TransitMin: 25, CarKM: 9.5, Status: drivetime.StatusOK}
	shared.Put(ctx, "20095", "22767", r)

	got, ok := tiered.Get(ctx, "20095", "22767")
	require.True(t, ok)
	assert.Equal(t, r, got)
	// The hit was promoted into the local tier.
	assert.Equal(t, 1, local.Len())
}
