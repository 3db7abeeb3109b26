// Package drivetime computes car and transit travel minutes between
// geo-points via an external distance-matrix API, with a postal-code-pair
// cache and destination batching.
package drivetime

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/talentbruecke/matchengine/internal/observability"
)

// Status tags a drive-time result.
type Status string

const (
	StatusOK       Status = "ok"
	StatusSamePLZ  Status = "same_plz"
	StatusNoAPIKey Status = "no_api_key"
	StatusAPIError Status = "api_error"
)

// Result is one resolved leg: minutes per mode plus car kilometers.
type Result struct {
	CarMin     int     `json:"car_min"`
	TransitMin int     `json:"transit_min"`
	CarKM      float64 `json:"car_km"`
	Status     Status  `json:"status"`
}

// Cache stores results keyed by unordered postal-code pair.
type Cache interface {
	Get(ctx context.Context, plzA, plzB string) (Result, bool)
	Put(ctx context.Context, plzA, plzB string, r Result)
}

// pairKey collapses A->B and B->A into one key.
func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + ":" + b
}

// MemoryCache is the authoritative in-process cache. Correctness relies
// only on key ordering; safe for concurrent use.
type MemoryCache struct {
	mu sync.RWMutex
	m  map[string]Result
}

// NewMemoryCache constructs an empty in-process cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{m: make(map[string]Result)}
}

// Get returns the cached result for the unordered pair.
func (c *MemoryCache) Get(_ context.Context, plzA, plzB string) (Result, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.m[pairKey(plzA, plzB)]
	return r, ok
}

// Put stores a result for the unordered pair.
func (c *MemoryCache) Put(_ context.Context, plzA, plzB string, r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[pairKey(plzA, plzB)] = r
}

// Len returns the number of cached pairs.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

// RedisCache is an optional shared tier so multiple instances reuse each
// other's lookups. Failures degrade to a miss.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache constructs a redis-backed cache tier.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (c *RedisCache) key(a, b string) string {
	return "drivetime:" + strings.ReplaceAll(pairKey(a, b), " ", "")
}

// Get loads a cached result from redis.
func (c *RedisCache) Get(ctx context.Context, plzA, plzB string) (Result, bool) {
	raw, err := c.rdb.Get(ctx, c.key(plzA, plzB)).Bytes()
	if err != nil {
		return Result{}, false
	}
	var r Result
	if err := json.Unmarshal(raw, &r); err != nil {
		return Result{}, false
	}
	return r, true
}

// Put stores a result in redis with the configured TTL.
func (c *RedisCache) Put(ctx context.Context, plzA, plzB string, r Result) {
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.rdb.Set(ctx, c.key(plzA, plzB), raw, c.ttl).Err(); err != nil {
		slog.Debug("drive-time redis put failed", slog.Any("error", err))
	}
}

// TieredCache reads memory first, then the shared tier, and writes both.
type TieredCache struct {
	Local  Cache
	Shared Cache
}

// NewTieredCache composes a local and a shared tier.
func NewTieredCache(local, shared Cache) *TieredCache {
	return &TieredCache{Local: local, Shared: shared}
}

// Get checks the local tier, then the shared tier (promoting hits).
func (c *TieredCache) Get(ctx context.Context, plzA, plzB string) (Result, bool) {
	if r, ok := c.Local.Get(ctx, plzA, plzB); ok {
		observability.DriveTimeCacheHits.WithLabelValues("local").Inc()
		return r, true
	}
	if c.Shared != nil {
		if r, ok := c.Shared.Get(ctx, plzA, plzB); ok {
			observability.DriveTimeCacheHits.WithLabelValues("shared").Inc()
			c.Local.Put(ctx, plzA, plzB, r)
			return r, true
		}
	}
	observability.DriveTimeCacheHits.WithLabelValues("miss").Inc()
	return Result{}, false
}

// Put writes both tiers.
func (c *TieredCache) Put(ctx context.Context, plzA, plzB string, r Result) {
	c.Local.Put(ctx, plzA, plzB, r)
	if c.Shared != nil {
		c.Shared.Put(ctx, plzA, plzB, r)
	}
}
