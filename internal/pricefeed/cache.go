package pricefeed

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/opynfinance/squeeth-monorepo-sub005/internal/metrics"
)

// Cache stores resolved prices keyed by unix second.
type Cache interface {
	Get(ctx context.Context, ts int64) (decimal.Decimal, bool)
	Set(ctx context.Context, ts int64, price decimal.Decimal)
}

// Cached wraps a Lookup with a read-through cache. Only successful
// lookups are cached; failures always reach the underlying source.
type Cached struct {
	next  Lookup
	cache Cache
}

// NewCached creates a read-through cached lookup.
func NewCached(next Lookup, cache Cache) *Cached {
	return &Cached{next: next, cache: cache}
}

// HistoricEthPrice implements Lookup.
func (c *Cached) HistoricEthPrice(ctx context.Context, ts time.Time) (decimal.Decimal, error) {
	key := ts.Unix()
	if p, ok := c.cache.Get(ctx, key); ok {
		metrics.PriceLookups.WithLabelValues("cache", "hit").Inc()
		return p, nil
	}
	metrics.PriceLookups.WithLabelValues("cache", "miss").Inc()

	p, err := c.next.HistoricEthPrice(ctx, ts)
	if err != nil {
		return decimal.Zero, err
	}
	c.cache.Set(ctx, key, p)
	return p, nil
}

// MemoryCache is an in-process Cache.
type MemoryCache struct {
	mu     sync.RWMutex
	prices map[int64]decimal.Decimal
}

// NewMemoryCache creates an empty in-memory cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{prices: make(map[int64]decimal.Decimal)}
}

func (m *MemoryCache) Get(_ context.Context, ts int64) (decimal.Decimal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.prices[ts]
	return p, ok
}

func (m *MemoryCache) Set(_ context.Context, ts int64, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[ts] = price
}

// RedisCache stores prices in Redis as decimal strings. Historical prices
// do not change, so the TTL only bounds memory.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisCache creates a Redis-backed price cache.
func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func (r *RedisCache) Get(ctx context.Context, ts int64) (decimal.Decimal, bool) {
	s, err := r.rdb.Get(ctx, priceKey(ts)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			metrics.PriceLookups.WithLabelValues("redis", "error").Inc()
		}
		return decimal.Zero, false
	}
	p, err := decimal.NewFromString(s)
	if err != nil || !p.IsPositive() {
		return decimal.Zero, false
	}
	return p, true
}

func (r *RedisCache) Set(ctx context.Context, ts int64, price decimal.Decimal) {
	r.rdb.Set(ctx, priceKey(ts), price.String(), r.ttl)
}

func priceKey(ts int64) string { return "ethprice:" + strconv.FormatInt(ts, 10) }
