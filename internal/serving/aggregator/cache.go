// Package aggregator exposes the read contracts consumed by the serving
// layer (program-year listings, trend data, per-district/summary reads)
// backed by an LRU+TTL cache. Cache grounded on the teacher's
// container/list LRU in internal/service/dnc/performance/cache.go
// (L1Cache), generalized from a single eviction policy to the fixed
// LRU-with-TTL this spec calls for and with an optional Redis L2
// following the cache-aside pattern in
// internal/infrastructure/cache/audit_cache.go.
package aggregator

import (
	"container/list"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/toastreport/snapshot-pipeline/internal/infrastructure/metrics"
)

// CacheStats tallies hit/miss/eviction counts for observability.
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
}

type cacheItem struct {
	key    string
	value  any
	expiry time.Time
}

// Cache is an in-process LRU cache with per-entry TTL and an optional
// Redis-backed L2 tier. maxEntries bounds the L1 size; a zero-value ttl
// disables expiry (entries only leave via LRU eviction).
type Cache struct {
	mu         sync.Mutex
	items      map[string]*list.Element
	order      *list.List
	maxEntries int
	ttl        time.Duration
	redis      *redis.Client

	stats CacheStats

	// Metrics is optional; nil disables Prometheus recording.
	Metrics *metrics.Registry
}

// Options configures a Cache.
type Options struct {
	MaxEntries int
	TTL        time.Duration
	Redis      *redis.Client // nil disables the L2 tier
}

func NewCache(opts Options) *Cache {
	return &Cache{
		items:      make(map[string]*list.Element),
		order:      list.New(),
		maxEntries: opts.MaxEntries,
		ttl:        opts.TTL,
		redis:      opts.Redis,
	}
}

// Get reads key, checking L1 then (if configured) L2. An L2 hit is
// promoted into L1. out must be a pointer; L2 values round-trip through
// JSON.
func (c *Cache) Get(ctx context.Context, key string, out any) (bool, error) {
	if v, ok := c.getL1(key); ok {
		return true, assignInto(v, out)
	}

	if c.redis == nil {
		c.recordMiss()
		return false, nil
	}

	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if err == redis.Nil {
			c.recordMiss()
			return false, nil
		}
		return false, err
	}

	if jsonErr := json.Unmarshal(raw, out); jsonErr != nil {
		return false, jsonErr
	}
	c.recordHit()
	c.setL1(key, out)
	return true, nil
}

// Set writes key into L1, and into L2 when configured.
func (c *Cache) Set(ctx context.Context, key string, value any) error {
	c.setL1(key, value)

	if c.redis == nil {
		return nil
	}
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.redis.Set(ctx, key, payload, c.ttl).Err()
}

// Stats returns a snapshot of hit/miss/eviction counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) getL1(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	element, ok := c.items[key]
	if !ok {
		return nil, false
	}
	item := element.Value.(*cacheItem)
	if c.ttl > 0 && time.Now().After(item.expiry) {
		c.removeElement(element)
		c.stats.Misses++
		c.recordMetric("l1", "miss")
		return nil, false
	}
	c.order.MoveToFront(element)
	c.stats.Hits++
	c.recordMetric("l1", "hit")
	return item.value, true
}

func (c *Cache) setL1(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	expiry := time.Time{}
	if c.ttl > 0 {
		expiry = time.Now().Add(c.ttl)
	}

	if element, ok := c.items[key]; ok {
		item := element.Value.(*cacheItem)
		item.value = value
		item.expiry = expiry
		c.order.MoveToFront(element)
		return
	}

	if c.maxEntries > 0 && len(c.items) >= c.maxEntries {
		c.evictOldest()
	}

	element := c.order.PushFront(&cacheItem{key: key, value: value, expiry: expiry})
	c.items[key] = element
}

func (c *Cache) evictOldest() {
	back := c.order.Back()
	if back == nil {
		return
	}
	c.removeElement(back)
	c.stats.Evictions++
	c.recordMetric("l1", "eviction")
}

func (c *Cache) removeElement(element *list.Element) {
	item := element.Value.(*cacheItem)
	delete(c.items, item.key)
	c.order.Remove(element)
}

func (c *Cache) recordHit() {
	c.mu.Lock()
	c.stats.Hits++
	c.mu.Unlock()
	c.recordMetric("l2", "hit")
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.stats.Misses++
	c.mu.Unlock()
	c.recordMetric("l2", "miss")
}

func (c *Cache) recordMetric(tier, kind string) {
	if c.Metrics == nil {
		return
	}
	switch kind {
	case "hit":
		c.Metrics.RecordCacheStats(tier, 1, 0, 0)
	case "miss":
		c.Metrics.RecordCacheStats(tier, 0, 1, 0)
	case "eviction":
		c.Metrics.RecordCacheStats(tier, 0, 0, 1)
	}
}

// assignInto copies v into out via a JSON round-trip. Every L1 hit goes
// through it, including when out already has v's concrete type.
func assignInto(v any, out any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(payload, out)
}
