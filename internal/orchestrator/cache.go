package orchestrator

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// Cache is a bounded, TTL-expiring cache backing C13's skillRouteCache,
// capturedDomainCache, and skill-store read cache. It keeps the teacher's
// SiteContextManager call shape (GetOrCreate, a Stats method) but is backed
// by hashicorp/golang-lru/v2's O(1) expiry instead of a hand-rolled
// mutex+map+ticker sweep, per SPEC_FULL.md §4.16 — this concern is a
// straightforward bounded expiring cache, not the teacher's richer
// nested-limits object.
type Cache[V any] struct {
	lru *lru.LRU[string, V]
	ttl time.Duration
}

// NewCache returns a cache holding at most size entries, each evicted ttl
// after insertion.
func NewCache[V any](size int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{lru: lru.NewLRU[string, V](size, nil, ttl), ttl: ttl}
}

// Get returns the cached value for key and whether it was present and
// unexpired.
func (c *Cache[V]) Get(key string) (V, bool) {
	return c.lru.Get(key)
}

// Put inserts or refreshes key's TTL.
func (c *Cache[V]) Put(key string, val V) {
	c.lru.Add(key, val)
}

// Evict removes key immediately, used on downstream failure so a stale
// route isn't retried until it expires on its own.
func (c *Cache[V]) Evict(key string) {
	c.lru.Remove(key)
}

// GetOrCreate returns the cached value for key, computing and storing it via
// create on a miss.
func (c *Cache[V]) GetOrCreate(key string, create func() (V, error)) (V, error) {
	if v, ok := c.lru.Get(key); ok {
		return v, nil
	}
	v, err := create()
	if err != nil {
		var zero V
		return zero, err
	}
	c.lru.Add(key, v)
	return v, nil
}

// Stats mirrors the teacher's GetStats shape for operability dashboards.
func (c *Cache[V]) Stats() map[string]any {
	return map[string]any{
		"len": c.lru.Len(),
		"ttl": c.ttl.String(),
	}
}

// RouteEntry is the skillRouteCache's value: which skill last satisfied
// (domain, intent).
type RouteEntry struct {
	SkillID string
	Domain  string
}
