// Package basemap proxies and caches raster basemap tiles.
package basemap

import (
	"container/list"
	"sync"
	"sync/atomic"
	"time"

	"github.com/paulmach/orb/maptile"
)

// Cache is a concurrent-safe LRU tile cache with TTL expiry.
type Cache struct {
	mu         sync.Mutex
	ll         *list.List
	items      map[maptile.Tile]*list.Element
	maxEntries int
	ttl        time.Duration
	now        func() time.Time
	hits       atomic.Int64
	misses     atomic.Int64
}

type entry struct {
	tile     maptile.Tile
	data     []byte
	storedAt time.Time
}

// CacheStats reports cache occupancy and effectiveness.
type CacheStats struct {
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// NewCache returns a cache holding at most maxEntries tiles, each for ttl.
// A zero ttl never expires.
func NewCache(maxEntries int, ttl time.Duration) *Cache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &Cache{
		ll:         list.New(),
		items:      make(map[maptile.Tile]*list.Element),
		maxEntries: maxEntries,
		ttl:        ttl,
		now:        time.Now,
	}
}

// Get returns a cached tile and marks it recently used.
func (c *Cache) Get(t maptile.Tile) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[t]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	e := el.Value.(*entry)
	if c.ttl > 0 && c.now().Sub(e.storedAt) > c.ttl {
		c.removeLocked(el)
		c.misses.Add(1)
		return nil, false
	}
	c.ll.MoveToFront(el)
	c.hits.Add(1)
	return e.data, true
}

// Put stores a tile, evicting the least recently used one when full.
func (c *Cache) Put(t maptile.Tile, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[t]; ok {
		e := el.Value.(*entry)
		e.data, e.storedAt = data, c.now()
		c.ll.MoveToFront(el)
		return
	}
	for c.ll.Len() >= c.maxEntries {
		c.removeLocked(c.ll.Back())
	}
	c.items[t] = c.ll.PushFront(&entry{tile: t, data: data, storedAt: c.now()})
}

// Purge empties the cache.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ll.Init()
	c.items = make(map[maptile.Tile]*list.Element)
}

// Len returns the number of cached tiles.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats returns cache statistics.
func (c *Cache) Stats() CacheStats {
	entries := c.Len()
	hits, misses := c.hits.Load(), c.misses.Load()

	var rate float64
	if total := hits + misses; total > 0 {
		rate = float64(hits) / float64(total)
	}
	return CacheStats{
		Entries:    entries,
		MaxEntries: c.maxEntries,
		Hits:       hits,
		Misses:     misses,
		HitRate:    rate,
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	c.ll.Remove(el)
	delete(c.items, el.Value.(*entry).tile)
}
