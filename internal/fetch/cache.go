package fetch

import (
	"container/list"
	"sync"
	"time"
)

// Cache defaults.
const (
	DefaultCacheSize = 500
	DefaultCacheTTL  = time.Hour
)

// CacheStats reports cache occupancy.
type CacheStats struct {
	Size    int `json:"size"`
	MaxSize int `json:"max_size"`
}

type cacheEntry struct {
	key       string
	page      *PageContent
	expiresAt time.Time
}

// Cache is a bounded map of fetched pages with per-entry expiry. When
// full it evicts the oldest-inserted entry. Reads do not refresh an
// entry's position: eviction order is insertion order, not recency of
// use. Safe for concurrent use; writes are last-writer-wins per key.
type Cache struct {
	mu      sync.Mutex
	order   *list.List // front is oldest insertion
	entries map[string]*list.Element
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache holding at most maxSize pages, each kept for
// ttl unless Set is given its own. Zero values select the defaults.
func NewCache(maxSize int, ttl time.Duration) *Cache {
	if maxSize <= 0 {
		maxSize = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		order:   list.New(),
		entries: make(map[string]*list.Element),
		maxSize: maxSize,
		ttl:     ttl,
		now:     time.Now,
	}
}

// Get returns a copy of the page stored under key. An expired entry is
// removed and reported as a miss.
func (c *Cache) Get(key string) (*PageContent, bool) {
	page, result := c.lookup(key)
	return page, result == "hit"
}

// lookup is Get plus the outcome label used for metrics.
func (c *Cache) lookup(key string) (*PageContent, string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, "miss"
	}
	e := el.Value.(*cacheEntry)
	if !c.now().Before(e.expiresAt) {
		c.order.Remove(el)
		delete(c.entries, key)
		return nil, "expired"
	}
	return e.page.clone(), "hit"
}

// Set stores a copy of page under key. ttl <= 0 uses the cache default.
// Replacing an existing key updates it in place and keeps its
// insertion position; adding a new key to a full cache first evicts the
// oldest-inserted entry.
func (c *Cache) Set(key string, page *PageContent, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.ttl
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	expiresAt := c.now().Add(ttl)
	if el, ok := c.entries[key]; ok {
		e := el.Value.(*cacheEntry)
		e.page = page.clone()
		e.expiresAt = expiresAt
		return
	}

	if c.order.Len() >= c.maxSize {
		oldest := c.order.Front()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}

	c.entries[key] = c.order.PushBack(&cacheEntry{
		key:       key,
		page:      page.clone(),
		expiresAt: expiresAt,
	})
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[string]*list.Element)
}

// Stats returns the current size and capacity.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Size: c.order.Len(), MaxSize: c.maxSize}
}
