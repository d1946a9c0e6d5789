package cache

import (
	"container/list"
	"sync"
	"time"
)

// MemoryCache implements the L1 in-memory cache with LRU eviction.
// It is bounded by entry count rather than bytes.
type MemoryCache struct {
	maxEntries int

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	// Synchronization
	mu sync.Mutex

	// Metrics
	size  int64
	stats Stats
}

// memoryCacheEntry represents an entry in the memory cache
type memoryCacheEntry struct {
	key   string
	entry Entry
}

// NewMemoryCache creates a new memory cache holding at most maxEntries
// entries. A non-positive bound falls back to the default of 100.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultConfig().MaxEntries
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		stats: Stats{
			MaxEntries: maxEntries,
		},
	}
}

// Get retrieves an entry and marks it most recently used.
func (c *MemoryCache) Get(key string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return Entry{}, false
	}

	c.eviction.MoveToFront(elem)
	c.stats.Hits++
	return elem.Value.(*memoryCacheEntry).entry, true
}

// Put stores an entry. A put for a key that already exists keeps the
// existing entry, refreshes its recency and returns it, so concurrent
// synthesis of one key retains a single entry.
func (c *MemoryCache) Put(key string, entry Entry) (Entry, error) {
	if len(entry.Audio) == 0 {
		return Entry{}, ErrEmptyEntry
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.eviction.MoveToFront(elem)
		return elem.Value.(*memoryCacheEntry).entry, nil
	}

	for c.eviction.Len() >= c.maxEntries {
		c.evictOldest()
	}

	elem := c.eviction.PushFront(&memoryCacheEntry{key: key, entry: entry})
	c.items[key] = elem
	c.size += int64(len(entry.Audio))

	return entry, nil
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0
}

// Len returns the number of cached entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.eviction.Len()
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.size
	stats.ItemCount = c.eviction.Len()
	stats.computeHitRate()
	return stats
}

// evictOldest removes the least recently used item (must be called with lock held).
// Readers that already hold an Entry keep a valid slice: eviction only
// drops the cache's reference.
func (c *MemoryCache) evictOldest() {
	elem := c.eviction.Back()
	if elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
		c.stats.LastEvict = time.Now()
	}
}

// removeElement removes an element from the cache (must be called with lock held).
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	item := elem.Value.(*memoryCacheEntry)
	delete(c.items, item.key)
	c.size -= int64(len(item.entry.Audio))
}
