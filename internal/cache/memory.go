package cache

import (
	"container/list"
	"sync"

	"github.com/eleven/artcache/pkg/types"
)

// DefaultMemoryCacheSize is the memory cache capacity used when none is configured
const DefaultMemoryCacheSize = 16 * 1024 * 1024

// MemoryCache is a thread-safe LRU of decoded images bounded by total byte size
type MemoryCache struct {
	mu          sync.Mutex
	capacity    int64
	currentSize int64
	items       map[string]*memoryItem
	evictList   *list.List

	onEvict func(key string, img *types.CachedImage)

	stats types.CacheStats
}

type memoryItem struct {
	key     string
	image   *types.CachedImage
	element *list.Element
}

// NewMemoryCache creates a memory cache holding at most capacity bytes.
// A non-positive capacity selects DefaultMemoryCacheSize.
func NewMemoryCache(capacity int64) *MemoryCache {
	if capacity <= 0 {
		capacity = DefaultMemoryCacheSize
	}
	return &MemoryCache{
		capacity:  capacity,
		items:     make(map[string]*memoryItem),
		evictList: list.New(),
		stats: types.CacheStats{
			Capacity: capacity,
		},
	}
}

// OnEvict registers fn to be called, under the cache lock, for every entry
// removed to make room. It must not call back into the cache.
func (c *MemoryCache) OnEvict(fn func(key string, img *types.CachedImage)) {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
}

// Get returns the image stored under key, or nil on a miss
func (c *MemoryCache) Get(key string) *types.CachedImage {
	if key == "" {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	item, exists := c.items[key]
	if !exists {
		c.stats.Misses++
		c.updateHitRate()
		return nil
	}

	c.evictList.MoveToFront(item.element)
	c.stats.Hits++
	c.updateHitRate()
	return item.image
}

// Contains reports whether key is resident without touching access order
func (c *MemoryCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.items[key]
	return ok
}

// Put stores img under key. Entries larger than the whole capacity are not admitted.
func (c *MemoryCache) Put(key string, img *types.CachedImage) {
	if key == "" || img == nil || img.Image == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if img.ByteCount > c.capacity {
		// keep the invariant without flushing everything else out
		c.removeItem(key)
		return
	}

	if item, exists := c.items[key]; exists {
		c.currentSize -= item.image.ByteCount
		item.image = img
		c.currentSize += img.ByteCount
		c.evictList.MoveToFront(item.element)
		c.evictIfNeeded()
		return
	}

	item := &memoryItem{key: key, image: img}
	item.element = c.evictList.PushFront(item)
	c.items[key] = item
	c.currentSize += img.ByteCount

	c.evictIfNeeded()
}

// Remove drops key from the cache
func (c *MemoryCache) Remove(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removeItem(key)
}

// Clear drops every entry
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*memoryItem)
	c.evictList.Init()
	c.currentSize = 0
}

// Size returns the resident byte size
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentSize
}

// Len returns the number of resident entries
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns resident keys from most to least recently used
func (c *MemoryCache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]string, 0, len(c.items))
	for e := c.evictList.Front(); e != nil; e = e.Next() {
		keys = append(keys, e.Value.(*memoryItem).key)
	}
	return keys
}

// Resize changes the capacity, evicting as needed
func (c *MemoryCache) Resize(capacity int64) {
	if capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.capacity = capacity
	c.stats.Capacity = capacity
	c.evictIfNeeded()
}

// Stats returns cache statistics
func (c *MemoryCache) Stats() types.CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.currentSize
	stats.Entries = len(c.items)
	stats.Utilization = float64(c.currentSize) / float64(c.capacity)
	return stats
}

func (c *MemoryCache) removeItem(key string) {
	item, exists := c.items[key]
	if !exists {
		return
	}
	c.evictList.Remove(item.element)
	delete(c.items, key)
	c.currentSize -= item.image.ByteCount
}

func (c *MemoryCache) evictIfNeeded() {
	for c.currentSize > c.capacity && c.evictList.Len() > 0 {
		element := c.evictList.Back()
		item := element.Value.(*memoryItem)
		c.removeItem(item.key)
		c.stats.Evictions++
		if c.onEvict != nil {
			c.onEvict(item.key, item.image)
		}
	}
}

func (c *MemoryCache) updateHitRate() {
	total := c.stats.Hits + c.stats.Misses
	if total > 0 {
		c.stats.HitRate = float64(c.stats.Hits) / float64(total)
	}
}
