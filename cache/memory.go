package cache

import (
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/jmgilman/go/imageloader/coder"
)

// MemoryCache is a bounded LRU of decoded images. Entries are weighed by
// their decoded size; the least recently used entries are evicted when
// either the total cost or the entry count exceeds its limit.
type MemoryCache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *coder.Image]
	cost     int64
	maxCost  int64
	maxCount int
	evicted  func(key string, cost int64)
}

// NewMemoryCache creates a memory cache. Zero limits mean unlimited.
// evicted, when non-nil, is called for every entry dropped to honour a
// limit, while the cache lock is held.
func NewMemoryCache(maxCost int64, maxCount int, evicted func(key string, cost int64)) *MemoryCache {
	m := &MemoryCache{maxCost: maxCost, maxCount: maxCount, evicted: evicted}

	size := maxCount
	if size <= 0 {
		size = math.MaxInt32
	}
	// NewLRU only fails for a non-positive size.
	m.lru, _ = simplelru.NewLRU[string, *coder.Image](size, func(_ string, img *coder.Image) {
		m.cost -= img.Cost()
	})
	return m
}

// Get returns the image for key and marks it recently used.
func (m *MemoryCache) Get(key string) (*coder.Image, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Get(key)
}

// Contains reports whether key is cached without touching its recency.
func (m *MemoryCache) Contains(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Contains(key)
}

// Set stores img under key, replacing any previous image.
func (m *MemoryCache) Set(key string, img *coder.Image) {
	if img == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.lru.Peek(key); ok {
		m.cost -= old.Cost()
	}
	m.cost += img.Cost()

	if oldest, oldImg, ok := m.lru.GetOldest(); ok && m.lru.Len() == m.maxCount && !m.lru.Contains(key) {
		// The LRU is about to drop its oldest entry to make room.
		m.notify(oldest, oldImg.Cost())
	}
	m.lru.Add(key, img)

	for m.maxCost > 0 && m.cost > m.maxCost {
		k, v, ok := m.lru.RemoveOldest()
		if !ok {
			break
		}
		m.notify(k, v.Cost())
	}
}

func (m *MemoryCache) notify(key string, cost int64) {
	if m.evicted != nil {
		m.evicted(key, cost)
	}
}

// Remove deletes key. Removing a missing key is a no-op.
func (m *MemoryCache) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Remove(key)
}

// Clear removes every entry.
func (m *MemoryCache) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Purge()
	m.cost = 0
}

// Len returns the number of cached images.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len()
}

// TotalCost returns the summed cost of the cached images.
func (m *MemoryCache) TotalCost() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cost
}
