package embedding

import (
	"container/list"
	"context"
	"sync"
	"time"
)

// cacheEntry represents a single cache entry with TTL
type cacheEntry struct {
	key        string
	vector     []float64
	insertedAt time.Time
	element    *list.Element // For LRU tracking
}

// isExpired checks if the cache entry has expired
func (e *cacheEntry) isExpired(ttl time.Duration) bool {
	return ttl > 0 && time.Since(e.insertedAt) > ttl
}

// CacheStats represents cache statistics
type CacheStats struct {
	Size    int     `json:"size"`
	MaxSize int     `json:"maxSize"`
	Hits    uint64  `json:"hits"`
	Misses  uint64  `json:"misses"`
	HitRate float64 `json:"hitRate"`
}

// CachingEmbedder is an in-memory LRU cache with TTL in front of another embedder.
// Thread-safe; vectors are copied on the way in and out.
type CachingEmbedder struct {
	next Embedder

	mu      sync.Mutex
	entries map[string]*cacheEntry
	lruList *list.List // Doubly linked list for LRU tracking
	maxSize int
	ttl     time.Duration
	hits    uint64
	misses  uint64
}

// NewCachingEmbedder wraps next with a cache of at most maxSize vectors
func NewCachingEmbedder(next Embedder, maxSize int, ttl time.Duration) *CachingEmbedder {
	if maxSize <= 0 {
		maxSize = 1
	}
	return &CachingEmbedder{
		next:    next,
		entries: make(map[string]*cacheEntry),
		lruList: list.New(),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

// Embed returns the cached vector for text or computes and caches it.
// Failures are never cached.
func (c *CachingEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if vec, ok := c.get(text); ok {
		return vec, nil
	}

	vec, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.set(text, vec)
	return copyVector(vec), nil
}

// Dimensions returns the wrapped embedder's dimensionality
func (c *CachingEmbedder) Dimensions() int {
	return c.next.Dimensions()
}

// Name returns the wrapped embedder's name
func (c *CachingEmbedder) Name() string {
	return c.next.Name()
}

func (c *CachingEmbedder) get(key string) ([]float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	if !exists || entry.isExpired(c.ttl) {
		c.misses++
		if exists {
			c.removeEntry(key)
		}
		return nil, false
	}

	c.lruList.MoveToFront(entry.element)
	c.hits++
	return copyVector(entry.vector), true
}

func (c *CachingEmbedder) set(key string, vec []float64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, exists := c.entries[key]; exists {
		entry.vector = copyVector(vec)
		entry.insertedAt = time.Now()
		c.lruList.MoveToFront(entry.element)
		return
	}

	if c.lruList.Len() >= c.maxSize {
		c.evictLRU()
	}

	entry := &cacheEntry{
		key:        key,
		vector:     copyVector(vec),
		insertedAt: time.Now(),
	}
	entry.element = c.lruList.PushFront(key)
	c.entries[key] = entry
}

// Clear removes all entries from the cache
func (c *CachingEmbedder) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.lruList.Init()
}

// Stats returns cache statistics
func (c *CachingEmbedder) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	var hitRate float64
	if total := c.hits + c.misses; total > 0 {
		hitRate = float64(c.hits) / float64(total)
	}
	return CacheStats{
		Size:    c.lruList.Len(),
		MaxSize: c.maxSize,
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: hitRate,
	}
}

// CleanupExpired removes all expired entries and returns how many were removed
func (c *CachingEmbedder) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, entry := range c.entries {
		if entry.isExpired(c.ttl) {
			c.removeEntry(key)
			removed++
		}
	}
	return removed
}

// StartCleanupWorker periodically removes expired entries until stopCh is closed
func (c *CachingEmbedder) StartCleanupWorker(interval time.Duration, stopCh <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.CleanupExpired()
		case <-stopCh:
			return
		}
	}
}

// removeEntry removes an entry from the cache (must be called with lock held)
func (c *CachingEmbedder) removeEntry(key string) {
	if entry, exists := c.entries[key]; exists {
		c.lruList.Remove(entry.element)
		delete(c.entries, key)
	}
}

// evictLRU evicts the least recently used entry (must be called with lock held)
func (c *CachingEmbedder) evictLRU() {
	back := c.lruList.Back()
	if back == nil {
		return
	}
	key := back.Value.(string)
	c.lruList.Remove(back)
	delete(c.entries, key)
}

func copyVector(v []float64) []float64 {
	out := make([]float64, len(v))
	copy(out, v)
	return out
}
