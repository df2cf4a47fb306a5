package rag

import (
	"sync"
	"time"
)

// EmbeddingCache stores embeddings in process with a TTL and an entry cap.
type EmbeddingCache struct {
	ttl     time.Duration
	maxSize int
	entries map[string]*CachedEmbedding
	mu      sync.RWMutex
	now     func() time.Time
}

// CachedEmbedding holds a cached embedding with its creation time
type CachedEmbedding struct {
	Vector    []float32
	CreatedAt time.Time
}

// NewEmbeddingCache creates an empty cache.
func NewEmbeddingCache(ttl time.Duration, maxSize int) *EmbeddingCache {
	return &EmbeddingCache{
		ttl:     ttl,
		maxSize: maxSize,
		entries: make(map[string]*CachedEmbedding),
		now:     time.Now,
	}
}

// Get returns a live entry.
func (c *EmbeddingCache) Get(key string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.entries[key]
	if !ok || c.now().Sub(cached.CreatedAt) > c.ttl {
		return nil, false
	}
	return cached.Vector, true
}

// Put caches an embedding. When full, expired entries are dropped first,
// then the oldest entry.
func (c *EmbeddingCache) Put(key string, vector []float32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxSize {
		c.evictLocked()
	}
	c.entries[key] = &CachedEmbedding{Vector: vector, CreatedAt: c.now()}
}

func (c *EmbeddingCache) evictLocked() {
	now := c.now()
	var oldestKey string
	var oldest time.Time
	for k, e := range c.entries {
		if now.Sub(e.CreatedAt) > c.ttl {
			delete(c.entries, k)
			continue
		}
		if oldestKey == "" || e.CreatedAt.Before(oldest) {
			oldestKey, oldest = k, e.CreatedAt
		}
	}
	if len(c.entries) >= c.maxSize && oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}

// Len returns the number of entries, including expired ones not yet evicted.
func (c *EmbeddingCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear removes every entry.
func (c *EmbeddingCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*CachedEmbedding)
}
