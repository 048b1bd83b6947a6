// Package cache provides the bounded in-memory cache for mention embeddings.
// The durable per-entity embedding cache lives in storage; this one absorbs
// repeated mentions between signals so the embedding provider is only called
// once per distinct normalized mention while an entry stays resident.
package cache

import (
	"log"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/scrypster/entitylink/internal/normalize"
)

// DefaultCapacity bounds memory under high-cardinality mention streams.
const DefaultCapacity = 10000

// statsLogInterval is how many accesses pass between stats log lines. Cache
// effectiveness directly bounds external call volume to the embedding
// provider, so hit-rate visibility is part of the contract, not incidental.
const statsLogInterval = 1000

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Hits        int64
	Misses      int64
	HitRate     float64
	Size        int
	Capacity    int
	Utilization float64
}

// EmbeddingCache is a bounded LRU mapping normalized mention text to
// embedding vectors. Safe for concurrent use; the stat counters and the LRU
// structure share one lock so concurrent access cannot double-count.
type EmbeddingCache struct {
	mu       sync.Mutex
	lru      *lru.Cache[string, []float32]
	capacity int
	hits     int64
	misses   int64
	accesses int64
}

// NewEmbeddingCache creates a cache with the given capacity. Zero or
// negative capacity uses DefaultCapacity.
func NewEmbeddingCache(capacity int) *EmbeddingCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	// lru.New only errors on non-positive size, which is excluded above.
	l, err := lru.New[string, []float32](capacity)
	if err != nil {
		panic(err)
	}
	return &EmbeddingCache{lru: l, capacity: capacity}
}

// Get returns the cached embedding for mention, keyed by its normalized
// form. The second return reports presence.
func (c *EmbeddingCache) Get(mention string) ([]float32, bool) {
	key := normalize.Normalize(mention)

	c.mu.Lock()
	embedding, ok := c.lru.Get(key)
	if ok {
		c.hits++
	} else {
		c.misses++
	}
	c.accesses++
	logDue := c.accesses%statsLogInterval == 0
	stats := c.statsLocked()
	c.mu.Unlock()

	if logDue {
		log.Printf("cache: embedding cache stats: hits=%d misses=%d hit_rate=%.1f%% size=%d/%d (%.1f%% full)",
			stats.Hits, stats.Misses, stats.HitRate*100, stats.Size, stats.Capacity, stats.Utilization*100)
	}
	return embedding, ok
}

// Set stores the embedding for mention, evicting the least-recently-used
// entry when at capacity.
func (c *EmbeddingCache) Set(mention string, embedding []float32) {
	key := normalize.Normalize(mention)

	c.mu.Lock()
	c.lru.Add(key, embedding)
	c.mu.Unlock()
}

// Has reports whether mention is cached without affecting recency or the
// hit/miss counters.
func (c *EmbeddingCache) Has(mention string) bool {
	key := normalize.Normalize(mention)

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Contains(key)
}

// Stats returns a snapshot of the cache counters.
func (c *EmbeddingCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.statsLocked()
}

func (c *EmbeddingCache) statsLocked() Stats {
	s := Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		Size:     c.lru.Len(),
		Capacity: c.capacity,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	if c.capacity > 0 {
		s.Utilization = float64(s.Size) / float64(c.capacity)
	}
	return s
}
