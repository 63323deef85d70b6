package llm

import (
	"sync"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/troupe/pkg/model"
)

// CacheEntry is a recorded gateway result.
type CacheEntry struct {
	Kind   string    `json:"kind"`
	Text   string    `json:"text,omitempty"`
	Vector []float32 `json:"vector,omitempty"`
}

// CacheStats counts lookups since the last reset.
type CacheStats struct {
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
}

// Cache is the in-transaction call cache. Entries never expire; the
// simulation controller snapshots and restores them with checkpoints.
type Cache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	stats   CacheStats
}

func NewCache() *Cache {
	return &Cache{entries: make(map[string]CacheEntry)}
}

// Get looks up key and counts the result as a hit or a miss.
func (c *Cache) Get(key string) (CacheEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return e, ok
}

func (c *Cache) Put(key string, e CacheEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = e
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats = CacheStats{}
}

// Entries returns a copy of every entry.
func (c *Cache) Entries() map[string]CacheEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]CacheEntry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Restore replaces all entries and resets statistics.
func (c *Cache) Restore(entries map[string]CacheEntry) error {
	next := make(map[string]CacheEntry, len(entries))
	for k, v := range entries {
		if k == "" || (v.Kind != string(kindComplete) && v.Kind != string(kindEmbed)) {
			return goerr.Wrap(model.ErrSnapshotCorrupted, "invalid cache entry", goerr.V("key", k), goerr.V("kind", v.Kind))
		}
		next[k] = v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = next
	c.stats = CacheStats{}
	return nil
}

// Reset drops every entry and statistic.
func (c *Cache) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]CacheEntry)
	c.stats = CacheStats{}
}
