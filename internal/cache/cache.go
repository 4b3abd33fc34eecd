// Package cache provides an in-process cache for dataset schemas. Every
// record batch is validated against its dataset's schema, so the hot
// path would otherwise hit the metadata store once per request.
package cache

import (
	"sync"
	"time"

	"github.com/reinferio/saltfish/internal/schema"
)

// Entry is a cached schema in both its stored and decoded forms.
type Entry struct {
	Blob   []byte
	Schema *schema.Schema
}

// SchemaCache is an LRU cache with per-entry TTL, keyed by dataset id.
type SchemaCache struct {
	capacity int
	ttl      time.Duration
	mu       sync.RWMutex
	items    map[string]*cacheItem
	order    []string // For LRU tracking
}

type cacheItem struct {
	entry     *Entry
	expiresAt time.Time
}

// New creates a new schema cache with the specified capacity and TTL.
func New(capacity int, ttl time.Duration) *SchemaCache {
	return &SchemaCache{
		capacity: capacity,
		ttl:      ttl,
		items:    make(map[string]*cacheItem),
		order:    make([]string, 0, capacity),
	}
}

// Get retrieves the cached schema for a dataset id. The expiry check
// and the LRU reorder happen under one lock so a concurrent Invalidate
// cannot leave a ghost key in the order list.
func (c *SchemaCache) Get(datasetID []byte) (*Entry, bool) {
	key := string(datasetID)

	c.mu.Lock()
	defer c.mu.Unlock()

	item, ok := c.items[key]
	if !ok {
		return nil, false
	}

	if time.Now().After(item.expiresAt) {
		delete(c.items, key)
		c.removeFromOrder(key)
		return nil, false
	}

	// Most recently used
	c.moveToEnd(key)
	return item.entry, true
}

// Set stores the schema for a dataset id.
func (c *SchemaCache) Set(datasetID []byte, entry *Entry) {
	key := string(datasetID)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.items[key]; exists {
		c.items[key] = &cacheItem{
			entry:     entry,
			expiresAt: time.Now().Add(c.ttl),
		}
		c.moveToEnd(key)
		return
	}

	if len(c.items) >= c.capacity && c.capacity > 0 {
		c.evict()
	}

	c.items[key] = &cacheItem{
		entry:     entry,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.order = append(c.order, key)
}

// Invalidate removes the cached schema for a dataset id.
func (c *SchemaCache) Invalidate(datasetID []byte) {
	key := string(datasetID)

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.items, key)
	c.removeFromOrder(key)
}

// Clear removes all entries.
func (c *SchemaCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*cacheItem)
	c.order = make([]string, 0, c.capacity)
}

// Size returns the number of cached schemas.
func (c *SchemaCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

// CleanupExpired removes all expired entries and reports how many were
// dropped.
func (c *SchemaCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, item := range c.items {
		if now.After(item.expiresAt) {
			delete(c.items, key)
			c.removeFromOrder(key)
			removed++
		}
	}
	return removed
}

// Stats returns cache statistics.
type Stats struct {
	Size     int
	Capacity int
}

// Stats returns the current cache statistics.
func (c *SchemaCache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Stats{
		Size:     len(c.items),
		Capacity: c.capacity,
	}
}

// evict removes the least recently used entry.
func (c *SchemaCache) evict() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.items, oldest)
}

// moveToEnd moves a key to the end of the order list.
func (c *SchemaCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

// removeFromOrder removes a key from the order list.
func (c *SchemaCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}
