package cache

import (
	"sync"
	"time"
)

// ResponseCache keeps pre-marshaled JSON feed responses so repeated listing
// requests skip re-encoding. Total byte size is bounded; the oldest entries
// are evicted first. Entries also expire on a TTL so a forgotten Clear can
// never serve stale bytes forever.
type ResponseCache struct {
	mu      sync.RWMutex
	entries map[string]*responseEntry
	order   []string // insertion/use order, oldest first
	maxSize int
	curSize int
}

type responseEntry struct {
	data      []byte
	expiresAt time.Time
}

// NewResponseCache creates a response cache bounded to maxSize bytes.
func NewResponseCache(maxSize int) *ResponseCache {
	return &ResponseCache{
		entries: make(map[string]*responseEntry),
		maxSize: maxSize,
	}
}

// Get returns the cached bytes for key, if present and not expired.
func (c *ResponseCache) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.mu.Lock()
		c.remove(key)
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	c.markUsed(key)
	c.mu.Unlock()

	return entry.data, true
}

// Set stores data under key for ttl, evicting oldest entries until it fits.
// Data larger than the whole cache is silently not stored.
func (c *ResponseCache) Set(key string, data []byte, ttl time.Duration) {
	if len(data) > c.maxSize {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.remove(key)
	for c.curSize+len(data) > c.maxSize && len(c.order) > 0 {
		c.remove(c.order[0])
	}

	c.entries[key] = &responseEntry{
		data:      data,
		expiresAt: time.Now().Add(ttl),
	}
	c.order = append(c.order, key)
	c.curSize += len(data)
}

// Invalidate drops a single entry.
func (c *ResponseCache) Invalidate(key string) {
	c.mu.Lock()
	c.remove(key)
	c.mu.Unlock()
}

// Clear drops every entry. Called whenever the package listing is recomputed,
// since any cached response may describe the previous directory state.
func (c *ResponseCache) Clear() {
	c.mu.Lock()
	c.entries = make(map[string]*responseEntry)
	c.order = c.order[:0]
	c.curSize = 0
	c.mu.Unlock()
}

// Len returns the number of live entries.
func (c *ResponseCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// remove deletes key from the map and order slice. Caller holds the lock.
func (c *ResponseCache) remove(key string) {
	entry, exists := c.entries[key]
	if !exists {
		return
	}
	delete(c.entries, key)
	c.curSize -= len(entry.data)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// markUsed moves key to the newest end of the order slice. Caller holds the
// lock.
func (c *ResponseCache) markUsed(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			return
		}
	}
}
