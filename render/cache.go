// ABOUTME: In-memory cache in front of Render, keyed by sha256 of the DOT text plus format.
// ABOUTME: Finished runs render to identical DOT, so repeated SVG/PNG requests skip graphviz.
package render

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// Func is the signature of Render, injectable for tests.
type Func func(ctx context.Context, dotText string, format string) ([]byte, error)

type cacheEntry struct {
	data      []byte
	createdAt time.Time
}

// Cache memoizes a Func. Errors are never cached; expired entries are
// dropped whenever a new result is stored.
type Cache struct {
	render Func
	ttl    time.Duration
	now    func() time.Time

	mu      sync.RWMutex
	entries map[string]cacheEntry
}

// NewCache wraps fn; a nil fn means Render.
func NewCache(fn Func, ttl time.Duration) *Cache {
	if fn == nil {
		fn = Render
	}
	return &Cache{
		render:  fn,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

// Render returns a cached result for (dotText, format) when fresh, otherwise
// renders and stores it.
func (c *Cache) Render(ctx context.Context, dotText string, format string) ([]byte, error) {
	key := cacheKey(dotText, format)

	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()
	if ok && c.now().Sub(entry.createdAt) < c.ttl {
		return entry.data, nil
	}

	data, err := c.render(ctx, dotText, format)
	if err != nil {
		return nil, err
	}

	now := c.now()
	c.mu.Lock()
	for k, e := range c.entries {
		if now.Sub(e.createdAt) >= c.ttl {
			delete(c.entries, k)
		}
	}
	c.entries[key] = cacheEntry{data: data, createdAt: now}
	c.mu.Unlock()
	return data, nil
}

// Len returns the number of stored entries, fresh or not.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func cacheKey(dotText string, format string) string {
	sum := sha256.Sum256([]byte(dotText))
	return hex.EncodeToString(sum[:]) + ":" + format
}
