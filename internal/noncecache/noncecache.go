// Package noncecache suppresses duplicate message nonces inside the
// replay window. The cache holds at most one entry per message accepted
// within the window; stale entries are pruned on every check.
package noncecache

import (
	"sync"
	"time"
)

// Cache is safe for concurrent use by HTTP handlers.
type Cache struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]int64 // nonce -> observation ms

	nowMS func() int64
}

func New(window time.Duration) *Cache {
	return &Cache{
		window: window,
		seen:   make(map[string]int64),
		nowMS:  func() int64 { return time.Now().UnixMilli() },
	}
}

// Check records nonce with its observation timestamp and reports whether
// it was fresh. A nonce already inside the window returns false.
func (c *Cache) Check(nonce string, observedMS int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.nowMS() - c.window.Milliseconds()
	for n, ts := range c.seen {
		if ts < cutoff {
			delete(c.seen, n)
		}
	}

	if _, dup := c.seen[nonce]; dup {
		return false
	}
	c.seen[nonce] = observedMS
	return true
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.seen)
}
