package resolver

import (
	"sync"
	"time"

	"github.com/techask2021/fsmvid-sub005/internal/media"
)

type cacheEntry struct {
	options  []media.Option
	storedAt time.Time
}

// optionCache is a TTL cache for resolved media options keyed by normalized
// source URL. When the entry count exceeds the cap the oldest entries are
// trimmed first. Purely a performance optimization, never authoritative.
type optionCache struct {
	mu         sync.Mutex
	entries    map[string]cacheEntry
	ttl        time.Duration
	maxEntries int
	now        func() time.Time
}

func newOptionCache(ttl time.Duration, maxEntries int) *optionCache {
	return &optionCache{
		entries:    make(map[string]cacheEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

func (c *optionCache) get(key string) ([]media.Option, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	return entry.options, true
}

func (c *optionCache) put(key string, options []media.Option) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = cacheEntry{options: options, storedAt: c.now()}

	for len(c.entries) > c.maxEntries {
		c.evictOldestLocked()
	}
}

func (c *optionCache) evictOldestLocked() {
	var oldestKey string
	var oldest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.storedAt.Before(oldest) {
			oldestKey = k
			oldest = e.storedAt
			first = false
		}
	}
	delete(c.entries, oldestKey)
}

func (c *optionCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
