// Package intent implements the Intent Router (C10): an optional pre-LLM
// classifier that decides between a direct function call, a router-handled
// special action, or bypassing straight to the main LLM, plus the wake-word
// cached-response fast path.
//
// Grounded on _examples/lookatitude-beluga-ai/cache/providers/inmemory's
// doubly-linked-list LRU shape, keyed here per (device_id, text) with a
// fixed 10-minute TTL (spec.md §4.10).
package intent

import (
	"container/list"
	"crypto/md5"
	"encoding/hex"
	"sync"
	"time"
)

const defaultTTL = 10 * time.Minute

type cacheEntry struct {
	key       string
	decision  Decision
	expiresAt time.Time
}

// Cache is a thread-safe TTL-LRU cache of intent Decisions keyed by an
// md5 digest of (device_id, text).
type Cache struct {
	mu      sync.Mutex
	items   map[string]*list.Element
	order   *list.List
	maxSize int
	ttl     time.Duration
	now     func() time.Time
}

func NewCache(maxSize int) *Cache {
	return &Cache{
		items:   make(map[string]*list.Element),
		order:   list.New(),
		maxSize: maxSize,
		ttl:     defaultTTL,
		now:     time.Now,
	}
}

// Key hashes a (device_id, text) pair into the cache's lookup key.
func Key(deviceID, text string) string {
	sum := md5.Sum([]byte(deviceID + "\x00" + text))
	return hex.EncodeToString(sum[:])
}

func (c *Cache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return Decision{}, false
	}
	e := elem.Value.(*cacheEntry)
	if c.now().After(e.expiresAt) {
		c.removeLocked(elem)
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	return e.decision, true
}

func (c *Cache) Put(key string, d Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		e := elem.Value.(*cacheEntry)
		e.decision = d
		e.expiresAt = c.now().Add(c.ttl)
		c.order.MoveToFront(elem)
		return
	}

	e := &cacheEntry{key: key, decision: d, expiresAt: c.now().Add(c.ttl)}
	elem := c.order.PushFront(e)
	c.items[key] = elem

	if c.maxSize > 0 && c.order.Len() > c.maxSize {
		back := c.order.Back()
		if back != nil {
			c.removeLocked(back)
		}
	}
}

func (c *Cache) removeLocked(elem *list.Element) {
	e := elem.Value.(*cacheEntry)
	delete(c.items, e.key)
	c.order.Remove(elem)
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
