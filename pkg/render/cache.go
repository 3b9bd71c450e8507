package render

import (
	"container/list"
	"sync"
)

type cacheEntry struct {
	key  CacheKey
	data *PageData
}

// PageCache memoizes rendered pages by CacheKey. It is safe for concurrent
// use. Hits hand out the stored pointer, so callers share one immutable
// PageData per key.
type PageCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	entries  map[CacheKey]*list.Element
}

// NewPageCache returns a cache holding at most capacity pages, evicting the
// least recently used one. A capacity of zero or less means unbounded.
func NewPageCache(capacity int) *PageCache {
	return &PageCache{
		capacity: capacity,
		order:    list.New(),
		entries:  make(map[CacheKey]*list.Element),
	}
}

// Get returns the page for key and marks it recently used.
func (c *PageCache) Get(key CacheKey) (*PageData, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).data, true
}

// Contains reports whether key is cached without touching the LRU order.
func (c *PageCache) Contains(key CacheKey) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// Insert stores data under key and returns the stored pointer. An existing
// entry for key is replaced.
func (c *PageCache) Insert(key CacheKey, data *PageData) *PageData {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).data = data
		c.order.MoveToFront(el)
		return data
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, data: data})
	for c.capacity > 0 && c.order.Len() > c.capacity {
		c.remove(c.order.Back())
	}
	return data
}

func (c *PageCache) remove(el *list.Element) {
	c.order.Remove(el)
	delete(c.entries, el.Value.(*cacheEntry).key)
}

// InvalidateAll drops every entry.
func (c *PageCache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.entries = make(map[CacheKey]*list.Element)
}

// InvalidatePage drops every cached variant of page.
func (c *PageCache) InvalidatePage(page int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.order.Front(); el != nil; {
		next := el.Next()
		if el.Value.(*cacheEntry).key.Page == page {
			c.remove(el)
		}
		el = next
	}
}

func (c *PageCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
