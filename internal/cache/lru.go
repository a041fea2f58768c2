// Package cache provides the bounded caches backends keep per document:
// extracted page text, page sizes and live renditions.
package cache

import (
	"sync"
)

// EvictFunc is called with entries dropped by capacity, Remove or Clear.
// It runs after the cache lock is released.
type EvictFunc[K comparable, V any] func(key K, value V)

// LRU is a thread-safe least recently used cache.
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	items    map[K]*node[K, V]
	head     *node[K, V] // most recently used sentinel
	tail     *node[K, V] // least recently used sentinel
	hits     int64
	misses   int64
	onEvict  EvictFunc[K, V]
}

type node[K comparable, V any] struct {
	key   K
	value V
	prev  *node[K, V]
	next  *node[K, V]
}

type evicted[K comparable, V any] struct {
	key   K
	value V
}

// New creates an LRU holding at most capacity entries.
func New[K comparable, V any](capacity int) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 100
	}

	c := &LRU[K, V]{
		capacity: capacity,
		items:    make(map[K]*node[K, V]),
		head:     &node[K, V]{},
		tail:     &node[K, V]{},
	}
	c.head.next = c.tail
	c.tail.prev = c.head
	return c
}

// OnEvict registers fn to observe removed entries.
func (c *LRU[K, V]) OnEvict(fn EvictFunc[K, V]) *LRU[K, V] {
	c.mu.Lock()
	c.onEvict = fn
	c.mu.Unlock()
	return c
}

// Get returns the value for key and marks it recently used.
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		c.moveToFront(n)
		c.hits++
		return n.value, true
	}

	c.misses++
	var zero V
	return zero, false
}

// Peek returns the value for key without touching recency or stats.
func (c *LRU[K, V]) Peek(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n, ok := c.items[key]; ok {
		return n.value, true
	}
	var zero V
	return zero, false
}

// Put inserts or replaces key. A replaced value is not reported as evicted.
func (c *LRU[K, V]) Put(key K, value V) {
	var dropped []evicted[K, V]

	c.mu.Lock()
	if n, ok := c.items[key]; ok {
		n.value = value
		c.moveToFront(n)
		c.mu.Unlock()
		return
	}

	n := &node[K, V]{key: key, value: value}
	c.addToFront(n)
	c.items[key] = n

	for len(c.items) > c.capacity {
		lru := c.tail.prev
		c.unlink(lru)
		delete(c.items, lru.key)
		dropped = append(dropped, evicted[K, V]{lru.key, lru.value})
	}
	fn := c.onEvict
	c.mu.Unlock()

	notify(fn, dropped)
}

// Remove drops key and reports whether it was present.
func (c *LRU[K, V]) Remove(key K) bool {
	c.mu.Lock()
	n, ok := c.items[key]
	if !ok {
		c.mu.Unlock()
		return false
	}
	c.unlink(n)
	delete(c.items, key)
	fn := c.onEvict
	c.mu.Unlock()

	notify(fn, []evicted[K, V]{{n.key, n.value}})
	return true
}

// RemoveFunc drops every entry for which match returns true and returns
// how many were removed.
func (c *LRU[K, V]) RemoveFunc(match func(key K, value V) bool) int {
	var dropped []evicted[K, V]

	c.mu.Lock()
	for cur := c.head.next; cur != c.tail; {
		next := cur.next
		if match(cur.key, cur.value) {
			c.unlink(cur)
			delete(c.items, cur.key)
			dropped = append(dropped, evicted[K, V]{cur.key, cur.value})
		}
		cur = next
	}
	fn := c.onEvict
	c.mu.Unlock()

	notify(fn, dropped)
	return len(dropped)
}

// Clear empties the cache and resets statistics.
func (c *LRU[K, V]) Clear() {
	var dropped []evicted[K, V]

	c.mu.Lock()
	for cur := c.head.next; cur != c.tail; cur = cur.next {
		dropped = append(dropped, evicted[K, V]{cur.key, cur.value})
	}
	c.items = make(map[K]*node[K, V])
	c.head.next = c.tail
	c.tail.prev = c.head
	c.hits = 0
	c.misses = 0
	fn := c.onEvict
	c.mu.Unlock()

	notify(fn, dropped)
}

// Len returns the number of entries.
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns keys from most to least recently used.
func (c *LRU[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := make([]K, 0, len(c.items))
	for cur := c.head.next; cur != c.tail; cur = cur.next {
		keys = append(keys, cur.key)
	}
	return keys
}

// Stats returns hit/miss counters.
func (c *LRU[K, V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	hitRate := float64(0)
	if total > 0 {
		hitRate = float64(c.hits) / float64(total) * 100
	}

	return Stats{
		Hits:     c.hits,
		Misses:   c.misses,
		HitRate:  hitRate,
		Size:     len(c.items),
		Capacity: c.capacity,
	}
}

func (c *LRU[K, V]) moveToFront(n *node[K, V]) {
	c.unlink(n)
	c.addToFront(n)
}

func (c *LRU[K, V]) addToFront(n *node[K, V]) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

func (c *LRU[K, V]) unlink(n *node[K, V]) {
	n.prev.next = n.next
	n.next.prev = n.prev
}

func notify[K comparable, V any](fn EvictFunc[K, V], dropped []evicted[K, V]) {
	if fn == nil {
		return
	}
	for _, e := range dropped {
		fn(e.key, e.value)
	}
}

// Stats describes cache effectiveness.
type Stats struct {
	Hits     int64   `json:"hits"`
	Misses   int64   `json:"misses"`
	HitRate  float64 `json:"hit_rate_percent"`
	Size     int     `json:"current_size"`
	Capacity int     `json:"max_capacity"`
}
