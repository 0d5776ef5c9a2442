package cache

import (
	"container/list"
	"sync"
	"sync/atomic"

	"github.com/canvas-server/synapsd/internal/resource"
)

// LRU implements a byte-bounded LRU Cache.
type LRU[V any] struct {
	mu        sync.Mutex
	capacity  int64
	size      int64
	items     map[Key]*list.Element
	evictList *list.List
	rc        *resource.Controller

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64
}

type entry[V any] struct {
	key   Key
	value V
	size  int64
}

var _ Cache[int] = (*LRU[int])(nil)

// NewLRU creates a new LRU cache with the given capacity in bytes.
// If rc is provided, it will be used to track memory usage.
func NewLRU[V any](capacity int64, rc *resource.Controller) *LRU[V] {
	return &LRU[V]{
		capacity:  capacity,
		items:     make(map[Key]*list.Element),
		evictList: list.New(),
		rc:        rc,
	}
}

// Get returns a cached value.
func (c *LRU[V]) Get(key Key) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.hits.Add(1)
		c.evictList.MoveToFront(el)
		return el.Value.(*entry[V]).value, true
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set caches a value of the given size.
func (c *LRU[V]) Set(key Key, v V, size int64) {
	if size < 0 {
		size = 0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		ent := el.Value.(*entry[V])
		if size > c.capacity {
			c.removeElement(el)
			return
		}
		if c.rc != nil && size > ent.size {
			// The controller denied the growth: drop the stale entry rather than serve it.
			if !c.rc.ReserveCache(size - ent.size) {
				c.removeElement(el)
				return
			}
		} else if c.rc != nil && size < ent.size {
			c.rc.ReleaseCache(ent.size - size)
		}
		c.size += size - ent.size
		ent.value = v
		ent.size = size
		c.evictList.MoveToFront(el)
		c.evict()
		return
	}

	// Items larger than the whole cache are not cached.
	if size > c.capacity {
		return
	}

	// Evict locally first so the controller gets memory back before we ask for it.
	for c.size+size > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
		c.evictions.Add(1)
	}

	if c.rc != nil && !c.rc.ReserveCache(size) {
		return
	}

	el := c.evictList.PushFront(&entry[V]{key: key, value: v, size: size})
	c.items[key] = el
	c.size += size
}

// Delete removes key if present.
func (c *LRU[V]) Delete(key Key) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeElement(el)
	}
}

// Invalidate removes entries matching the predicate.
func (c *LRU[V]) Invalidate(predicate func(key Key) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var toRemove []*list.Element
	for key, el := range c.items {
		if predicate(key) {
			toRemove = append(toRemove, el)
		}
	}
	for _, el := range toRemove {
		c.removeElement(el)
	}
}

func (c *LRU[V]) evict() {
	for c.size > c.capacity {
		el := c.evictList.Back()
		if el == nil {
			break
		}
		c.removeElement(el)
		c.evictions.Add(1)
	}
}

func (c *LRU[V]) removeElement(el *list.Element) {
	c.evictList.Remove(el)
	ent := el.Value.(*entry[V])
	delete(c.items, ent.key)
	c.size -= ent.size
	if c.rc != nil {
		c.rc.ReleaseCache(ent.size)
	}
}

// Stats returns cache statistics.
func (c *LRU[V]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
		Entries:   int64(len(c.items)),
		SizeBytes: c.size,
		Capacity:  c.capacity,
	}
}

// Size returns the current size of the cache in bytes.
func (c *LRU[V]) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}
