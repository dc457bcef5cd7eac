package cache

import "sync"

// Cache is a concurrency-safe in-process key/value store. Entries stay
// until deleted or until the cache itself is dropped.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
	Len() int
}

type mapCache[K comparable, V any] struct {
	mu    sync.RWMutex
	items map[K]V
}

// New returns an empty map-backed cache.
func New[K comparable, V any]() Cache[K, V] {
	return &mapCache[K, V]{items: map[K]V{}}
}

func (c *mapCache[K, V]) Get(key K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *mapCache[K, V]) Set(key K, value V) {
	c.mu.Lock()
	c.items[key] = value
	c.mu.Unlock()
}

func (c *mapCache[K, V]) Delete(key K) {
	c.mu.Lock()
	delete(c.items, key)
	c.mu.Unlock()
}

func (c *mapCache[K, V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}
