package cache

import "sync"

// cmap is a mutex-guarded map. The cache holds one instance per entity kind
// so decision reads on one map never contend with lock toggles or graph
// edits on another.
type cmap[K comparable, V any] struct {
	mu sync.RWMutex
	m  map[K]V
}

func newCmap[K comparable, V any]() *cmap[K, V] {
	return &cmap[K, V]{m: make(map[K]V)}
}

func (c *cmap[K, V]) get(k K) (V, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.m[k]
	return v, ok
}

func (c *cmap[K, V]) put(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[k] = v
}

// putIfPresent stores v only when k already exists. Used for lock-state
// writes, which must be a no-op for resources unknown to the cache.
func (c *cmap[K, V]) putIfPresent(k K, v V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.m[k]; ok {
		c.m[k] = v
	}
}

func (c *cmap[K, V]) delete(k K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, k)
}

func (c *cmap[K, V]) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m = make(map[K]V)
}

func (c *cmap[K, V]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.m)
}

func (c *cmap[K, V]) keys() []K {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]K, 0, len(c.m))
	for k := range c.m {
		out = append(out, k)
	}
	return out
}

// snapshot returns a shallow copy of the map contents for iteration
// without holding the lock.
func (c *cmap[K, V]) snapshot() map[K]V {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[K]V, len(c.m))
	for k, v := range c.m {
		out[k] = v
	}
	return out
}
