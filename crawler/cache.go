package crawler

import "sync"

// Cachable to be used as an enqueue tracker for URL hashes, namespaced
// by run. It only exists to spare redundant datastore writes, the
// (run_id, url_hash) uniqueness constraint remains the authority.
type Cachable interface {
	Set(namespace, key string)
	Contains(namespace, key string) bool
}

// memoryCache holds one hash set per run, lazily created on the first
// Set for that run
type memoryCache struct {
	mutex sync.RWMutex
	cache map[string]map[string]bool
}

func newMemoryCache() *memoryCache {
	return &memoryCache{cache: make(map[string]map[string]bool)}
}

// Set records a url_hash as enqueued for the run
func (c *memoryCache) Set(namespace, key string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, ok := c.cache[namespace]
	if !ok {
		c.cache[namespace] = make(map[string]bool)
	}
	c.cache[namespace][key] = true
}

// Contains reports whether the url_hash was already enqueued for the
// run, hashes of other runs never match
func (c *memoryCache) Contains(namespace, key string) bool {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	inner, ok := c.cache[namespace]
	if !ok {
		return false
	}
	return inner[key]
}
