package runtime

import (
	"fmt"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCacheCapacity is the default number of cached runtimes.
const DefaultCacheCapacity = 100

// Policy selects which entry the Cache evicts on overflow.
type Policy string

const (
	// PolicyInsertion evicts the entry that has gone longest without
	// being put. Reads do not refresh an entry.
	PolicyInsertion Policy = "insertion"

	// PolicyLRU evicts the least recently read or put entry.
	PolicyLRU Policy = "lru"
)

// ParsePolicy validates a policy name. The empty string selects
// PolicyInsertion.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", PolicyInsertion:
		return PolicyInsertion, nil
	case PolicyLRU:
		return PolicyLRU, nil
	}
	return "", fmt.Errorf("unknown cache policy %q (want %q or %q)", s, PolicyInsertion, PolicyLRU)
}

// CacheStats counts cache traffic since creation.
type CacheStats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache maps integration IDs to loaded runtimes, bounded by capacity.
// It is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	lru      *simplelru.LRU[string, *Runtime]
	policy   Policy
	capacity int
	stats    CacheStats
	onEvict  func(id string)
	removing bool
}

// CacheOption configures a Cache.
type CacheOption func(*Cache)

// WithPolicy sets the eviction policy.
func WithPolicy(p Policy) CacheOption {
	return func(c *Cache) {
		if p != "" {
			c.policy = p
		}
	}
}

// WithEvictHook registers fn to run, under the cache lock, for every
// evicted ID. fn must not call back into the Cache.
func WithEvictHook(fn func(id string)) CacheOption {
	return func(c *Cache) { c.onEvict = fn }
}

// NewCache creates a Cache holding at most capacity runtimes. A
// non-positive capacity selects DefaultCacheCapacity.
func NewCache(capacity int, opts ...CacheOption) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	c := &Cache{policy: PolicyInsertion, capacity: capacity}
	for _, opt := range opts {
		opt(c)
	}
	// NewLRU only fails for a non-positive size.
	c.lru, _ = simplelru.NewLRU[string, *Runtime](capacity, func(id string, _ *Runtime) {
		if c.removing {
			return
		}
		c.stats.Evictions++
		if c.onEvict != nil {
			c.onEvict(id)
		}
	})
	return c
}

// Get returns the runtime cached for id.
func (c *Cache) Get(id string) (*Runtime, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var (
		rt *Runtime
		ok bool
	)
	if c.policy == PolicyLRU {
		rt, ok = c.lru.Get(id)
	} else {
		rt, ok = c.lru.Peek(id)
	}
	if ok {
		c.stats.Hits++
	} else {
		c.stats.Misses++
	}
	return rt, ok
}

// Peek returns the runtime cached for id without counting the read or
// refreshing the entry.
func (c *Cache) Peek(id string) (*Runtime, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Peek(id)
}

// Put caches rt under id, replacing any previous entry. Replacing counts
// as a fresh insertion under both policies. When the cache is full the
// policy's victim is evicted.
func (c *Cache) Put(id string, rt *Runtime) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(id, rt)
}

// Remove drops id and reports whether it was cached. Removal is not
// counted as an eviction.
func (c *Cache) Remove(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removing = true
	defer func() { c.removing = false }()
	return c.lru.Remove(id)
}

// Len returns the number of cached runtimes.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Capacity returns the maximum number of cached runtimes.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Policy returns the eviction policy.
func (c *Cache) Policy() Policy {
	return c.policy
}

// Keys returns cached IDs from next-to-evict to most recently kept.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Keys()
}

// Stats returns a snapshot of the traffic counters.
func (c *Cache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
