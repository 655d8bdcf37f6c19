package validator

import "sync"

// cacheMaxSize is the default capacity of a Validator's result cache.
const cacheMaxSize = 100

// resultCache memoizes ProposalValidationResult by a key derived from the
// protocol's id, version, and serialized constraints. Eviction is FIFO by
// insertion order, not LRU by access -- a read never moves an entry, which
// keeps Validate's hot path lock-cheap.
type resultCache struct {
	mu       sync.Mutex
	size     int
	entries  map[string]ProposalValidationResult
	order    []string
}

func newResultCache(size int) *resultCache {
	if size <= 0 {
		size = cacheMaxSize
	}
	return &resultCache{
		size:    size,
		entries: make(map[string]ProposalValidationResult, size),
	}
}

func (c *resultCache) get(key string) (ProposalValidationResult, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.entries[key]
	return r, ok
}

func (c *resultCache) put(key string, result ProposalValidationResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[key]; !exists {
		if len(c.order) >= c.size {
			oldest := c.order[0]
			c.order = c.order[1:]
			delete(c.entries, oldest)
		}
		c.order = append(c.order, key)
	}
	c.entries[key] = result
}
