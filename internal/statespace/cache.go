package statespace

import "sync"

// cache is a small bounded LRU keyed by the full statespace request. The few
// input combinations that recur across a batch of nearby weeks dominate, so a
// small capacity is enough. Guarded by a mutex so a future parallel caller
// cannot race; cached statespaces are never mutated after insertion.
type cache struct {
	mu      sync.Mutex
	cap     int
	entries map[string]*Statespace
	order   []string
}

func newCache(capacity int) *cache {
	return &cache{
		cap:     capacity,
		entries: make(map[string]*Statespace, capacity),
	}
}

func (c *cache) get(key string) (*Statespace, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ss, ok := c.entries[key]
	if ok {
		c.touch(key)
	}
	return ss, ok
}

func (c *cache) put(key string, ss *Statespace) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		c.entries[key] = ss
		c.touch(key)
		return
	}
	if len(c.entries) >= c.cap && len(c.order) > 0 {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.entries, oldest)
	}
	c.entries[key] = ss
	c.order = append(c.order, key)
}

// touch moves key to the most-recently-used position.
func (c *cache) touch(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			c.order = append(c.order, key)
			return
		}
	}
}
