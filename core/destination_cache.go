package core

import "sync"

// DestinationCache remembers the most recent destination descriptor seen
// for each address so a fetch can rebuild an outbound destination without
// touching the persisted registry. Last writer wins.
type DestinationCache struct {
	mu sync.Mutex
	m  map[Address]DestinationDesc
}

// NewDestinationCache returns an empty cache.
func NewDestinationCache() *DestinationCache {
	return &DestinationCache{m: make(map[Address]DestinationDesc)}
}

// Put stores desc under its address hash, replacing any previous entry.
// Descriptors whose address hash does not verify are rejected.
func (c *DestinationCache) Put(desc DestinationDesc) bool {
	if !desc.Verify() {
		return false
	}
	c.mu.Lock()
	c.m[desc.AddressHash] = desc
	c.mu.Unlock()
	return true
}

// Get returns the cached descriptor for addr, if any.
func (c *DestinationCache) Get(addr Address) (DestinationDesc, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.m[addr]
	return d, ok
}

// Len reports the number of cached destinations.
func (c *DestinationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.m)
}
