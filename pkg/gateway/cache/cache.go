// SPDX-License-Identifier: Apache-2.0

// Package cache implements the bounded TTL response cache of spec §4.4: a
// map of (backend,tool,canonical-args) -> prior result, bounded by entry
// count with least-recently-inserted eviction.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/MikkoParkkola/mcp-gateway/pkg/gateway"
)

// entry is one cache record plus its position in the insertion-order list
// used for LRI eviction.
type entry struct {
	key        string
	value      any
	insertedAt time.Time
	ttl        time.Duration
	elem       *list.Element
}

// Cache is a bounded, TTL-checked-on-read response cache. Safe for
// concurrent use; a single mutex guards the map and list since inserts are
// rare relative to gets and no iteration is required on the hot path.
type Cache struct {
	mu         sync.Mutex
	entries    map[string]*entry
	order      *list.List // front = oldest inserted
	maxEntries int
	clock      gateway.Clock
	hits       int64
	misses     int64
}

// New creates a cache bounded to maxEntries. maxEntries <= 0 means the cache
// never stores anything (spec §8: "Cache with max_entries = 0 never hits").
func New(maxEntries int, clock gateway.Clock) *Cache {
	if clock == nil {
		clock = gateway.SystemClock{}
	}
	return &Cache{
		entries:    make(map[string]*entry),
		order:      list.New(),
		maxEntries: maxEntries,
		clock:      clock,
	}
}

// Get returns the cached value for key, or ok=false on a miss (no entry,
// evicted, or TTL expired).
func (c *Cache) Get(key string) (value any, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, found := c.entries[key]
	if !found {
		c.misses++
		return nil, false
	}
	if c.clock.Now().Sub(e.insertedAt) > e.ttl {
		c.removeLocked(e)
		c.misses++
		return nil, false
	}
	c.hits++
	return e.value, true
}

// Set inserts value under key with the given ttl, evicting the
// least-recently-inserted entry if the cache is at capacity.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	if c.maxEntries <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.removeLocked(existing)
	}

	for len(c.entries) >= c.maxEntries {
		oldest := c.order.Front()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest.Value.(*entry))
	}

	e := &entry{key: key, value: value, insertedAt: c.clock.Now(), ttl: ttl}
	e.elem = c.order.PushBack(e)
	c.entries[key] = e
}

func (c *Cache) removeLocked(e *entry) {
	delete(c.entries, e.key)
	c.order.Remove(e.elem)
}

// Stats returns cumulative hit/miss counters.
type Stats struct {
	Hits   int64
	Misses int64
}

// Snapshot returns the current hit/miss counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses}
}

// Len returns the number of live entries, for tests and diagnostics.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
