// Copyright (C) 2020-2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package session

import (
	"container/list"
	"sync"

	"github.com/quorumnet/core/chunk"
)

// ChunkCache is an LRU cache of fetched chunk bytes, bounded by entry
// count and fixed at construction. Reads promote the entry to
// most-recently-used; a full cache evicts the least-recently-used
// entry on insert.
type ChunkCache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List
	items    map[chunk.Address]*list.Element
}

type cacheEntry struct {
	addr  chunk.Address
	bytes []byte
}

// NewChunkCache creates an LRU cache holding up to capacity entries.
// capacity <= 0 disables caching (Get always misses, Put is a no-op).
func NewChunkCache(capacity int) *ChunkCache {
	return &ChunkCache{
		capacity: capacity,
		order:    list.New(),
		items:    make(map[chunk.Address]*list.Element),
	}
}

// Get returns addr's cached bytes, promoting the entry to
// most-recently-used on a hit.
func (c *ChunkCache) Get(addr chunk.Address) ([]byte, bool) {
	if c.capacity <= 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[addr]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).bytes, true
}

// Put inserts or refreshes addr's bytes, evicting the least-recently-
// used entry if the cache is at capacity.
func (c *ChunkCache) Put(addr chunk.Address, data []byte) {
	if c.capacity <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[addr]; ok {
		el.Value.(*cacheEntry).bytes = data
		c.order.MoveToFront(el)
		return
	}
	el := c.order.PushFront(&cacheEntry{addr: addr, bytes: data})
	c.items[addr] = el
	if c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.items, oldest.Value.(*cacheEntry).addr)
		}
	}
}

// Len returns the number of cached entries.
func (c *ChunkCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
