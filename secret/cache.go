// Copyright (c) 2025 The coldsig developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package secret

import (
	"sync"
)

// Cache is a keyed store of live Buffers guaranteeing at most one live copy
// of any secret per key. Storing under an existing key wipes the previous
// buffer before the replacement becomes visible, and clearing the cache
// wipes every entry.
//
// All operations are linearizable with respect to each other: a single
// mutex guards the map, and no operation holds it longer than a map access
// plus a fixed-size zero-fill.
type Cache struct {
	mtx sync.Mutex

	entries map[string]*Buffer
}

// NewCache creates an empty secret cache.
func NewCache() *Cache {
	return &Cache{
		entries: make(map[string]*Buffer),
	}
}

// Store inserts the passed buffer under key, taking ownership of it. If an
// entry already exists under the same key, its buffer is closed before the
// new one is stored so that two live copies never coexist.
func (c *Cache) Store(key string, buf *Buffer) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if prev, ok := c.entries[key]; ok {
		prev.Close()
	}

	c.entries[key] = buf
}

// Get returns the live buffer stored under key. A buffer that was closed
// out-of-band is treated as a miss: the stale entry is removed and ok is
// false, rather than surfacing ErrClosedSecret to the caller.
func (c *Cache) Get(key string) (*Buffer, bool) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	buf, ok := c.entries[key]
	if !ok {
		return nil, false
	}

	if buf.Closed() {
		delete(c.entries, key)
		return nil, false
	}

	return buf, true
}

// Remove closes and removes the buffer stored under key, if any.
func (c *Cache) Remove(key string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	if buf, ok := c.entries[key]; ok {
		buf.Close()
		delete(c.entries, key)
	}
}

// Clear closes every live buffer and empties the cache. The whole operation
// is atomic with respect to concurrent Store/Get/Remove calls.
func (c *Cache) Clear() {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	for key, buf := range c.entries {
		buf.Close()
		delete(c.entries, key)
	}
}

// Len returns the number of entries currently held, including entries whose
// buffer may have been closed out-of-band but not yet evicted.
func (c *Cache) Len() int {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	return len(c.entries)
}
