package handler

import (
	"sort"
	"sync"
	"time"
)

// CacheObserver is notified as handlers enter and leave the cache, used
// by the status server to keep a rolling "recently played" list around
// after a handler itself is gone.
type CacheObserver interface {
	InsertHandlerEvent(h FileHandler)
	RetireHandlerEvent(h FileHandler)
}

type cacheEntry struct {
	handler    FileHandler
	references int
	lastAccess time.Time
}

// Cache keeps a reference-counted, LRU-evicting map of FileHandlers
// keyed by filesystem path. Media players routinely open the same file
// multiple times in quick succession (tag readers, seek probes), and
// some keep polling the file's size while it's open; reusing the same
// handler avoids restarting a convolution from scratch for every one of
// those opens.
type Cache struct {
	maxSize  int
	observer CacheObserver

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

func NewCache(maxSize int) *Cache {
	return &Cache{maxSize: maxSize, cache: make(map[string]*cacheEntry)}
}

// SetObserver registers the cache's single observer. Must be called at
// most once, before the cache sees any traffic.
func (c *Cache) SetObserver(o CacheObserver) { c.observer = o }

// InsertPinned adds handler under key with one reference held, unless an
// entry already exists for key — in which case the existing handler is
// returned (pinned again) and the caller's handler is closed, since two
// concurrent opens raced to create one.
func (c *Cache) InsertPinned(key string, h FileHandler) FileHandler {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.cache[key]
	if !exists {
		entry = &cacheEntry{handler: h}
		c.cache[key] = entry
	} else {
		h.Close()
	}
	entry.references++
	entry.lastAccess = time.Now()

	if len(c.cache) > c.maxSize {
		c.cleanupOldestUnreferencedLocked()
	}
	if c.observer != nil {
		c.observer.InsertHandlerEvent(entry.handler)
	}
	return entry.handler
}

// FindAndPin looks up key, incrementing its reference count on a hit.
// The caller must Unpin it when done.
func (c *Cache) FindAndPin(key string) (FileHandler, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok {
		return nil, false
	}
	entry.references++
	entry.lastAccess = time.Now()
	return entry.handler, true
}

// Unpin releases a reference obtained via FindAndPin or InsertPinned. If
// this was the last reference and the cache is over capacity, the entry
// is evicted immediately; otherwise it's left idle for potential reuse.
func (c *Cache) Unpin(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.cache[key]
	if !ok {
		return
	}
	entry.references--
	if entry.references == 0 && len(c.cache) > c.maxSize {
		c.eraseLocked(key)
	}
}

// Stats returns a snapshot of every handler currently in the cache, for
// display on the status page.
func (c *Cache) Stats() []Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Stats, 0, len(c.cache))
	for _, entry := range c.cache {
		s := entry.handler.Status()
		if entry.references == 0 {
			s.Status = Idle
		} else {
			s.Status = Open
		}
		s.LastAccess = entry.lastAccess
		out = append(out, s)
	}
	return out
}

func (c *Cache) eraseLocked(key string) {
	entry := c.cache[key]
	if c.observer != nil {
		c.observer.RetireHandlerEvent(entry.handler)
	}
	entry.handler.Close()
	delete(c.cache, key)
}

// cleanupOldestUnreferencedLocked evicts just enough idle entries,
// oldest first, to bring the cache back within its size budget. Entries
// still referenced by an open handle are never touched.
func (c *Cache) cleanupOldestUnreferencedLocked() {
	type candidate struct {
		key        string
		lastAccess time.Time
	}
	var idle []candidate
	for key, entry := range c.cache {
		if entry.references == 0 {
			idle = append(idle, candidate{key, entry.lastAccess})
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].lastAccess.Before(idle[j].lastAccess) })

	toErase := len(c.cache) - c.maxSize
	if toErase > len(idle) {
		toErase = len(idle)
	}
	for i := 0; i < toErase; i++ {
		c.eraseLocked(idle[i].key)
	}
}
