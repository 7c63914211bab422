// Package cache maps completed fingerprints to retrievable output files for
// a short retention window. Entries expire by TTL (checked lazily on access
// plus a periodic sweep) and by total-bytes capacity, evicting
// least-recently-accessed first. Eviction deletes the stored files.
package cache

import (
	"container/list"
	"sync"
	"time"

	"github.com/fdown/api/internal/store"
)

// Handle references a retrievable output. Jobs hold these by lookup only:
// eviction invalidates the handle independent of the job record.
type Handle struct {
	JobID       string
	Path        string
	Filename    string
	Size        int64
	ContentType string
	ExpiresAt   time.Time
}

type entry struct {
	fp     string
	handle Handle
}

// Cache is the in-memory result index over the file store.
type Cache struct {
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List // front = most recently accessed
	total    int64
	maxBytes int64

	store *store.Store
	now   func() time.Time

	sweepInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
}

// New creates a Cache over the file store. maxBytes <= 0 means unbounded.
func New(st *store.Store, maxBytes int64, sweepInterval time.Duration) *Cache {
	if sweepInterval <= 0 {
		sweepInterval = time.Minute
	}
	return &Cache{
		entries:       make(map[string]*list.Element),
		lru:           list.New(),
		maxBytes:      maxBytes,
		store:         st,
		now:           time.Now,
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
}

// Put stores the handle for a fingerprint with the given TTL, then evicts
// least-recently-accessed entries while total stored bytes exceed capacity.
// The entry just stored is never evicted by its own Put: a result larger
// than maxBytes stays resident (alone) until its TTL lapses or a later Put
// displaces it, so an oversized download remains retrievable once.
func (c *Cache) Put(fp string, h Handle, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	h.ExpiresAt = c.now().Add(ttl)

	if elem, ok := c.entries[fp]; ok {
		c.removeLocked(elem, elem.Value.(*entry).handle.JobID != h.JobID)
	}

	elem := c.lru.PushFront(&entry{fp: fp, handle: h})
	c.entries[fp] = elem
	c.total += h.Size

	if c.maxBytes > 0 {
		for c.total > c.maxBytes && c.lru.Len() > 1 {
			oldest := c.lru.Back()
			if oldest == nil || oldest == elem {
				break
			}
			c.removeLocked(oldest, true)
		}
	}
}

// Get returns the handle for a fingerprint. Expired entries are removed on
// access and reported as absent; the caller consults the job registry to
// tell "expired" apart from "not ready yet".
func (c *Cache) Get(fp string) (Handle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[fp]
	if !ok {
		return Handle{}, false
	}
	e := elem.Value.(*entry)
	if c.now().After(e.handle.ExpiresAt) {
		c.removeLocked(elem, true)
		return Handle{}, false
	}
	c.lru.MoveToFront(elem)
	return e.handle, true
}

// Remove evicts a fingerprint and deletes its stored files.
func (c *Cache) Remove(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[fp]; ok {
		c.removeLocked(elem, true)
	}
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// TotalBytes returns the bytes currently accounted for.
func (c *Cache) TotalBytes() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}

// StartSweeper periodically removes expired entries until Stop is called.
func (c *Cache) StartSweeper() {
	go func() {
		defer close(c.done)
		ticker := time.NewTicker(c.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.sweep()
			case <-c.stop:
				return
			}
		}
	}()
}

// Stop terminates the sweeper.
func (c *Cache) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	for elem := c.lru.Back(); elem != nil; {
		prev := elem.Prev()
		if now.After(elem.Value.(*entry).handle.ExpiresAt) {
			c.removeLocked(elem, true)
		}
		elem = prev
	}
}

// removeLocked unlinks an entry and optionally deletes its files. Callers
// hold c.mu.
func (c *Cache) removeLocked(elem *list.Element, deleteFiles bool) {
	e := elem.Value.(*entry)
	c.lru.Remove(elem)
	delete(c.entries, e.fp)
	c.total -= e.handle.Size
	if deleteFiles && c.store != nil {
		_ = c.store.RemoveJob(e.handle.JobID)
	}
}
