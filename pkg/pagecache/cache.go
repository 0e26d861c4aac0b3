// Package pagecache implements the §4.2 Page Cache: a fixed-capacity LRU of
// fully-mapped pages handing out shared-read or exclusive-write references,
// with dirty-page flush on eviction or explicit Flush.
//
// Grounded on pkg/storage/cache.go's LRUCache (container/list + map
// bookkeeping), adapted from a value cache (Get returns a copy) to a
// reference cache: ReadRef/WriteRef hold the page's own lock for their
// lifetime so callers mutate in place, matching spec.md §4.2's "acquire a
// shared/exclusive lock on the resident page" contract instead of
// copy-in/copy-out semantics.
package pagecache

import (
	"container/list"
	"sync"

	"github.com/mcheese/cheesebase/pkg/cberr"
	"github.com/mcheese/cheesebase/pkg/page"
	"github.com/mcheese/cheesebase/pkg/pagefile"
)

// DefaultCapacity is the default number of page slots (40 MiB at the
// 4096-byte page size), per spec.md §4.2.
const DefaultCapacity = 10240

// growChunkPages is how many pages the file is extended by in one go when a
// requested page lies past EOF.
const growChunkPages = 8

type slot struct {
	pageNr uint64
	data   []byte
	dirty  bool
	lock   sync.RWMutex
	elem   *list.Element
}

// Cache is a fixed-capacity, thread-safe LRU page cache over a File.
type Cache struct {
	file     *pagefile.File
	capacity int

	mu      sync.RWMutex // guards mapping; a miss drops the shared lock and retakes it exclusively
	mapping map[uint64]*slot

	lruMu sync.Mutex
	lru   *list.List // front = most recently used
}

// New wraps file with an LRU cache of the given capacity (page count).
func New(file *pagefile.File, capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Cache{
		file:     file,
		capacity: capacity,
		mapping:  make(map[uint64]*slot),
		lru:      list.New(),
	}
}

// ReadRef is a shared reference to a resident page. Callers must call
// Release exactly once.
type ReadRef struct {
	c    *Cache
	slot *slot
}

// Bytes returns the page's current contents. Valid only until Release.
func (r *ReadRef) Bytes() []byte { return r.slot.data }

// Release releases the shared lock on the page.
func (r *ReadRef) Release() { r.slot.lock.RUnlock() }

// WriteRef is an exclusive reference to a resident page. Callers must call
// Release exactly once; the page is marked dirty on release.
type WriteRef struct {
	c    *Cache
	slot *slot
}

// Bytes returns the page's contents for in-place mutation.
func (w *WriteRef) Bytes() []byte { return w.slot.data }

// Release marks the page dirty and releases the exclusive lock.
func (w *WriteRef) Release() {
	w.slot.dirty = true
	w.slot.lock.Unlock()
}

// ReadPage acquires a shared reference to pageNr, loading it from disk if
// not resident.
func (c *Cache) ReadPage(pageNr uint64) (*ReadRef, error) {
	s, err := c.acquire(pageNr)
	if err != nil {
		return nil, err
	}
	s.lock.RLock()
	return &ReadRef{c: c, slot: s}, nil
}

// WritePage acquires an exclusive reference to pageNr, loading it from disk
// if not resident.
func (c *Cache) WritePage(pageNr uint64) (*WriteRef, error) {
	s, err := c.acquire(pageNr)
	if err != nil {
		return nil, err
	}
	s.lock.Lock()
	return &WriteRef{c: c, slot: s}, nil
}

// acquire returns the slot mapped to pageNr, loading or evicting as needed.
// It does not itself lock the slot's page lock; callers do that once they
// know whether they want shared or exclusive access.
func (c *Cache) acquire(pageNr uint64) (*slot, error) {
	c.mu.RLock()
	if s, ok := c.mapping[pageNr]; ok {
		c.bumpLRU(s)
		c.mu.RUnlock()
		return s, nil
	}
	c.mu.RUnlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another thread may have filled the slot while we waited for the
	// exclusive mapping lock.
	if s, ok := c.mapping[pageNr]; ok {
		c.bumpLRU(s)
		return s, nil
	}

	if err := c.ensurePageExists(pageNr); err != nil {
		return nil, err
	}

	data, err := c.file.ReadPage(pageNr)
	if err != nil {
		return nil, err
	}

	s := &slot{pageNr: pageNr, data: data}
	c.insertLocked(s)
	return s, nil
}

func (c *Cache) ensurePageExists(pageNr uint64) error {
	need := int64(pageNr+1) * page.Size
	if need <= c.file.Size() {
		return nil
	}
	grown := ((need + growChunkPages*page.Size - 1) / (growChunkPages * page.Size)) * (growChunkPages * page.Size)
	return c.file.Extend(grown)
}

// insertLocked adds a freshly loaded slot to the mapping and LRU list,
// evicting the least-recently-used slot first if the cache is full. c.mu
// must already be held exclusively.
func (c *Cache) insertLocked(s *slot) {
	c.lruMu.Lock()
	if len(c.mapping) >= c.capacity {
		c.evictOneLocked()
	}
	s.elem = c.lru.PushFront(s)
	c.lruMu.Unlock()
	c.mapping[s.pageNr] = s
}

// evictOneLocked removes the least-recently-used slot that is not
// currently referenced (its page lock is free). c.mu and c.lruMu must be
// held by the caller.
func (c *Cache) evictOneLocked() {
	for e := c.lru.Back(); e != nil; e = e.Prev() {
		cand := e.Value.(*slot)
		if !cand.lock.TryLock() {
			continue // a live ReadRef/WriteRef holds this page; skip it
		}
		if cand.dirty {
			_ = c.file.Write(page.Addr(cand.pageNr*page.Size), cand.data)
			cand.dirty = false
		}
		cand.lock.Unlock()
		c.lru.Remove(e)
		delete(c.mapping, cand.pageNr)
		return
	}
	// Every slot is pinned; grow past capacity rather than deadlock. This
	// only happens under pathological concurrent pinning far beyond normal
	// operation depth.
}

func (c *Cache) bumpLRU(s *slot) {
	c.lruMu.Lock()
	c.lru.MoveToFront(s.elem)
	c.lruMu.Unlock()
}

// Flush forces all dirty pages to the file.
func (c *Cache) Flush() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, s := range c.mapping {
		s.lock.Lock()
		if s.dirty {
			if err := c.file.Write(page.Addr(s.pageNr*page.Size), s.data); err != nil {
				s.lock.Unlock()
				return cberr.New(cberr.FileError, "pagecache.Flush", err)
			}
			s.dirty = false
		}
		s.lock.Unlock()
	}
	return nil
}
