// Package cache implements the sharded, reference-counted LRU cache used
// to hold decoded sstable blocks in memory; package tablecache builds its
// cache of open table readers on top of it. Modeled on LevelDB's
// util/cache.cc (ShardedLRUCache over 16 LRUCache shards, selected by
// the top bits of the key hash), reworked around
// Go's container/list and map instead of an intrusive hand-rolled hash
// table.
package cache

import (
	"container/list"
	"hash/fnv"
	"sync"
	"sync/atomic"
)

const (
	numShardBits = 4
	numShards    = 1 << numShardBits
)

// Deleter is invoked exactly once, when an entry's reference count drops
// to zero after having been evicted (by Erase, by a capacity-driven
// eviction, or by a duplicate-key Insert).
type Deleter func(key uint64, value any)

// entry is the value stored in each shard's list.Element. It moves
// between the lru and inUse lists as its reference count crosses 1; the
// shard's table always points at the *list.Element currently holding it.
type entry struct {
	key     uint64
	value   any
	charge  int
	deleter Deleter
	refs    int // 1 means only the cache holds a reference (entry sits in lru)
	inCache bool
}

// Handle is a held reference to a cache entry. The holder must call
// Release exactly once.
type Handle struct {
	shard *shard
	e     *entry
}

// Value returns the entry's value. Valid until Release is called.
func (h *Handle) Value() any {
	if h == nil {
		return nil
	}
	return h.e.value
}

// Cache is a capacity-bounded, sharded LRU cache keyed by a precomputed
// uint64 hash. Callers needing a byte-slice key should hash it themselves
// (with Hash) before calling Insert/Lookup, matching how a table cache
// derives its key from a file number.
type Cache struct {
	shards [numShards]shard
	lastID atomic.Uint64
}

type shard struct {
	mu       sync.Mutex
	capacity int
	usage    int
	table    map[uint64]*list.Element
	lru      *list.List // refs == 1, evictable, most-recently-used at Front
	inUse    *list.List // refs >= 2, pinned by a live Handle
}

// New returns a Cache with the given total capacity (in charge units,
// typically bytes), split evenly across numShards shards.
func New(capacity int) *Cache {
	c := &Cache{}
	perShard := (capacity + numShards - 1) / numShards
	for i := range c.shards {
		c.shards[i].capacity = perShard
		c.shards[i].table = make(map[uint64]*list.Element)
		c.shards[i].lru = list.New()
		c.shards[i].inUse = list.New()
	}
	return c
}

// Hash hashes an arbitrary byte-slice key (e.g. a table's file number
// encoded as bytes) to the uint64 space Insert/Lookup operate in.
func Hash(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key)
	return h.Sum64()
}

func (c *Cache) shardFor(key uint64) *shard {
	return &c.shards[key>>(64-numShardBits)]
}

// NewID returns a monotonically increasing identifier, for callers that
// need to namespace a shared cache's key space (e.g. per-open-table
// cache keys).
func (c *Cache) NewID() uint64 { return c.lastID.Add(1) }

// Insert adds value under key with the given charge (its accounting
// weight against capacity) and returns a Handle the caller must Release.
// If key is already present, the old entry is evicted; its Deleter fires
// once every outstanding Handle to it has been released.
func (c *Cache) Insert(key uint64, value any, charge int, deleter Deleter) *Handle {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.table[key]; ok {
		s.eraseLocked(old.Value.(*entry))
	}

	e := &entry{key: key, value: value, charge: charge, deleter: deleter, refs: 2, inCache: true}
	s.table[key] = s.inUse.PushFront(e)
	s.usage += charge

	for s.usage > s.capacity && s.lru.Len() > 0 {
		oldest := s.lru.Back().Value.(*entry)
		s.eraseLocked(oldest)
	}

	return &Handle{shard: s, e: e}
}

// Lookup returns a Handle for key, or nil if absent. The caller must
// Release a non-nil Handle exactly once.
func (c *Cache) Lookup(key uint64) *Handle {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.table[key]
	if !ok {
		return nil
	}
	e := elem.Value.(*entry)
	s.refLocked(e)
	return &Handle{shard: s, e: e}
}

// Release gives up a Handle obtained from Insert or Lookup.
func (h *Handle) Release() {
	if h == nil {
		return
	}
	h.shard.mu.Lock()
	defer h.shard.mu.Unlock()
	h.shard.unrefLocked(h.e)
}

// Erase removes key from the cache, if present. An entry still held via
// an outstanding Handle is only deallocated once that Handle is
// released.
func (c *Cache) Erase(key uint64) {
	s := c.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if elem, ok := s.table[key]; ok {
		s.eraseLocked(elem.Value.(*entry))
	}
}

// refLocked adds a reference to e, moving it from the lru list to the
// in-use list the moment it acquires a second (client) reference.
func (s *shard) refLocked(e *entry) {
	if e.refs == 1 && e.inCache {
		s.lru.Remove(s.table[e.key])
		s.table[e.key] = s.inUse.PushFront(e)
	}
	e.refs++
}

// unrefLocked drops a reference to e, firing its Deleter once refs
// reaches zero, or moving it back to the lru list once it is no longer
// held by any client.
func (s *shard) unrefLocked(e *entry) {
	e.refs--
	switch {
	case e.refs == 0:
		if e.deleter != nil {
			e.deleter(e.key, e.value)
		}
	case e.inCache && e.refs == 1:
		s.inUse.Remove(s.table[e.key])
		s.table[e.key] = s.lru.PushFront(e)
	}
}

// eraseLocked removes e from the table and its current list, dropping
// the cache's own reference. Any client Handle still outstanding keeps e
// alive until it too is released.
func (s *shard) eraseLocked(e *entry) {
	elem := s.table[e.key]
	delete(s.table, e.key)
	if e.inCache {
		e.inCache = false
		s.usage -= e.charge
	}
	if e.refs == 1 {
		s.lru.Remove(elem)
	} else {
		s.inUse.Remove(elem)
	}
	s.unrefLocked(e)
}
