// Package tablecache implements a cache of open sstable.Reader handles
// keyed by file number, built atop internal/cache's sharded LRU rather
// than a second copy of the hash-table/list machinery. Split out from
// internal/cache itself so that package can stay a generic cache usable
// for decoded blocks too, without importing internal/sstable.
package tablecache

import (
	"encoding/binary"
	"fmt"
	"sync"

	"boulder/internal/base"
	"boulder/internal/bloom"
	"boulder/internal/cache"
	"boulder/internal/dbfile"
	"boulder/internal/iterutil"
	"boulder/internal/sstable"
	"boulder/internal/storage"
)

// TableOpener opens the file backing a table's file number, returning a
// random-access reader and its logical size. Satisfied by a database's
// directory-backed Env in production, and by an in-memory fake in tests.
type TableOpener func(num dbfile.FileNum) (storage.RandomAccessReader, int64, error)

// TableCache holds open sstable.Reader handles keyed by file number,
// evicting and closing the least-recently-used reader once the cache's
// entry-count capacity is exceeded. Modeled on LevelDB's db/table_cache.cc,
// built atop internal/cache's Cache rather than a second copy of the LRU
// machinery.
type TableCache struct {
	cache  *cache.Cache
	opener TableOpener
	opts   sstable.ReaderOptions

	mu      sync.Mutex
	opening map[dbfile.FileNum]*sync.WaitGroup
	opened  map[dbfile.FileNum]struct{}
}

// NewTableCache returns a TableCache holding up to numFiles open readers.
// blockCache, if non-nil, is threaded into every opened sstable.Reader so
// decoded data blocks are cached across tables sharing one block cache.
func NewTableCache(numFiles int, opener TableOpener, compare base.Compare, filterPolicy *bloom.Policy, blockCache *cache.Cache) *TableCache {
	return &TableCache{
		cache:   cache.New(numFiles),
		opener:  opener,
		opts:    sstable.ReaderOptions{Compare: compare, FilterPolicy: filterPolicy, BlockCache: blockCache},
		opening: make(map[dbfile.FileNum]*sync.WaitGroup),
		opened:  make(map[dbfile.FileNum]struct{}),
	}
}

func cacheKey(num dbfile.FileNum) uint64 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(num))
	return cache.Hash(buf[:])
}

// findOrOpen returns a Handle whose Value is *sstable.Reader for num,
// opening and inserting it on a miss. Concurrent misses for the same num
// coalesce onto a single open.
func (tc *TableCache) findOrOpen(num dbfile.FileNum) (*cache.Handle, error) {
	key := cacheKey(num)
	if h := tc.cache.Lookup(key); h != nil {
		return h, nil
	}

	tc.mu.Lock()
	if wg, ok := tc.opening[num]; ok {
		tc.mu.Unlock()
		wg.Wait()
		if h := tc.cache.Lookup(key); h != nil {
			return h, nil
		}
		return nil, fmt.Errorf("cache: open of table %d failed", num)
	}
	wg := &sync.WaitGroup{}
	wg.Add(1)
	tc.opening[num] = wg
	tc.mu.Unlock()

	defer func() {
		tc.mu.Lock()
		delete(tc.opening, num)
		tc.mu.Unlock()
		wg.Done()
	}()

	file, size, err := tc.opener(num)
	if err != nil {
		return nil, err
	}
	opts := tc.opts
	opts.FileNum = uint64(num)
	reader, err := sstable.Open(file, size, opts)
	if err != nil {
		file.Close()
		return nil, err
	}

	deleter := func(_ uint64, value any) {
		value.(*sstable.Reader).Close()
	}
	tc.mu.Lock()
	tc.opened[num] = struct{}{}
	tc.mu.Unlock()
	return tc.cache.Insert(key, reader, 1, deleter), nil
}

// Get looks up key (an encoded internal key) in table num.
func (tc *TableCache) Get(num dbfile.FileNum, key []byte) (*base.InternalKV, error) {
	h, err := tc.findOrOpen(num)
	if err != nil {
		return nil, err
	}
	defer h.Release()
	return h.Value().(*sstable.Reader).InternalGet(key)
}

// NewIterator returns a two-level iterator (index block + lazily opened
// data blocks) over table num, in the common iterutil.InternalIterator
// shape the merging iterator composes over. Closing the returned
// iterator releases the underlying table cache handle.
func (tc *TableCache) NewIterator(num dbfile.FileNum, cmp base.Compare) (*iterutil.TwoLevelIterator, error) {
	h, err := tc.findOrOpen(num)
	if err != nil {
		return nil, err
	}
	reader := h.Value().(*sstable.Reader)
	index := sstable.NewKVIterator(reader.NewIterator(cmp))

	factory := func(indexValue []byte) (iterutil.InternalIterator, error) {
		it, release, err := reader.DataBlockReader(indexValue, cmp)
		if err != nil {
			return nil, err
		}
		return sstable.NewReleasingKVIterator(it, release), nil
	}

	return iterutil.NewReleasingTwoLevelIterator(index, factory, h.Release), nil
}

// Evict removes table num's reader from the cache, closing it once any
// outstanding iterators/lookups finish. Close calls it for every table
// this cache has opened.
func (tc *TableCache) Evict(num dbfile.FileNum) {
	tc.cache.Erase(cacheKey(num))
	tc.mu.Lock()
	delete(tc.opened, num)
	tc.mu.Unlock()
}

// Close evicts every table this cache has ever opened, closing each
// reader once its last outstanding handle is released. Called when the
// owning database shuts down so no file descriptor outlives it.
func (tc *TableCache) Close() {
	tc.mu.Lock()
	nums := make([]dbfile.FileNum, 0, len(tc.opened))
	for num := range tc.opened {
		nums = append(nums, num)
	}
	tc.mu.Unlock()
	for _, num := range nums {
		tc.Evict(num)
	}
}
