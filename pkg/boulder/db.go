// Package boulder is the public database handle: Open/Close lifecycle,
// point reads and writes, and the write-ahead-log recovery and
// memtable-flush machinery that make the engine durable. Modeled on
// alexhholmes-boulder's pkg/boulder.go and pkg/db/db.go, generalized to the
// memtable/sstable/walog/batch internals this tree actually builds rather
// than a manifest-backed design.
package boulder

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"syscall"

	"github.com/hashicorp/go-multierror"

	"boulder/internal/base"
	"boulder/internal/batch"
	"boulder/internal/cache"
	"boulder/internal/dbfile"
	"boulder/internal/iterutil"
	"boulder/internal/logging"
	"boulder/internal/memtable"
	"boulder/internal/sstable"
	"boulder/internal/storage"
	"boulder/internal/tablecache"
	"boulder/internal/walog"
	"boulder/options"
)

var _ ReadWriterCloser = (*DB)(nil)

// DB is an open database directory: a single mutable memtable backed by a
// write-ahead log, any number of immutable sorted table files produced by
// earlier flushes, a shared block cache, and a table cache of open
// sstable.Reader handles. Writes are serialized through mu; reads snapshot
// the memtable and the flushed-table list under mu and then proceed
// lock-free.
type DB struct {
	dir    string
	opts   *options.Options
	logger *logging.Logger

	lockFile *os.File

	blockCache *cache.Cache
	tableCache *tablecache.TableCache

	mu sync.Mutex

	seqNum base.AtomicSeqNum
	mem    *memtable.MemTable

	wal             *walog.Writer
	walFileNum      dbfile.FileNum
	obsoleteLogNums []dbfile.FileNum // log files superseded by mem, not yet deleted
	nextFileNum     dbfile.FileNum

	flushed    []dbfile.FileNum // flushed table file numbers, newest first
	tableSizes map[dbfile.FileNum]int64

	closed bool
}

// noopCloser satisfies io.Closer for Get results. Values returned to
// callers are ordinary garbage-collected slices (a copy of a table entry's
// value, or the memtable's own immutable entry bytes), not pages pinned in
// a buffer pool, so releasing them is always a no-op; the interface exists so
// Reader stays shaped like an engine that does pin pages.
type noopCloser struct{}

func (noopCloser) Close() error { return nil }

// Open opens the database whose files reside in directory, creating it if
// empty, and replaying any write-ahead log left by an earlier, possibly
// crashed, process.
func Open(directory string, opts ...options.Option) (db *DB, err error) {
	if err := os.MkdirAll(directory, 0755); err != nil {
		return nil, err
	}

	lockFile, err := os.OpenFile(dbfile.LockFileName(directory), os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, err
	}
	// LOCK_NB: a second Open against the same directory must fail fast
	// rather than block, since only one process may write to it at a time.
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		lockFile.Close()
		return nil, fmt.Errorf("boulder: directory %s is locked by another process: %w", directory, err)
	}
	defer func() {
		if err != nil {
			lockFile.Close()
		}
	}()

	o := options.New(opts...)
	logger := logging.New(nil, directory)

	entries, err := os.ReadDir(directory)
	if err != nil {
		return nil, err
	}

	var logNums []dbfile.FileNum
	tableNums := map[dbfile.FileNum]struct{}{}
	var maxFileNum dbfile.FileNum
	for _, e := range entries {
		parsed, ok := dbfile.ParseFileName(e.Name())
		if !ok {
			continue
		}
		if parsed.Number > maxFileNum {
			maxFileNum = parsed.Number
		}
		switch parsed.Type {
		case dbfile.FileTypeLog:
			logNums = append(logNums, parsed.Number)
		case dbfile.FileTypeTable:
			tableNums[parsed.Number] = struct{}{}
		}
	}
	sort.Slice(logNums, func(i, j int) bool { return logNums[i] < logNums[j] })

	mem := memtable.New(o.Compare)
	var maxSeq base.SeqNum
	for _, num := range logNums {
		seq, err := recoverLogFile(directory, num, mem, logger)
		if err != nil {
			return nil, err
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}

	tableSizes := make(map[dbfile.FileNum]int64, len(tableNums))
	flushed := make([]dbfile.FileNum, 0, len(tableNums))
	for num := range tableNums {
		flushed = append(flushed, num)
		size, err := tableLogicalSize(directory, num)
		if err != nil {
			return nil, err
		}
		tableSizes[num] = size
	}
	sort.Slice(flushed, func(i, j int) bool { return flushed[i] > flushed[j] })

	nextFileNum := maxFileNum + 1
	walFileNum := nextFileNum
	nextFileNum++
	walFile, err := storage.NewWritableFile(dbfile.LogFileName(directory, walFileNum))
	if err != nil {
		return nil, err
	}

	db = &DB{
		dir:             directory,
		opts:            o,
		logger:          logger,
		lockFile:        lockFile,
		blockCache:      cache.New(o.BlockCacheSize),
		mem:             mem,
		wal:             walog.NewWriter(walFile),
		walFileNum:      walFileNum,
		obsoleteLogNums: logNums,
		nextFileNum:     nextFileNum,
		flushed:         flushed,
		tableSizes:      tableSizes,
	}
	db.seqNum.Store(maxSeq)

	opener := func(num dbfile.FileNum) (storage.RandomAccessReader, int64, error) {
		path, err := dbfile.ResolveTableFile(directory, num)
		if err != nil {
			return nil, 0, err
		}
		db.mu.Lock()
		size, ok := db.tableSizes[num]
		db.mu.Unlock()
		if !ok {
			// A table created by a flush after Open ran; its size was
			// recorded directly by flushLocked, so this only triggers for a
			// file this DB instance never flushed itself.
			size, err = tableLogicalSize(directory, num)
			if err != nil {
				return nil, 0, err
			}
		}
		f, err := storage.NewRandomAccessFile(path)
		if err != nil {
			return nil, 0, err
		}
		return f, size, nil
	}
	db.tableCache = tablecache.NewTableCache(o.TableCacheSize, opener, o.Compare, o.FilterPolicy(), db.blockCache)

	return db, nil
}

// tableLogicalSize resolves num's on-disk path and recovers its logical
// (unpadded) size via the table footer, since the direct-I/O writer that
// produced it may have zero-padded a trailing partial block.
func tableLogicalSize(dir string, num dbfile.FileNum) (int64, error) {
	path, err := dbfile.ResolveTableFile(dir, num)
	if err != nil {
		return 0, err
	}
	f, err := storage.NewRandomAccessFile(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return sstable.DetectLogicalSize(f, fi.Size(), storage.BlockSize)
}

// recoveryHandler replays a batch's operations into a memtable, assigning
// each entry i within the batch sequence SeqNum()+i, per the batch wire
// format's contract.
type recoveryHandler struct {
	mem *memtable.MemTable
	seq base.SeqNum
	i   base.SeqNum
}

func (h *recoveryHandler) Put(key, value []byte) error {
	err := h.mem.Add(h.seq+h.i, base.InternalKeyKindSet, key, value)
	h.i++
	return err
}

func (h *recoveryHandler) Delete(key []byte) error {
	err := h.mem.Add(h.seq+h.i, base.InternalKeyKindDelete, key, nil)
	h.i++
	return err
}

// recoverLogFile replays every batch record in the write-ahead log
// numbered num into mem, returning the highest sequence number assigned.
func recoverLogFile(dir string, num dbfile.FileNum, mem *memtable.MemTable, logger *logging.Logger) (base.SeqNum, error) {
	file, err := storage.NewSequentialFile(dbfile.LogFileName(dir, num))
	if err != nil {
		return 0, err
	}
	defer file.Close()

	reader, err := walog.NewReader(file, logger.WALReporter(uint64(num)), 0)
	if err != nil {
		return 0, err
	}

	var maxSeq base.SeqNum
	var count int
	for {
		repr, err := reader.ReadRecord()
		if err != nil {
			if errors.Is(err, walog.ErrEOF) {
				break
			}
			return 0, err
		}
		b, err := batch.Load(repr)
		if err != nil {
			logger.Corruption(uint64(num), len(repr), err)
			continue
		}
		h := &recoveryHandler{mem: mem, seq: b.SeqNum()}
		if err := b.Iterate(h); err != nil {
			logger.Corruption(uint64(num), len(repr), err)
			continue
		}
		count++
		if end := h.seq + h.i - 1; h.i > 0 && end > maxSeq {
			maxSeq = end
		}
	}
	logger.RecoveryFinished(uint64(num), count, uint64(maxSeq))
	return maxSeq, nil
}

// Close flushes any unflushed writes to a new table file, closes the
// write-ahead log and every open table reader, and releases the
// directory lock.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return nil
	}
	db.closed = true

	var errs *multierror.Error
	if !db.memEmptyLocked() {
		if err := db.flushLocked(); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if err := db.wal.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	db.tableCache.Close()
	if err := db.lockFile.Close(); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}

func (db *DB) memEmptyLocked() bool {
	it := db.mem.NewIterator()
	return it.First() == nil
}

// Get returns the value for key, or ErrKeyNotFound if it does not exist
// or has been deleted.
func (db *DB) Get(key []byte) (value []byte, closer io.Closer, err error) {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, nil, ErrClosed
	}
	mem := db.mem
	mem.Ref()
	flushed := append([]dbfile.FileNum(nil), db.flushed...)
	seq := db.seqNum.Load()
	db.mu.Unlock()
	defer mem.Unref()

	v, found, err := mem.GetRaw(key, seq)
	if found {
		if err != nil {
			return nil, nil, ErrKeyNotFound
		}
		return v, noopCloser{}, nil
	}

	lookupKey := base.MakeLookupKey(key, seq).InternalKeyBytes()
	for _, num := range flushed {
		kv, err := db.tableCache.Get(num, lookupKey)
		if err != nil {
			if errors.Is(err, sstable.ErrNotFound) {
				continue
			}
			return nil, nil, err
		}
		if kv.K.Kind() == base.InternalKeyKindDelete {
			return nil, nil, ErrKeyNotFound
		}
		return kv.V, noopCloser{}, nil
	}
	return nil, nil, ErrKeyNotFound
}

// Set sets the value for key, overwriting any previous value.
func (db *DB) Set(key, value []byte) error {
	return db.apply(key, value, false)
}

// Delete deletes key. It is a blind delete.
func (db *DB) Delete(key []byte) error {
	return db.apply(key, nil, true)
}

func (db *DB) apply(key, value []byte, isDelete bool) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}

	seq := db.seqNum.Add(1)
	b := batch.New()
	if isDelete {
		b.Delete(key)
	} else {
		b.Put(key, value)
	}
	b.SetSeqNum(seq)

	if err := db.wal.AddRecord(b.Repr()); err != nil {
		return err
	}
	if db.opts.WALSync == options.SyncEachWrite {
		if err := db.wal.Sync(); err != nil {
			return err
		}
	} else if err := db.wal.Flush(); err != nil {
		return err
	}

	kind := base.InternalKeyKindSet
	if isDelete {
		kind = base.InternalKeyKindDelete
	}
	if err := db.mem.Add(seq, kind, key, value); err != nil {
		return err
	}

	if int64(db.mem.MemoryUsage()) >= int64(db.opts.MemtableFlushSize) {
		return db.flushLocked()
	}
	return nil
}

// flushLocked builds a new sorted table file from the active memtable,
// installs it atop the flushed-table list, and rolls the write-ahead log
// to a fresh file number, removing every log file whose data is now
// durable in the new table. Callers must hold mu.
func (db *DB) flushLocked() error {
	fileNum := db.nextFileNum
	db.nextFileNum++

	path := dbfile.TableFileName(db.dir, fileNum)
	f, err := storage.NewWritableFile(path)
	if err != nil {
		return err
	}

	builder := sstable.NewBuilder(f, sstable.BuilderOptions{
		Compare:         db.opts.Compare,
		BlockSize:       db.opts.BlockSize,
		RestartInterval: db.opts.RestartInterval,
		FilterPolicy:    db.opts.FilterPolicy(),
	})
	it := db.mem.NewIterator()
	var entries int
	for kv := it.First(); kv != nil; kv = it.Next() {
		if err := builder.Add(kv.K.Encode(nil), kv.V); err != nil {
			f.Close()
			return err
		}
		entries++
	}
	if err := builder.Finish(); err != nil {
		f.Close()
		return err
	}
	logicalSize := int64(builder.FileSize()) + int64(sstable.FooterLen)
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	db.tableSizes[fileNum] = logicalSize
	db.flushed = append([]dbfile.FileNum{fileNum}, db.flushed...)
	db.logger.FlushFinished(uint64(fileNum), entries)

	if err := db.wal.Close(); err != nil {
		return err
	}
	obsolete := append(db.obsoleteLogNums, db.walFileNum)
	db.obsoleteLogNums = nil
	for _, n := range obsolete {
		if err := storage.RemoveFile(dbfile.LogFileName(db.dir, n)); err != nil {
			db.logger.Errorf("boulder: failed to remove obsolete wal file %d: %v", n, err)
		}
	}

	newWalNum := db.nextFileNum
	db.nextFileNum++
	newWalFile, err := storage.NewWritableFile(dbfile.LogFileName(db.dir, newWalNum))
	if err != nil {
		return err
	}
	db.wal = walog.NewWriter(newWalFile)
	db.walFileNum = newWalNum
	db.mem.Unref()
	db.mem = memtable.New(db.opts.Compare)
	return nil
}

// refReleasingIterator ties an InternalIterator's lifetime to a release
// func invoked once, on Close, after the wrapped iterator itself closes.
type refReleasingIterator struct {
	iterutil.InternalIterator
	release func()
}

func (r *refReleasingIterator) Close() error {
	err := r.InternalIterator.Close()
	r.release()
	return err
}

// NewIterator returns a merging iterator over the current memtable and
// every flushed table, in internal-key order, for range scans and
// DeleteRange. The caller must Close it when done.
func (db *DB) NewIterator() (*iterutil.MergingIterator, error) {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil, ErrClosed
	}
	mem := db.mem
	mem.Ref()
	flushed := append([]dbfile.FileNum(nil), db.flushed...)
	db.mu.Unlock()

	children := []iterutil.InternalIterator{
		&refReleasingIterator{InternalIterator: mem.NewIterator(), release: func() { mem.Unref() }},
	}
	for _, num := range flushed {
		ti, err := db.tableCache.NewIterator(num, db.opts.Compare)
		if err != nil {
			for _, c := range children {
				c.Close()
			}
			return nil, err
		}
		children = append(children, ti)
	}
	return iterutil.NewMergingIterator(db.opts.Compare, children), nil
}

// DeleteRange deletes every key in [start, end). It is implemented as a
// scan that emits one tombstone per distinct live user key in the range,
// since the engine has no dedicated range-tombstone internal-key kind:
// adding one would ripple through the already-stable comparator and
// internal-key encoding for a bulk-delete operation that, in this
// engine's workloads, does not run often enough to justify it.
func (db *DB) DeleteRange(start, end []byte) error {
	it, err := db.NewIterator()
	if err != nil {
		return err
	}
	defer it.Close()

	startKey := base.MakeInternalKey(start, base.SeqNumMax, base.InternalKeyKindMax).Encode(nil)
	var lastUserKey []byte
	for kv := it.Seek(startKey); kv != nil; kv = it.Next() {
		if db.opts.Compare(kv.K.UserKey, end) >= 0 {
			break
		}
		if lastUserKey != nil && db.opts.Compare(kv.K.UserKey, lastUserKey) == 0 {
			continue
		}
		lastUserKey = append(lastUserKey[:0], kv.K.UserKey...)
		if kv.K.Kind() == base.InternalKeyKindDelete {
			continue
		}
		if err := db.Delete(kv.K.UserKey); err != nil {
			return err
		}
	}
	return nil
}

// Dir returns the directory the database was opened against.
func (db *DB) Dir() string { return filepath.Clean(db.dir) }
