package sstable

import (
	"encoding/binary"
	"errors"

	"github.com/golang/snappy"

	"boulder/internal/base"
	"boulder/internal/binfmt"
	"boulder/internal/bloom"
	"boulder/internal/cache"
	"boulder/internal/storage"
)

// ErrNotFound is returned by InternalGet when the requested user key is
// absent from the table.
var ErrNotFound = errors.New("sstable: not found")

// BuilderOptions configures a table Builder.
type BuilderOptions struct {
	Compare         base.Compare
	BlockSize       int
	RestartInterval int
	FilterPolicy    *bloom.Policy // nil disables filter emission
}

func (o BuilderOptions) withDefaults() BuilderOptions {
	if o.BlockSize == 0 {
		o.BlockSize = DefaultBlockSize
	}
	if o.RestartInterval == 0 {
		o.RestartInterval = DefaultRestartInterval
	}
	if o.Compare == nil {
		o.Compare = base.DefaultCompare
	}
	return o
}

// Builder streams sorted internal-key/value entries into a complete table
// file: data blocks, an optional filter block, a metaindex block, an index
// block, and the fixed-size footer.
type Builder struct {
	opts BuilderOptions
	file storage.WritableFile

	dataBlock  *BlockBuilder
	indexBlock *BlockBuilder
	filter     *FilterBlockBuilder

	offset            uint64
	pendingHandle     BlockHandle
	pendingIndexEntry bool
	lastKey           []byte
	numEntries        int
	closed            bool
}

// NewBuilder returns a Builder writing to file.
func NewBuilder(file storage.WritableFile, opts BuilderOptions) *Builder {
	opts = opts.withDefaults()
	b := &Builder{
		opts:       opts,
		file:       file,
		dataBlock:  NewBlockBuilder(opts.RestartInterval),
		indexBlock: NewBlockBuilder(opts.RestartInterval),
	}
	if opts.FilterPolicy != nil {
		b.filter = NewFilterBlockBuilder(opts.FilterPolicy)
	}
	return b
}

// Add appends a single internal-key-encoded entry. key must be greater
// than every previously added key under the table's comparator.
func (b *Builder) Add(key, value []byte) error {
	if b.pendingIndexEntry {
		sep := base.FindShortestSeparator(b.opts.Compare, b.lastKey, key)
		handle := b.pendingHandle.EncodeTo(nil)
		b.indexBlock.Add(sep, handle)
		b.pendingIndexEntry = false
	}

	if b.filter != nil {
		if ik, ok := base.DecodeInternalKey(key); ok {
			b.filter.AddKey(ik.UserKey)
		}
	}

	b.dataBlock.Add(key, value)
	b.lastKey = append(b.lastKey[:0], key...)
	b.numEntries++

	if b.dataBlock.CurrentSizeEstimate() >= b.opts.BlockSize {
		return b.flushDataBlock()
	}
	return nil
}

func (b *Builder) flushDataBlock() error {
	handle, err := b.writeBlock(b.dataBlock)
	if err != nil {
		return err
	}
	b.pendingHandle = handle
	b.pendingIndexEntry = true
	b.dataBlock.Reset()
	if b.filter != nil {
		b.filter.StartBlock(b.offset)
	}
	return nil
}

func (b *Builder) writeBlock(blk *BlockBuilder) (BlockHandle, error) {
	return b.writeRawBlock(blk.Finish())
}

func (b *Builder) writeRawBlock(contents []byte) (BlockHandle, error) {
	compressed, ctype := maybeCompress(contents)

	trailer := make([]byte, 0, BlockTrailerLen)
	trailer = append(trailer, byte(ctype))
	crc := binfmt.ChecksumCRC32C(append(append([]byte(nil), compressed...), byte(ctype)))
	trailer = binary.LittleEndian.AppendUint32(trailer, binfmt.MaskCRC(crc))

	handle := BlockHandle{Offset: b.offset, Size: uint64(len(compressed))}
	if err := b.file.Append(compressed); err != nil {
		return BlockHandle{}, err
	}
	if err := b.file.Append(trailer); err != nil {
		return BlockHandle{}, err
	}
	b.offset += uint64(len(compressed)) + BlockTrailerLen
	return handle, nil
}

func maybeCompress(raw []byte) ([]byte, CompressionType) {
	compressed := snappy.Encode(nil, raw)
	if len(compressed) < len(raw) {
		return compressed, CompressionSnappy
	}
	return raw, CompressionNone
}

// Finish flushes any pending data block and writes the filter, metaindex,
// index blocks, and footer. The builder must not be reused.
func (b *Builder) Finish() error {
	if b.closed {
		return nil
	}
	b.closed = true

	if !b.dataBlock.Empty() {
		if err := b.flushDataBlock(); err != nil {
			return err
		}
	}

	var filterHandle BlockHandle
	haveFilter := b.filter != nil
	if haveFilter {
		h, err := b.writeRawBlock(b.filter.Finish())
		if err != nil {
			return err
		}
		filterHandle = h
	}

	metaindex := NewBlockBuilder(b.opts.RestartInterval)
	if haveFilter {
		metaindex.Add([]byte("filter."+b.opts.FilterPolicy.Name()), filterHandle.EncodeTo(nil))
	}
	metaindexHandle, err := b.writeBlock(metaindex)
	if err != nil {
		return err
	}

	if b.pendingIndexEntry {
		successor := base.FindShortSuccessor(b.lastKey)
		b.indexBlock.Add(successor, b.pendingHandle.EncodeTo(nil))
		b.pendingIndexEntry = false
	}
	indexHandle, err := b.writeBlock(b.indexBlock)
	if err != nil {
		return err
	}

	footer := Footer{MetaindexHandle: metaindexHandle, IndexHandle: indexHandle}
	if err := b.file.Append(footer.EncodeTo()); err != nil {
		return err
	}
	return b.file.Flush()
}

// NumEntries returns the number of entries added so far.
func (b *Builder) NumEntries() int { return b.numEntries }

// FileSize returns the number of block bytes written so far. It never
// counts the FooterLen-byte footer, even after Finish has appended it.
func (b *Builder) FileSize() uint64 { return b.offset }

// ReaderOptions configures a table Reader.
type ReaderOptions struct {
	Compare      base.Compare
	FilterPolicy *bloom.Policy // must match the policy used to build the table, if any

	// BlockCache, if non-nil, caches decoded data block contents keyed by
	// (FileNum, block offset), so repeated reads of a hot block skip the
	// file read, checksum, and decompression. Table-cache ownership gives
	// each open table a stable FileNum to namespace its block cache keys
	// with, avoiding collisions across distinct tables sharing one Cache.
	BlockCache *cache.Cache
	FileNum    uint64
}

func (o ReaderOptions) withDefaults() ReaderOptions {
	if o.Compare == nil {
		o.Compare = base.DefaultCompare
	}
	return o
}

// Reader opens a table file for point lookups and iteration.
type Reader struct {
	opts   ReaderOptions
	file   storage.RandomAccessReader
	size   int64
	index  *Block
	filter *FilterBlockReader
}

// Open parses file's footer, index block, and (best-effort) filter block.
// size is the table's logical length, which may be smaller than the
// file's physical length if the underlying writer zero-pads a trailing
// partial block.
func Open(file storage.RandomAccessReader, size int64, opts ReaderOptions) (*Reader, error) {
	opts = opts.withDefaults()
	if size < int64(FooterLen) {
		return nil, ErrCorruptFooter
	}

	footerBuf := make([]byte, FooterLen)
	if _, err := file.ReadAt(footerBuf, size-int64(FooterLen)); err != nil {
		return nil, err
	}
	footer, err := DecodeFooter(footerBuf)
	if err != nil {
		return nil, err
	}

	indexContents, err := readBlockContents(file, footer.IndexHandle)
	if err != nil {
		return nil, err
	}
	index, err := NewBlock(indexContents)
	if err != nil {
		return nil, err
	}

	r := &Reader{opts: opts, file: file, size: size, index: index}

	if opts.FilterPolicy != nil {
		metaContents, err := readBlockContents(file, footer.MetaindexHandle)
		if err == nil {
			meta, err := NewBlock(metaContents)
			if err == nil {
				it := meta.NewIterator(base.DefaultCompare)
				it.Seek([]byte("filter." + opts.FilterPolicy.Name()))
				if it.Valid() && string(it.Key()) == "filter."+opts.FilterPolicy.Name() {
					if handle, _, ok := DecodeBlockHandle(it.Value()); ok {
						if filterContents, err := readBlockContents(file, handle); err == nil {
							if fr, ok := NewFilterBlockReader(filterContents); ok {
								r.filter = fr
							}
						}
					}
				}
			}
		}
	}

	return r, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error { return r.file.Close() }

// DetectLogicalSize recovers a table file's logical (unpadded) size from
// its physical size, for a file written by storage.Writer and reopened by
// a fresh process with no other record of how many bytes it actually
// logically appended. storage.Writer zero-pads the trailing partial
// direct-I/O block rather than leaving it unwritten, so the footer magic
// sits at physicalSize-8 only when no padding was applied; otherwise it
// sits somewhere in the last blockSize bytes. This scans candidate
// lengths from physicalSize downward (the common, unpadded case first)
// until it finds one whose trailing 8 bytes match TableMagic.
func DetectLogicalSize(file storage.RandomAccessReader, physicalSize int64, blockSize int) (int64, error) {
	maxPad := int64(blockSize)
	if maxPad > physicalSize {
		maxPad = physicalSize
	}
	var magic [8]byte
	for pad := int64(0); pad <= maxPad; pad++ {
		candidate := physicalSize - pad
		if candidate < int64(FooterLen) {
			break
		}
		if _, err := file.ReadAt(magic[:], candidate-8); err != nil {
			continue
		}
		if binary.LittleEndian.Uint64(magic[:]) == TableMagic {
			return candidate, nil
		}
	}
	return 0, ErrCorruptFooter
}

// readBlockContents reads the block at handle, validates its checksum,
// and undoes any compression.
func readBlockContents(file storage.RandomAccessReader, handle BlockHandle) ([]byte, error) {
	buf := make([]byte, handle.Size+BlockTrailerLen)
	if _, err := file.ReadAt(buf, int64(handle.Offset)); err != nil {
		return nil, err
	}
	body := buf[:handle.Size]
	trailer := buf[handle.Size:]

	ctype := CompressionType(trailer[0])
	wantCRC := binfmt.UnmaskCRC(binary.LittleEndian.Uint32(trailer[1:]))
	gotCRC := binfmt.ChecksumCRC32C(buf[:handle.Size+1])
	if gotCRC != wantCRC {
		return nil, ErrCorruptBlock
	}

	switch ctype {
	case CompressionNone:
		return body, nil
	case CompressionSnappy:
		decoded, err := snappy.Decode(nil, body)
		if err != nil {
			return nil, err
		}
		return decoded, nil
	default:
		return nil, ErrCorruptBlock
	}
}

// blockCacheKey derives the cache key for a data block at handle.Offset
// within this reader's table.
func (r *Reader) blockCacheKey(offset uint64) uint64 {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[0:8], r.opts.FileNum)
	binary.BigEndian.PutUint64(buf[8:16], offset)
	return cache.Hash(buf[:])
}

// loadDataBlock returns the decoded contents of the data block at handle,
// consulting the block cache first when one is configured. The returned
// release func must be called once the caller is done referencing the
// block (e.g. after building its Block and iterator); it is a no-op when
// no cache is configured, since ordinary GC then owns the bytes.
func (r *Reader) loadDataBlock(handle BlockHandle) (contents []byte, release func(), err error) {
	if r.opts.BlockCache == nil {
		contents, err = readBlockContents(r.file, handle)
		return contents, func() {}, err
	}

	key := r.blockCacheKey(handle.Offset)
	if h := r.opts.BlockCache.Lookup(key); h != nil {
		return h.Value().([]byte), h.Release, nil
	}

	contents, err = readBlockContents(r.file, handle)
	if err != nil {
		return nil, func() {}, err
	}
	h := r.opts.BlockCache.Insert(key, contents, len(contents), nil)
	return contents, h.Release, nil
}

// InternalGet looks up key (an encoded internal key) and returns the
// newest entry at or below its sequence number for the same user key.
// It returns ErrNotFound if no such entry exists in this table.
func (r *Reader) InternalGet(key []byte) (*base.InternalKV, error) {
	indexCmp := func(a, b []byte) int { return base.InternalCompare(r.opts.Compare, a, b) }

	iit := r.index.NewIterator(indexCmp)
	iit.Seek(key)
	if !iit.Valid() {
		return nil, ErrNotFound
	}

	handle, _, ok := DecodeBlockHandle(iit.Value())
	if !ok {
		return nil, ErrCorruptBlock
	}

	if r.filter != nil {
		ik, ok := base.DecodeInternalKey(key)
		if ok && !r.filter.KeyMayMatch(handle.Offset, ik.UserKey) {
			return nil, ErrNotFound
		}
	}

	contents, release, err := r.loadDataBlock(handle)
	if err != nil {
		return nil, err
	}
	defer release()
	blk, err := NewBlock(contents)
	if err != nil {
		return nil, err
	}

	dit := blk.NewIterator(indexCmp)
	dit.Seek(key)
	if !dit.Valid() {
		return nil, ErrNotFound
	}

	wantKey, ok := base.DecodeInternalKey(key)
	if !ok {
		return nil, ErrCorruptBlock
	}
	gotKey, ok := base.DecodeInternalKey(dit.Key())
	if !ok {
		return nil, ErrCorruptBlock
	}
	if r.opts.Compare(gotKey.UserKey, wantKey.UserKey) != 0 {
		return nil, ErrNotFound
	}

	return &base.InternalKV{K: gotKey, V: append([]byte(nil), dit.Value()...)}, nil
}

// NewIterator returns an iterator over the table's index block, for
// callers (the two-level iterator) that drive data-block iteration
// themselves.
func (r *Reader) NewIterator(cmp base.Compare) *Iterator {
	return r.index.NewIterator(func(a, b []byte) int { return base.InternalCompare(cmp, a, b) })
}

// DataBlockReader opens the data block referenced by an index entry's
// value (an encoded BlockHandle) and returns an iterator over it along
// with the release func for the block's cache handle (if any). The
// iterator's backing contents remain valid only until release is called,
// so callers must not release until they are done with the iterator —
// see NewReleasingKVIterator, which ties the two together.
func (r *Reader) DataBlockReader(indexValue []byte, cmp base.Compare) (*Iterator, func(), error) {
	handle, _, ok := DecodeBlockHandle(indexValue)
	if !ok {
		return nil, nil, ErrCorruptBlock
	}
	contents, release, err := r.loadDataBlock(handle)
	if err != nil {
		return nil, nil, err
	}
	blk, err := NewBlock(contents)
	if err != nil {
		release()
		return nil, nil, err
	}
	return blk.NewIterator(func(a, b []byte) int { return base.InternalCompare(cmp, a, b) }), release, nil
}
