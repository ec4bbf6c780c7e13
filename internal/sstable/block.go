package sstable

import (
	"encoding/binary"
	"errors"

	"boulder/internal/binfmt"
)

// ErrCorruptBlock is returned when a block's restart array or an entry's
// varint-encoded header cannot be decoded.
var ErrCorruptBlock = errors.New("sstable: corrupt block")

// Block is a parsed block body (the bytes between a BlockHandle's offset
// and offset+size, after the trailer has been stripped and any
// compression undone).
type Block struct {
	data          []byte
	restartOffset int // offset within data where the restart array begins
	numRestarts   int
}

// NewBlock parses data's trailing restart-point array. data must outlive
// the returned Block.
func NewBlock(data []byte) (*Block, error) {
	if len(data) < 4 {
		return nil, ErrCorruptBlock
	}
	numRestarts := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	restartOffset := len(data) - 4 - numRestarts*4
	if restartOffset < 0 {
		return nil, ErrCorruptBlock
	}
	return &Block{data: data, restartOffset: restartOffset, numRestarts: numRestarts}, nil
}

func (blk *Block) restartPoint(i int) int {
	off := blk.restartOffset + i*4
	return int(binary.LittleEndian.Uint32(blk.data[off : off+4]))
}

// blockEntry is one decoded entry: its full key, its value, and the
// offset of the entry that follows it.
type blockEntry struct {
	key        []byte
	value      []byte
	nextOffset int
}

// decodeEntry decodes the entry at offset, reconstructing its full key
// from lastKey's shared prefix.
func (blk *Block) decodeEntry(offset int, lastKey []byte) (blockEntry, bool) {
	if offset >= blk.restartOffset {
		return blockEntry{}, false
	}
	p := blk.data[offset:blk.restartOffset]

	shared, n1 := binfmt.Varint32(p)
	if n1 == 0 {
		return blockEntry{}, false
	}
	p = p[n1:]
	unsharedLen, n2 := binfmt.Varint32(p)
	if n2 == 0 {
		return blockEntry{}, false
	}
	p = p[n2:]
	valueLen, n3 := binfmt.Varint32(p)
	if n3 == 0 {
		return blockEntry{}, false
	}
	p = p[n3:]

	if uint32(len(p)) < unsharedLen+valueLen {
		return blockEntry{}, false
	}
	unshared := p[:unsharedLen]
	value := p[unsharedLen : unsharedLen+valueLen]

	key := make([]byte, 0, int(shared)+len(unshared))
	if int(shared) <= len(lastKey) {
		key = append(key, lastKey[:shared]...)
	}
	key = append(key, unshared...)

	consumed := n1 + n2 + n3 + int(unsharedLen) + int(valueLen)
	return blockEntry{key: key, value: value, nextOffset: offset + consumed}, true
}

// Iterator is an iterator over a Block's entries in key order, using an
// injected comparator to support Seek via binary search over restart
// points followed by a linear scan.
type Iterator struct {
	blk     *Block
	cmp     func(a, b []byte) int
	offset  int // offset of the current entry, or restartOffset if invalid
	entry   blockEntry
	valid   bool
	lastKey []byte // key accumulated for prefix decoding, reset at restarts
}

// NewIterator returns an unpositioned Iterator over blk, ordering keys
// with cmp.
func (blk *Block) NewIterator(cmp func(a, b []byte) int) *Iterator {
	return &Iterator{blk: blk, cmp: cmp, offset: blk.restartOffset}
}

// Valid reports whether the iterator is positioned at an entry.
func (it *Iterator) Valid() bool { return it.valid }

// Key returns the current entry's full (decompressed) key.
func (it *Iterator) Key() []byte { return it.entry.key }

// Value returns the current entry's value.
func (it *Iterator) Value() []byte { return it.entry.value }

func (it *Iterator) seekToRestart(i int) {
	offset := it.blk.restartPoint(i)
	it.lastKey = it.lastKey[:0]
	it.offset = offset
	it.parseAt(offset)
}

func (it *Iterator) parseAt(offset int) {
	entry, ok := it.blk.decodeEntry(offset, it.lastKey)
	if !ok {
		it.valid = false
		return
	}
	it.entry = entry
	it.lastKey = append(it.lastKey[:0], entry.key...)
	it.offset = offset
	it.valid = true
}

// SeekToFirst positions the iterator at the block's first entry.
func (it *Iterator) SeekToFirst() {
	it.seekToRestart(0)
}

// SeekToLast positions the iterator at the block's last entry.
func (it *Iterator) SeekToLast() {
	it.seekToRestart(it.blk.numRestarts - 1)
	for it.valid && it.entry.nextOffset < it.blk.restartOffset {
		it.parseAt(it.entry.nextOffset)
	}
}

// Seek positions the iterator at the first entry with key >= target.
func (it *Iterator) Seek(target []byte) {
	lo, hi := 0, it.blk.numRestarts-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		it.seekToRestart(mid)
		if it.cmp(it.entry.key, target) <= 0 {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	it.seekToRestart(lo)
	for it.valid && it.cmp(it.entry.key, target) < 0 {
		it.Next()
	}
}

// Next advances to the next entry. Valid must be true beforehand.
func (it *Iterator) Next() {
	it.parseAt(it.entry.nextOffset)
}

// Prev moves to the previous entry by rescanning from the nearest restart
// point at or before the current entry.
func (it *Iterator) Prev() {
	target := it.offset
	restart := 0
	for i := 0; i < it.blk.numRestarts; i++ {
		if it.blk.restartPoint(i) >= target {
			break
		}
		restart = i
	}
	it.seekToRestart(restart)
	for it.valid && it.entry.nextOffset < target {
		it.Next()
	}
	if it.offset == target {
		it.valid = false
	}
}
