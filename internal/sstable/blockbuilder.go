// Package sstable implements the sorted on-disk table format: block
// builder/reader, filter block, and the table builder/reader that compose
// them into a complete file. Modeled on LevelDB's table/block_builder.h,
// table/block.h, table/format.h, and table/filter_block.cc.
package sstable

import (
	"encoding/binary"

	"boulder/internal/binfmt"
)

// DefaultBlockSize is the target uncompressed size of a data block before
// it is flushed.
const DefaultBlockSize = 4096

// DefaultRestartInterval is the number of entries between full (shared=0)
// restart points.
const DefaultRestartInterval = 16

// BlockBuilder accumulates sorted key/value entries into a single block's
// body, emitting periodic restart points so a reader can binary-search
// without decoding every entry.
type BlockBuilder struct {
	restartInterval int
	buf             []byte
	restarts        []uint32
	counter         int
	lastKey         []byte
	finished        bool
}

// NewBlockBuilder returns a BlockBuilder emitting a restart point every
// restartInterval entries.
func NewBlockBuilder(restartInterval int) *BlockBuilder {
	if restartInterval < 1 {
		restartInterval = 1
	}
	return &BlockBuilder{
		restartInterval: restartInterval,
		restarts:        []uint32{0},
	}
}

// Reset restores the builder to its just-constructed state.
func (b *BlockBuilder) Reset() {
	b.buf = b.buf[:0]
	b.restarts = b.restarts[:0]
	b.restarts = append(b.restarts, 0)
	b.counter = 0
	b.lastKey = b.lastKey[:0]
	b.finished = false
}

// Empty reports whether no entries have been added since construction or
// the last Reset.
func (b *BlockBuilder) Empty() bool { return len(b.buf) == 0 }

// Add appends a single key/value entry. key must be greater than every
// previously added key (by the block's implicit ordering); the caller is
// responsible for maintaining that invariant.
func (b *BlockBuilder) Add(key, value []byte) {
	shared := 0
	if b.counter < b.restartInterval {
		shared = sharedPrefixLen(b.lastKey, key)
	} else {
		b.restarts = append(b.restarts, uint32(len(b.buf)))
		b.counter = 0
	}
	unshared := key[shared:]

	b.buf = binfmt.PutVarint32(b.buf, uint32(shared))
	b.buf = binfmt.PutVarint32(b.buf, uint32(len(unshared)))
	b.buf = binfmt.PutVarint32(b.buf, uint32(len(value)))
	b.buf = append(b.buf, unshared...)
	b.buf = append(b.buf, value...)

	b.lastKey = append(b.lastKey[:0], key...)
	b.counter++
}

// CurrentSizeEstimate returns the block's size if Finish were called now.
func (b *BlockBuilder) CurrentSizeEstimate() int {
	return len(b.buf) + len(b.restarts)*4 + 4
}

// Finish appends the restart-point array and its count, returning the
// complete block body. The builder must not be reused without a Reset.
func (b *BlockBuilder) Finish() []byte {
	for _, r := range b.restarts {
		b.buf = binary.LittleEndian.AppendUint32(b.buf, r)
	}
	b.buf = binary.LittleEndian.AppendUint32(b.buf, uint32(len(b.restarts)))
	b.finished = true
	return b.buf
}

func sharedPrefixLen(a, b []byte) int {
	n := min(len(a), len(b))
	i := 0
	for i < n && a[i] == b[i] {
		i++
	}
	return i
}
