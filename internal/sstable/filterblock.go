package sstable

import (
	"encoding/binary"

	"boulder/internal/bloom"
)

// filterBaseLg is the log2 of the filter base size: one Bloom filter
// region covers every 2 KiB of data-block address space.
const filterBaseLg = 11

const filterBase = 1 << filterBaseLg

// FilterBlockBuilder buffers keys per 2 KiB region of data-block offsets
// and emits one Bloom filter per region, so a reader can check "might this
// key be in the data block starting at offset X" without reading the
// block.
type FilterBlockBuilder struct {
	policy      *bloom.Policy
	keys        [][]byte
	result      []byte
	filterStart []uint32
}

// NewFilterBlockBuilder returns a FilterBlockBuilder using policy to build
// each region's filter.
func NewFilterBlockBuilder(policy *bloom.Policy) *FilterBlockBuilder {
	return &FilterBlockBuilder{policy: policy}
}

// StartBlock is called with the file offset of each data block as it is
// flushed, so the builder can emit filters for every base region the
// offset has now passed.
func (b *FilterBlockBuilder) StartBlock(blockOffset uint64) {
	index := blockOffset / filterBase
	for uint64(len(b.filterStart)) < index {
		b.generateFilter()
	}
}

// AddKey buffers key for inclusion in the filter of the region currently
// being built.
func (b *FilterBlockBuilder) AddKey(key []byte) {
	b.keys = append(b.keys, append([]byte(nil), key...))
}

func (b *FilterBlockBuilder) generateFilter() {
	b.filterStart = append(b.filterStart, uint32(len(b.result)))
	b.result = b.policy.Build(b.result, b.keys)
	b.keys = b.keys[:0]
}

// Finish flushes any pending filter and appends the offset array, a
// fixed32 holding the array's starting offset, and the base-lg byte.
func (b *FilterBlockBuilder) Finish() []byte {
	if len(b.keys) > 0 {
		b.generateFilter()
	}
	arrayOffset := len(b.result)
	for _, off := range b.filterStart {
		b.result = binary.LittleEndian.AppendUint32(b.result, off)
	}
	b.result = binary.LittleEndian.AppendUint32(b.result, uint32(arrayOffset))
	b.result = append(b.result, byte(filterBaseLg))
	return b.result
}

// FilterBlockReader answers KeyMayMatch queries against a parsed filter
// block.
type FilterBlockReader struct {
	data    []byte
	offsets []byte // the encoded offset array, sliced out of data
	numLen  int    // number of fixed32 offsets in offsets
	baseLg  int
}

// NewFilterBlockReader parses a filter block's contents. ok is false if
// the block is too short to contain a valid trailer.
func NewFilterBlockReader(contents []byte) (*FilterBlockReader, bool) {
	if len(contents) < 5 {
		return nil, false
	}
	baseLg := int(contents[len(contents)-1])
	arrayOffset := binary.LittleEndian.Uint32(contents[len(contents)-5:])
	if uint64(arrayOffset) > uint64(len(contents)-5) {
		return nil, false
	}
	offsets := contents[arrayOffset : len(contents)-5]
	numLen := len(offsets) / 4
	return &FilterBlockReader{data: contents, offsets: offsets, numLen: numLen, baseLg: baseLg}, true
}

// KeyMayMatch reports whether key may be present in the data block whose
// file offset is blockOffset.
func (r *FilterBlockReader) KeyMayMatch(blockOffset uint64, key []byte) bool {
	index := int(blockOffset >> uint(r.baseLg))
	if index >= r.numLen {
		return true // past the end of recorded regions: be conservative
	}
	start := binary.LittleEndian.Uint32(r.offsets[index*4:])
	var limit uint32
	if index+1 < r.numLen {
		limit = binary.LittleEndian.Uint32(r.offsets[(index+1)*4:])
	} else {
		limit = uint32(len(r.data) - 5 - len(r.offsets))
	}
	if start > limit || int(limit) > len(r.data)-5-len(r.offsets) {
		return true
	}
	filter := r.data[start:limit]
	if len(filter) == 0 {
		return false
	}
	return bloom.KeyMayMatch(filter, key)
}
