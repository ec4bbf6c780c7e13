package sstable

import (
	"encoding/binary"
	"errors"

	"boulder/internal/binfmt"
)

// ErrCorruptFooter is returned when a table's trailing footer does not
// decode to a valid pair of block handles plus the magic number.
var ErrCorruptFooter = errors.New("sstable: corrupt footer")

// TableMagic identifies a valid table footer. Its value has no special
// meaning beyond being a fixed, recognizable constant.
const TableMagic = 0xdb4775248b80fb57

// FooterLen is the fixed, unconditional size of a table's footer: two
// varint64-encoded BlockHandles zero-padded to MaxBlockHandleLen*2, plus
// the 8-byte magic.
const FooterLen = 2*MaxBlockHandleLen + 8

// MaxBlockHandleLen is the largest a BlockHandle's varint64 encoding of
// (offset, size) can be.
const MaxBlockHandleLen = 20

// CompressionType identifies how a block's body is compressed on disk.
type CompressionType uint8

const (
	CompressionNone   CompressionType = 0
	CompressionSnappy CompressionType = 1
)

// BlockTrailerLen is the size of the trailer following every block's body:
// a 1-byte compression type and a 4-byte masked CRC-32C.
const BlockTrailerLen = 1 + 4

// BlockHandle points at the extent of a file holding a single block.
type BlockHandle struct {
	Offset uint64
	Size   uint64
}

// EncodeTo appends the varint64-encoded handle to dst.
func (h BlockHandle) EncodeTo(dst []byte) []byte {
	dst = binfmt.PutVarint64(dst, h.Offset)
	dst = binfmt.PutVarint64(dst, h.Size)
	return dst
}

// DecodeBlockHandle decodes a BlockHandle from the front of src, returning
// the handle and the remaining bytes.
func DecodeBlockHandle(src []byte) (h BlockHandle, rest []byte, ok bool) {
	off, n1 := binfmt.Varint64(src)
	if n1 == 0 {
		return BlockHandle{}, nil, false
	}
	src = src[n1:]
	size, n2 := binfmt.Varint64(src)
	if n2 == 0 {
		return BlockHandle{}, nil, false
	}
	return BlockHandle{Offset: off, Size: size}, src[n2:], true
}

// Footer is the fixed-size structure at the tail of every table file.
type Footer struct {
	MetaindexHandle BlockHandle
	IndexHandle     BlockHandle
}

// EncodeTo returns the footer's fixed FooterLen-byte encoding.
func (f Footer) EncodeTo() []byte {
	buf := make([]byte, 0, FooterLen)
	handles := f.MetaindexHandle.EncodeTo(nil)
	handles = f.IndexHandle.EncodeTo(handles)
	if len(handles) > 2*MaxBlockHandleLen {
		panic("sstable: encoded handles exceed footer padding")
	}
	buf = append(buf, handles...)
	buf = append(buf, make([]byte, 2*MaxBlockHandleLen-len(handles))...)
	buf = binary.LittleEndian.AppendUint64(buf, TableMagic)
	return buf
}

// DecodeFooter parses a FooterLen-byte buffer.
func DecodeFooter(buf []byte) (Footer, error) {
	if len(buf) != FooterLen {
		return Footer{}, ErrCorruptFooter
	}
	magic := binary.LittleEndian.Uint64(buf[len(buf)-8:])
	if magic != TableMagic {
		return Footer{}, ErrCorruptFooter
	}
	rest := buf[:2*MaxBlockHandleLen]
	metaindex, rest, ok := DecodeBlockHandle(rest)
	if !ok {
		return Footer{}, ErrCorruptFooter
	}
	index, _, ok := DecodeBlockHandle(rest)
	if !ok {
		return Footer{}, ErrCorruptFooter
	}
	return Footer{MetaindexHandle: metaindex, IndexHandle: index}, nil
}
