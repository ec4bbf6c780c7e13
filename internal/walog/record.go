// Package walog implements the write-ahead log framing and recovery codec:
// a block-aligned record log with CRC, supporting fragmentation of records
// across physical blocks.
package walog

import "boulder/internal/binfmt"

// BlockSize is the size of a WAL block. Every record's 7-byte header and
// payload physically fit within a single block; a logical record that does
// not fit in the block's remaining space is fragmented across consecutive
// blocks.
const BlockSize = 32 * 1024

// HeaderSize is the size of a physical record's header: fixed32 masked_crc
// || fixed16 length || uint8 type.
const HeaderSize = 4 + 2 + 1

// recordType identifies how a physical record participates in
// reassembling a logical record.
type recordType uint8

const (
	recordTypeZero   recordType = 0 // preallocation artifact; always skipped
	recordTypeFull   recordType = 1
	recordTypeFirst  recordType = 2
	recordTypeMiddle recordType = 3
	recordTypeLast   recordType = 4
)

// maxRecordPayload is the largest payload a single physical record may
// carry within one block.
const maxRecordPayload = BlockSize - HeaderSize

func checksumRecord(typ recordType, payload []byte) uint32 {
	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, byte(typ))
	buf = append(buf, payload...)
	return binfmt.ChecksumCRC32C(buf)
}

func putHeader(dst []byte, typ recordType, payload []byte) {
	crc := checksumRecord(typ, payload)
	binfmt.PutFixed32(dst[0:4], binfmt.MaskCRC(crc))
	dst[4] = byte(len(payload))
	dst[5] = byte(len(payload) >> 8)
	dst[6] = byte(typ)
}
