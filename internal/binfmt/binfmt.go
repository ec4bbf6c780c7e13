// Package binfmt implements the endian-neutral primitive codecs shared by
// every on-disk and in-memory format in the engine: fixed-width
// little-endian integers, base-128 varints, and masked CRC-32C checksums.
package binfmt

import (
	"encoding/binary"
	"hash/crc32"
	"math/bits"
)

// PutFixed32 writes v to dst[0:4] in little-endian order.
func PutFixed32(dst []byte, v uint32) {
	binary.LittleEndian.PutUint32(dst, v)
}

// Fixed32 reads a little-endian uint32 from the front of src.
func Fixed32(src []byte) uint32 {
	return binary.LittleEndian.Uint32(src)
}

// PutFixed64 writes v to dst[0:8] in little-endian order.
func PutFixed64(dst []byte, v uint64) {
	binary.LittleEndian.PutUint64(dst, v)
}

// Fixed64 reads a little-endian uint64 from the front of src.
func Fixed64(src []byte) uint64 {
	return binary.LittleEndian.Uint64(src)
}

// MaxVarint32Len is the worst-case encoded length of a 32-bit varint.
const MaxVarint32Len = 5

// MaxVarint64Len is the worst-case encoded length of a 64-bit varint.
const MaxVarint64Len = 10

// PutVarint32 appends the varint encoding of v to dst and returns the result.
func PutVarint32(dst []byte, v uint32) []byte {
	return PutVarint64(dst, uint64(v))
}

// PutVarint64 appends the varint encoding of v to dst and returns the
// result. Each byte carries 7 bits of payload; the MSB is the continuation
// bit.
func PutVarint64(dst []byte, v uint64) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// Varint32 decodes a 32-bit varint from the front of src, returning the
// value and the number of bytes consumed. n is 0 if src does not contain a
// complete, valid varint.
func Varint32(src []byte) (v uint32, n int) {
	v64, n := Varint64(src)
	return uint32(v64), n
}

// Varint64 decodes a 64-bit varint from the front of src, returning the
// value and the number of bytes consumed. n is 0 if src does not contain a
// complete, valid varint.
func Varint64(src []byte) (v uint64, n int) {
	var shift uint
	for i, b := range src {
		if i == MaxVarint64Len {
			return 0, 0
		}
		if b < 0x80 {
			v |= uint64(b) << shift
			return v, i + 1
		}
		v |= uint64(b&0x7f) << shift
		shift += 7
	}
	return 0, 0
}

// PutLengthPrefixedSlice appends a varint32 length prefix followed by the
// bytes of s (the "lp_slice" encoding used throughout the write batch and
// memtable formats).
func PutLengthPrefixedSlice(dst []byte, s []byte) []byte {
	dst = PutVarint32(dst, uint32(len(s)))
	return append(dst, s...)
}

// GetLengthPrefixedSlice decodes a length-prefixed slice from the front of
// src, returning the payload and the remaining bytes. ok is false if src
// does not contain a complete, valid encoding.
func GetLengthPrefixedSlice(src []byte) (payload, rest []byte, ok bool) {
	length, n := Varint32(src)
	if n == 0 {
		return nil, nil, false
	}
	src = src[n:]
	if uint32(len(src)) < length {
		return nil, nil, false
	}
	return src[:length], src[length:], true
}

// crc32cTable is the Castagnoli polynomial table used for all checksums in
// this engine (WAL records and sstable blocks).
var crc32cTable = crc32.MakeTable(crc32.Castagnoli)

// ChecksumCRC32C computes the unmasked CRC-32C of data.
func ChecksumCRC32C(data []byte) uint32 {
	return crc32.Checksum(data, crc32cTable)
}

// crcMaskDelta is added (mod 2^32) to a rotated CRC before it is persisted,
// so that a CRC that happens to be zero (or that embeds another CRC) does
// not produce pathological bit patterns on disk.
const crcMaskDelta uint32 = 0xa282ead8

// MaskCRC rotates crc right by 15 bits and adds the mask delta. Stored CRCs
// are always masked; ChecksumCRC32C returns the unmasked value.
func MaskCRC(crc uint32) uint32 {
	return bits.RotateLeft32(crc, -15) + crcMaskDelta
}

// UnmaskCRC reverses MaskCRC.
func UnmaskCRC(masked uint32) uint32 {
	rotated := masked - crcMaskDelta
	return bits.RotateLeft32(rotated, 15)
}
