// Package base defines the internal key format shared by every component of
// the engine: the (user_key, sequence, kind) encoding that backs both the
// memtable's skip-list and the on-disk sstable format, and on which all
// ordering and MVCC semantics hinge.
package base

import (
	"encoding/binary"
	"fmt"
)

// SeqNum is a sequence number defining precedence among identical user
// keys. A key with a higher sequence number takes precedence over a key
// with an equal user key of a lower sequence number. Sequence numbers are
// stored durably within the internal key trailer as a 56-bit uint, assigned
// in strictly increasing order as writes are committed to the database.
type SeqNum uint64

const (
	// SeqNumZero is never assigned to a real write; it is reserved so a
	// zero-value Trailer is recognizably invalid.
	SeqNumZero SeqNum = 0
	// SeqNumStart is the first sequence number assigned to a committed
	// write.
	SeqNumStart SeqNum = 1
	// SeqNumMax is the largest representable sequence number (2^56 - 1).
	SeqNumMax SeqNum = 1<<56 - 1
)

// InternalKeyKind distinguishes a live value from a tombstone.
type InternalKeyKind uint8

const (
	// InternalKeyKindDelete marks a tombstone: the entry shadows any older
	// entry for the same user key and carries no value.
	InternalKeyKindDelete InternalKeyKind = 0x00
	// InternalKeyKindSet marks a live value.
	InternalKeyKindSet InternalKeyKind = 0x01

	// InternalKeyKindMax is the largest valid kind. It sorts before any
	// other kind at an equal (user key, sequence number), which makes it
	// the correct kind to use when constructing a search/lookup key: the
	// lookup key must compare less than or equal to any real key at the
	// same user key and sequence number.
	InternalKeyKindMax = InternalKeyKindSet
)

func (k InternalKeyKind) String() string {
	switch k {
	case InternalKeyKindDelete:
		return "DEL"
	case InternalKeyKindSet:
		return "SET"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint8(k))
	}
}

// InternalKeyTrailer packs a sequence number and a kind into a single
// 64-bit word: the top 56 bits are the sequence number, the low 8 bits are
// the kind. Trailers sort in descending order for a fixed user key, which
// places the newest version of a key first.
type InternalKeyTrailer uint64

// MakeTrailer constructs a trailer from a sequence number and a kind.
func MakeTrailer(seqNum SeqNum, kind InternalKeyKind) InternalKeyTrailer {
	return (InternalKeyTrailer(seqNum) << 8) | InternalKeyTrailer(kind)
}

// SeqNum returns the sequence number component of the trailer.
func (t InternalKeyTrailer) SeqNum() SeqNum {
	return SeqNum(t >> 8)
}

// Kind returns the kind component of the trailer.
func (t InternalKeyTrailer) Kind() InternalKeyKind {
	return InternalKeyKind(t & 0xff)
}

// InternalKeySuffixLen is the fixed-width encoded size of a trailer.
const InternalKeySuffixLen = 8

// InternalKey is the (user_key, sequence, kind) tuple that every stored
// entry in the memtable and every sstable is keyed by. Its zero value (an
// empty key with a zero trailer) is always well-formed, resolving the
// "default-initialized ParsedInternalKey" open question in favor of safety:
// unlike the hand-rolled C++ original, there is no uninitialized state to
// guard against here.
type InternalKey struct {
	UserKey []byte
	Trailer InternalKeyTrailer
}

// MakeInternalKey constructs an internal key from a user key, sequence
// number, and kind.
func MakeInternalKey(userKey []byte, seqNum SeqNum, kind InternalKeyKind) InternalKey {
	return InternalKey{UserKey: userKey, Trailer: MakeTrailer(seqNum, kind)}
}

// SeqNum returns the key's sequence number.
func (k InternalKey) SeqNum() SeqNum { return k.Trailer.SeqNum() }

// Kind returns the key's kind.
func (k InternalKey) Kind() InternalKeyKind { return k.Trailer.Kind() }

// Encode appends the wire encoding of k (user_key || fixed64 trailer) to
// dst and returns the result.
func (k InternalKey) Encode(dst []byte) []byte {
	dst = append(dst, k.UserKey...)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(k.Trailer))
	return append(dst, buf[:]...)
}

// EncodedLen returns the length of k's wire encoding.
func (k InternalKey) EncodedLen() int {
	return len(k.UserKey) + InternalKeySuffixLen
}

// DecodeInternalKey parses an encoded internal key (user_key || fixed64
// trailer). ok is false if buf is shorter than the minimum trailer size;
// the returned UserKey aliases buf.
func DecodeInternalKey(buf []byte) (key InternalKey, ok bool) {
	if len(buf) < InternalKeySuffixLen {
		return InternalKey{}, false
	}
	n := len(buf) - InternalKeySuffixLen
	trailer := binary.LittleEndian.Uint64(buf[n:])
	return InternalKey{UserKey: buf[:n], Trailer: InternalKeyTrailer(trailer)}, true
}

func (k InternalKey) String() string {
	return fmt.Sprintf("%s#%d,%s", k.UserKey, k.SeqNum(), k.Kind())
}

// InternalKV is a single decoded internal key-value pair, as handed back
// from the memtable and sstable read paths.
type InternalKV struct {
	K InternalKey
	V []byte
}
