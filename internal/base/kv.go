package base

import "boulder/internal/binfmt"

// LookupKey is the memtable-key-shaped encoding used to seek the skip-list
// for a point read: varint32(user_key.len+8) || user_key ||
// fixed64((snapshot_seq<<8) | kind). The varint-length prefix matches what
// memtable skip-list entries store (see MemtableKey), and the suffix
// (everything after the varint) is a valid encoded InternalKey usable
// directly against sstable readers.
type LookupKey struct {
	memtableKey []byte
	userKey     []byte
}

// MakeLookupKey constructs a LookupKey for userKey at the given snapshot
// sequence number. The kind used is InternalKeyKindMax (Set), so the
// encoded suffix sorts at or before any real entry for userKey at seqNum.
func MakeLookupKey(userKey []byte, seqNum SeqNum) LookupKey {
	trailerLen := len(userKey) + InternalKeySuffixLen
	buf := make([]byte, 0, binfmt.MaxVarint32Len+trailerLen)
	buf = binfmt.PutVarint32(buf, uint32(trailerLen))
	start := len(buf)
	buf = append(buf, userKey...)
	trailer := MakeTrailer(seqNum, InternalKeyKindMax)
	var b [8]byte
	binfmt.PutFixed64(b[:], uint64(trailer))
	buf = append(buf, b[:]...)
	return LookupKey{memtableKey: buf, userKey: buf[start : start+len(userKey)]}
}

// MemtableKey returns the varint-length-prefixed encoding suitable for
// seeking the memtable's skip-list.
func (lk LookupKey) MemtableKey() []byte { return lk.memtableKey }

// InternalKeyBytes returns the encoded InternalKey suffix (user_key ||
// trailer), suitable for seeking an sstable index or block.
func (lk LookupKey) InternalKeyBytes() []byte {
	_, n := binfmt.Varint32(lk.memtableKey)
	return lk.memtableKey[n:]
}

// UserKey returns the plain user key.
func (lk LookupKey) UserKey() []byte { return lk.userKey }
