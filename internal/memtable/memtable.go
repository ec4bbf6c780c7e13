// Package memtable implements the in-memory write buffer: a skip-list
// adapter that encodes internal keys and values into the skip-list's flat
// byte-key space and provides user-level Add/Get, plus reference-counted
// lifetime tracking for flush handoff.
package memtable

import (
	"errors"
	"sync/atomic"

	"boulder/internal/arenaalloc"
	"boulder/internal/base"
	"boulder/internal/binfmt"
	"boulder/internal/skiplist"
)

var (
	// ErrRecordExists mirrors skiplist.ErrRecordExists: the caller must
	// retry with a fresh sequence number.
	ErrRecordExists = skiplist.ErrRecordExists
	// ErrNotFound is returned by Get when no entry for the user key exists
	// at or below the requested sequence number.
	ErrNotFound = errors.New("memtable: not found")
)

// MemTable is the active or immutable in-memory write buffer: a single
// skip-list over the memtable-entry encoding ("varint32
// internal_key_len || internal_key || varint32 value_len || value").
type MemTable struct {
	skiplist *skiplist.Skiplist
	cmp      base.Compare
	refs     atomic.Int32
}

// New returns an empty MemTable ordering user keys with cmp. A freshly
// created MemTable starts with a single reference, held by its owning DB;
// that reference is released when the memtable is flushed (see Unref).
func New(cmp base.Compare) *MemTable {
	m := &MemTable{cmp: cmp}
	m.refs.Store(1)
	m.skiplist = skiplist.New(arenaalloc.New(), memtableCompare(cmp))
	return m
}

// memtableCompare decodes the varint-length-prefixed internal key from
// each side of a raw skip-list key and compares using the internal key
// total order.
func memtableCompare(cmp base.Compare) base.Compare {
	return func(a, b []byte) int {
		aKey := decodeMemtableKey(a)
		bKey := decodeMemtableKey(b)
		return base.InternalCompare(cmp, aKey, bKey)
	}
}

// decodeMemtableKey strips the varint32 length prefix from a raw
// memtable-entry key, returning just the encoded internal key.
func decodeMemtableKey(raw []byte) []byte {
	length, n := binfmt.Varint32(raw)
	return raw[n : n+int(length)]
}

// encodeEntry builds the full memtable-entry encoding for a single
// internal-key/value pair.
func encodeEntry(key base.InternalKey, value []byte) []byte {
	ikLen := key.EncodedLen()
	buf := make([]byte, 0, binfmt.MaxVarint32Len+ikLen+binfmt.MaxVarint32Len+len(value))
	buf = binfmt.PutVarint32(buf, uint32(ikLen))
	buf = key.Encode(buf)
	buf = binfmt.PutVarint32(buf, uint32(len(value)))
	buf = append(buf, value...)
	return buf
}

// Add inserts a value (or tombstone, if kind is InternalKeyKindDelete) for
// userKey at the given sequence number.
func (m *MemTable) Add(seqNum base.SeqNum, kind base.InternalKeyKind, userKey, value []byte) error {
	ik := base.MakeInternalKey(userKey, seqNum, kind)
	entry := encodeEntry(ik, value)
	if err := m.skiplist.Add(entry); err != nil {
		return err
	}
	return nil
}

// Get looks up userKey as of snapshot seqNum. If the newest visible entry
// is a tombstone, Get returns ErrNotFound. If no entry exists at all, Get
// also returns ErrNotFound.
func (m *MemTable) Get(userKey []byte, seqNum base.SeqNum) (value []byte, err error) {
	lk := base.MakeLookupKey(userKey, seqNum)
	it := m.skiplist.NewIterator()
	it.Seek(lk.MemtableKey())
	if !it.Valid() {
		return nil, ErrNotFound
	}

	ik := decodeMemtableKey(it.Key())
	found, ok := base.DecodeInternalKey(ik)
	if !ok || m.cmp(found.UserKey, userKey) != 0 {
		return nil, ErrNotFound
	}

	switch found.Kind() {
	case base.InternalKeyKindDelete:
		return nil, ErrNotFound
	default:
		_, valLen, valBuf := splitEntryValue(it.Key())
		return valBuf[:valLen:valLen], nil
	}
}

// GetRaw behaves like Get but also reports whether any entry (Set or
// Delete) shadows userKey at or below seqNum, distinguishing "no entry
// here, keep searching older sources" (found=false) from "a tombstone is
// the newest entry, the key is deleted" (found=true, err=ErrNotFound). A
// caller consulting the active memtable, then immutable memtables, then
// sstables in recency order must stop at the first found=true regardless
// of err, since a tombstone shadows every older version of the key.
func (m *MemTable) GetRaw(userKey []byte, seqNum base.SeqNum) (value []byte, found bool, err error) {
	lk := base.MakeLookupKey(userKey, seqNum)
	it := m.skiplist.NewIterator()
	it.Seek(lk.MemtableKey())
	if !it.Valid() {
		return nil, false, ErrNotFound
	}

	ik := decodeMemtableKey(it.Key())
	entryKey, ok := base.DecodeInternalKey(ik)
	if !ok || m.cmp(entryKey.UserKey, userKey) != 0 {
		return nil, false, ErrNotFound
	}

	switch entryKey.Kind() {
	case base.InternalKeyKindDelete:
		return nil, true, ErrNotFound
	default:
		_, valLen, valBuf := splitEntryValue(it.Key())
		return valBuf[:valLen:valLen], true, nil
	}
}

// splitEntryValue decodes the value length and payload trailing a raw
// memtable entry's internal key.
func splitEntryValue(raw []byte) (ikLen int, valLen int, valBuf []byte) {
	length, n := binfmt.Varint32(raw)
	ikLen = int(length)
	rest := raw[n+ikLen:]
	vLen, vn := binfmt.Varint32(rest)
	return ikLen, int(vLen), rest[vn:]
}

// NewIterator returns an iterator over every entry in the memtable, in
// internal-key order (ascending user key, descending sequence number).
func (m *MemTable) NewIterator() *Iterator {
	return &Iterator{it: m.skiplist.NewIterator()}
}

// MemoryUsage returns the number of bytes consumed by the memtable's
// backing arena.
func (m *MemTable) MemoryUsage() uint64 {
	return m.skiplist.Arena().MemoryUsage()
}

// Ref increments the memtable's reference count. Every call to Ref must be
// matched by a call to Unref. Safe to call while other goroutines hold only
// a read lock on the owning DB, since concurrent readers may Ref/Unref the
// same memtable without serializing against each other.
func (m *MemTable) Ref() { m.refs.Add(1) }

// Unref decrements the reference count, reporting whether it reached zero.
// The owning DB calls this once when the memtable is flushed; readers with
// an open iterator should Ref before iterating and Unref when done so the
// memtable is not reclaimed mid-read.
func (m *MemTable) Unref() bool {
	return m.refs.Add(-1) == 0
}
