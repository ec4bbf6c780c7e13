package memtable

import (
	"boulder/internal/base"
	"boulder/internal/binfmt"
	"boulder/internal/skiplist"
)

// Iterator adapts a skip-list iterator to produce decoded InternalKV pairs,
// satisfying the common child-iterator contract the merging and two-level
// iterators compose over.
type Iterator struct {
	it *skiplist.Iterator
	kv base.InternalKV
}

func (it *Iterator) decode() *base.InternalKV {
	if !it.it.Valid() {
		return nil
	}
	raw := it.it.Key()
	length, n := binfmt.Varint32(raw)
	ik, ok := base.DecodeInternalKey(raw[n : n+int(length)])
	if !ok {
		return nil
	}
	rest := raw[n+int(length):]
	vLen, vn := binfmt.Varint32(rest)
	it.kv.K = ik
	it.kv.V = rest[vn : vn+int(vLen) : vn+int(vLen)]
	return &it.kv
}

// First positions the iterator at the smallest key and returns it.
func (it *Iterator) First() *base.InternalKV {
	it.it.SeekToFirst()
	return it.decode()
}

// Last positions the iterator at the largest key and returns it.
func (it *Iterator) Last() *base.InternalKV {
	it.it.SeekToLast()
	return it.decode()
}

// Next advances the iterator and returns the new position.
func (it *Iterator) Next() *base.InternalKV {
	if !it.it.Valid() {
		return nil
	}
	it.it.Next()
	return it.decode()
}

// Prev moves the iterator back and returns the new position.
func (it *Iterator) Prev() *base.InternalKV {
	if !it.it.Valid() {
		return nil
	}
	it.it.Prev()
	return it.decode()
}

// Seek positions the iterator at the first entry whose internal key is >=
// the given encoded internal key (user_key || trailer).
func (it *Iterator) Seek(encodedInternalKey []byte) *base.InternalKV {
	search := binfmt.PutVarint32(nil, uint32(len(encodedInternalKey)))
	search = append(search, encodedInternalKey...)
	it.it.Seek(search)
	return it.decode()
}

// Close releases resources held by the iterator. MemTable iterators hold
// no external resources, so this is always a no-op.
func (it *Iterator) Close() error {
	return nil
}
