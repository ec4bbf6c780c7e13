package sstable

import "boulder/internal/base"

// KVIterator adapts a block Iterator to the common child-iterator
// contract (First/Last/Next/Prev/Seek/Close returning *base.InternalKV)
// that the merging and two-level iterators compose over, mirroring
// memtable.Iterator's adapter for the skip-list.
type KVIterator struct {
	it      *Iterator
	kv      base.InternalKV
	release func()
}

// NewKVIterator wraps it. Used for index-block iterators, which read
// directly from the table file's footer/index and hold no cache handle.
func NewKVIterator(it *Iterator) *KVIterator {
	return &KVIterator{it: it}
}

// NewReleasingKVIterator wraps it and ties release — typically a data
// block's cache handle, from Reader.DataBlockReader — to the iterator's
// lifetime: release fires exactly once, on Close, after it can no longer
// be read from. Mirrors iterutil.NewReleasingTwoLevelIterator, which does
// the same for a table-level cache handle.
func NewReleasingKVIterator(it *Iterator, release func()) *KVIterator {
	return &KVIterator{it: it, release: release}
}

func (k *KVIterator) decode() *base.InternalKV {
	if !k.it.Valid() {
		return nil
	}
	ik, ok := base.DecodeInternalKey(k.it.Key())
	if !ok {
		return nil
	}
	k.kv.K = ik
	k.kv.V = k.it.Value()
	return &k.kv
}

// First positions the iterator at the block's first entry.
func (k *KVIterator) First() *base.InternalKV { k.it.SeekToFirst(); return k.decode() }

// Last positions the iterator at the block's last entry.
func (k *KVIterator) Last() *base.InternalKV { k.it.SeekToLast(); return k.decode() }

// Next advances to the next entry.
func (k *KVIterator) Next() *base.InternalKV {
	if !k.it.Valid() {
		return nil
	}
	k.it.Next()
	return k.decode()
}

// Prev moves to the previous entry.
func (k *KVIterator) Prev() *base.InternalKV {
	if !k.it.Valid() {
		return nil
	}
	k.it.Prev()
	return k.decode()
}

// Seek positions the iterator at the first entry with an encoded
// internal key >= target.
func (k *KVIterator) Seek(target []byte) *base.InternalKV {
	k.it.Seek(target)
	return k.decode()
}

// Close releases the block's cache handle, if this iterator was built
// with NewReleasingKVIterator; otherwise it is a no-op.
func (k *KVIterator) Close() error {
	if k.release != nil {
		k.release()
	}
	return nil
}
