// Package iterutil implements the two composite read-path iterators: a
// k-way merging iterator over the memtable(s) and per-level sstables, and
// a two-level iterator adapting an index-block iterator plus a lazily
// opened per-entry data-block iterator into a single flat iterator.
// Modeled on LevelDB's db/merger.cc and table/two_level_iterator.cc,
// expressed over the common First/Last/Next/Prev/Seek/Close contract that
// memtable.Iterator and sstable.KVIterator already implement.
package iterutil

import "boulder/internal/base"

// InternalIterator is the common contract every child iterator composed
// by MergingIterator and TwoLevelIterator must satisfy.
type InternalIterator interface {
	First() *base.InternalKV
	Last() *base.InternalKV
	Next() *base.InternalKV
	Prev() *base.InternalKV
	Seek(encodedInternalKey []byte) *base.InternalKV
	Close() error
}

type direction int

const (
	dirForward direction = iota
	dirReverse
)

// MergingIterator merges n child iterators (typically the mutable
// memtable, any immutable memtables, and one per-level sstable iterator)
// into a single iterator producing internal keys in InternalCompare
// order. On a direction change, every child not currently positioned at
// the merged key is resynced to straddle it, matching LevelDB's
// MergingIterator::Prev/Next handling of children that were left behind
// by a one-sided Seek.
type MergingIterator struct {
	cmp      base.Compare
	children []InternalIterator
	current  []*base.InternalKV // current[i] is children[i]'s last-returned position, or nil
	dir      direction
	idx      int // index into children of the current merged position, -1 if invalid
}

// NewMergingIterator returns a MergingIterator over children, ordering
// user keys with cmp.
func NewMergingIterator(cmp base.Compare, children []InternalIterator) *MergingIterator {
	return &MergingIterator{
		cmp:      cmp,
		children: children,
		current:  make([]*base.InternalKV, len(children)),
		idx:      -1,
	}
}

func (m *MergingIterator) internalCompare(a, b base.InternalKey) int {
	return base.InternalKeyCompare(m.cmp, a, b)
}

// findSmallest sets m.idx to the child with the smallest current key, or
// -1 if every child is exhausted.
func (m *MergingIterator) findSmallest() {
	m.idx = -1
	for i, kv := range m.current {
		if kv == nil {
			continue
		}
		if m.idx == -1 || m.internalCompare(kv.K, m.current[m.idx].K) < 0 {
			m.idx = i
		}
	}
}

// findLargest sets m.idx to the child with the largest current key, or
// -1 if every child is exhausted.
func (m *MergingIterator) findLargest() {
	m.idx = -1
	for i, kv := range m.current {
		if kv == nil {
			continue
		}
		if m.idx == -1 || m.internalCompare(kv.K, m.current[m.idx].K) > 0 {
			m.idx = i
		}
	}
}

func (m *MergingIterator) value() *base.InternalKV {
	if m.idx < 0 {
		return nil
	}
	return m.current[m.idx]
}

// First positions every child at its first entry and merges them.
func (m *MergingIterator) First() *base.InternalKV {
	for i, c := range m.children {
		m.current[i] = c.First()
	}
	m.dir = dirForward
	m.findSmallest()
	return m.value()
}

// Last positions every child at its last entry and merges them.
func (m *MergingIterator) Last() *base.InternalKV {
	for i, c := range m.children {
		m.current[i] = c.Last()
	}
	m.dir = dirReverse
	m.findLargest()
	return m.value()
}

// Seek positions every child at the first entry >= target and merges
// them.
func (m *MergingIterator) Seek(target []byte) *base.InternalKV {
	for i, c := range m.children {
		m.current[i] = c.Seek(target)
	}
	m.dir = dirForward
	m.findSmallest()
	return m.value()
}

// Next advances the merged position by one entry.
func (m *MergingIterator) Next() *base.InternalKV {
	if m.idx < 0 {
		return nil
	}
	if m.dir != dirForward {
		// Every other child is currently positioned at or before the key
		// we just returned (an artifact of having searched backward to get
		// here); advance each one past it so it straddles the current key
		// going forward, matching the smallest-key-wins invariant.
		key := m.current[m.idx].K
		for i, c := range m.children {
			if i == m.idx {
				continue
			}
			kv := m.current[i]
			if kv == nil {
				m.current[i] = c.Seek(key.Encode(nil))
				continue
			}
			if m.internalCompare(kv.K, key) <= 0 {
				m.current[i] = c.Seek(key.Encode(nil))
				if m.current[i] != nil && m.internalCompare(m.current[i].K, key) == 0 {
					m.current[i] = c.Next()
				}
			}
		}
		m.dir = dirForward
	}
	m.current[m.idx] = m.children[m.idx].Next()
	m.findSmallest()
	return m.value()
}

// Prev moves the merged position back by one entry.
func (m *MergingIterator) Prev() *base.InternalKV {
	if m.idx < 0 {
		return nil
	}
	if m.dir != dirReverse {
		key := m.current[m.idx].K
		for i, c := range m.children {
			if i == m.idx {
				continue
			}
			kv := m.current[i]
			if kv == nil {
				m.current[i] = c.Last()
			}
			for m.current[i] != nil && m.internalCompare(m.current[i].K, key) >= 0 {
				m.current[i] = c.Prev()
			}
		}
		m.dir = dirReverse
	}
	m.current[m.idx] = m.children[m.idx].Prev()
	m.findLargest()
	return m.value()
}

// Close closes every child iterator, returning the first error
// encountered (if any), after attempting to close them all.
func (m *MergingIterator) Close() error {
	var first error
	for _, c := range m.children {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
