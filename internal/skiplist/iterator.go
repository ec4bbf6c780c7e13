package skiplist

// Iterator is an iterator over a Skiplist's keys in comparator order. The
// zero value is not usable; construct one with Skiplist.NewIterator. An
// Iterator is not safe for concurrent use, but distinct Iterators over the
// same Skiplist may be used concurrently with each other and with Add.
type Iterator struct {
	list *Skiplist
	nd   *node
}

// NewIterator returns a new, unpositioned Iterator over s.
func (s *Skiplist) NewIterator() *Iterator {
	return &Iterator{list: s}
}

// Valid reports whether the iterator is positioned at a valid node.
func (it *Iterator) Valid() bool { return it.nd != nil }

// Key returns the key at the current position. Valid must return true.
func (it *Iterator) Key() []byte { return it.nd.key }

// SeekToFirst positions the iterator at the smallest key in the list.
func (it *Iterator) SeekToFirst() {
	it.nd = it.list.head.next(0)
}

// SeekToLast positions the iterator at the largest key in the list.
func (it *Iterator) SeekToLast() {
	it.nd = it.list.findLast()
}

// Seek positions the iterator at the first key >= target.
func (it *Iterator) Seek(target []byte) {
	it.nd = it.list.findGreaterOrEqual(target)
}

// Next advances to the next key. Valid must return true before calling.
func (it *Iterator) Next() {
	it.nd = it.nd.next(0)
}

// Prev moves to the previous key. Valid must return true before calling.
// There are no back-pointers in the underlying list, so this
// rescans from the head via FindLessThan, mirroring LevelDB's original
// SkipList::Iterator::Prev.
func (it *Iterator) Prev() {
	it.nd = it.list.findLessThan(it.nd.key)
}
