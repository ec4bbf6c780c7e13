package iterutil

import "boulder/internal/base"

// BlockIterFactory opens the data iterator a single index entry's value
// refers to (an encoded BlockHandle, in sstable's case). It may return a
// nil iterator with a nil error for an intentionally empty block.
type BlockIterFactory func(indexValue []byte) (InternalIterator, error)

// TwoLevelIterator composes an index iterator (separator keys mapping to
// opaque block handles) with a lazily constructed data iterator per
// index entry, presenting the pair as a single flat iterator. Modeled on
// LevelDB's table/two_level_iterator.cc, including its
// skip-empty-blocks-in-the-seek-direction behavior.
type TwoLevelIterator struct {
	index   InternalIterator
	factory BlockIterFactory
	data    InternalIterator
	err     error
	release func()
}

// NewTwoLevelIterator returns a TwoLevelIterator over index, opening data
// iterators on demand via factory.
func NewTwoLevelIterator(index InternalIterator, factory BlockIterFactory) *TwoLevelIterator {
	return &TwoLevelIterator{index: index, factory: factory}
}

// Err returns the first error encountered while opening a data iterator,
// if any.
func (t *TwoLevelIterator) Err() error { return t.err }

func (t *TwoLevelIterator) setData(indexKV *base.InternalKV) error {
	if t.data != nil {
		if err := t.data.Close(); err != nil && t.err == nil {
			t.err = err
		}
		t.data = nil
	}
	if indexKV == nil {
		return nil
	}
	child, err := t.factory(indexKV.V)
	if err != nil {
		t.err = err
		return err
	}
	t.data = child
	return nil
}

func (t *TwoLevelIterator) skipEmptyForward(kv *base.InternalKV) *base.InternalKV {
	for kv == nil {
		indexKV := t.index.Next()
		if err := t.setData(indexKV); err != nil {
			return nil
		}
		if indexKV == nil {
			return nil
		}
		if t.data == nil {
			continue
		}
		kv = t.data.First()
	}
	return kv
}

func (t *TwoLevelIterator) skipEmptyBackward(kv *base.InternalKV) *base.InternalKV {
	for kv == nil {
		indexKV := t.index.Prev()
		if err := t.setData(indexKV); err != nil {
			return nil
		}
		if indexKV == nil {
			return nil
		}
		if t.data == nil {
			continue
		}
		kv = t.data.Last()
	}
	return kv
}

// First positions the iterator at the smallest entry in the first
// non-empty data block.
func (t *TwoLevelIterator) First() *base.InternalKV {
	indexKV := t.index.First()
	if t.setData(indexKV) != nil || t.data == nil {
		return t.skipEmptyForward(nil)
	}
	return t.skipEmptyForward(t.data.First())
}

// Last positions the iterator at the largest entry in the last non-empty
// data block.
func (t *TwoLevelIterator) Last() *base.InternalKV {
	indexKV := t.index.Last()
	if t.setData(indexKV) != nil || t.data == nil {
		return t.skipEmptyBackward(nil)
	}
	return t.skipEmptyBackward(t.data.Last())
}

// Seek positions the iterator at the first entry >= target.
func (t *TwoLevelIterator) Seek(target []byte) *base.InternalKV {
	indexKV := t.index.Seek(target)
	if t.setData(indexKV) != nil || t.data == nil {
		return t.skipEmptyForward(nil)
	}
	return t.skipEmptyForward(t.data.Seek(target))
}

// Next advances to the next entry, crossing into the next data block if
// the current one is exhausted.
func (t *TwoLevelIterator) Next() *base.InternalKV {
	if t.data == nil {
		return nil
	}
	return t.skipEmptyForward(t.data.Next())
}

// Prev moves to the previous entry, crossing into the prior data block
// if the current one is exhausted.
func (t *TwoLevelIterator) Prev() *base.InternalKV {
	if t.data == nil {
		return nil
	}
	return t.skipEmptyBackward(t.data.Prev())
}

// Close closes the index iterator, the current data iterator (if any),
// and returns the first error encountered across both, favoring any
// error already recorded by a failed factory call.
func (t *TwoLevelIterator) Close() error {
	if err := t.index.Close(); err != nil && t.err == nil {
		t.err = err
	}
	if t.data != nil {
		if err := t.data.Close(); err != nil && t.err == nil {
			t.err = err
		}
	}
	if t.release != nil {
		t.release()
	}
	return t.err
}

// NewReleasingTwoLevelIterator returns a TwoLevelIterator that invokes
// release exactly once, during Close, after closing its children. Used
// by a table cache to tie an iterator's lifetime to a held cache Handle.
func NewReleasingTwoLevelIterator(index InternalIterator, factory BlockIterFactory, release func()) *TwoLevelIterator {
	t := NewTwoLevelIterator(index, factory)
	t.release = release
	return t
}
