package tablecache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boulder/internal/base"
	"boulder/internal/dbfile"
	"boulder/internal/sstable"
	"boulder/internal/storage"
)

// memTableFile is an in-memory stand-in for a table file, implementing
// both storage.WritableFile (to build it) and storage.RandomAccessReader
// (to open it back up through the TableCache).
type memTableFile struct {
	data   []byte
	closed int
}

func (f *memTableFile) Append(p []byte) error { f.data = append(f.data, p...); return nil }
func (f *memTableFile) Flush() error          { return nil }
func (f *memTableFile) Sync() error           { return nil }
func (f *memTableFile) Close() error          { f.closed++; return nil }
func (f *memTableFile) ReadAt(p []byte, off int64) (int, error) {
	return copy(p, f.data[off:]), nil
}

func buildMemTable(t *testing.T, pairs [][2]string) *memTableFile {
	t.Helper()
	f := &memTableFile{}
	b := sstable.NewBuilder(f, sstable.BuilderOptions{})
	for i, p := range pairs {
		key := base.MakeInternalKey([]byte(p[0]), base.SeqNum(i+1), base.InternalKeyKindSet).Encode(nil)
		require.NoError(t, b.Add(key, []byte(p[1])))
	}
	require.NoError(t, b.Finish())
	return f
}

func TestTableCacheGetOpensOnceAndCaches(t *testing.T) {
	f := buildMemTable(t, [][2]string{{"apple", "red"}, {"banana", "yellow"}})

	opens := 0
	opener := func(num dbfile.FileNum) (storage.RandomAccessReader, int64, error) {
		opens++
		return f, int64(len(f.data)), nil
	}
	tc := NewTableCache(8, opener, base.DefaultCompare, nil, nil)

	key := base.MakeInternalKey([]byte("apple"), 1, base.InternalKeyKindSet).Encode(nil)
	kv, err := tc.Get(1, key)
	require.NoError(t, err)
	assert.Equal(t, "red", string(kv.V))

	kv, err = tc.Get(1, key)
	require.NoError(t, err)
	assert.Equal(t, "red", string(kv.V))

	assert.Equal(t, 1, opens, "second Get must hit the cached reader, not reopen")
}

func TestTableCacheEvictClosesReader(t *testing.T) {
	f := buildMemTable(t, [][2]string{{"a", "1"}})

	opener := func(num dbfile.FileNum) (storage.RandomAccessReader, int64, error) {
		return f, int64(len(f.data)), nil
	}
	tc := NewTableCache(8, opener, base.DefaultCompare, nil, nil)

	key := base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet).Encode(nil)
	_, err := tc.Get(1, key)
	require.NoError(t, err)

	tc.Evict(1)
	assert.Equal(t, 1, f.closed)
}

func TestTableCacheCloseClosesEveryOpenedReader(t *testing.T) {
	f1 := buildMemTable(t, [][2]string{{"a", "1"}})
	f2 := buildMemTable(t, [][2]string{{"b", "2"}})
	files := map[dbfile.FileNum]*memTableFile{1: f1, 2: f2}

	opener := func(num dbfile.FileNum) (storage.RandomAccessReader, int64, error) {
		f := files[num]
		return f, int64(len(f.data)), nil
	}
	tc := NewTableCache(8, opener, base.DefaultCompare, nil, nil)

	_, err := tc.Get(1, base.MakeInternalKey([]byte("a"), 1, base.InternalKeyKindSet).Encode(nil))
	require.NoError(t, err)
	_, err = tc.Get(2, base.MakeInternalKey([]byte("b"), 1, base.InternalKeyKindSet).Encode(nil))
	require.NoError(t, err)

	tc.Close()
	assert.Equal(t, 1, f1.closed)
	assert.Equal(t, 1, f2.closed)
}
