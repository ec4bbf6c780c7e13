package sstable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boulder/internal/base"
	"boulder/internal/bloom"
	"boulder/internal/cache"
)

// memFile is an in-memory stand-in for storage.WritableFile and
// storage.RandomAccessReader, letting table tests exercise the format
// without going through direct I/O.
type memFile struct {
	data  []byte
	reads int
}

func (f *memFile) Append(p []byte) error { f.data = append(f.data, p...); return nil }
func (f *memFile) Flush() error          { return nil }
func (f *memFile) Sync() error           { return nil }
func (f *memFile) Close() error          { return nil }

func (f *memFile) ReadAt(p []byte, off int64) (int, error) {
	f.reads++
	n := copy(p, f.data[off:])
	return n, nil
}

func internalKey(userKey string, seq base.SeqNum) []byte {
	return base.MakeInternalKey([]byte(userKey), seq, base.InternalKeyKindSet).Encode(nil)
}

func buildTable(t *testing.T, entries [][2]string, opts BuilderOptions) (*memFile, int64) {
	t.Helper()
	f := &memFile{}
	b := NewBuilder(f, opts)
	for i, e := range entries {
		require.NoError(t, b.Add(internalKey(e[0], base.SeqNum(i+1)), []byte(e[1])))
	}
	require.NoError(t, b.Finish())
	return f, int64(len(f.data))
}

func TestTableBuilderReaderRoundTrip(t *testing.T) {
	entries := [][2]string{
		{"apple", "red"},
		{"banana", "yellow"},
		{"cherry", "dark red"},
		{"date", "brown"},
	}
	f, size := buildTable(t, entries, BuilderOptions{RestartInterval: 2})

	r, err := Open(f, size, ReaderOptions{})
	require.NoError(t, err)

	for i, e := range entries {
		kv, err := r.InternalGet(internalKey(e[0], base.SeqNum(i+1)))
		require.NoError(t, err)
		assert.Equal(t, e[1], string(kv.V))
	}

	_, err = r.InternalGet(internalKey("missing", base.SeqNumMax))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTableBuilderSmallBlockSizeProducesMultipleBlocks(t *testing.T) {
	entries := [][2]string{
		{"a", "1111111111111111111111111111111"},
		{"b", "2222222222222222222222222222222"},
		{"c", "3333333333333333333333333333333"},
		{"d", "4444444444444444444444444444444"},
	}
	f, size := buildTable(t, entries, BuilderOptions{BlockSize: 32, RestartInterval: 1})

	r, err := Open(f, size, ReaderOptions{})
	require.NoError(t, err)

	for i, e := range entries {
		kv, err := r.InternalGet(internalKey(e[0], base.SeqNum(i+1)))
		require.NoError(t, err)
		assert.Equal(t, e[1], string(kv.V))
	}
}

func TestTableFilterRejectsAbsentKeyWithoutReadingDataBlock(t *testing.T) {
	policy := bloom.NewPolicy(bloom.DefaultBitsPerKey)
	entries := [][2]string{
		{"x", "1"},
		{"y", "2"},
		{"z", "3"},
	}
	f, size := buildTable(t, entries, BuilderOptions{FilterPolicy: policy})

	r, err := Open(f, size, ReaderOptions{FilterPolicy: policy})
	require.NoError(t, err)
	require.NotNil(t, r.filter)

	before := f.reads
	_, err = r.InternalGet(internalKey("absent", base.SeqNumMax))
	assert.ErrorIs(t, err, ErrNotFound)
	// Open() already read the index/filter/metaindex blocks; a rejected
	// lookup must not add a further read for the data block.
	assert.Equal(t, before, f.reads)
}

func TestTableBlockCacheAvoidsRepeatedFileReads(t *testing.T) {
	entries := [][2]string{
		{"apple", "red"},
		{"banana", "yellow"},
		{"cherry", "dark red"},
	}
	f, size := buildTable(t, entries, BuilderOptions{RestartInterval: 2})

	blockCache := cache.New(1 << 20)
	r, err := Open(f, size, ReaderOptions{BlockCache: blockCache, FileNum: 7})
	require.NoError(t, err)

	key := internalKey("banana", 2)
	_, err = r.InternalGet(key)
	require.NoError(t, err)
	afterFirst := f.reads

	_, err = r.InternalGet(key)
	require.NoError(t, err)
	assert.Equal(t, afterFirst, f.reads, "second lookup of the same block must hit the block cache")
}

func TestDetectLogicalSizeFindsFooterUnderZeroPadding(t *testing.T) {
	entries := [][2]string{{"a", "1"}, {"b", "2"}}
	f, size := buildTable(t, entries, BuilderOptions{})

	const blockSize = 4096
	padded := append(append([]byte(nil), f.data...), make([]byte, blockSize-int(size)%blockSize)...)
	padded = padded[:((len(f.data)+blockSize-1)/blockSize)*blockSize]
	pf := &memFile{data: padded}

	got, err := DetectLogicalSize(pf, int64(len(padded)), blockSize)
	require.NoError(t, err)
	assert.Equal(t, size, got)
}

func TestDetectLogicalSizeNoPaddingNeeded(t *testing.T) {
	entries := [][2]string{{"a", "1"}}
	f, size := buildTable(t, entries, BuilderOptions{})

	got, err := DetectLogicalSize(f, size, 4096)
	require.NoError(t, err)
	assert.Equal(t, size, got)
}
