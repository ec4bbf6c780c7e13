package options

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultOptions(t *testing.T) {
	o := Default()
	assert.Equal(t, 4096, o.BlockSize)
	assert.Equal(t, 16, o.RestartInterval)
	assert.NotNil(t, o.FilterPolicy())
	assert.Equal(t, 4<<20, o.MemtableFlushSize)
}

func TestWithMemtableFlushSizeOverridesDefault(t *testing.T) {
	o := New(WithMemtableFlushSize(1 << 10))
	assert.Equal(t, 1<<10, o.MemtableFlushSize)
}

func TestNewAppliesOptionsInOrder(t *testing.T) {
	o := New(
		WithBlockSize(8192),
		WithRestartInterval(32),
		WithBloomBitsPerKey(0),
		WithBlockCacheSize(64),
		WithTableCacheSize(8),
		WithWALSync(SyncNever),
	)
	assert.Equal(t, 8192, o.BlockSize)
	assert.Equal(t, 32, o.RestartInterval)
	assert.Nil(t, o.FilterPolicy())
	assert.Equal(t, 64, o.BlockCacheSize)
	assert.Equal(t, 8, o.TableCacheSize)
	assert.Equal(t, SyncNever, o.WALSync)
}

func TestWithComparatorOverridesDefault(t *testing.T) {
	reverse := func(a, b []byte) int { return bytes.Compare(b, a) }
	o := New(WithComparator(reverse))
	assert.Equal(t, 1, o.Compare([]byte("a"), []byte("b")))
}

func TestOptionsFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "options.yaml")

	want := New(WithBlockSize(2048), WithTableCacheSize(16), WithWALSync(SyncNever))
	require.NoError(t, WriteOptionsFile(path, want))

	got, err := LoadOptionsFile(path)
	require.NoError(t, err)
	assert.Equal(t, want.BlockSize, got.BlockSize)
	assert.Equal(t, want.RestartInterval, got.RestartInterval)
	assert.Equal(t, want.BloomBitsPerKey, got.BloomBitsPerKey)
	assert.Equal(t, want.TableCacheSize, got.TableCacheSize)
	assert.Equal(t, want.WALSync, got.WALSync)
}

func TestLoadOptionsFilePartialOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "options.yaml")
	require.NoError(t, os.WriteFile(path, []byte("block_size: 1024\n"), 0o644))

	got, err := LoadOptionsFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1024, got.BlockSize)
	assert.Equal(t, Default().RestartInterval, got.RestartInterval)
}
