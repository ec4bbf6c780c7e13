package memtable

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boulder/internal/base"
)

// TestPutGetDeleteRoundTrip exercises a put/delete/put sequence read back
// at several sequence-number snapshots.
func TestPutGetDeleteRoundTrip(t *testing.T) {
	m := New(base.DefaultCompare)

	require.NoError(t, m.Add(1, base.InternalKeyKindSet, []byte("apple"), []byte("red")))
	require.NoError(t, m.Add(2, base.InternalKeyKindSet, []byte("banana"), []byte("yellow")))
	require.NoError(t, m.Add(3, base.InternalKeyKindDelete, []byte("apple"), nil))
	require.NoError(t, m.Add(4, base.InternalKeyKindSet, []byte("apple"), []byte("green")))

	v, err := m.Get([]byte("apple"), 10)
	require.NoError(t, err)
	assert.Equal(t, "green", string(v))

	v, err = m.Get([]byte("banana"), 10)
	require.NoError(t, err)
	assert.Equal(t, "yellow", string(v))

	// Snapshot taken after step 2 (seq 2): apple is still "red", banana is
	// visible.
	v, err = m.Get([]byte("apple"), 2)
	require.NoError(t, err)
	assert.Equal(t, "red", string(v))

	v, err = m.Get([]byte("banana"), 2)
	require.NoError(t, err)
	assert.Equal(t, "yellow", string(v))
}

func TestGetMissingKey(t *testing.T) {
	m := New(base.DefaultCompare)
	_, err := m.Get([]byte("absent"), 100)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetTombstoneShadowsOlderValue(t *testing.T) {
	m := New(base.DefaultCompare)
	require.NoError(t, m.Add(1, base.InternalKeyKindSet, []byte("k"), []byte("v1")))
	require.NoError(t, m.Add(2, base.InternalKeyKindDelete, []byte("k"), nil))

	_, err := m.Get([]byte("k"), 10)
	assert.ErrorIs(t, err, ErrNotFound)

	v, err := m.Get([]byte("k"), 1)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(v))
}

// TestLookupLandsOnSequenceAtOrBelowSnapshot exercises a seek for a user
// key at an intermediate snapshot sequence, landing on the newest version
// at or below that sequence.
func TestLookupLandsOnSequenceAtOrBelowSnapshot(t *testing.T) {
	m := New(base.DefaultCompare)
	require.NoError(t, m.Add(10, base.InternalKeyKindSet, []byte("k"), []byte("v10")))
	require.NoError(t, m.Add(20, base.InternalKeyKindSet, []byte("k"), []byte("v20")))
	require.NoError(t, m.Add(30, base.InternalKeyKindSet, []byte("k"), []byte("v30")))

	v, err := m.Get([]byte("k"), 25)
	require.NoError(t, err)
	assert.Equal(t, "v20", string(v))
}

func TestGetRawDistinguishesTombstoneFromAbsent(t *testing.T) {
	m := New(base.DefaultCompare)
	require.NoError(t, m.Add(1, base.InternalKeyKindSet, []byte("k"), []byte("v1")))
	require.NoError(t, m.Add(2, base.InternalKeyKindDelete, []byte("k"), nil))

	v, found, err := m.GetRaw([]byte("k"), 10)
	assert.True(t, found, "a tombstone must report found=true so callers stop searching older sources")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Nil(t, v)

	_, found, err = m.GetRaw([]byte("nope"), 10)
	assert.False(t, found, "an absent key must report found=false so callers keep searching older sources")
	assert.ErrorIs(t, err, ErrNotFound)

	v, found, err = m.GetRaw([]byte("k"), 1)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "v1", string(v))
}

func TestIteratorOrder(t *testing.T) {
	m := New(base.DefaultCompare)
	require.NoError(t, m.Add(1, base.InternalKeyKindSet, []byte("b"), []byte("2")))
	require.NoError(t, m.Add(1, base.InternalKeyKindSet, []byte("a"), []byte("1")))
	require.NoError(t, m.Add(1, base.InternalKeyKindSet, []byte("c"), []byte("3")))

	it := m.NewIterator()
	var keys []string
	for kv := it.First(); kv != nil; kv = it.Next() {
		keys = append(keys, string(kv.K.UserKey))
	}
	assert.Equal(t, []string{"a", "b", "c"}, keys)
}

func TestMemoryUsageGrows(t *testing.T) {
	m := New(base.DefaultCompare)
	before := m.MemoryUsage()
	require.NoError(t, m.Add(1, base.InternalKeyKindSet, []byte("k"), []byte("value")))
	assert.Greater(t, m.MemoryUsage(), before)
}
