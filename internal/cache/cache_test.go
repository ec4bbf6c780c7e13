package cache

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertLookupRelease(t *testing.T) {
	c := New(1024)

	h := c.Insert(1, "hello", 5, nil)
	require.NotNil(t, h)
	assert.Equal(t, "hello", h.Value())
	h.Release()

	h2 := c.Lookup(1)
	require.NotNil(t, h2)
	assert.Equal(t, "hello", h2.Value())
	h2.Release()
}

func TestLookupMissReturnsNil(t *testing.T) {
	c := New(1024)
	assert.Nil(t, c.Lookup(42))
}

func TestDeleterFiresOnlyAfterLastRelease(t *testing.T) {
	c := New(1024)
	deleted := 0
	h := c.Insert(1, "v", 1, func(key uint64, value any) {
		deleted++
		assert.Equal(t, uint64(1), key)
	})

	h2 := c.Lookup(1)
	require.NotNil(t, h2)

	c.Erase(1)
	assert.Equal(t, 0, deleted, "deleter must not fire while a handle is outstanding")

	h.Release()
	assert.Equal(t, 0, deleted, "deleter must not fire until every handle is released")

	h2.Release()
	assert.Equal(t, 1, deleted)
}

func TestCapacityEvictsLeastRecentlyUsed(t *testing.T) {
	// A total capacity of 2 across 16 shards rounds up to a per-shard
	// capacity of 1. Keys with zeroed top 4 bits all land in shard 0, so
	// inserting three of them one at a time exercises that shard's LRU
	// eviction in isolation.
	c := New(2)
	var evicted []uint64
	deleter := func(key uint64, value any) { evicted = append(evicted, key) }

	k1, k2, k3 := uint64(1), uint64(2), uint64(3)

	c.Insert(k1, "a", 1, deleter).Release()
	c.Insert(k2, "b", 1, deleter).Release()
	c.Insert(k3, "c", 1, deleter).Release()

	assert.Equal(t, []uint64{k1, k2}, evicted)
	assert.Nil(t, c.Lookup(k1))
	assert.Nil(t, c.Lookup(k2))

	h := c.Lookup(k3)
	require.NotNil(t, h)
	assert.Equal(t, "c", h.Value())
	h.Release()
}

func TestInsertReplacesDuplicateKey(t *testing.T) {
	c := New(1024)
	var deletedKeys []any
	deleter := func(key uint64, value any) { deletedKeys = append(deletedKeys, value) }

	c.Insert(7, "first", 1, deleter).Release()
	h := c.Insert(7, "second", 1, deleter)
	require.Equal(t, []any{"first"}, deletedKeys)

	assert.Equal(t, "second", h.Value())
	h.Release()
}
