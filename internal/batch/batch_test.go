package batch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"boulder/internal/base"
)

type recordingHandler struct {
	puts    [][2]string
	deletes []string
}

func (h *recordingHandler) Put(key, value []byte) error {
	h.puts = append(h.puts, [2]string{string(key), string(value)})
	return nil
}

func (h *recordingHandler) Delete(key []byte) error {
	h.deletes = append(h.deletes, string(key))
	return nil
}

func TestBatchPutDeleteIterate(t *testing.T) {
	b := New()
	b.Put([]byte("apple"), []byte("red"))
	b.Delete([]byte("banana"))
	b.SetSeqNum(42)

	assert.EqualValues(t, 2, b.Count())
	assert.Equal(t, base.SeqNum(42), b.SeqNum())

	h := &recordingHandler{}
	require.NoError(t, b.Iterate(h))
	assert.Equal(t, [][2]string{{"apple", "red"}}, h.puts)
	assert.Equal(t, []string{"banana"}, h.deletes)
}

func TestBatchRoundTripThroughRepr(t *testing.T) {
	b := New()
	b.Put([]byte("k1"), []byte("v1"))
	b.Put([]byte("k2"), []byte("v2"))
	b.SetSeqNum(7)

	loaded, err := Load(b.Repr())
	require.NoError(t, err)
	assert.Equal(t, base.SeqNum(7), loaded.SeqNum())
	assert.EqualValues(t, 2, loaded.Count())

	h := &recordingHandler{}
	require.NoError(t, loaded.Iterate(h))
	assert.Len(t, h.puts, 2)
}

func TestLoadRejectsTruncatedHeader(t *testing.T) {
	_, err := Load([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrCorruptBatch)
}
