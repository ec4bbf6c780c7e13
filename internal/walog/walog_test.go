package walog

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memFile is an in-memory stand-in for storage.WritableFile /
// storage.SequentialReader, so these tests exercise the framing and
// recovery logic without depending on direct I/O block alignment.
type memFile struct {
	buf bytes.Buffer
	pos int64
}

func (f *memFile) Append(p []byte) error { _, err := f.buf.Write(p); return err }
func (f *memFile) Flush() error          { return nil }
func (f *memFile) Sync() error           { return nil }
func (f *memFile) Close() error          { return nil }

func (f *memFile) Read(p []byte) (int, error) {
	n, err := bytes.NewReader(f.buf.Bytes()[f.pos:]).Read(p)
	f.pos += int64(n)
	return n, err
}

func (f *memFile) Skip(n int64) error {
	f.pos += n
	return nil
}

type recordingReporter struct {
	events []error
}

func (r *recordingReporter) Corruption(bytes int, reason error) {
	r.events = append(r.events, reason)
}

func TestWriterReaderRoundTrip(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f)
	records := [][]byte{
		[]byte("first record"),
		[]byte("second record, a bit longer than the first"),
		[]byte(""),
	}
	for _, r := range records {
		require.NoError(t, w.AddRecord(r))
	}

	r, err := NewReader(f, nil, 0)
	require.NoError(t, err)
	for _, want := range records {
		got, err := r.ReadRecord()
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = r.ReadRecord()
	assert.ErrorIs(t, err, ErrEOF)
}

// TestFragmentationAcrossBlocks exercises a record
// large enough to span four physical records (First, Middle, Middle, Last).
func TestFragmentationAcrossBlocks(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f)

	payload := bytes.Repeat([]byte{0xab}, 100*1024)
	require.NoError(t, w.AddRecord(payload))

	r, err := NewReader(f, nil, 0)
	require.NoError(t, err)
	got, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	// The payload spans at least four physical records within the
	// buffered bytes: verify the physical framing directly.
	raw := f.buf.Bytes()
	var types []recordType
	off := 0
	for off+HeaderSize <= len(raw) {
		length := int(raw[off+4]) | int(raw[off+5])<<8
		typ := recordType(raw[off+6])
		if typ == recordTypeZero && length == 0 {
			break
		}
		types = append(types, typ)
		off += HeaderSize + length
	}
	require.GreaterOrEqual(t, len(types), 4)
	assert.Equal(t, recordTypeFirst, types[0])
	assert.Equal(t, recordTypeLast, types[len(types)-1])
	for _, typ := range types[1 : len(types)-1] {
		assert.Equal(t, recordTypeMiddle, typ)
	}
}

// TestCorruptionIsReportedAndSkipped exercises property P3: a single-byte
// mutation inside a framed record is detected via the checksum and
// reported, and the rest of the damaged block is discarded rather than
// risking a misframed read of whatever follows it.
func TestCorruptionIsReportedAndSkipped(t *testing.T) {
	f := &memFile{}
	w := NewWriter(f)
	require.NoError(t, w.AddRecord([]byte("alpha")))
	require.NoError(t, w.AddRecord([]byte("beta")))

	raw := f.buf.Bytes()
	raw[HeaderSize] ^= 0xff // flip a payload byte of the first record

	corrupted := &memFile{}
	corrupted.buf.Write(raw)

	reporter := &recordingReporter{}
	r, err := NewReader(corrupted, reporter, 0)
	require.NoError(t, err)

	_, err = r.ReadRecord()
	assert.ErrorIs(t, err, ErrEOF)
	assert.Len(t, reporter.events, 1)
}

func TestZeroLengthRecordIsSkipped(t *testing.T) {
	f := &memFile{}
	// A preallocation artifact: a zero-type, zero-length header directly
	// followed by a real record.
	header := make([]byte, HeaderSize)
	f.buf.Write(header)
	w := NewWriter(f)
	w.blockOffset = HeaderSize
	require.NoError(t, w.AddRecord([]byte("payload")))

	r, err := NewReader(f, nil, 0)
	require.NoError(t, err)
	got, err := r.ReadRecord()
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)
}

func TestCleanEOFAtFileTail(t *testing.T) {
	f := &memFile{}
	r, err := NewReader(f, nil, 0)
	require.NoError(t, err)
	_, err = r.ReadRecord()
	assert.ErrorIs(t, err, io.EOF)
}
