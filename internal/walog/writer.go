package walog

import "boulder/internal/storage"

// Writer frames logical records into the WAL's 32 KiB block structure,
// fragmenting records that don't fit the remainder of the current block
// and zero-padding the tail of a block when less than HeaderSize bytes
// remain.
type Writer struct {
	file        storage.WritableFile
	blockOffset int // bytes written into the current block
}

// NewWriter returns a Writer appending to file. file should be newly
// created (or truncated); the writer assumes it begins at a block
// boundary.
func NewWriter(file storage.WritableFile) *Writer {
	return &Writer{file: file}
}

// AddRecord writes payload as one or more physical records, fragmenting
// across block boundaries as needed.
func (w *Writer) AddRecord(payload []byte) error {
	first := true
	for {
		leftover := BlockSize - w.blockOffset
		if leftover < HeaderSize {
			// Not enough room for even a header; zero-fill the rest of the
			// block and start a new one.
			if leftover > 0 {
				if err := w.file.Append(make([]byte, leftover)); err != nil {
					return err
				}
			}
			w.blockOffset = 0
			leftover = BlockSize
		}

		avail := leftover - HeaderSize
		n := len(payload)
		if n > avail {
			n = avail
		}

		last := n == len(payload)
		var typ recordType
		switch {
		case first && last:
			typ = recordTypeFull
		case first && !last:
			typ = recordTypeFirst
		case !first && last:
			typ = recordTypeLast
		default:
			typ = recordTypeMiddle
		}

		frame := make([]byte, HeaderSize+n)
		putHeader(frame, typ, payload[:n])
		copy(frame[HeaderSize:], payload[:n])
		if err := w.file.Append(frame); err != nil {
			return err
		}
		w.blockOffset += len(frame)

		payload = payload[n:]
		first = false
		if len(payload) == 0 {
			return nil
		}
	}
}

// Flush forces buffered data to the OS.
func (w *Writer) Flush() error { return w.file.Flush() }

// Sync forces the log to stable storage.
func (w *Writer) Sync() error { return w.file.Sync() }

// Close closes the underlying file.
func (w *Writer) Close() error { return w.file.Close() }
