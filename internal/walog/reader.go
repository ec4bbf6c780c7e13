package walog

import (
	"errors"
	"io"

	"boulder/internal/binfmt"
	"boulder/internal/storage"
)

// ErrEOF is returned by ReadRecord when the log has been exhausted cleanly
// (a truncation at the file tail, not a corruption).
var ErrEOF = io.EOF

// Reporter receives a description of each corruption encountered during
// recovery so the caller can log it; recovery itself always continues past
// the damaged block.
type Reporter interface {
	Corruption(bytes int, reason error)
}

// ErrBadRecord describes a single corruption event (bad CRC, truncated
// header, or an impossible length) reported to a Reporter.
var ErrBadRecord = errors.New("walog: corrupt record")

// Reader reassembles logical records from a sequence of 32 KiB framed
// blocks. It tolerates checksum mismatches, truncated
// headers, and impossible lengths by reporting them (if a Reporter is
// configured) and skipping the rest of the damaged block; truncation at
// the file's tail is treated as a clean EOF.
type Reader struct {
	file     storage.SequentialReader
	reporter Reporter

	buf    []byte // bytes of the current block not yet consumed
	eof    bool   // true once a short block read has been seen
	resync bool   // true until the first First/Full record after a seek
}

// NewReader returns a Reader over file. If initialOffset is non-zero, the
// reader seeks to the start of the block containing that offset and
// discards fragments until the next First or Full record (resync mode).
func NewReader(file storage.SequentialReader, reporter Reporter, initialOffset int64) (*Reader, error) {
	r := &Reader{file: file, reporter: reporter}
	if initialOffset > 0 {
		blockStart := initialOffset - initialOffset%BlockSize
		if err := file.Skip(blockStart); err != nil {
			return nil, err
		}
		r.resync = true
	}
	return r, nil
}

func (r *Reader) report(bytes int, err error) {
	if r.reporter != nil {
		r.reporter.Corruption(bytes, err)
	}
}

// readBlock fills r.buf with the next physical block (which may be short,
// at the true end of the file).
func (r *Reader) readBlock() error {
	buf := make([]byte, BlockSize)
	n, err := io.ReadFull(r.file, buf)
	if n == 0 {
		if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return err
		}
		r.eof = true
		r.buf = nil
		return nil
	}
	if err != nil {
		// Short block: a partial write at crash time. Treat the bytes we
		// did get as the final block.
		r.eof = true
	}
	r.buf = buf[:n]
	return nil
}

// nextPhysicalRecord decodes one physical record from the current block,
// refilling from the file as needed. ok is false at a clean end of file.
func (r *Reader) nextPhysicalRecord() (typ recordType, payload []byte, ok bool, err error) {
	for {
		if len(r.buf) < HeaderSize {
			if r.eof {
				if len(r.buf) > 0 {
					// Trailing partial header: silently treated as EOF,
					// the writer crashed mid-record.
					r.buf = nil
				}
				return 0, nil, false, nil
			}
			if err := r.readBlock(); err != nil {
				return 0, nil, false, err
			}
			if r.buf == nil && r.eof {
				return 0, nil, false, nil
			}
			continue
		}

		header := r.buf[:HeaderSize]
		maskedCRC := binfmt.Fixed32(header[0:4])
		length := int(header[4]) | int(header[5])<<8
		rt := recordType(header[6])

		if HeaderSize+length > len(r.buf) {
			drop := len(r.buf)
			r.buf = nil
			if r.eof {
				// The record runs past the end of the file's final short
				// block: the writer crashed mid-record, so this is a clean
				// EOF rather than corruption.
				return 0, nil, false, nil
			}
			// Impossible length within a full block: corruption.
			r.report(drop, ErrBadRecord)
			if err := r.readBlock(); err != nil {
				return 0, nil, false, err
			}
			continue
		}

		payload = r.buf[HeaderSize : HeaderSize+length]
		r.buf = r.buf[HeaderSize+length:]

		if rt == recordTypeZero && length == 0 {
			// Preallocation artifact; silently skipped (open
			// question (a)).
			continue
		}

		crc := checksumRecord(rt, payload)
		if binfmt.MaskCRC(crc) != maskedCRC {
			r.report(HeaderSize+length, ErrBadRecord)
			r.buf = nil
			continue
		}

		return rt, payload, true, nil
	}
}

// ReadRecord reassembles and returns the next logical record. It returns
// ErrEOF when the log is cleanly exhausted.
func (r *Reader) ReadRecord() ([]byte, error) {
	var scratch []byte
	inFragment := false

	for {
		typ, payload, ok, err := r.nextPhysicalRecord()
		if err != nil {
			return nil, err
		}
		if !ok {
			if inFragment {
				// EOF in the middle of a fragmented record: the writer
				// crashed mid-record. Drop it silently.
				return nil, ErrEOF
			}
			return nil, ErrEOF
		}

		switch typ {
		case recordTypeFull:
			if r.resync && inFragment {
				continue
			}
			r.resync = false
			return append([]byte{}, payload...), nil

		case recordTypeFirst:
			r.resync = false
			scratch = append([]byte(nil), payload...)
			inFragment = true

		case recordTypeMiddle:
			if r.resync || !inFragment {
				// Discard until the next First/Full, per resync mode.
				continue
			}
			scratch = append(scratch, payload...)

		case recordTypeLast:
			if r.resync || !inFragment {
				continue
			}
			scratch = append(scratch, payload...)
			inFragment = false
			return scratch, nil

		default:
			r.report(len(payload), ErrBadRecord)
		}
	}
}
