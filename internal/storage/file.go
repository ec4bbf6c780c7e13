// Package storage is the small Env-like collaborator holding the minimal
// set of file operations the core needs (sequential/positional readers, an
// append-only writer, rename/remove), wrapping github.com/ncw/directio so
// that WAL and sstable writes go through aligned direct I/O, with a small
// in-process buffer absorbing the last partial block.
package storage

import (
	"io"
	"os"

	"github.com/ncw/directio"
)

// SequentialReader reads a file strictly front-to-back, as the WAL reader
// requires.
type SequentialReader interface {
	io.Reader
	Skip(n int64) error
	io.Closer
}

// RandomAccessReader reads a file at arbitrary offsets, as the sstable
// reader requires.
type RandomAccessReader interface {
	ReadAt(p []byte, off int64) (n int, err error)
	io.Closer
}

// WritableFile is an append-only output file.
type WritableFile interface {
	Append(p []byte) error
	Flush() error
	Sync() error
	io.Closer
}

// BlockSize is the direct-I/O alignment every Writer pads a trailing
// partial block to. A file's physical size can exceed its logical
// (unpadded) size by up to this many bytes.
const BlockSize = directio.BlockSize

// NewSequentialFile opens path for sequential reads.
func NewSequentialFile(path string) (SequentialReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &sequentialFile{f: f}, nil
}

type sequentialFile struct{ f *os.File }

func (s *sequentialFile) Read(p []byte) (int, error) { return s.f.Read(p) }
func (s *sequentialFile) Skip(n int64) error {
	_, err := s.f.Seek(n, io.SeekCurrent)
	return err
}
func (s *sequentialFile) Close() error { return s.f.Close() }

// NewRandomAccessFile opens path for positional reads.
func NewRandomAccessFile(path string) (RandomAccessReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Writer is a wrapper around a directio file. Direct I/O only accepts
// whole, aligned blocks, but callers append arbitrarily small fragments
// (a WAL record header, a single sstable block). Writer buffers the
// unwritten tail of the current block and rewrites it in place as more
// data arrives, rather than padding every call and leaving permanent
// zero gaps between fragments.
type Writer struct {
	file       *os.File
	block      int
	position   int64  // logical (unpadded) byte offset appended so far
	baseOffset int64  // file offset at which pending begins
	pending    []byte // unwritten tail of the current block, < block bytes
}

// NewWritableFile opens path for append-only writes using direct I/O, per
// the Env's NewWritableFile.
func NewWritableFile(path string) (*Writer, error) {
	file, err := directio.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	return &Writer{file: file, block: directio.BlockSize}, nil
}

// Append logically appends buf. Every full block accumulated between
// baseOffset and the end of pending is written immediately; any leftover
// partial block is held in pending until a later Append completes it, or
// Flush/Sync/Close pads and writes it as a best-effort durability point.
func (w *Writer) Append(buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	w.pending = append(w.pending, buf...)
	w.position += int64(len(buf))

	full := len(w.pending) - len(w.pending)%w.block
	if full == 0 {
		return nil
	}
	if _, err := w.file.WriteAt(w.pending[:full], w.baseOffset); err != nil {
		return err
	}
	w.baseOffset += int64(full)
	w.pending = append([]byte(nil), w.pending[full:]...)
	return nil
}

// Position reports the logical (unpadded) number of bytes appended so far.
func (w *Writer) Position() int64 { return w.position }

// flushPending writes any partial block, zero-padded, without discarding
// it: a later Append still starts from baseOffset and rewrites this
// region with the padding replaced by real data.
func (w *Writer) flushPending() error {
	if len(w.pending) == 0 {
		return nil
	}
	pad := make([]byte, w.block-len(w.pending))
	tail := append(append([]byte(nil), w.pending...), pad...)
	_, err := w.file.WriteAt(tail, w.baseOffset)
	return err
}

// Flush writes any buffered partial block to the OS so readers bounded by
// a known logical size can see it; it does not advance past the partial
// block, so a subsequent Append still rewrites it cleanly.
func (w *Writer) Flush() error { return w.flushPending() }

// Sync flushes any buffered partial block and commits the file's data and
// metadata to stable storage.
func (w *Writer) Sync() error {
	if err := w.flushPending(); err != nil {
		return err
	}
	return w.file.Sync()
}

func (w *Writer) Close() error {
	if err := w.flushPending(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

// RenameFile renames oldPath to newPath.
func RenameFile(oldPath, newPath string) error {
	return os.Rename(oldPath, newPath)
}

// RemoveFile removes path.
func RemoveFile(path string) error {
	return os.Remove(path)
}
