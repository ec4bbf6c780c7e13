package boulder

import "io"

// ReadWriterCloser is the full surface a database handle exposes.
type ReadWriterCloser interface {
	Reader
	Writer
	io.Closer
}

// Reader is the read half of the database surface.
type Reader interface {
	// Get gets the value for the given key. It returns ErrKeyNotFound if
	// the database does not contain the key, or if the newest entry for it
	// is a tombstone.
	//
	// The caller should not modify the contents of the returned slice, but
	// it is safe to modify the contents of the argument after Get returns.
	// The returned slice remains valid until the returned closer is
	// closed; the caller must call closer.Close() when done with it.
	Get(key []byte) (value []byte, closer io.Closer, err error)
}

// Writer is the write half of the database surface.
type Writer interface {
	// Set sets the value for the given key, overwriting any previous
	// value for that key if it exists, and inserting the key-value pair
	// if it does not.
	Set(key, value []byte) error

	// Delete deletes the value for the given key. It is a blind delete:
	// it does not return an error if the key does not exist.
	Delete(key []byte) error

	// DeleteRange deletes every key in [start, end) (inclusive on start,
	// exclusive on end). Like Delete, it is a blind delete.
	DeleteRange(start, end []byte) error
}
