package boulder

import "errors"

var (
	// ErrKeyNotFound is returned by Get when the key does not exist in the
	// database, either because no entry was ever written or because the
	// newest entry for it is a tombstone.
	ErrKeyNotFound = errors.New("boulder: key not found")
	// ErrClosed is returned by any operation attempted on a closed database.
	ErrClosed = errors.New("boulder: database closed")
)
