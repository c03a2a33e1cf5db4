package logstore

import "errors"

var (
	// ErrClosed is returned by operations on a closed store or reader.
	ErrClosed = errors.New("roleshift: log store closed")

	// ErrCorruptRecord is returned when a stored record cannot be decoded.
	ErrCorruptRecord = errors.New("roleshift: corrupt log record")
)

// Record is one entry of the log.
type Record struct {
	Position uint64
	Term     int64
	Payload  []byte
}

// Log is the partition log as seen by the engine and transition steps.
type Log interface {
	// Append writes payload at the next position and returns that position.
	Append(term int64, payload []byte) (uint64, error)

	// LastPosition returns the position of the newest record, 0 if empty.
	LastPosition() (uint64, error)

	// OpenReader returns a reader yielding records with positions after after.
	// Each reader holds a handle on the store until it is closed.
	OpenReader(after uint64) (Reader, error)

	// Checkpoint returns the position saved under name, 0 if none.
	Checkpoint(name string) (uint64, error)

	// SaveCheckpoint stores position under name.
	SaveCheckpoint(name string, position uint64) error
}

// Reader iterates the log forward.
type Reader interface {
	// Next returns up to limit records following the reader's position and
	// advances past them. An empty slice means the reader caught up.
	Next(limit int) ([]Record, error)

	// Position is the position of the last record returned.
	Position() uint64

	Close() error
}
