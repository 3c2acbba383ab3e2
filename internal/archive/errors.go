package archive

import (
	"errors"
	"fmt"
)

// Sentinel errors describing bad upstream data.
var (
	// ErrMalformedHeader indicates a bad signature or a header that cannot be
	// used to bound its entry.
	ErrMalformedHeader = errors.New("malformed archive header")

	// ErrUnsupportedCompression indicates a method other than store or
	// deflate, or an encrypted entry.
	ErrUnsupportedCompression = errors.New("unsupported archive compression")

	// ErrTruncated indicates the stream ended inside a header or an entry.
	ErrTruncated = errors.New("archive truncated")

	// ErrCorruptEntry indicates entry data that does not match its header:
	// a CRC-32 mismatch, a size mismatch or an invalid deflate stream.
	ErrCorruptEntry = errors.New("corrupt archive entry")

	// ErrEntryClosed is returned when reading an entry after Next moved on.
	ErrEntryClosed = errors.New("archive entry closed")
)

// Error records where in the stream a failure happened.
type Error struct {
	Op     string // "header", "read" or "skip"
	Index  int    // zero-based entry index
	Offset int64  // byte offset in the stream where the failure was detected
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("archive %s entry %d at offset %d: %v", e.Op, e.Index, e.Offset, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
