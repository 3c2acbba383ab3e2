package sink

import (
	"errors"
	"fmt"
	"io"
)

// Sentinel errors for sink operations.
var (
	// ErrConsumed is returned by every method once Bytes has been called.
	ErrConsumed = errors.New("sink: buffer already consumed")

	// ErrNegativePosition is returned when a seek resolves before the start.
	ErrNegativePosition = errors.New("sink: negative position")

	// ErrTooLarge is returned when a write would grow the buffer past its limit.
	ErrTooLarge = errors.New("sink: output exceeds size limit")

	// ErrInvalidWhence is returned for a whence other than io.SeekStart,
	// io.SeekCurrent or io.SeekEnd.
	ErrInvalidWhence = errors.New("sink: invalid whence")
)

// DefaultCapacity is the initial allocation for a new Buffer.
const DefaultCapacity = 1 << 20

// Buffer is a growable byte store with a read/write cursor.
// It is not safe for concurrent use.
type Buffer struct {
	buf      []byte
	pos      int64
	limit    int64
	consumed bool
}

// New creates a Buffer with the default initial capacity and no size limit.
func New() *Buffer {
	return NewWithLimit(0)
}

// NewWithLimit creates a Buffer that refuses to grow past limit bytes.
// A limit <= 0 means unlimited.
func NewWithLimit(limit int64) *Buffer {
	capacity := int64(DefaultCapacity)
	if limit > 0 && limit < capacity {
		capacity = limit
	}
	return &Buffer{
		buf:   make([]byte, 0, capacity),
		limit: limit,
	}
}

// Len returns the logical length of the buffer.
func (b *Buffer) Len() int64 {
	return int64(len(b.buf))
}

// Pos returns the current cursor position.
func (b *Buffer) Pos() int64 {
	return b.pos
}

// Write writes p at the cursor, overwriting existing bytes and appending
// whatever extends past the current end, then advances the cursor. If the
// cursor is past the end, the gap is filled with zero bytes first.
func (b *Buffer) Write(p []byte) (int, error) {
	if b.consumed {
		return 0, ErrConsumed
	}
	end := b.pos + int64(len(p))
	if b.limit > 0 && end > b.limit {
		return 0, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, end, b.limit)
	}

	if gap := b.pos - int64(len(b.buf)); gap > 0 {
		b.buf = append(b.buf, make([]byte, gap)...)
	}
	overlap := int64(len(b.buf)) - b.pos
	if overlap > int64(len(p)) {
		overlap = int64(len(p))
	}
	copy(b.buf[b.pos:], p[:overlap])
	b.buf = append(b.buf, p[overlap:]...)
	b.pos = end
	return len(p), nil
}

// Read reads from the cursor and advances it. It returns io.EOF at the end.
func (b *Buffer) Read(p []byte) (int, error) {
	if b.consumed {
		return 0, ErrConsumed
	}
	if b.pos >= int64(len(b.buf)) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[b.pos:])
	b.pos += int64(n)
	return n, nil
}

// Seek moves the cursor. The cursor may move past the end; nothing is
// written until the next Write.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	if b.consumed {
		return 0, ErrConsumed
	}

	var base int64
	switch whence {
	case io.SeekStart:
		base = 0
	case io.SeekCurrent:
		base = b.pos
	case io.SeekEnd:
		base = int64(len(b.buf))
	default:
		return b.pos, fmt.Errorf("%w: %d", ErrInvalidWhence, whence)
	}

	target := base + offset
	if target < 0 {
		return b.pos, fmt.Errorf("%w: %d", ErrNegativePosition, target)
	}
	b.pos = target
	return b.pos, nil
}

// Bytes hands over the underlying storage. The Buffer is unusable afterwards.
func (b *Buffer) Bytes() ([]byte, error) {
	if b.consumed {
		return nil, ErrConsumed
	}
	b.consumed = true
	out := b.buf
	b.buf = nil
	b.pos = 0
	return out, nil
}
