package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"ugoira-transcoder/internal/archive"
	"ugoira-transcoder/internal/encoder"
	"ugoira-transcoder/internal/sink"
)

// Context is the encoder-facing state of one transcode. Advance and Read
// serve frames from the archive; Write and Seek go to the output sink.
type Context struct {
	ctx    context.Context
	frames []Descriptor

	// Source half.
	archive *archive.Reader
	entry   *archive.Entry
	next    int

	// Sink half.
	out *sink.Buffer
}

var (
	_ encoder.FrameSource = (*Context)(nil)
	_ encoder.ByteSink    = (*Context)(nil)
)

// NewContext binds an archive, an output sink and the frame list for one
// call.
func NewContext(ctx context.Context, ar *archive.Reader, out *sink.Buffer, frames []Descriptor) *Context {
	return &Context{ctx: ctx, frames: frames, archive: ar, out: out}
}

// Advance opens the next archive entry and returns the display duration of
// the frame it holds.
func (c *Context) Advance() (time.Duration, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}

	index := c.next
	if index >= len(c.frames) {
		return 0, &FrameError{Index: index, Err: fmt.Errorf("%w: metadata lists %d frames", ErrFrameCountMismatch, len(c.frames))}
	}

	entry, err := c.archive.Next()
	if errors.Is(err, io.EOF) {
		return 0, &FrameError{
			Index: index,
			Err:   fmt.Errorf("%w: archive has %d entries, metadata lists %d", ErrFrameCountMismatch, index, len(c.frames)),
		}
	}
	if err != nil {
		return 0, &FrameError{Index: index, Err: err}
	}

	c.entry = entry
	c.next++
	return c.frames[index].Duration, nil
}

// Read reads the current entry's bytes.
func (c *Context) Read(p []byte) (int, error) {
	if c.entry == nil {
		return 0, errors.New("read before advance")
	}
	return c.entry.Read(p)
}

// Write implements io.Writer on the output sink.
func (c *Context) Write(p []byte) (int, error) {
	return c.out.Write(p)
}

// Seek implements io.Seeker on the output sink.
func (c *Context) Seek(offset int64, whence int) (int64, error) {
	return c.out.Seek(offset, whence)
}

// Frame returns the index of the frame most recently advanced to, or -1
// before the first.
func (c *Context) Frame() int {
	return c.next - 1
}

// ArchiveBytes returns the number of archive bytes consumed.
func (c *Context) ArchiveBytes() int64 {
	return c.archive.Offset()
}

// finish checks that every frame was consumed and that the archive holds
// nothing after the last one.
func (c *Context) finish() error {
	if c.next != len(c.frames) {
		return &FrameError{
			Index: c.next,
			Err:   fmt.Errorf("%w: encoder consumed %d of %d frames", ErrFrameCountMismatch, c.next, len(c.frames)),
		}
	}

	entry, err := c.archive.Next()
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case err != nil:
		return &FrameError{Index: c.next, Err: err}
	default:
		return &FrameError{
			Index: c.next,
			Err:   fmt.Errorf("%w: archive holds extra entry %q after %d frames", ErrFrameCountMismatch, entry.Name, len(c.frames)),
		}
	}
}

// frameError attributes err to the current frame unless it already names
// one or is not about a frame at all.
func (c *Context) frameError(err error) error {
	var fe *FrameError
	switch {
	case errors.As(err, &fe):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case errors.Is(err, encoder.ErrEncode):
		return err
	case c.Frame() < 0:
		return err
	default:
		return &FrameError{Index: c.Frame(), Err: err}
	}
}
