package encoder

import (
	"bytes"
	"context"
	"fmt"

	"ugoira-transcoder/internal/frame"
	"ugoira-transcoder/internal/mp4"

	"github.com/disintegration/imaging"
)

// DefaultJPEGQuality is used when no quality is configured.
const DefaultJPEGQuality = 90

// MJPEG stores every frame as a JPEG sample. Every sample is a sync sample
// and output is byte-for-byte deterministic.
type MJPEG struct {
	decoder frame.Decoder
	quality int
}

// NewMJPEG creates a Motion-JPEG encoder. Quality outside 1-100 falls back
// to DefaultJPEGQuality.
func NewMJPEG(decoder frame.Decoder, quality int) *MJPEG {
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}
	return &MJPEG{decoder: decoder, quality: quality}
}

// Name implements Encoder.
func (e *MJPEG) Name() string {
	return NameMJPEG
}

// Encode implements Encoder.
func (e *MJPEG) Encode(ctx context.Context, src FrameSource, sink ByteSink, p Params) error {
	if p.Frames <= 0 {
		return fmt.Errorf("%w: no frames", ErrEncode)
	}

	m := mp4.NewMuxer(sink)
	if err := m.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	c := &canvas{decoder: e.decoder, codec: p.Codec}
	var buf bytes.Buffer
	for i := 0; i < p.Frames; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		f, units, err := c.next(src)
		if err != nil {
			return err
		}

		buf.Reset()
		if err := imaging.Encode(&buf, f.Image, imaging.JPEG, imaging.JPEGQuality(e.quality)); err != nil {
			return fmt.Errorf("%w: jpeg frame %d: %w", ErrEncode, i, err)
		}
		if err := m.WriteSample(buf.Bytes(), units, true); err != nil {
			return fmt.Errorf("%w: %w", ErrEncode, err)
		}
	}

	if err := m.Finish(mp4.Track{Codec: mp4.CodecJPEG, Width: c.width, Height: c.height}); err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return nil
}
