package frame

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"

	// Frame format decoders
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
)

// MaxPixels bounds the canvas a single frame may declare. A 16 MiB archive
// can hold a PNG claiming far larger dimensions than it could ever fill.
const MaxPixels = 40_000_000

var (
	// ErrUnsupportedFormat indicates the frame bytes do not carry the
	// signature of the codec declared for the asset.
	ErrUnsupportedFormat = errors.New("unsupported frame format")

	// ErrCorrupt indicates the frame bytes could not be decoded.
	ErrCorrupt = errors.New("corrupt frame")
)

// Frame is a decoded still image.
type Frame struct {
	Image  *image.NRGBA
	Width  int
	Height int
}

func newFrame(img *image.NRGBA) *Frame {
	b := img.Bounds()
	return &Frame{Image: img, Width: b.Dx(), Height: b.Dy()}
}

// Decoder turns one archive entry into pixels.
type Decoder interface {
	Decode(r io.Reader, codec Codec) (*Frame, error)
}

// StdDecoder decodes frames with the Go standard image decoders.
type StdDecoder struct{}

// Decode implements Decoder.
func (StdDecoder) Decode(r io.Reader, codec Codec) (*Frame, error) {
	data, err := readFrame(r, codec)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if err := checkDimensions(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return newFrame(toNRGBA(img)), nil
}

// readFrame loads the entry and checks its signature against codec. Read
// errors from the archive are returned unchanged so callers can tell bad
// archives from bad images.
func readFrame(r io.Reader, codec Codec) ([]byte, error) {
	sig := codec.signature()
	if sig == nil {
		return nil, fmt.Errorf("%w: codec %s", ErrUnsupportedFormat, codec)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if !bytes.HasPrefix(data, sig) {
		return nil, fmt.Errorf("%w: expected %s data, found %s", ErrUnsupportedFormat, codec, Sniff(data))
	}
	return data, nil
}

func checkDimensions(width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: empty %dx%d frame", ErrCorrupt, width, height)
	}
	if width*height > MaxPixels {
		return fmt.Errorf("%w: %dx%d frame exceeds %d pixels", ErrCorrupt, width, height, MaxPixels)
	}
	return nil
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok && n.Rect.Min == (image.Point{}) {
		return n
	}
	return imaging.Clone(img)
}
