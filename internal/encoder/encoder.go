package encoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os/exec"
	"strings"
	"time"

	"ugoira-transcoder/internal/frame"
	"ugoira-transcoder/internal/mp4"
)

// ErrEncode wraps failures inside the codec or muxer.
var ErrEncode = errors.New("encode failed")

// FrameSource yields frames one at a time. Advance must be called before the
// first Read of every frame.
type FrameSource interface {
	// Advance moves to the next frame and returns its display duration.
	Advance() (time.Duration, error)
	// Read reads the current frame's image bytes.
	Read(p []byte) (int, error)
}

// ByteSink receives container bytes. The muxer seeks backwards to patch
// headers, then returns to the end.
type ByteSink interface {
	io.Writer
	io.Seeker
}

// Params describes one asset.
type Params struct {
	Frames int
	Codec  frame.Codec
}

// Encoder writes a finished MP4 for p.Frames frames read from src.
type Encoder interface {
	Name() string
	Encode(ctx context.Context, src FrameSource, sink ByteSink, p Params) error
}

// Names of the available encoders.
const (
	NameH264  = "h264"
	NameMJPEG = "mjpeg"
)

// Config selects and tunes an encoder.
type Config struct {
	Name        string
	Decoder     frame.Decoder
	FFmpegPath  string
	JPEGQuality int
	Preset      string
	CRF         int
}

// New returns the encoder named by cfg.Name.
func New(cfg Config) (Encoder, error) {
	if cfg.Decoder == nil {
		cfg.Decoder = frame.StdDecoder{}
	}

	switch strings.ToLower(cfg.Name) {
	case NameMJPEG:
		return NewMJPEG(cfg.Decoder, cfg.JPEGQuality), nil
	case NameH264, "":
		return NewH264(cfg.Decoder, cfg.FFmpegPath, cfg.Preset, cfg.CRF), nil
	default:
		return nil, fmt.Errorf("unknown encoder %q", cfg.Name)
	}
}

// PlaybackWarning describes what ordinary players cannot do with the named
// encoder's output. It is empty when the output plays everywhere.
func PlaybackWarning(name string) string {
	if name == NameMJPEG {
		return "mjpeg output uses jpeg sample entries, which most browsers cannot play"
	}
	return ""
}

// FFmpegAvailable reports whether the ffmpeg binary can be found.
func FFmpegAvailable(path string) bool {
	if path == "" {
		path = DefaultFFmpegPath
	}
	_, err := exec.LookPath(path)
	return err == nil
}

// canvas decodes frames and scales them onto the output size, which is set
// by the first frame.
type canvas struct {
	decoder frame.Decoder
	codec   frame.Codec
	width   int
	height  int
	count   int
}

func (c *canvas) next(src FrameSource) (*frame.Frame, uint32, error) {
	d, err := src.Advance()
	if err != nil {
		return nil, 0, err
	}
	units, err := durationUnits(d)
	if err != nil {
		return nil, 0, err
	}

	f, err := c.decoder.Decode(src, c.codec)
	if err != nil {
		return nil, 0, err
	}
	if c.count == 0 {
		c.width, c.height = frame.EvenSize(f.Width, f.Height)
	}
	c.count++

	return frame.Fit(frame.Flatten(f), c.width, c.height), units, nil
}

// durationUnits converts a frame delay to timescale units. A delay shorter
// than one unit, zero included, still shows the frame for one unit.
func durationUnits(d time.Duration) (uint32, error) {
	units := d * mp4.Timescale / time.Second
	if d < 0 || units > math.MaxUint32 {
		return 0, fmt.Errorf("%w: frame duration %v out of range", ErrEncode, d)
	}
	return max(uint32(units), 1), nil
}
