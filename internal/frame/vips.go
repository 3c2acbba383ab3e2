package frame

import (
	"errors"
	"fmt"
	"image"
	"io"
	"sync"

	"ugoira-transcoder/internal/logging"

	"github.com/davidbyttow/govips/v2/vips"
)

var (
	vipsInitialized bool
	vipsInitMutex   sync.Mutex
)

// ErrVipsUnavailable is returned by VipsDecoder before InitVips has run.
var ErrVipsUnavailable = errors.New("libvips not initialized")

// InitVips starts libvips and routes its log output through the logging
// package at the current log level. It is safe to call more than once.
func InitVips() error {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		return nil
	}

	// Logging must be configured before Startup.
	vipsLevel, handler := vipsLogging(logging.GetLevel())
	vips.LoggingSettings(handler, vipsLevel)

	vips.Startup(&vips.Config{
		ConcurrencyLevel: 1,
		MaxCacheMem:      50 * 1024 * 1024,
		MaxCacheSize:     100,
	})

	vipsInitialized = true
	logging.Info("libvips initialized (version: %s)", vips.Version)
	return nil
}

func vipsLogging(level logging.LogLevel) (vips.LogLevel, func(string, vips.LogLevel, string)) {
	forward := func(domain string, l vips.LogLevel, msg string) {
		switch l {
		case vips.LogLevelError, vips.LogLevelCritical:
			logging.Error("[%s] %s", domain, msg)
		case vips.LogLevelWarning:
			logging.Warn("[%s] %s", domain, msg)
		default:
			logging.Debug("[%s] %s", domain, msg)
		}
	}

	switch level {
	case logging.LevelDebug:
		return vips.LogLevelInfo, forward
	case logging.LevelWarn:
		return vips.LogLevelError, forward
	case logging.LevelError:
		return vips.LogLevelCritical, forward
	default:
		return vips.LogLevelWarning, forward
	}
}

// ShutdownVips releases libvips.
func ShutdownVips() {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()

	if vipsInitialized {
		vips.Shutdown()
		vipsInitialized = false
		logging.Info("libvips shutdown complete")
	}
}

// IsVipsAvailable reports whether InitVips has run.
func IsVipsAvailable() bool {
	vipsInitMutex.Lock()
	defer vipsInitMutex.Unlock()
	return vipsInitialized
}

// VipsDecoder decodes frames with libvips.
type VipsDecoder struct{}

// Decode implements Decoder.
func (VipsDecoder) Decode(r io.Reader, codec Codec) (*Frame, error) {
	if !IsVipsAvailable() {
		return nil, ErrVipsUnavailable
	}

	data, err := readFrame(r, codec)
	if err != nil {
		return nil, err
	}

	ref, err := vips.NewImageFromBuffer(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	defer ref.Close()

	if err := checkDimensions(ref.Width(), ref.Height()); err != nil {
		return nil, err
	}

	if err := ref.ToColorSpace(vips.InterpretationSRGB); err != nil {
		return nil, fmt.Errorf("%w: colourspace: %v", ErrCorrupt, err)
	}
	if ref.BandFormat() != vips.BandFormatUchar {
		if err := ref.Cast(vips.BandFormatUchar); err != nil {
			return nil, fmt.Errorf("%w: cast: %v", ErrCorrupt, err)
		}
	}
	if !ref.HasAlpha() {
		if err := ref.AddAlpha(); err != nil {
			return nil, fmt.Errorf("%w: alpha: %v", ErrCorrupt, err)
		}
	}
	if ref.Bands() != 4 {
		return nil, fmt.Errorf("%w: %d bands after conversion", ErrCorrupt, ref.Bands())
	}

	pix, err := ref.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	width, height := ref.Width(), ref.Height()
	if len(pix) != width*height*4 {
		return nil, fmt.Errorf("%w: %d pixel bytes for %dx%d", ErrCorrupt, len(pix), width, height)
	}

	img := &image.NRGBA{
		Pix:    pix,
		Stride: width * 4,
		Rect:   image.Rect(0, 0, width, height),
	}
	return newFrame(img), nil
}
