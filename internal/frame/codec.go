package frame

import (
	"bytes"
	"fmt"
	"strings"
)

// Codec identifies the image format of every frame in an asset.
type Codec int

const (
	CodecUnknown Codec = iota
	CodecJPEG
	CodecPNG
)

var (
	jpegSignature = []byte{0xFF, 0xD8, 0xFF}
	pngSignature  = []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
)

// ParseCodec accepts a MIME type or a short format name.
func ParseCodec(s string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image/jpeg", "image/jpg", "jpeg", "jpg":
		return CodecJPEG, nil
	case "image/png", "png":
		return CodecPNG, nil
	default:
		return CodecUnknown, fmt.Errorf("%w: %q", ErrUnsupportedFormat, s)
	}
}

func (c Codec) String() string {
	switch c {
	case CodecJPEG:
		return "jpeg"
	case CodecPNG:
		return "png"
	default:
		return "unknown"
	}
}

// MIMEType returns the content type of the codec.
func (c Codec) MIMEType() string {
	switch c {
	case CodecJPEG:
		return "image/jpeg"
	case CodecPNG:
		return "image/png"
	default:
		return "application/octet-stream"
	}
}

func (c Codec) signature() []byte {
	switch c {
	case CodecJPEG:
		return jpegSignature
	case CodecPNG:
		return pngSignature
	default:
		return nil
	}
}

// Sniff reports the codec whose signature starts data.
func Sniff(data []byte) Codec {
	switch {
	case bytes.HasPrefix(data, jpegSignature):
		return CodecJPEG
	case bytes.HasPrefix(data, pngSignature):
		return CodecPNG
	default:
		return CodecUnknown
	}
}
