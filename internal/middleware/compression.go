package middleware

import (
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"ugoira-transcoder/internal/logging"
)

// Supported Content-Encoding values, in order of preference.
const (
	EncodingZstd = "zstd"
	EncodingGzip = "gzip"
)

// CompressionConfig holds configuration for the compression middleware
type CompressionConfig struct {
	// MinSize is the minimum response size in bytes before compression is applied
	MinSize int
	// Level is the gzip compression level (gzip.BestSpeed to gzip.BestCompression)
	Level int
	// CompressibleTypes is a list of content types that should be compressed.
	// Video is never listed; MP4 payloads are already compressed.
	CompressibleTypes []string
}

// DefaultCompressionConfig returns sensible defaults for compression
func DefaultCompressionConfig() CompressionConfig {
	return CompressionConfig{
		MinSize: 1024,
		Level:   gzip.DefaultCompression,
		CompressibleTypes: []string{
			"text/plain",
			"application/json",
		},
	}
}

// encodingWriter is satisfied by both *gzip.Writer and *zstd.Encoder.
type encodingWriter interface {
	io.WriteCloser
	Flush() error
	Reset(w io.Writer)
}

type encoderPools struct {
	gzip sync.Pool
	zstd sync.Pool
}

func newEncoderPools(level int) *encoderPools {
	p := &encoderPools{}
	p.gzip.New = func() any {
		w, err := gzip.NewWriterLevel(io.Discard, level)
		if err != nil {
			w = gzip.NewWriter(io.Discard)
		}
		return w
	}
	p.zstd.New = func() any {
		w, err := zstd.NewWriter(io.Discard, zstd.WithEncoderConcurrency(1))
		if err != nil {
			logging.Warn("zstd encoder unavailable: %v", err)
			return nil
		}
		return w
	}
	return p
}

func (p *encoderPools) get(encoding string, dst io.Writer) encodingWriter {
	var w encodingWriter
	switch encoding {
	case EncodingZstd:
		if enc, ok := p.zstd.Get().(*zstd.Encoder); ok && enc != nil {
			w = enc
		}
	case EncodingGzip:
		w = p.gzip.Get().(*gzip.Writer)
	}
	if w != nil {
		w.Reset(dst)
	}
	return w
}

func (p *encoderPools) put(encoding string, w encodingWriter) {
	switch encoding {
	case EncodingZstd:
		p.zstd.Put(w)
	case EncodingGzip:
		p.gzip.Put(w)
	}
}

// negotiateEncoding picks the preferred encoding the client accepts, or "".
func negotiateEncoding(acceptEncoding string) string {
	accepted := map[string]bool{}
	for _, part := range strings.Split(acceptEncoding, ",") {
		name, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		if strings.ReplaceAll(strings.TrimSpace(params), " ", "") == "q=0" {
			continue
		}
		accepted[strings.ToLower(strings.TrimSpace(name))] = true
	}
	for _, enc := range []string{EncodingZstd, EncodingGzip} {
		if accepted[enc] {
			return enc
		}
	}
	return ""
}

// compressResponseWriter buffers the start of a response until it can
// decide whether to compress it.
type compressResponseWriter struct {
	http.ResponseWriter
	pools          *encoderPools
	encoding       string
	encoder        encodingWriter
	config         CompressionConfig
	buffer         []byte
	statusCode     int
	headerWritten  bool
	shouldCompress bool
}

func newCompressResponseWriter(w http.ResponseWriter, encoding string, pools *encoderPools, config CompressionConfig) *compressResponseWriter {
	return &compressResponseWriter{
		ResponseWriter: w,
		pools:          pools,
		encoding:       encoding,
		config:         config,
		statusCode:     http.StatusOK,
		buffer:         make([]byte, 0, config.MinSize+1),
	}
}

// WriteHeader captures the status code
func (c *compressResponseWriter) WriteHeader(statusCode int) {
	if c.headerWritten {
		return
	}
	c.statusCode = statusCode
}

// Write buffers data until we know if we should compress
func (c *compressResponseWriter) Write(data []byte) (int, error) {
	if c.headerWritten {
		if c.encoder != nil {
			return c.encoder.Write(data)
		}
		return c.ResponseWriter.Write(data)
	}

	c.buffer = append(c.buffer, data...)
	if len(c.buffer) > c.config.MinSize {
		if err := c.finalize(); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

func (c *compressResponseWriter) compressibleContentType() bool {
	contentType := c.Header().Get("Content-Type")
	if contentType == "" {
		return false
	}

	mediaType := strings.ToLower(strings.TrimSpace(strings.Split(contentType, ";")[0]))
	for _, compressible := range c.config.CompressibleTypes {
		if mediaType == compressible {
			return true
		}
	}
	return false
}

// finalize decides whether to compress and writes the buffered data
func (c *compressResponseWriter) finalize() error {
	if c.headerWritten {
		return nil
	}
	c.headerWritten = true

	c.shouldCompress = len(c.buffer) >= c.config.MinSize &&
		c.statusCode != http.StatusPartialContent &&
		c.Header().Get("Content-Encoding") == "" &&
		c.compressibleContentType()

	buffered := c.buffer
	c.buffer = nil

	if c.shouldCompress {
		c.encoder = c.pools.get(c.encoding, c.ResponseWriter)
	}
	if c.encoder == nil {
		c.ResponseWriter.WriteHeader(c.statusCode)
		if len(buffered) == 0 {
			return nil
		}
		_, err := c.ResponseWriter.Write(buffered)
		return err
	}

	c.Header().Del("Content-Length")
	c.Header().Set("Content-Encoding", c.encoding)
	c.Header().Add("Vary", "Accept-Encoding")
	c.ResponseWriter.WriteHeader(c.statusCode)

	_, err := c.encoder.Write(buffered)
	return err
}

// Close finalizes the response and returns the encoder to its pool
func (c *compressResponseWriter) Close() error {
	err := c.finalize()

	if c.encoder != nil {
		if cerr := c.encoder.Close(); err == nil {
			err = cerr
		}
		c.pools.put(c.encoding, c.encoder)
		c.encoder = nil
	}
	return err
}

// Flush implements http.Flusher
func (c *compressResponseWriter) Flush() {
	if err := c.finalize(); err != nil {
		return
	}
	if c.encoder != nil {
		_ = c.encoder.Flush()
	}
	if flusher, ok := c.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (c *compressResponseWriter) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}

// Compression returns a middleware that compresses responses with zstd or
// gzip, whichever the client prefers.
func Compression(config CompressionConfig) func(http.Handler) http.Handler {
	pools := newEncoderPools(config.Level)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			encoding := negotiateEncoding(r.Header.Get("Accept-Encoding"))
			if encoding == "" || r.Method == http.MethodHead || r.Header.Get("Range") != "" {
				next.ServeHTTP(w, r)
				return
			}

			cw := newCompressResponseWriter(w, encoding, pools, config)
			defer func() {
				if err := cw.Close(); err != nil {
					logging.Debug("Compression close for %s: %v", r.URL.Path, err)
				}
			}()

			next.ServeHTTP(cw, r)
		})
	}
}
