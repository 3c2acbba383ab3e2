package streaming

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"os"
	"sync"
	"time"

	"ugoira-transcoder/internal/logging"
)

// Sentinel errors for streaming operations.
var (
	// ErrWriteTimeout indicates a write to a slow client missed its deadline
	// or the response ran past MaxDuration.
	ErrWriteTimeout = errors.New("write timeout exceeded")

	// ErrClientGone indicates that the client disconnected before the body
	// was sent.
	ErrClientGone = errors.New("client disconnected")

	// ErrStreamCanceled indicates a write after Close.
	ErrStreamCanceled = errors.New("stream canceled")
)

// Config configures a TimeoutWriter.
type Config struct {
	// WriteTimeout bounds each chunk written to the connection.
	WriteTimeout time.Duration
	// MaxDuration bounds the whole response (0 = unlimited).
	MaxDuration time.Duration
	// ChunkSize splits large writes (0 = write as received).
	ChunkSize int
	// OnProgress is called each time another MiB has been sent.
	OnProgress func(bytesWritten int64, duration time.Duration)
}

// DefaultConfig returns the settings used for MP4 responses.
func DefaultConfig() Config {
	return Config{
		WriteTimeout: 30 * time.Second,
		ChunkSize:    64 * 1024,
	}
}

// TimeoutWriter is an http.ResponseWriter that sends the body in chunks,
// each under its own write deadline, and stops once the client is gone.
type TimeoutWriter struct {
	http.ResponseWriter
	ctx    context.Context
	config Config
	rc     *http.ResponseController

	mu           sync.Mutex
	start        time.Time
	bytesWritten int64
	closed       bool
	err          error
}

// NewTimeoutWriter wraps w. ctx is normally the request context.
func NewTimeoutWriter(ctx context.Context, w http.ResponseWriter, config Config) *TimeoutWriter {
	return &TimeoutWriter{
		ResponseWriter: w,
		ctx:            ctx,
		config:         config,
		rc:             http.NewResponseController(w),
		start:          time.Now(),
	}
}

// Write implements io.Writer. The first error sticks; later writes return it.
func (tw *TimeoutWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return 0, ErrStreamCanceled
	}
	if tw.err != nil {
		return 0, tw.err
	}

	written := 0
	for len(p) > 0 {
		chunk := p
		if tw.config.ChunkSize > 0 && len(chunk) > tw.config.ChunkSize {
			chunk = chunk[:tw.config.ChunkSize]
		}

		n, err := tw.writeChunk(chunk)
		written += n
		if err != nil {
			tw.err = err
			return written, err
		}
		p = p[len(chunk):]
	}
	return written, nil
}

func (tw *TimeoutWriter) writeChunk(p []byte) (int, error) {
	if tw.ctx.Err() != nil {
		return 0, ErrClientGone
	}
	if tw.config.MaxDuration > 0 && time.Since(tw.start) > tw.config.MaxDuration {
		return 0, ErrWriteTimeout
	}

	if tw.config.WriteTimeout > 0 {
		// Recorders and some wrappers cannot take deadlines; the write
		// then simply runs without one.
		if err := tw.rc.SetWriteDeadline(time.Now().Add(tw.config.WriteTimeout)); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return 0, err
		}
	}

	n, err := tw.ResponseWriter.Write(p)
	before := tw.bytesWritten
	tw.bytesWritten += int64(n)

	if err != nil {
		switch {
		case errors.Is(err, os.ErrDeadlineExceeded):
			return n, ErrWriteTimeout
		case tw.ctx.Err() != nil:
			return n, ErrClientGone
		default:
			return n, err
		}
	}

	if tw.config.OnProgress != nil && before>>20 != tw.bytesWritten>>20 {
		tw.config.OnProgress(tw.bytesWritten, time.Since(tw.start))
	}
	return n, nil
}

// Flush sends buffered data to the client.
func (tw *TimeoutWriter) Flush() {
	_ = tw.rc.Flush()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (tw *TimeoutWriter) Unwrap() http.ResponseWriter {
	return tw.ResponseWriter
}

// Err returns the first write error, if any.
func (tw *TimeoutWriter) Err() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.err
}

// Close rejects further writes and clears any write deadline.
func (tw *TimeoutWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if tw.closed {
		return nil
	}
	tw.closed = true
	if tw.config.WriteTimeout > 0 {
		_ = tw.rc.SetWriteDeadline(time.Time{})
	}
	return nil
}

// Stats returns streaming statistics
func (tw *TimeoutWriter) Stats() (bytesWritten int64, duration time.Duration) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.bytesWritten, time.Since(tw.start)
}

// ServeContent sends data through http.ServeContent, which handles Range,
// If-Modified-Since and HEAD, with every body write under the configured
// timeouts. Headers already set on w, such as Content-Type, are kept.
func ServeContent(w http.ResponseWriter, r *http.Request, name string, modtime time.Time, data []byte, config Config) error {
	tw := NewTimeoutWriter(r.Context(), w, config)
	defer func() {
		if err := tw.Close(); err != nil {
			logging.Warn("Failed to close timeout writer: %v", err)
		}
	}()

	http.ServeContent(tw, r, name, modtime, bytes.NewReader(data))

	bytesWritten, duration := tw.Stats()
	logging.Debug("Sent %s: %d of %d bytes in %v", name, bytesWritten, len(data), duration)
	return tw.Err()
}
