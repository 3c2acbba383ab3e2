package middleware

import (
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ResponseWriter wrapper to capture status code and bytes written
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
	wroteHeader  bool
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
	}
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.statusCode = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.wroteHeader = true
	}
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap exposes the underlying writer to http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// LoggingConfig holds configuration for the logging middleware
type LoggingConfig struct {
	SkipPaths       []string
	LogHealthChecks bool
	// ServiceName is written in the #Software directive.
	ServiceName string
	// Output receives one line per request; nil means the standard logger.
	Output *log.Logger
}

// DefaultLoggingConfig returns a sensible default configuration
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		SkipPaths:       []string{"/favicon.ico"},
		LogHealthChecks: true,
		ServiceName:     "ugoira-transcoder",
	}
}

// w3cField is one column of the access log.
type w3cField struct {
	name  string
	value func(e *logEntry) string
}

// logEntry is everything known about a request once it has been served.
type logEntry struct {
	at       time.Time
	r        *http.Request
	rw       *responseWriter
	duration time.Duration
}

// Columns in log order. Request-controlled values go through sanitizeLogField.
var w3cColumns = []w3cField{
	{"date", func(e *logEntry) string { return e.at.Format("2006-01-02") }},
	{"time", func(e *logEntry) string { return e.at.Format("15:04:05") }},
	{"c-ip", func(e *logEntry) string { return sanitizeLogField(getClientIP(e.r)) }},
	{"cs-method", func(e *logEntry) string { return sanitizeLogField(e.r.Method) }},
	{"cs-uri-stem", func(e *logEntry) string { return sanitizeLogField(e.r.URL.Path) }},
	{"cs-uri-query", func(e *logEntry) string { return sanitizeLogField(e.r.URL.RawQuery) }},
	{"sc-status", func(e *logEntry) string { return strconv.Itoa(e.rw.statusCode) }},
	{"sc-bytes", func(e *logEntry) string { return strconv.FormatInt(e.rw.bytesWritten, 10) }},
	{"time-taken", func(e *logEntry) string { return strconv.FormatInt(e.duration.Milliseconds(), 10) }},
	{"sc(Content-Encoding)", responseHeader("Content-Encoding")},
	{"sc(X-Request-ID)", responseHeader("X-Request-ID")},
	{"sc(X-Cache)", responseHeader("X-Cache")},
	{"cs(User-Agent)", func(e *logEntry) string { return escapeW3CField(sanitizeLogField(e.r.Header.Get("User-Agent"))) }},
	{"cs(Referer)", func(e *logEntry) string { return sanitizeLogField(e.r.Header.Get("Referer")) }},
}

func responseHeader(name string) func(e *logEntry) string {
	return func(e *logEntry) string { return e.rw.Header().Get(name) }
}

// W3CFields is the #Fields directive matching each logged line.
var W3CFields = func() string {
	names := make([]string, len(w3cColumns))
	for i, c := range w3cColumns {
		names[i] = c.name
	}
	return strings.Join(names, " ")
}()

// W3CLogger handles W3C Extended Log Format logging
type W3CLogger struct {
	config LoggingConfig
	out    *log.Logger
	once   sync.Once
}

// NewW3CLogger creates a new W3C format logger
func NewW3CLogger(config LoggingConfig) *W3CLogger {
	out := config.Output
	if out == nil {
		out = log.Default()
	}
	return &W3CLogger{config: config, out: out}
}

// writeDirectives emits the header lines once, before the first entry.
func (l *W3CLogger) writeDirectives() {
	l.once.Do(func() {
		l.out.Println("#Version: 1.0")
		if l.config.ServiceName != "" {
			l.out.Println("#Software: " + l.config.ServiceName)
		}
		l.out.Println("#Fields: " + W3CFields)
	})
}

var healthCheckPaths = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/livez":   true,
	"/readyz":  true,
}

// sanitizeLogField removes control characters that could be used for log injection.
// This includes newlines, carriage returns, tabs, null bytes, and ANSI escape sequences.
func sanitizeLogField(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r':
			// Replace newlines/carriage returns with spaces to prevent log line forging
			b.WriteRune(' ')
		case r == '\x00':
			// Strip null bytes entirely
			continue
		case r == '\x1b':
			// Strip ANSI escape character to prevent terminal escape injection
			continue
		case r < 0x20 && r != '\t':
			// Strip other control characters (except tab which is benign in logs)
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Logger returns HTTP logging middleware using W3C Extended Log Format
func Logger(config LoggingConfig) func(http.Handler) http.Handler {
	logger := NewW3CLogger(config)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkip(r.URL.Path, config) {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			wrapped := newResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			duration := time.Since(start)
			logger.logRequest(r, wrapped, duration)
		})
	}
}

// logRequest writes one W3C line. Empty values are logged as "-".
func (l *W3CLogger) logRequest(r *http.Request, rw *responseWriter, duration time.Duration) {
	e := &logEntry{at: time.Now().UTC(), r: r, rw: rw, duration: duration}

	values := make([]string, len(w3cColumns))
	for i, c := range w3cColumns {
		if v := c.value(e); v != "" {
			values[i] = v
		} else {
			values[i] = "-"
		}
	}

	l.writeDirectives()
	l.out.Println(strings.Join(values, " "))
}

func shouldSkip(path string, config LoggingConfig) bool {
	// Skip explicitly configured paths
	for _, skipPath := range config.SkipPaths {
		if strings.HasPrefix(path, skipPath) {
			return true
		}
	}

	// Skip health checks if disabled
	if !config.LogHealthChecks && healthCheckPaths[path] {
		return true
	}

	return false
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

// escapeW3CField escapes a field value for W3C log format
// Replaces spaces with + and quotes with escaped quotes
func escapeW3CField(s string) string {
	// If contains space or special chars, quote it
	if strings.ContainsAny(s, " \t\"") {
		s = strings.ReplaceAll(s, "\"", "\"\"")
		return "\"" + s + "\""
	}
	return s
}
