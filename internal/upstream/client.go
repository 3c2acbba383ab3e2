package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"ugoira-transcoder/internal/frame"
	"ugoira-transcoder/internal/logging"
	"ugoira-transcoder/internal/metrics"
)

// Defaults for Config.
const (
	DefaultBaseURL         = "https://www.pixiv.net"
	DefaultUserAgent       = "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0"
	DefaultTimeout         = 30 * time.Second
	DefaultMaxArchiveBytes = 16 << 20
)

const maxMetadataBytes = 1 << 20

var (
	// ErrNotFound indicates the host has no animation metadata for an id.
	ErrNotFound = errors.New("animation not found")

	// ErrArchiveUnavailable indicates the frame archive could not be fetched.
	ErrArchiveUnavailable = errors.New("frame archive unavailable")

	// ErrArchiveTooLarge indicates the archive exceeds the configured limit.
	ErrArchiveTooLarge = errors.New("frame archive too large")

	// ErrBadResponse indicates a metadata response that could not be parsed.
	ErrBadResponse = errors.New("malformed upstream response")
)

// Config configures a Client.
type Config struct {
	BaseURL         string
	UserAgent       string
	Cookie          string
	Timeout         time.Duration
	MaxArchiveBytes int64

	// HTTPClient overrides the client built from Timeout.
	HTTPClient *http.Client
}

// Metadata describes one animation.
type Metadata struct {
	ID         int64
	ArchiveURL string
	PreviewURL string
	Codec      frame.Codec
	Files      []string
	// Delays holds each frame's display time in milliseconds.
	Delays []int
}

// Client fetches metadata and archives.
type Client struct {
	base      *url.URL
	userAgent string
	cookie    string
	timeout   time.Duration
	maxBytes  int64
	http      *http.Client
}

// New creates a Client. Zero fields take the package defaults.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxArchiveBytes <= 0 {
		cfg.MaxArchiveBytes = DefaultMaxArchiveBytes
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream base URL %q", cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		// No overall client timeout: archive bodies are streamed for as
		// long as the transcode reads them.
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout: cfg.Timeout,
				}).DialContext,
				MaxIdleConnsPerHost:   4,
				IdleConnTimeout:       90 * time.Second,
				TLSHandshakeTimeout:   cfg.Timeout,
				ResponseHeaderTimeout: cfg.Timeout,
			},
		}
	}

	return &Client{
		base:      base,
		userAgent: cfg.UserAgent,
		cookie:    cfg.Cookie,
		timeout:   cfg.Timeout,
		maxBytes:  cfg.MaxArchiveBytes,
		http:      httpClient,
	}, nil
}

// MaxArchiveBytes returns the archive size limit.
func (c *Client) MaxArchiveBytes() int64 {
	return c.maxBytes
}

type envelope struct {
	Error   bool            `json:"error"`
	Message string          `json:"message"`
	Body    json.RawMessage `json:"body"`
}

type metaBody struct {
	Src         string `json:"src"`
	OriginalSrc string `json:"originalSrc"`
	MimeType    string `json:"mime_type"`
	Frames      []struct {
		File  string `json:"file"`
		Delay int    `json:"delay"`
	} `json:"frames"`
}

// Metadata resolves id to its frame list and archive URL.
func (c *Client) Metadata(ctx context.Context, id int64) (_ *Metadata, err error) {
	start := time.Now()
	defer func() { recordRequest(metrics.EndpointMetadata, start, err) }()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	u := c.base.JoinPath("ajax", "illust", strconv.FormatInt(id, 10), "ugoira_meta")
	u.RawQuery = url.Values{"lang": {"en"}}.Encode()

	req, err := c.newRequest(ctx, u.String())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request for %d: %w", id, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: metadata for %d returned status %d", ErrNotFound, id, resp.StatusCode)
	}

	meta, err := ParseMetadata(id, resp.Body)
	if err != nil {
		return nil, err
	}

	logging.Debug("upstream: %d has %d frames (%s) at %s", id, len(meta.Delays), meta.Codec, meta.ArchiveURL)
	return meta, nil
}

// ParseMetadata decodes a ugoira_meta response for id. The bare body
// object, as saved by browser tools, is accepted as well.
func ParseMetadata(id int64, r io.Reader) (*Metadata, error) {
	raw, err := io.ReadAll(io.LimitReader(r, maxMetadataBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	var outer struct {
		envelope
		Frames json.RawMessage `json:"frames"`
	}
	if err := json.Unmarshal(raw, &outer); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	bodyJSON := json.RawMessage(raw)
	if len(outer.Frames) == 0 {
		if outer.Error {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, outer.Message)
		}
		if len(outer.Body) == 0 || string(outer.Body) == "null" || string(outer.Body) == "[]" {
			return nil, fmt.Errorf("%w: empty body for %d", ErrNotFound, id)
		}
		bodyJSON = outer.Body
	}

	var body metaBody
	if err := json.Unmarshal(bodyJSON, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadResponse, err)
	}

	meta := &Metadata{
		ID:         id,
		ArchiveURL: body.OriginalSrc,
		PreviewURL: body.Src,
		Files:      make([]string, len(body.Frames)),
		Delays:     make([]int, len(body.Frames)),
	}
	if meta.ArchiveURL == "" {
		meta.ArchiveURL = body.Src
	}
	if meta.ArchiveURL == "" {
		return nil, fmt.Errorf("%w: no archive URL for %d", ErrBadResponse, id)
	}
	for i, f := range body.Frames {
		meta.Files[i] = f.File
		meta.Delays[i] = f.Delay
	}

	meta.Codec, err = codecFor(body.MimeType, meta.Files)
	if err != nil {
		return nil, err
	}
	return meta, nil
}

// codecFor takes the codec from the MIME type, or from the frame file
// extension when the host omits it.
func codecFor(mimeType string, files []string) (frame.Codec, error) {
	if mimeType != "" {
		return frame.ParseCodec(mimeType)
	}
	if len(files) > 0 {
		ext := strings.TrimPrefix(path.Ext(files[0]), ".")
		if codec, err := frame.ParseCodec(ext); err == nil {
			return codec, nil
		}
	}
	return frame.CodecJPEG, nil
}

// OpenArchive starts downloading the frame archive. The returned body fails
// with ErrArchiveTooLarge once more than the configured limit is read; the
// caller must close it.
func (c *Client) OpenArchive(ctx context.Context, archiveURL string) (_ io.ReadCloser, err error) {
	start := time.Now()
	defer func() { recordRequest(metrics.EndpointArchive, start, err) }()

	req, err := c.newRequest(ctx, archiveURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrArchiveUnavailable, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArchiveUnavailable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: status %d", ErrArchiveUnavailable, resp.StatusCode)
	}
	if resp.ContentLength > c.maxBytes {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrArchiveTooLarge, resp.ContentLength, c.maxBytes)
	}

	return &limitedBody{body: resp.Body, remaining: c.maxBytes, limit: c.maxBytes}, nil
}

func (c *Client) newRequest(ctx context.Context, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Referer", c.base.String()+"/")
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}
	return req, nil
}

func recordRequest(endpoint string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.UpstreamRequestsTotal.WithLabelValues(endpoint, status).Inc()
	metrics.UpstreamRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
}

// limitedBody is an io.LimitedReader that reports overflow instead of EOF.
type limitedBody struct {
	body      io.ReadCloser
	remaining int64
	limit     int64
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remaining <= 0 {
		// One byte past the limit tells overflow from an exact fit.
		var extra [1]byte
		n, err := b.body.Read(extra[:])
		if n > 0 {
			return 0, fmt.Errorf("%w: more than %d bytes", ErrArchiveTooLarge, b.limit)
		}
		return 0, err
	}
	if int64(len(p)) > b.remaining {
		p = p[:b.remaining]
	}
	n, err := b.body.Read(p)
	b.remaining -= int64(n)
	metrics.ArchiveBytesRead.Add(float64(n))
	return n, err
}

func (b *limitedBody) Close() error {
	return b.body.Close()
}
