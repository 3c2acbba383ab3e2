package upstream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"ugoira-transcoder/internal/frame"
)

const sampleMeta = `{
	"error": false,
	"message": "",
	"body": {
		"src": "%s/preview.zip",
		"originalSrc": "%s/original.zip",
		"mime_type": "image/jpeg",
		"frames": [
			{"file": "000000.jpg", "delay": 100},
			{"file": "000001.jpg", "delay": 150},
			{"file": "000002.jpg", "delay": 200}
		]
	}
}`

func newTestClient(t *testing.T, srv *httptest.Server, maxBytes int64) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: srv.URL, UserAgent: "ugoira-test", Cookie: "PHPSESSID=abc", MaxArchiveBytes: maxBytes})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestMetadata(t *testing.T) {
	var gotUA, gotReferer, gotCookie, gotQuery string
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ajax/illust/44298467/ugoira_meta" {
			http.NotFound(w, r)
			return
		}
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		gotCookie = r.Header.Get("Cookie")
		gotQuery = r.URL.RawQuery
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, strings.ReplaceAll(sampleMeta, "%s", srv.URL))
	}))
	defer srv.Close()

	meta, err := newTestClient(t, srv, 0).Metadata(context.Background(), 44298467)
	if err != nil {
		t.Fatalf("Metadata() error = %v", err)
	}

	if meta.ArchiveURL != srv.URL+"/original.zip" {
		t.Errorf("ArchiveURL = %q", meta.ArchiveURL)
	}
	if meta.PreviewURL != srv.URL+"/preview.zip" {
		t.Errorf("PreviewURL = %q", meta.PreviewURL)
	}
	if meta.Codec != frame.CodecJPEG {
		t.Errorf("Codec = %v, want jpeg", meta.Codec)
	}
	want := []int{100, 150, 200}
	if len(meta.Delays) != len(want) {
		t.Fatalf("Delays = %v, want %v", meta.Delays, want)
	}
	for i := range want {
		if meta.Delays[i] != want[i] {
			t.Errorf("Delays[%d] = %d, want %d", i, meta.Delays[i], want[i])
		}
	}
	if meta.Files[2] != "000002.jpg" {
		t.Errorf("Files[2] = %q", meta.Files[2])
	}

	if gotUA != "ugoira-test" {
		t.Errorf("User-Agent = %q", gotUA)
	}
	if gotReferer != srv.URL+"/" {
		t.Errorf("Referer = %q, want %q", gotReferer, srv.URL+"/")
	}
	if gotCookie != "PHPSESSID=abc" {
		t.Errorf("Cookie = %q", gotCookie)
	}
	if gotQuery != "lang=en" {
		t.Errorf("query = %q, want lang=en", gotQuery)
	}
}

func TestMetadataErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"not found status", http.StatusNotFound, `{"error":true,"message":"no"}`, ErrNotFound},
		{"server error", http.StatusInternalServerError, ``, ErrNotFound},
		{"error flag", http.StatusOK, `{"error":true,"message":"Work has been deleted","body":[]}`, ErrNotFound},
		{"empty body", http.StatusOK, `{"error":false,"message":"","body":[]}`, ErrNotFound},
		{"null body", http.StatusOK, `{"error":false,"message":""}`, ErrNotFound},
		{"not json", http.StatusOK, `<html>`, ErrBadResponse},
		{"no archive", http.StatusOK, `{"error":false,"body":{"frames":[{"file":"a.jpg","delay":10}]}}`, ErrBadResponse},
		{"unknown mime", http.StatusOK, `{"error":false,"body":{"originalSrc":"x","mime_type":"image/gif","frames":[]}}`, frame.ErrUnsupportedFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv, 0).Metadata(context.Background(), 1)
			if !errors.Is(err, tt.want) {
				t.Errorf("Metadata() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestCodecFor(t *testing.T) {
	tests := []struct {
		mime  string
		files []string
		want  frame.Codec
	}{
		{"image/png", nil, frame.CodecPNG},
		{"", []string{"000000.png"}, frame.CodecPNG},
		{"", []string{"000000.jpg"}, frame.CodecJPEG},
		{"", []string{"frame"}, frame.CodecJPEG},
		{"", nil, frame.CodecJPEG},
	}
	for _, tt := range tests {
		got, err := codecFor(tt.mime, tt.files)
		if err != nil {
			t.Errorf("codecFor(%q, %v) error = %v", tt.mime, tt.files, err)
			continue
		}
		if got != tt.want {
			t.Errorf("codecFor(%q, %v) = %v, want %v", tt.mime, tt.files, got, tt.want)
		}
	}
}

func TestOpenArchive(t *testing.T) {
	payload := bytes.Repeat([]byte("PK"), 500)
	var gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotReferer = r.Header.Get("Referer")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	body, err := newTestClient(t, srv, 4096).OpenArchive(context.Background(), srv.URL+"/a.zip")
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	defer body.Close()

	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Error("archive body differs from payload")
	}
	if gotReferer == "" {
		t.Error("archive request sent no Referer")
	}
}

func TestOpenArchiveExactLimit(t *testing.T) {
	payload := bytes.Repeat([]byte{1}, 1024)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	body, err := newTestClient(t, srv, 1024).OpenArchive(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("OpenArchive() error = %v", err)
	}
	defer body.Close()

	if got, err := io.ReadAll(body); err != nil || len(got) != 1024 {
		t.Errorf("ReadAll() = %d bytes, %v, want 1024 bytes", len(got), err)
	}
}

func TestOpenArchiveTooLarge(t *testing.T) {
	tests := []struct {
		name          string
		contentLength bool
	}{
		{"declared length", true},
		{"chunked", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := bytes.Repeat([]byte{7}, 4096)
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				if tt.contentLength {
					w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
				} else if f, ok := w.(http.Flusher); ok {
					f.Flush()
				}
				_, _ = w.Write(payload)
			}))
			defer srv.Close()

			body, err := newTestClient(t, srv, 1000).OpenArchive(context.Background(), srv.URL)
			if err == nil {
				defer body.Close()
				_, err = io.ReadAll(body)
			}
			if !errors.Is(err, ErrArchiveTooLarge) {
				t.Errorf("error = %v, want ErrArchiveTooLarge", err)
			}
		})
	}
}

func TestOpenArchiveStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, 0).OpenArchive(context.Background(), srv.URL)
	if !errors.Is(err, ErrArchiveUnavailable) {
		t.Errorf("OpenArchive() error = %v, want ErrArchiveUnavailable", err)
	}
}

func TestNewRejectsBadBaseURL(t *testing.T) {
	if _, err := New(Config{BaseURL: "not a url"}); err == nil {
		t.Error("New() accepted a base URL without scheme and host")
	}

	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() with defaults error = %v", err)
	}
	if c.MaxArchiveBytes() != DefaultMaxArchiveBytes {
		t.Errorf("MaxArchiveBytes() = %d, want %d", c.MaxArchiveBytes(), DefaultMaxArchiveBytes)
	}
}

func TestParseMetadataBareBody(t *testing.T) {
	body := `{"src":"https://i.example/600.zip","originalSrc":"https://i.example/1920.zip","mime_type":"image/png",
		"frames":[{"file":"000000.png","delay":60},{"file":"000001.png","delay":60}]}`

	meta, err := ParseMetadata(7, strings.NewReader(body))
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}
	if meta.ID != 7 || meta.Codec != frame.CodecPNG {
		t.Errorf("ID/Codec = %d/%v, want 7/png", meta.ID, meta.Codec)
	}
	if meta.ArchiveURL != "https://i.example/1920.zip" {
		t.Errorf("ArchiveURL = %q", meta.ArchiveURL)
	}
	if len(meta.Delays) != 2 || meta.Delays[1] != 60 {
		t.Errorf("Delays = %v", meta.Delays)
	}
}

func TestParseMetadataEnvelope(t *testing.T) {
	meta, err := ParseMetadata(1, strings.NewReader(strings.ReplaceAll(sampleMeta, "%s", "https://i.example")))
	if err != nil {
		t.Fatalf("ParseMetadata() error = %v", err)
	}
	if len(meta.Files) != 3 || meta.Codec != frame.CodecJPEG {
		t.Errorf("Files/Codec = %v/%v", meta.Files, meta.Codec)
	}
}
