package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	dto "github.com/prometheus/client_model/go"

	"ugoira-transcoder/internal/metrics"
)

func requestCount(t *testing.T, method, path, status string) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.HTTPRequestsTotal.WithLabelValues(method, path, status).Write(&m); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestNormalizePath(t *testing.T) {
	tests := []struct{ in, want string }{
		{"/ugoira/44298467", "/ugoira/{id}"},
		{"/api/transcodes", "/api/transcodes"},
		{"/", "/"},
		{"/a/1/b/2", "/a/{id}/b/{id}"},
		{"/ugoira/12abc", "/ugoira/12abc"},
	}
	for _, tt := range tests {
		if got := normalizePath(tt.in); got != tt.want {
			t.Errorf("normalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMetricsMiddlewareRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Metrics(DefaultMetricsConfig()))
	r.HandleFunc("/ugoira/{id:[0-9]+}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}).Methods(http.MethodGet)

	const label = "/ugoira/{id:[0-9]+}"
	before := requestCount(t, http.MethodGet, label, "502")

	for _, id := range []string{"1", "2", "3"} {
		r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ugoira/"+id, http.NoBody))
	}

	if got := requestCount(t, http.MethodGet, label, "502") - before; got != 3 {
		t.Errorf("requests recorded under %q = %v, want 3", label, got)
	}
}

func TestMetricsMiddlewareSkipPaths(t *testing.T) {
	handler := Metrics(DefaultMetricsConfig())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	before := requestCount(t, http.MethodGet, "/healthz", "200")
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))
	if got := requestCount(t, http.MethodGet, "/healthz", "200"); got != before {
		t.Errorf("skipped path recorded: %v -> %v", before, got)
	}

	before = requestCount(t, http.MethodPost, "/api/transcode/clear", "200")
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/transcode/clear", http.NoBody))
	if got := requestCount(t, http.MethodPost, "/api/transcode/clear", "200") - before; got != 1 {
		t.Errorf("recorded %v requests, want 1", got)
	}
}

func TestMetricsResponseWriterStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newMetricsResponseWriter(rec)
	_, _ = rw.Write([]byte("body"))
	rw.WriteHeader(http.StatusInternalServerError)
	if rw.statusCode != http.StatusOK {
		t.Errorf("status after body write = %d, want 200", rw.statusCode)
	}
	if rw.Unwrap() != rec {
		t.Error("Unwrap() did not return the wrapped writer")
	}
}
