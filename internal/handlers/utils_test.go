package handlers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWriteJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    any
		expected string
	}{
		{"map", map[string]string{"status": "ok"}, `{"status":"ok"}`},
		{"slice", []int{1, 2}, `[1,2]`},
		{"null", nil, `null`},
		{"empty slice", []string{}, `[]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			writeJSON(w, tt.input)

			body := w.Body.String()
			if body != tt.expected+"\n" {
				t.Errorf("Expected %q, got %q", tt.expected, body)
			}
		})
	}
}

func TestWriteJSONHandlesInvalidTypes(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeJSON(w, make(chan int))

	if w.Body.Len() != 0 {
		t.Errorf("Expected nothing written, got %q", w.Body.String())
	}
}

func TestWriteJSONStatusCode(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeJSONStatusCode(w, http.StatusAccepted, map[string]int{"n": 3})

	if w.Code != http.StatusAccepted {
		t.Errorf("Expected status 202, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %q", ct)
	}

	var result map[string]int
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	if result["n"] != 3 {
		t.Errorf("Expected n=3, got %d", result["n"])
	}
}

func TestWriteJSONError(t *testing.T) {
	t.Parallel()

	w := httptest.NewRecorder()
	writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
	if body := w.Body.String(); body != "{\"error\":\"Method not allowed\"}\n" {
		t.Errorf("Unexpected body %q", body)
	}
}
