package handlers

import (
	"net/http"
	"strconv"

	"ugoira-transcoder/internal/logging"
)

const (
	defaultListLimit = 100
	maxListLimit     = 1000
)

// ClearTranscodeCache removes every cached video and ledger row.
// POST /api/transcode/clear
func (h *Handlers) ClearTranscodeCache(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.cache == nil {
		writeJSONError(w, "Transcode cache is disabled", http.StatusServiceUnavailable)
		return
	}

	freedBytes, err := h.cache.Clear(r.Context())
	if err != nil {
		logging.Error("Failed to clear transcode cache: %v", err)
		writeJSONError(w, "Failed to clear transcode cache", http.StatusInternalServerError)
		return
	}

	logging.Info("Transcode cache cleared, freed %d bytes", freedBytes)
	writeJSONStatusCode(w, http.StatusOK, map[string]any{
		"success":    true,
		"freedBytes": freedBytes,
	})
}

// ListTranscodes returns the newest ledger rows.
// GET /api/transcodes?limit=N
func (h *Handlers) ListTranscodes(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeJSONError(w, "Transcode ledger is disabled", http.StatusServiceUnavailable)
		return
	}

	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeJSONError(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = min(n, maxListLimit)
	}

	list, err := h.ledger.ListTranscodes(r.Context(), limit)
	if err != nil {
		logging.Error("Failed to list transcodes: %v", err)
		writeJSONError(w, "Failed to list transcodes", http.StatusInternalServerError)
		return
	}

	stats, err := h.ledger.Stats(r.Context())
	if err != nil {
		logging.Error("Failed to read ledger stats: %v", err)
		writeJSONError(w, "Failed to list transcodes", http.StatusInternalServerError)
		return
	}

	writeJSONStatusCode(w, http.StatusOK, map[string]any{
		"transcodes": list,
		"count":      stats.Count,
		"totalBytes": stats.TotalBytes,
	})
}
