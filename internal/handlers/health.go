package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"ugoira-transcoder/internal/encoder"
	"ugoira-transcoder/internal/logging"
	"ugoira-transcoder/internal/startup"
)

const (
	statusHealthy  = "healthy"
	statusDegraded = "degraded"
	statusDown     = "unhealthy"
)

const readinessTimeout = 2 * time.Second

// HealthResponse contains the health check response
type HealthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Version string `json:"version"`
	Uptime  string `json:"uptime"`
	Encoder string `json:"encoder"`

	// Warnings lists conditions that do not stop serving but that an
	// operator should know about, such as output browsers cannot play.
	Warnings []string `json:"warnings,omitempty"`

	// Transcode capacity
	Workers      int  `json:"workers"`
	MemoryPaused bool `json:"memoryPaused"`

	// System info
	GoVersion    string `json:"goVersion"`
	NumCPU       int    `json:"numCpu"`
	NumGoroutine int    `json:"numGoroutine"`

	// Cache summary
	CachedFiles int    `json:"cachedFiles,omitempty"`
	CachedBytes int64  `json:"cachedBytes,omitempty"`
	LedgerError string `json:"ledgerError,omitempty"`
}

// HealthCheck returns the health status of the service
func (h *Handlers) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := HealthResponse{
		Status:       statusHealthy,
		Ready:        true,
		Version:      startup.Version,
		Uptime:       time.Since(h.started).Round(time.Second).String(),
		Encoder:      h.transcoder.EncoderName(),
		Workers:      h.workers,
		GoVersion:    runtime.Version(),
		NumCPU:       runtime.NumCPU(),
		NumGoroutine: runtime.NumGoroutine(),
	}
	if warning := encoder.PlaybackWarning(response.Encoder); warning != "" {
		response.Warnings = append(response.Warnings, warning)
	}

	if h.memory != nil && h.memory.IsPaused() {
		response.MemoryPaused = true
		response.Status = statusDegraded
	}

	if h.ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if stats, err := h.ledger.Stats(ctx); err != nil {
			logging.Warn("health: ledger stats failed: %v", err)
			response.LedgerError = err.Error()
			response.Ready = false
			response.Status = statusDown
		} else {
			response.CachedFiles = stats.Count
			response.CachedBytes = stats.TotalBytes
		}
	}

	status := http.StatusOK
	if !response.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSONStatusCode(w, status, response)
}

// LivenessCheck is a simple liveness check (always returns 200 if server is running)
func (h *Handlers) LivenessCheck(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	// For HEAD requests, only send headers (no body)
	if r.Method != http.MethodHead {
		writeJSON(w, map[string]string{
			"status": "alive",
		})
	}
}

// ReadinessCheck returns 200 only when the ledger answers and memory is not
// critical. A ready response carries a warning when the active encoder's
// output is not playable in browsers.
func (h *Handlers) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.ledger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()
		if err := h.ledger.Ping(ctx); err != nil {
			logging.Warn("readiness: database ping failed: %v", err)
			writeJSONStatusCode(w, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": "database unavailable",
			})
			return
		}
	}

	if h.memory != nil && h.memory.IsPaused() {
		writeJSONStatusCode(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not_ready",
			"reason": "memory pressure",
		})
		return
	}

	body := map[string]string{"status": "ready"}
	if warning := encoder.PlaybackWarning(h.transcoder.EncoderName()); warning != "" {
		body["warning"] = warning
	}
	writeJSONStatusCode(w, http.StatusOK, body)
}
