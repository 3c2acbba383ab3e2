// Package handlers provides the HTTP handlers of the transcoding service.
//
// It includes handlers for:
//   - Animation transcoding (GET /ugoira/{id}), served from the cache when
//     a finished file exists
//   - Cache administration (POST /api/transcode/clear, GET /api/transcodes)
//   - Health, liveness, readiness and version endpoints
//
// Transcodes run under a weighted semaphore sized by the worker count and
// wait for the memory monitor before starting. Pipeline failures map to
// HTTP statuses with errors.Is on the sentinel errors of each stage; a
// failed transcode never sends a partial body.
package handlers
