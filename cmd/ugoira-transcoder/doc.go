// Package main is the entry point of the ugoira transcoding service.
//
// The service resolves a pixiv animation id to its frame archive, streams
// the archive through a forward-only ZIP reader, encodes the frames into a
// finalized MP4 and serves it over HTTP. Finished files are cached on disk
// and indexed in SQLite.
//
// # Application Lifecycle
//
//  1. Memory Configuration: sets GOMEMLIMIT from MEMORY_LIMIT or the cgroup limit
//  2. Configuration Loading: reads environment variables and prepares directories
//  3. Database Initialization: opens the SQLite transcode ledger
//  4. Component Initialization:
//     - Transcode cache (optional, CACHE_ENABLED)
//     - Frame decoder: image/jpeg and image/png, or libvips with DECODER=vips
//     - Encoder: H.264 through ffmpeg, falling back to MJPEG without ffmpeg
//     - Upstream client
//     - Memory monitor: holds new transcodes back under memory pressure
//     - Metrics collector and metrics server
//  5. HTTP Server Setup: routes, middleware, listener
//  6. Graceful Shutdown on SIGINT/SIGTERM
//
// # HTTP Server
//
// The main server (PORT, default 8080) serves:
//
//   - GET /ugoira/{id}: the MP4 for an animation (video/mp4, range requests
//     supported, X-Cache and X-Request-ID headers)
//   - GET /api/transcodes, POST /api/transcode/clear: cache administration
//   - /healthz, /livez, /readyz, /version
//
// The metrics server (METRICS_PORT, default 9090) serves /metrics when
// METRICS_ENABLED is true.
//
// # Graceful Shutdown
//
//  1. Stop the memory monitor so queued transcodes fail fast
//  2. Shut down the HTTP server (30s timeout)
//  3. Kill remaining ffmpeg processes
//  4. Stop the metrics collector and metrics server
//  5. Shut down libvips if it was started
//  6. Close the database
//
// # Build Requirements
//
// CGO is required for SQLite (mattn/go-sqlite3) and libvips (govips). The
// h264 encoder needs an ffmpeg binary built with libx264 on PATH or at
// FFMPEG_PATH.
//
//	go build -o ugoira-transcoder ./cmd/ugoira-transcoder
//
// See [ugoira-transcoder/internal/startup] for the full list of environment
// variables.
package main
