// Package startup loads configuration and writes the startup and shutdown
// log sections.
//
// # Configuration
//
// [LoadConfig] reads environment variables, logs every value (the upstream
// cookie is redacted) and prepares the storage directories:
//
//   - PORT (8080), METRICS_PORT (9090), METRICS_ENABLED (true)
//   - API_BASE (https://www.pixiv.net), USER_AGENT, UPSTREAM_COOKIE,
//     UPSTREAM_TIMEOUT (30s), MAX_ARCHIVE_BYTES (16 MiB)
//   - ENCODER (h264 | mjpeg), DECODER (std | vips), FFMPEG_PATH (ffmpeg),
//     X264_PRESET (slow), X264_CRF (18), JPEG_QUALITY (90)
//   - MAX_OUTPUT_BYTES (256 MiB), TRANSCODE_WORKERS (one per CPU),
//     TRANSCODE_TIMEOUT (2m)
//   - CACHE_DIR (/cache), CACHE_ENABLED (true), DATABASE_DIR (/database)
//   - LOG_LEVEL, LOG_HEALTH_CHECKS (true)
//   - MEMORY_LIMIT, MEMORY_RATIO, GOMEMLIMIT (see package memory)
//
// The database directory is required and must be writable. The cache
// directory is optional; if it cannot be created or written, caching is
// turned off and every request transcodes.
//
// # Build Information
//
// Version, Commit and BuildTime are set with -ldflags and reported by
// [GetBuildInfo] and the /version endpoint.
package startup
