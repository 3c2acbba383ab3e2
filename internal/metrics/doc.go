// Package metrics provides Prometheus instrumentation for the ugoira
// transcoding service.
//
// All metrics are registered with promauto at package init and are
// prefixed with "ugoira_".
//
// # Metric Categories
//
// ## HTTP Metrics
//   - HTTPRequestsTotal: requests by method, path and status
//   - HTTPRequestDuration: request duration by method and path
//   - HTTPRequestsInFlight: requests being processed
//
// ## Transcode Metrics
//   - TranscodesTotal: finished transcodes by encoder and outcome
//   - TranscodeDuration: wall time per transcode by encoder
//   - TranscodesInFlight: transcodes holding a worker slot
//   - TranscodeQueueWait: time spent waiting for a worker slot
//   - FramesProcessed: frames encoded by frame codec
//   - OutputBytes: size distribution of finished files
//   - ArchiveBytesRead: archive bytes consumed
//
// ## Upstream Metrics
//   - UpstreamRequestsTotal / UpstreamRequestDuration by endpoint
//     ("metadata" or "archive")
//
// ## Cache Metrics
//   - CacheHits / CacheMisses
//   - CacheEntries / CacheSizeBytes, refreshed by [Collector]
//
// ## Database and Memory Metrics
//   - DBQueryTotal / DBQueryDuration by ledger operation
//   - FilesystemStaleErrors, FilesystemRetryAttempts, FilesystemRetryFailures
//     for cache file operations
//   - MemoryUsageRatio, MemoryPaused, MemoryGCPauses
//
// # Usage
//
// Call [InitializeMetrics] once at startup with the configured encoder names
// so every label combination is exported from the first scrape. The
// metrics are served on a separate port by the main package through
// promhttp.Handler().
package metrics
