/*
Package filesystem provides resilient file operations for the transcode
cache, with automatic retry for NFS stale file handle errors.

The cache directory is commonly an NFS or other network mount shared
between replicas. Operations that fail with ESTALE (errno 116) are retried
with exponential backoff; every other error is returned immediately.

# Usage

	cfg := filesystem.DefaultRetryConfig()

	data, err := filesystem.ReadFileWithRetry("/cache/transcoded/1234.mp4", cfg)

	err = filesystem.WriteFileAtomic("/cache/transcoded/1234.mp4", mp4, 0o644, cfg)

WriteFileAtomic writes to a temporary file next to the target and renames
it into place, so a concurrent reader sees either the old file or the new
one.

# Metrics

Stale handle occurrences, retry attempts and exhausted retries are counted
per operation ("stat", "read", "write", "remove") in the metrics package.
*/
package filesystem
