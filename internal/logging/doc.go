// Package logging provides the leveled logger used across the transcoding
// service.
//
// Levels, lowest first:
//   - DEBUG: per-frame and per-request detail
//   - INFO: startup, completed transcodes
//   - WARN: recoverable conditions (cache write failures, bad config values)
//   - ERROR: failed transcodes and handler errors
//   - FATAL: startup errors that terminate the process
//
// The level comes from LOG_LEVEL, or DEBUG=true as a shortcut. Messages that
// belong to a single transcode can be tagged with its job id through
// [ForJob].
package logging
