// Package middleware provides HTTP middleware for the transcoder.
//
// It includes:
//   - Request logging in W3C Extended Log Format, with the job id
//   - Prometheus request metrics labeled by route template
//   - Response compression (zstd, gzip) for JSON and text bodies
package middleware
