// Package upstream talks to the illustration host: it resolves an
// animation id to its frame metadata and opens the frame archive as a
// live, size-bounded stream.
package upstream
