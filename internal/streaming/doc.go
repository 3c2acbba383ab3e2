/*
Package streaming sends finished MP4 files to HTTP clients without letting a
slow or vanished client hold a handler forever.

[TimeoutWriter] wraps an http.ResponseWriter. Large writes are split into
chunks and each chunk gets its own write deadline through
http.ResponseController. A chunk that misses the deadline ends the response
with [ErrWriteTimeout]; a canceled request context ends it with
[ErrClientGone].

[ServeContent] is the usual entry point. It hands the body to
http.ServeContent, so byte ranges and conditional requests from video
players work unchanged:

	w.Header().Set("Content-Type", "video/mp4")
	err := streaming.ServeContent(w, r, "44298467.mp4", created, data, streaming.DefaultConfig())
	if errors.Is(err, streaming.ErrClientGone) {
		return
	}

Writers that do not support deadlines, such as httptest.ResponseRecorder,
are written to without one.
*/
package streaming
