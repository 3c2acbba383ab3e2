package handlers

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"ugoira-transcoder/internal/archive"
	"ugoira-transcoder/internal/database"
	"ugoira-transcoder/internal/encoder"
	"ugoira-transcoder/internal/frame"
	"ugoira-transcoder/internal/logging"
	"ugoira-transcoder/internal/memory"
	"ugoira-transcoder/internal/metrics"
	"ugoira-transcoder/internal/mp4"
	"ugoira-transcoder/internal/sink"
	"ugoira-transcoder/internal/streaming"
	"ugoira-transcoder/internal/transcode"
	"ugoira-transcoder/internal/upstream"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

const (
	archiveBufferSize = 0x4000
	videoCacheControl = "public, max-age=31536000"
)

// Pipeline stages, used to attribute failures that carry no sentinel.
const (
	stageMetadata = "metadata"
	stageQueue    = "queue"
	stageArchive  = "archive"
	stageEncode   = "encode"
)

// stageError records which pipeline stage failed.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string {
	return fmt.Sprintf("%s: %v", e.stage, e.err)
}

func (e *stageError) Unwrap() error {
	return e.err
}

// ServeUgoira transcodes an animation to MP4, or serves it from the cache.
// GET /ugoira/{id}
func (h *Handlers) ServeUgoira(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "Invalid animation id", http.StatusBadRequest)
		return
	}

	if h.cache != nil {
		if data, rec, ok := h.cache.Get(r.Context(), id); ok {
			w.Header().Set("X-Cache", "HIT")
			w.Header().Set("X-Request-ID", rec.JobID)
			h.serveVideo(w, r, id, rec.CreatedAt, data)
			return
		}
		w.Header().Set("X-Cache", "MISS")
	}

	jobID := uuid.NewString()
	w.Header().Set("X-Request-ID", jobID)

	res, meta, err := h.runTranscode(r.Context(), id, jobID)
	if err != nil {
		status, reason := classify(err)
		log := logging.ForJob(jobID)
		if status >= http.StatusInternalServerError {
			log.Error("animation %d failed with %d: %v", id, status, err)
		} else {
			log.Warn("animation %d rejected with %d: %v", id, status, err)
		}
		http.Error(w, reason, status)
		return
	}

	created := time.Now()
	if h.cache != nil {
		h.store(r.Context(), id, meta, res, created)
	}
	h.serveVideo(w, r, id, created, res.Data)
}

// runTranscode fetches metadata, waits for a worker slot and runs the
// pipeline over the live archive body.
func (h *Handlers) runTranscode(ctx context.Context, id int64, jobID string) (_ *transcode.Result, _ *upstream.Metadata, err error) {
	enc := h.transcoder.EncoderName()
	start := time.Now()
	defer func() {
		metrics.TranscodesTotal.WithLabelValues(enc, metricStatus(err)).Inc()
	}()

	if h.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.timeout)
		defer cancel()
	}

	meta, err := h.upstream.Metadata(ctx, id)
	if err != nil {
		return nil, nil, &stageError{stage: stageMetadata, err: err}
	}

	queued := time.Now()
	if err := h.slots.Acquire(ctx, 1); err != nil {
		return nil, nil, &stageError{stage: stageQueue, err: err}
	}
	defer h.slots.Release(1)

	if h.memory != nil {
		if err := h.memory.Wait(ctx); err != nil {
			return nil, nil, &stageError{stage: stageQueue, err: err}
		}
	}
	metrics.TranscodeQueueWait.Observe(time.Since(queued).Seconds())

	metrics.TranscodesInFlight.Inc()
	defer metrics.TranscodesInFlight.Dec()

	body, err := h.upstream.OpenArchive(ctx, meta.ArchiveURL)
	if err != nil {
		return nil, nil, &stageError{stage: stageArchive, err: err}
	}
	defer func() {
		if closeErr := body.Close(); closeErr != nil {
			logging.Debug("closing archive body for %d: %v", id, closeErr)
		}
	}()

	res, err := h.transcoder.Transcode(ctx, transcode.Job{
		ID:      jobID,
		Codec:   meta.Codec,
		Frames:  transcode.Descriptors(meta.Delays),
		Archive: bufio.NewReaderSize(body, archiveBufferSize),
	})
	if err != nil {
		// Errors raised after the deadline are reported as the deadline.
		if ctxErr := ctx.Err(); ctxErr != nil && !errors.Is(err, ctxErr) {
			err = fmt.Errorf("%w: %w", ctxErr, err)
		}
		return nil, nil, &stageError{stage: stageEncode, err: err}
	}

	metrics.TranscodeDuration.WithLabelValues(enc).Observe(time.Since(start).Seconds())
	metrics.FramesProcessed.WithLabelValues(meta.Codec.String()).Add(float64(res.Frames))
	metrics.OutputBytes.Observe(float64(len(res.Data)))
	return res, meta, nil
}

// store writes a finished transcode to the cache. A failure only costs a
// future cache hit.
func (h *Handlers) store(ctx context.Context, id int64, meta *upstream.Metadata, res *transcode.Result, created time.Time) {
	rec := &database.Transcode{
		ID:         id,
		JobID:      res.JobID,
		Encoder:    res.Encoder,
		Codec:      meta.Codec.String(),
		Frames:     res.Frames,
		DurationMS: res.Duration.Milliseconds(),
		CreatedAt:  created,
	}
	if info, err := mp4.Inspect(res.Data); err == nil {
		rec.Width, rec.Height = info.Width, info.Height
	} else {
		logging.Warn("inspecting output of %d: %v", id, err)
	}

	if err := h.cache.Put(context.WithoutCancel(ctx), rec, res.Data); err != nil {
		logging.Warn("caching animation %d: %v", id, err)
	}
}

func (h *Handlers) serveVideo(w http.ResponseWriter, r *http.Request, id int64, modtime time.Time, data []byte) {
	w.Header().Set("Content-Type", "video/mp4")
	w.Header().Set("Cache-Control", videoCacheControl)

	name := strconv.FormatInt(id, 10) + ".mp4"
	if err := streaming.ServeContent(w, r, name, modtime, data, h.streaming); err != nil {
		if errors.Is(err, streaming.ErrClientGone) || errors.Is(err, streaming.ErrStreamCanceled) {
			logging.Debug("client left while sending %s: %v", name, err)
			return
		}
		logging.Warn("sending %s: %v", name, err)
	}
}

// classify maps a pipeline error to an HTTP status and a short reason. Decode
// and archive failures are checked before ErrEncode, which the encoders wrap
// around everything they return.
func classify(err error) (int, string) {
	var archiveErr *archive.Error
	var se *stageError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "Transcode timed out"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "Transcode canceled"
	case errors.Is(err, memory.ErrStopped):
		return http.StatusServiceUnavailable, "Server is shutting down"
	case errors.Is(err, upstream.ErrNotFound):
		return http.StatusNotFound, "Animation not found"
	case errors.Is(err, transcode.ErrNoFrames):
		return http.StatusUnprocessableEntity, "Animation has no frames"
	case errors.Is(err, transcode.ErrInvalidMetadata):
		return http.StatusUnprocessableEntity, "Animation metadata is invalid"
	case errors.Is(err, upstream.ErrArchiveTooLarge):
		return http.StatusBadGateway, "Frame archive too large"
	case errors.Is(err, upstream.ErrArchiveUnavailable):
		return http.StatusBadGateway, "Frame archive unavailable"
	case errors.Is(err, transcode.ErrFrameCountMismatch):
		return http.StatusBadGateway, "Frame archive does not match metadata"
	case errors.As(err, &archiveErr),
		errors.Is(err, archive.ErrMalformedHeader),
		errors.Is(err, archive.ErrUnsupportedCompression),
		errors.Is(err, archive.ErrTruncated),
		errors.Is(err, archive.ErrCorruptEntry):
		return http.StatusBadGateway, "Frame archive is damaged"
	case errors.Is(err, frame.ErrCorrupt), errors.Is(err, frame.ErrUnsupportedFormat):
		return http.StatusBadGateway, "Frame could not be decoded"
	case errors.Is(err, upstream.ErrBadResponse):
		return http.StatusBadGateway, "Upstream returned a malformed response"
	case errors.Is(err, sink.ErrTooLarge):
		return http.StatusInternalServerError, "Video exceeds the output size limit"
	case errors.Is(err, encoder.ErrEncode):
		return http.StatusInternalServerError, "Video encoding failed"
	case errors.As(err, &se) && (se.stage == stageMetadata || se.stage == stageArchive):
		return http.StatusBadGateway, "Upstream request failed"
	default:
		return http.StatusInternalServerError, "Transcode failed"
	}
}

// metricStatus maps a pipeline error to the status label of
// metrics.TranscodesTotal.
func metricStatus(err error) string {
	if err == nil {
		return metrics.StatusSuccess
	}
	var archiveErr *archive.Error
	var se *stageError
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return metrics.StatusCanceled
	case errors.Is(err, memory.ErrStopped):
		return metrics.StatusUnavailable
	case errors.Is(err, transcode.ErrFrameCountMismatch), errors.As(err, &archiveErr),
		errors.Is(err, upstream.ErrArchiveUnavailable), errors.Is(err, upstream.ErrArchiveTooLarge):
		return metrics.StatusArchive
	case errors.Is(err, frame.ErrCorrupt), errors.Is(err, frame.ErrUnsupportedFormat):
		if errors.As(err, &se) && se.stage == stageMetadata {
			return metrics.StatusMetadata
		}
		return metrics.StatusDecode
	case errors.As(err, &se) && se.stage == stageMetadata:
		return metrics.StatusMetadata
	case errors.Is(err, transcode.ErrNoFrames), errors.Is(err, transcode.ErrInvalidMetadata):
		return metrics.StatusMetadata
	case errors.As(err, &se) && se.stage == stageArchive:
		return metrics.StatusArchive
	default:
		return metrics.StatusEncode
	}
}
