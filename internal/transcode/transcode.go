package transcode

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"ugoira-transcoder/internal/archive"
	"ugoira-transcoder/internal/encoder"
	"ugoira-transcoder/internal/frame"
	"ugoira-transcoder/internal/logging"
	"ugoira-transcoder/internal/sink"

	"github.com/google/uuid"
)

var (
	// ErrNoFrames indicates metadata that lists no frames.
	ErrNoFrames = errors.New("no frames")

	// ErrInvalidMetadata indicates metadata that cannot describe a video,
	// such as a negative frame delay or an unknown codec.
	ErrInvalidMetadata = errors.New("invalid metadata")

	// ErrFrameCountMismatch indicates the archive holds a different number
	// of entries than the metadata lists.
	ErrFrameCountMismatch = errors.New("frame count mismatch")
)

// FrameError records the frame a failure belongs to.
type FrameError struct {
	Index int
	Err   error
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("frame %d: %v", e.Index, e.Err)
}

func (e *FrameError) Unwrap() error {
	return e.Err
}

// MinFrameDuration is how long a frame with a zero delay is displayed.
const MinFrameDuration = time.Millisecond

// Descriptor is one frame's position and display duration.
type Descriptor struct {
	Index    int
	Duration time.Duration
}

// Descriptors builds the frame list from per-frame delays in milliseconds.
func Descriptors(delays []int) []Descriptor {
	frames := make([]Descriptor, len(delays))
	for i, ms := range delays {
		frames[i] = Descriptor{Index: i, Duration: time.Duration(ms) * time.Millisecond}
	}
	return frames
}

// Job is a single transcode request.
type Job struct {
	// ID correlates log lines. A random id is assigned when empty.
	ID      string
	Codec   frame.Codec
	Frames  []Descriptor
	Archive io.Reader
}

// Result is a finished MP4.
type Result struct {
	JobID        string
	Data         []byte
	Frames       int
	Duration     time.Duration
	Encoder      string
	ArchiveBytes int64
	Elapsed      time.Duration
}

// Transcoder runs jobs through one encoder. It holds no per-call state and
// may be shared between goroutines.
type Transcoder struct {
	enc       encoder.Encoder
	maxOutput int64
}

// New creates a Transcoder. maxOutput bounds the size of a finished file;
// zero means unlimited.
func New(enc encoder.Encoder, maxOutput int64) *Transcoder {
	return &Transcoder{enc: enc, maxOutput: maxOutput}
}

// EncoderName returns the name of the configured encoder.
func (t *Transcoder) EncoderName() string {
	return t.enc.Name()
}

// Transcode converts job into a finished MP4. Any failure aborts the call
// and no output is returned.
func (t *Transcoder) Transcode(ctx context.Context, job Job) (*Result, error) {
	start := time.Now()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	log := logging.ForJob(job.ID)

	total, err := validate(job)
	if err != nil {
		log.Warn("rejected: %v", err)
		return nil, err
	}

	out := sink.NewWithLimit(t.maxOutput)
	c := NewContext(ctx, archive.NewReader(job.Archive), out, job.Frames)
	log.Debug("transcoding %d %s frames with %s", len(job.Frames), job.Codec, t.enc.Name())

	err = t.enc.Encode(ctx, c, c, encoder.Params{Frames: len(job.Frames), Codec: job.Codec})
	if err == nil {
		err = c.finish()
	}
	if err != nil {
		err = c.frameError(err)
		log.Error("transcode failed after %v: %v", time.Since(start), err)
		return nil, err
	}

	data, err := out.Bytes()
	if err != nil {
		return nil, err
	}

	res := &Result{
		JobID:        job.ID,
		Data:         data,
		Frames:       len(job.Frames),
		Duration:     total,
		Encoder:      t.enc.Name(),
		ArchiveBytes: c.ArchiveBytes(),
		Elapsed:      time.Since(start),
	}
	log.Info("transcoded %d frames (%v) into %d bytes in %v", res.Frames, res.Duration, len(res.Data), res.Elapsed)
	return res, nil
}

// validate checks the frame list and returns its total duration.
func validate(job Job) (time.Duration, error) {
	if len(job.Frames) == 0 {
		return 0, ErrNoFrames
	}
	if job.Codec != frame.CodecJPEG && job.Codec != frame.CodecPNG {
		return 0, fmt.Errorf("%w: codec %s", ErrInvalidMetadata, job.Codec)
	}
	if job.Archive == nil {
		return 0, fmt.Errorf("%w: no archive", ErrInvalidMetadata)
	}

	var total time.Duration
	for i, f := range job.Frames {
		if f.Index != i {
			return 0, fmt.Errorf("%w: frame %d listed at position %d", ErrInvalidMetadata, f.Index, i)
		}
		if f.Duration < 0 || f.Duration > math.MaxUint16*time.Millisecond {
			return 0, fmt.Errorf("%w: frame %d has delay %v", ErrInvalidMetadata, i, f.Duration)
		}
		// A zero delay is shown for the shortest representable time.
		total += max(f.Duration, MinFrameDuration)
	}
	return total, nil
}
