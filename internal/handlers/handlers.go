package handlers

import (
	"context"
	"io"
	"time"

	"ugoira-transcoder/internal/database"
	"ugoira-transcoder/internal/streaming"
	"ugoira-transcoder/internal/transcode"
	"ugoira-transcoder/internal/upstream"

	"golang.org/x/sync/semaphore"
)

// Upstream resolves animation ids to metadata and frame archives.
type Upstream interface {
	Metadata(ctx context.Context, id int64) (*upstream.Metadata, error)
	OpenArchive(ctx context.Context, archiveURL string) (io.ReadCloser, error)
}

// Transcoder turns a frame archive into a finished MP4.
type Transcoder interface {
	Transcode(ctx context.Context, job transcode.Job) (*transcode.Result, error)
	EncoderName() string
}

// TranscodeCache holds finished files keyed by animation id.
type TranscodeCache interface {
	Get(ctx context.Context, id int64) ([]byte, *database.Transcode, bool)
	Put(ctx context.Context, rec *database.Transcode, data []byte) error
	Clear(ctx context.Context) (int64, error)
}

// Ledger is the read side of the transcode database.
type Ledger interface {
	ListTranscodes(ctx context.Context, limit int) ([]database.Transcode, error)
	Stats(ctx context.Context) (database.Stats, error)
	Ping(ctx context.Context) error
}

// MemoryGate holds new transcodes back while memory is critical.
type MemoryGate interface {
	Wait(ctx context.Context) error
	IsPaused() bool
}

// Options configures Handlers. Cache, Ledger and Memory may be nil.
type Options struct {
	Upstream   Upstream
	Transcoder Transcoder
	Cache      TranscodeCache
	Ledger     Ledger
	Memory     MemoryGate

	// Workers bounds concurrent transcodes. Values below one mean one.
	Workers int

	// Timeout bounds a single transcode, including the archive download.
	// Zero means no limit beyond the request context.
	Timeout time.Duration

	Streaming streaming.Config
}

// Handlers serves the transcoding API.
type Handlers struct {
	upstream   Upstream
	transcoder Transcoder
	cache      TranscodeCache
	ledger     Ledger
	memory     MemoryGate
	slots      *semaphore.Weighted
	workers    int
	timeout    time.Duration
	streaming  streaming.Config
	started    time.Time
}

// New creates Handlers from opts.
func New(opts Options) *Handlers {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Streaming.ChunkSize <= 0 {
		opts.Streaming = streaming.DefaultConfig()
	}
	return &Handlers{
		upstream:   opts.Upstream,
		transcoder: opts.Transcoder,
		cache:      opts.Cache,
		ledger:     opts.Ledger,
		memory:     opts.Memory,
		slots:      semaphore.NewWeighted(int64(opts.Workers)),
		workers:    opts.Workers,
		timeout:    opts.Timeout,
		streaming:  opts.Streaming,
		started:    time.Now(),
	}
}
