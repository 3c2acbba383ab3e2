package encoder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strconv"
	"sync"

	"ugoira-transcoder/internal/frame"
	"ugoira-transcoder/internal/logging"
	"ugoira-transcoder/internal/mp4"

	ffmpeg "github.com/u2takey/ffmpeg-go"
	"golang.org/x/sync/errgroup"
)

// Defaults for the libx264 encoder.
const (
	DefaultFFmpegPath = "ffmpeg"
	DefaultPreset     = "slow"
	DefaultCRF        = 18
)

const stderrLimit = 4096

// H264 encodes frames with libx264 in an ffmpeg subprocess. Raw RGBA frames
// go in on stdin and an Annex-B elementary stream comes back on stdout; the
// container is written here so frame durations are kept exactly.
type H264 struct {
	decoder frame.Decoder
	path    string
	preset  string
	crf     int

	processMu sync.Mutex
	processes map[*exec.Cmd]struct{}
}

// NewH264 creates an ffmpeg-backed encoder. Empty or zero arguments take
// the package defaults.
func NewH264(decoder frame.Decoder, ffmpegPath, preset string, crf int) *H264 {
	if ffmpegPath == "" {
		ffmpegPath = DefaultFFmpegPath
	}
	if preset == "" {
		preset = DefaultPreset
	}
	if crf <= 0 || crf > 51 {
		crf = DefaultCRF
	}
	return &H264{
		decoder:   decoder,
		path:      ffmpegPath,
		preset:    preset,
		crf:       crf,
		processes: make(map[*exec.Cmd]struct{}),
	}
}

// Name implements Encoder.
func (e *H264) Name() string {
	return NameH264
}

// Args returns the ffmpeg arguments for a width x height input.
func (e *H264) Args(width, height int) []string {
	return ffmpeg.Input("pipe:", ffmpeg.KwArgs{
		"f":       "rawvideo",
		"pix_fmt": "rgba",
		"s":       fmt.Sprintf("%dx%d", width, height),
	}).Output("pipe:", ffmpeg.KwArgs{
		"f":           "h264",
		"c:v":         "libx264",
		"preset":      e.preset,
		"crf":         strconv.Itoa(e.crf),
		"profile:v":   "main",
		"pix_fmt":     "yuv420p",
		"bf":          "0",
		"x264-params": "aud=1",
		"threads":     "1",
	}).GlobalArgs("-hide_banner", "-loglevel", "error", "-nostats").GetArgs()
}

// Encode implements Encoder.
func (e *H264) Encode(ctx context.Context, src FrameSource, sink ByteSink, p Params) error {
	if p.Frames <= 0 {
		return fmt.Errorf("%w: no frames", ErrEncode)
	}

	c := &canvas{decoder: e.decoder, codec: p.Codec}
	first, firstUnits, err := c.next(src)
	if err != nil {
		return err
	}

	m := mp4.NewMuxer(sink)
	if err := m.Start(); err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}

	// ffmpeg is killed only when a pipe goroutine fails. After closing
	// stdout it may still be flushing, so a clean run waits for its exit.
	procCtx, kill := context.WithCancel(ctx)
	defer kill()
	cmd := exec.CommandContext(procCtx, e.path, e.Args(c.width, c.height)...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("%w: stdin pipe: %w", ErrEncode, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("%w: stdout pipe: %w", ErrEncode, err)
	}
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: start ffmpeg: %w", ErrEncode, err)
	}
	e.track(cmd)
	defer e.untrack(cmd)

	durations := make(chan uint32, p.Frames)

	var g errgroup.Group
	goKill := func(fn func() error) {
		g.Go(func() error {
			err := fn()
			if err != nil {
				kill()
			}
			return err
		})
	}

	goKill(func() error {
		defer stdin.Close()

		f, units := first, firstUnits
		var err error
		for i := 0; ; i++ {
			durations <- units
			if err := writeRGBA(stdin, f); err != nil {
				return fmt.Errorf("%w: feed frame %d: %w", ErrEncode, i, err)
			}
			if i+1 == p.Frames {
				return nil
			}
			if f, units, err = c.next(src); err != nil {
				return err
			}
		}
	})

	au := &accessUnits{}
	goKill(func() error {
		return au.read(stdout, func(sample []byte, key bool) error {
			var units uint32
			select {
			case units = <-durations:
			default:
				return fmt.Errorf("%w: ffmpeg returned more pictures than frames", ErrEncode)
			}
			return m.WriteSample(sample, units, key)
		})
	})

	groupErr := g.Wait()
	waitErr := cmd.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if waitErr != nil && (groupErr == nil || errors.Is(groupErr, ErrEncode) && exitedByItself(waitErr)) {
		return fmt.Errorf("%w: ffmpeg: %v: %s", ErrEncode, waitErr, stderr.String())
	}
	if groupErr != nil {
		return groupErr
	}
	if m.SampleCount() != p.Frames {
		return fmt.Errorf("%w: ffmpeg returned %d of %d pictures", ErrEncode, m.SampleCount(), p.Frames)
	}

	track := mp4.Track{Codec: mp4.CodecAVC, Width: c.width, Height: c.height, SPS: au.sps, PPS: au.pps}
	if err := m.Finish(track); err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return nil
}

// exitedByItself reports whether ffmpeg ended with its own exit status
// rather than from a kill, so that its stderr explains the failure.
func exitedByItself(err error) bool {
	var exit *exec.ExitError
	return errors.As(err, &exit) && exit.Exited()
}

// Cleanup kills every running ffmpeg process.
func (e *H264) Cleanup() {
	e.processMu.Lock()
	defer e.processMu.Unlock()

	for cmd := range e.processes {
		if cmd.Process != nil {
			logging.Info("Killing ffmpeg process %d", cmd.Process.Pid)
			if err := cmd.Process.Kill(); err != nil {
				logging.Warn("failed to kill ffmpeg process %d: %v", cmd.Process.Pid, err)
			}
		}
	}
}

// Running returns the number of live ffmpeg processes.
func (e *H264) Running() int {
	e.processMu.Lock()
	defer e.processMu.Unlock()
	return len(e.processes)
}

func (e *H264) track(cmd *exec.Cmd) {
	e.processMu.Lock()
	e.processes[cmd] = struct{}{}
	e.processMu.Unlock()
}

func (e *H264) untrack(cmd *exec.Cmd) {
	e.processMu.Lock()
	delete(e.processes, cmd)
	e.processMu.Unlock()
}

func writeRGBA(w io.Writer, f *frame.Frame) error {
	img := f.Image
	rowLen := f.Width * 4
	if img.Stride == rowLen {
		_, err := w.Write(img.Pix[:rowLen*f.Height])
		return err
	}
	for y := 0; y < f.Height; y++ {
		off := y * img.Stride
		if _, err := w.Write(img.Pix[off : off+rowLen]); err != nil {
			return err
		}
	}
	return nil
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(room, len(p))])
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
