package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"ugoira-transcoder/internal/encoder"
	"ugoira-transcoder/internal/filesystem"
	"ugoira-transcoder/internal/frame"
	"ugoira-transcoder/internal/logging"
	"ugoira-transcoder/internal/mp4"
	"ugoira-transcoder/internal/transcode"
	"ugoira-transcoder/internal/upstream"

	"golang.org/x/term"
)

const (
	// Default timeout for a whole conversion, download included
	defaultTimeout = 5 * time.Minute

	archiveBufferSize = 0x4000
)

// errUsage marks errors caused by bad arguments.
var errUsage = errors.New("usage")

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	command := os.Args[1]

	// Pipeline progress is info-level; keep it off the terminal unless asked for.
	if os.Getenv("LOG_LEVEL") == "" && os.Getenv("DEBUG") == "" {
		logging.SetLevel(logging.LevelWarn)
	}

	// Create a context that cancels on interrupt signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nInterrupted, shutting down...")
		cancel()
	}()

	var err error
	switch command {
	case "convert":
		err = runConvert(ctx, os.Args[2:], os.Stdout, os.Stderr)
	case "fetch":
		err = runFetch(ctx, os.Args[2:], os.Stdout, os.Stderr)
	case "inspect":
		err = runInspect(os.Args[2:], os.Stdout, os.Stderr)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
		return
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", sanitizeCommand(command))
		printUsage(os.Stderr)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// sanitizeCommand returns a safe representation of a command string for display.
// Any character that is not alphanumeric, a hyphen or an underscore becomes '_'.
func sanitizeCommand(cmd string) string {
	var b strings.Builder
	b.Grow(len(cmd))
	for _, r := range cmd {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	return b.String()
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Ugoira to MP4 converter")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Usage: ugoira-convert <command> [flags]")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  convert -zip frames.zip -meta meta.json -o out.mp4")
	fmt.Fprintln(w, "          Convert a downloaded frame archive")
	fmt.Fprintln(w, "  fetch   -id 44298467 -o out.mp4")
	fmt.Fprintln(w, "          Download and convert an animation")
	fmt.Fprintln(w, "  inspect [-v] file.mp4")
	fmt.Fprintln(w, "          Print the track and sample table of an MP4")
	fmt.Fprintln(w, "")
	fmt.Fprintln(w, "Use -o - to write the video to standard output.")
}

// encoderFlags are shared by convert and fetch.
type encoderFlags struct {
	name      string
	decoder   string
	ffmpeg    string
	quality   int
	preset    string
	crf       int
	maxOutput int64
}

func (f *encoderFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.name, "encoder", encoder.NameH264, "encoder: h264 or mjpeg (h264 falls back to mjpeg without ffmpeg)")
	fs.StringVar(&f.decoder, "decoder", "std", "frame decoder: std or vips")
	fs.StringVar(&f.ffmpeg, "ffmpeg", encoder.DefaultFFmpegPath, "path to the ffmpeg binary")
	fs.IntVar(&f.quality, "quality", encoder.DefaultJPEGQuality, "JPEG quality for the mjpeg encoder")
	fs.StringVar(&f.preset, "preset", encoder.DefaultPreset, "x264 preset")
	fs.IntVar(&f.crf, "crf", encoder.DefaultCRF, "x264 constant rate factor")
	fs.Int64Var(&f.maxOutput, "max-output", 256<<20, "maximum output size in bytes (0 for no limit)")
}

// transcoder builds the pipeline. The returned cleanup releases libvips.
func (f *encoderFlags) transcoder(stderr io.Writer) (*transcode.Transcoder, func(), error) {
	cleanup := func() {}

	var dec frame.Decoder = frame.StdDecoder{}
	switch f.decoder {
	case "std":
	case "vips":
		if err := frame.InitVips(); err != nil {
			fmt.Fprintf(stderr, "Warning: libvips unavailable (%v), using std decoder\n", err)
		} else {
			dec = frame.VipsDecoder{}
			cleanup = frame.ShutdownVips
		}
	default:
		return nil, nil, fmt.Errorf("%w: unknown decoder %q", errUsage, f.decoder)
	}

	name := strings.ToLower(f.name)
	if name == encoder.NameH264 && !encoder.FFmpegAvailable(f.ffmpeg) {
		fmt.Fprintf(stderr, "Warning: %s not found, using %s encoder\n", f.ffmpeg, encoder.NameMJPEG)
		name = encoder.NameMJPEG
	}

	enc, err := encoder.New(encoder.Config{
		Name:        name,
		Decoder:     dec,
		FFmpegPath:  f.ffmpeg,
		JPEGQuality: f.quality,
		Preset:      f.preset,
		CRF:         f.crf,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("%w: %v", errUsage, err)
	}
	return transcode.New(enc, f.maxOutput), cleanup, nil
}

func runConvert(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("convert", flag.ContinueOnError)
	fs.SetOutput(stderr)
	zipPath := fs.String("zip", "", "frame archive (required)")
	metaPath := fs.String("meta", "", "ugoira_meta JSON, either the API response or its body (required)")
	outPath := fs.String("o", "", "output file, or - for standard output (required)")
	var ef encoderFlags
	ef.register(fs)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *zipPath == "" || *metaPath == "" || *outPath == "" {
		fs.Usage()
		return fmt.Errorf("%w: -zip, -meta and -o are required", errUsage)
	}

	metaFile, err := os.Open(*metaPath)
	if err != nil {
		return err
	}
	meta, err := upstream.ParseMetadata(0, metaFile)
	_ = metaFile.Close()
	if err != nil {
		return fmt.Errorf("read %s: %w", *metaPath, err)
	}

	archive, err := os.Open(*zipPath)
	if err != nil {
		return err
	}
	defer func() { _ = archive.Close() }()

	tc, cleanup, err := ef.transcoder(stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := tc.Transcode(ctx, transcode.Job{
		Codec:   meta.Codec,
		Frames:  transcode.Descriptors(meta.Delays),
		Archive: bufio.NewReaderSize(archive, archiveBufferSize),
	})
	if err != nil {
		return err
	}
	return writeOutput(*outPath, res, stdout, stderr)
}

func runFetch(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("fetch", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Int64("id", 0, "animation id (required)")
	outPath := fs.String("o", "", "output file, or - for standard output (default {id}.mp4)")
	apiBase := fs.String("api", envOr("API_BASE", upstream.DefaultBaseURL), "API base URL")
	userAgent := fs.String("user-agent", envOr("USER_AGENT", upstream.DefaultUserAgent), "User-Agent header")
	maxArchive := fs.Int64("max-archive", upstream.DefaultMaxArchiveBytes, "maximum archive size in bytes")
	var ef encoderFlags
	ef.register(fs)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if *id <= 0 {
		fs.Usage()
		return fmt.Errorf("%w: -id is required", errUsage)
	}
	if *outPath == "" {
		*outPath = fmt.Sprintf("%d.mp4", *id)
	}

	client, err := upstream.New(upstream.Config{
		BaseURL:         *apiBase,
		UserAgent:       *userAgent,
		Cookie:          os.Getenv("UPSTREAM_COOKIE"),
		MaxArchiveBytes: *maxArchive,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}

	tc, cleanup, err := ef.transcoder(stderr)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	meta, err := client.Metadata(ctx, *id)
	if err != nil {
		return err
	}
	body, err := client.OpenArchive(ctx, meta.ArchiveURL)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	res, err := tc.Transcode(ctx, transcode.Job{
		Codec:   meta.Codec,
		Frames:  transcode.Descriptors(meta.Delays),
		Archive: bufio.NewReaderSize(body, archiveBufferSize),
	})
	if err != nil {
		return err
	}
	return writeOutput(*outPath, res, stdout, stderr)
}

// writeOutput stores the video and prints a summary. The summary goes to
// stderr when the video itself is written to stdout.
func writeOutput(path string, res *transcode.Result, stdout, stderr io.Writer) error {
	summary := stdout
	if path == "-" {
		if f, ok := stdout.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			return fmt.Errorf("%w: refusing to write MP4 data to a terminal", errUsage)
		}
		if _, err := stdout.Write(res.Data); err != nil {
			return err
		}
		summary = stderr
		path = "standard output"
	} else if err := filesystem.WriteFileAtomic(path, res.Data, 0o644, filesystem.DefaultRetryConfig()); err != nil {
		return err
	}

	fmt.Fprintf(summary, "Wrote %s: %d frames, %v, %d bytes (%s) in %v\n",
		path, res.Frames, res.Duration, len(res.Data), res.Encoder, res.Elapsed.Round(time.Millisecond))
	return nil
}

func runInspect(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "list every sample")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("%w: inspect takes one file", errUsage)
	}

	data, err := os.ReadFile(fs.Arg(0))
	if err != nil {
		return err
	}
	info, err := mp4.Inspect(data)
	if err != nil {
		return fmt.Errorf("%s: %w", fs.Arg(0), err)
	}

	fmt.Fprintf(stdout, "brand:     %s\n", info.MajorBrand)
	fmt.Fprintf(stdout, "codec:     %s\n", info.Codec)
	fmt.Fprintf(stdout, "size:      %dx%d\n", info.Width, info.Height)
	fmt.Fprintf(stdout, "timescale: %d\n", info.Timescale)
	fmt.Fprintf(stdout, "duration:  %v\n", info.TotalDuration())
	fmt.Fprintf(stdout, "samples:   %d (%d sync)\n", info.SampleCount(), len(info.SyncSamples))
	fmt.Fprintf(stdout, "mdat:      %d bytes at %d\n", info.MdatSize, info.MdatOffset)
	fmt.Fprintf(stdout, "moov:      at %d\n", info.MoovOffset)

	if *verbose {
		for n := 0; n < info.SampleCount(); n++ {
			start, end := info.Window(n)
			fmt.Fprintf(stdout, "  #%-4d %8d bytes  [%v, %v)\n", n, info.SampleSizes[n], start, end)
		}
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
