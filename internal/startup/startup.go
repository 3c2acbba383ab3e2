package startup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"time"

	"ugoira-transcoder/internal/encoder"
	"ugoira-transcoder/internal/logging"
	"ugoira-transcoder/internal/memory"
	"ugoira-transcoder/internal/upstream"
	"ugoira-transcoder/internal/workers"

	"github.com/gorilla/mux"
)

// Build-time variables (injected via -ldflags)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// BuildInfo contains version and build information
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	GoVersion string `json:"goVersion"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

// GetBuildInfo returns the current build information
func GetBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

// RouteInfo contains information about a registered route
type RouteInfo struct {
	Method string
	Path   string
	Name   string
}

// Decoder names accepted by DECODER.
const (
	DecoderStd  = "std"
	DecoderVips = "vips"
)

// Config holds all application configuration
type Config struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	LogHealthChecks bool

	// Upstream
	APIBase         string
	UserAgent       string
	UpstreamCookie  string
	UpstreamTimeout time.Duration
	MaxArchiveBytes int64

	// Transcoding
	Encoder          string
	Decoder          string
	FFmpegPath       string
	X264Preset       string
	X264CRF          int
	JPEGQuality      int
	MaxOutputBytes   int64
	TranscodeWorkers int
	TranscodeTimeout time.Duration

	// Storage
	CacheDir     string
	CacheEnabled bool
	DatabaseDir  string
	DatabasePath string
}

// LoadConfig loads and validates configuration from environment variables
func LoadConfig() (*Config, error) {
	printBanner()
	logSystemInfo()

	rule("CONFIGURATION")

	config := &Config{
		Port:             getEnv("PORT", "8080"),
		MetricsPort:      getEnv("METRICS_PORT", "9090"),
		MetricsEnabled:   getEnvBool("METRICS_ENABLED", true),
		LogHealthChecks:  getEnvBool("LOG_HEALTH_CHECKS", true),
		APIBase:          getEnv("API_BASE", upstream.DefaultBaseURL),
		UserAgent:        getEnv("USER_AGENT", upstream.DefaultUserAgent),
		UpstreamCookie:   os.Getenv("UPSTREAM_COOKIE"),
		UpstreamTimeout:  getEnvDuration("UPSTREAM_TIMEOUT", upstream.DefaultTimeout),
		MaxArchiveBytes:  getEnvInt64("MAX_ARCHIVE_BYTES", upstream.DefaultMaxArchiveBytes),
		Encoder:          strings.ToLower(getEnv("ENCODER", encoder.NameH264)),
		Decoder:          strings.ToLower(getEnv("DECODER", DecoderStd)),
		FFmpegPath:       getEnv("FFMPEG_PATH", encoder.DefaultFFmpegPath),
		X264Preset:       getEnv("X264_PRESET", encoder.DefaultPreset),
		X264CRF:          getEnvInt("X264_CRF", encoder.DefaultCRF),
		JPEGQuality:      getEnvInt("JPEG_QUALITY", encoder.DefaultJPEGQuality),
		MaxOutputBytes:   getEnvInt64("MAX_OUTPUT_BYTES", 256<<20),
		TranscodeWorkers: workers.ForTranscode(0),
		TranscodeTimeout: getEnvDuration("TRANSCODE_TIMEOUT", 2*time.Minute),
		CacheDir:         getEnv("CACHE_DIR", "/cache"),
		CacheEnabled:     getEnvBool("CACHE_ENABLED", true),
		DatabaseDir:      getEnv("DATABASE_DIR", "/database"),
	}

	for _, kv := range [][2]any{
		{"PORT", config.Port},
		{"METRICS_PORT", config.MetricsPort},
		{"METRICS_ENABLED", config.MetricsEnabled},
		{"API_BASE", config.APIBase},
		{"UPSTREAM_COOKIE", redact(config.UpstreamCookie)},
		{"UPSTREAM_TIMEOUT", config.UpstreamTimeout},
		{"MAX_ARCHIVE_BYTES", config.MaxArchiveBytes},
		{"MAX_OUTPUT_BYTES", config.MaxOutputBytes},
		{"ENCODER", config.Encoder},
		{"DECODER", config.Decoder},
		{"FFMPEG_PATH", config.FFmpegPath},
		{"TRANSCODE_WORKERS", config.TranscodeWorkers},
		{"TRANSCODE_TIMEOUT", config.TranscodeTimeout},
		{"CACHE_DIR", config.CacheDir},
		{"CACHE_ENABLED", config.CacheEnabled},
		{"DATABASE_DIR", config.DatabaseDir},
		{"LOG_HEALTH_CHECKS", config.LogHealthChecks},
		{"LOG_LEVEL", logging.GetLevel()},
	} {
		logging.Info("  %-20s %v", kv[0].(string)+":", kv[1])
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	section("DIRECTORY SETUP")

	var err error
	config.DatabaseDir, err = filepath.Abs(config.DatabaseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database directory path: %w", err)
	}
	logging.Info("  Database directory (absolute): %s", config.DatabaseDir)
	config.DatabasePath = filepath.Join(config.DatabaseDir, "transcodes.db")

	if err := setupDir(config.DatabaseDir); err != nil {
		return nil, fmt.Errorf("database directory error: %w", err)
	}
	logging.Info("  [OK] Database directory is writable")

	if config.CacheEnabled {
		config.CacheDir, err = filepath.Abs(config.CacheDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve cache directory path: %w", err)
		}
		logging.Info("  Cache directory (absolute): %s", config.CacheDir)
		config.CacheEnabled = setupOptionalDir(config.CacheDir, "cache")
	}

	logging.Info("")
	logging.Info("  Feature availability:")
	logging.Info("    Database:    ENABLED (required)")
	logging.Info("    Cache:       %s", enabledString(config.CacheEnabled))
	logging.Info("    Metrics:     %s", enabledString(config.MetricsEnabled))

	return config, nil
}

func (c *Config) validate() error {
	switch c.Encoder {
	case encoder.NameH264, encoder.NameMJPEG:
	default:
		return fmt.Errorf("ENCODER must be %q or %q, got %q", encoder.NameH264, encoder.NameMJPEG, c.Encoder)
	}
	switch c.Decoder {
	case DecoderStd, DecoderVips:
	default:
		return fmt.Errorf("DECODER must be %q or %q, got %q", DecoderStd, DecoderVips, c.Decoder)
	}
	if c.MaxArchiveBytes <= 0 {
		return fmt.Errorf("MAX_ARCHIVE_BYTES must be positive, got %d", c.MaxArchiveBytes)
	}
	if c.JPEGQuality < 1 || c.JPEGQuality > 100 {
		logging.Warn("  Invalid JPEG_QUALITY %d, using default: %d", c.JPEGQuality, encoder.DefaultJPEGQuality)
		c.JPEGQuality = encoder.DefaultJPEGQuality
	}
	return nil
}

// setupOptionalDir prepares a directory for a feature that can run without
// it. It reports whether the feature stays enabled.
func setupOptionalDir(path, name string) bool {
	if err := setupDir(path); err != nil {
		logging.Warn("    %s directory unusable, %s disabled: %v", name, name, err)
		return false
	}
	logging.Debug("    [OK] %s directory ready", name)
	return true
}

// setupDir creates path if needed and checks it accepts new files.
func setupDir(path string) error {
	logging.Debug("  Preparing directory: %s", path)
	if info, err := os.Stat(path); err == nil && !info.IsDir() {
		return fmt.Errorf("%s exists but is not a directory", path)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	tmp, err := os.CreateTemp(path, ".write-test-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %w", err)
	}
	_ = tmp.Close()
	if err := os.Remove(tmp.Name()); err != nil {
		logging.Warn("failed to remove write test file %s: %v", tmp.Name(), err)
	}
	return nil
}

func enabledString(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

func redact(secret string) string {
	if secret == "" {
		return "(none)"
	}
	return "(set)"
}

// LogDatabaseInit logs the opened ledger and its schema version.
func LogDatabaseInit(path string, schemaVersion int, duration time.Duration) {
	section("DATABASE INITIALIZATION")
	logging.Info("  File:           %s", path)
	logging.Info("  Schema version: %d", schemaVersion)
	logging.Info("  [OK] Database initialized in %v", duration)
}

// LogMemoryConfig logs the outcome of memory.ConfigureFromEnv.
func LogMemoryConfig(result memory.ConfigResult) {
	section("MEMORY CONFIGURATION")
	if !result.Configured {
		logging.Info("  GOMEMLIMIT: not set (source: %s)", result.Source)
		return
	}
	logging.Info("  GOMEMLIMIT: %d bytes (source: %s)", result.GoMemLimit, result.Source)
	if result.ContainerLimit > 0 {
		logging.Info("  Container limit: %d bytes, ratio %.2f", result.ContainerLimit, result.Ratio)
	}
}

// ResolveEncoder logs the encoder setup and returns the encoder name to
// use. h264 falls back to mjpeg when ffmpeg cannot be run.
func ResolveEncoder(config *Config) string {
	section("ENCODER INITIALIZATION")

	name := config.Encoder
	if name == encoder.NameH264 {
		if err := checkFFmpeg(config.FFmpegPath); err != nil {
			logging.Warn("  FFmpeg check failed: %v", err)
			logging.Warn("  Falling back to %s encoder", encoder.NameMJPEG)
			name = encoder.NameMJPEG
		} else {
			logging.Info("  [OK] Using %s encoder (preset %s, crf %d)", name, config.X264Preset, config.X264CRF)
		}
	} else {
		logging.Info("  [OK] Using %s encoder (quality %d)", name, config.JPEGQuality)
	}

	if warning := encoder.PlaybackWarning(name); warning != "" {
		logging.Warn("  %s", warning)
	}
	return name
}

// LogDecoderInit logs which frame decoder is active.
func LogDecoderInit(name string, err error) {
	if err != nil {
		logging.Warn("  libvips unavailable: %v", err)
		logging.Warn("  Falling back to %s decoder", DecoderStd)
		return
	}
	logging.Info("  [OK] Using %s frame decoder", name)
}

// GetRoutes extracts all registered routes from a mux.Router
func GetRoutes(router *mux.Router) ([]RouteInfo, error) {
	var routes []RouteInfo

	err := router.Walk(func(route *mux.Route, _ *mux.Router, _ []*mux.Route) error {
		pathTemplate, err := route.GetPathTemplate()
		if err != nil {
			return err
		}

		methods, err := route.GetMethods()
		if err != nil {
			methods = []string{"*"}
		}

		for _, method := range methods {
			routes = append(routes, RouteInfo{
				Method: method,
				Path:   pathTemplate,
				Name:   route.GetName(),
			})
		}
		return nil
	})

	return routes, err
}

// LogHTTPRoutes logs all registered HTTP routes dynamically
func LogHTTPRoutes(router *mux.Router, logHealthChecks bool) {
	section("HTTP SERVER SETUP")

	if logging.IsDebugEnabled() {
		routes, err := GetRoutes(router)
		if err != nil {
			logging.Warn("error walking routes: %v", err)
		}

		logging.Debug("  Registered routes (%d total):", len(routes))
		logging.Debug("")

		groups := make(map[string][]RouteInfo)
		for _, route := range routes {
			prefix := getRouteGroup(route.Path)
			groups[prefix] = append(groups[prefix], route)
		}

		groupKeys := make([]string, 0, len(groups))
		for k := range groups {
			groupKeys = append(groupKeys, k)
		}
		sort.Strings(groupKeys)

		for _, group := range groupKeys {
			if group != "" {
				logging.Debug("  [%s]", group)
			} else {
				logging.Debug("  [root]")
			}
			for _, route := range groups[group] {
				logging.Debug("    %-6s %s", route.Method, route.Path)
			}
			logging.Debug("")
		}
	}

	logging.Info("  HTTP logging enabled")
	if logHealthChecks {
		logging.Info("    Health check logging: ON")
	} else {
		logging.Info("    Health check logging: OFF (set LOG_HEALTH_CHECKS=true to enable)")
	}
}

// getRouteGroup extracts a group name from a route path
func getRouteGroup(path string) string {
	path = strings.TrimPrefix(path, "/")

	parts := strings.SplitN(path, "/", 2)
	first := parts[0]

	if first == "api" && len(parts) > 1 {
		subParts := strings.SplitN(parts[1], "/", 2)
		return "api/" + subParts[0]
	}

	return first
}

// ServerConfig holds configuration for the server startup log
type ServerConfig struct {
	Port            string
	MetricsPort     string
	MetricsEnabled  bool
	Encoder         string
	Workers         int
	StartupDuration time.Duration
}

// LogServerStarted logs successful server start with all endpoint information
func LogServerStarted(config ServerConfig) {
	section("SERVER STARTED")
	logging.Info("  Startup time:    %v", config.StartupDuration)
	logging.Info("  Encoder:         %s (%d concurrent transcodes)", config.Encoder, config.Workers)
	logging.Info("")
	logging.Info("  Endpoints:")
	logging.Info("    Transcode:     http://0.0.0.0:%s/ugoira/{id}", config.Port)
	if config.MetricsEnabled {
		logging.Info("    Metrics:       http://0.0.0.0:%s/metrics", config.MetricsPort)
	} else {
		logging.Info("    Metrics:       DISABLED")
	}
	logging.Info("")
	logging.Info("  Press Ctrl+C to stop the server")
	logging.Info("------------------------------------------------------------")
	logging.Info("")
}

// LogShutdownInitiated logs shutdown start
func LogShutdownInitiated(signal string) {
	section("SHUTDOWN INITIATED (received %s)", signal)
}

// LogShutdownStep logs a shutdown step
func LogShutdownStep(step string) {
	logging.Debug("  %s...", step)
}

// LogShutdownStepComplete logs a completed shutdown step
func LogShutdownStepComplete(step string) {
	logging.Info("  [OK] %s", step)
}

// LogShutdownComplete logs shutdown completion
func LogShutdownComplete() {
	logging.Info("  [OK] Shutdown complete")
}

// LogFatal logs a fatal error and exits
func LogFatal(format string, args ...interface{}) {
	logging.Fatal(format, args...)
}

// Helper functions

func printBanner() {
	banner := `
------------------------------------------------------------
   __  __                 _
  / / / /___ _____  _____(_)________ _
 / / / / __ '/ __ \/ __ \/ / ___/ __ '/
/ /_/ / /_/ / /_/ / /_/ / / /  / /_/ /
\____/\__, /\____/\____/_/_/   \__,_/  transcoder
     /____/
------------------------------------------------------------`
	fmt.Println(banner)
	logging.Info("  Version:    %s", Version)
	logging.Info("  Commit:     %s", Commit)
	logging.Info("  Build Time: %s", BuildTime)
	logging.Info("  Started:    %s", time.Now().Format(time.RFC1123))
	logging.Info("")
}

func logSystemInfo() {
	rule("SYSTEM INFORMATION")
	logging.Info("  Go version:      %s", runtime.Version())
	logging.Info("  OS/Arch:         %s/%s", runtime.GOOS, runtime.GOARCH)
	logging.Info("  CPUs available:  %d", runtime.NumCPU())
	logging.Info("  GOMAXPROCS:      %d", runtime.GOMAXPROCS(0))

	if runtime.GOMAXPROCS(0) < runtime.NumCPU() {
		logging.Info("  (Container CPU limit detected)")
	}

	if logging.IsDebugEnabled() {
		if hostname, err := os.Hostname(); err == nil {
			logging.Debug("  Hostname:        %s", hostname)
		}
	}

	logging.Info("")
}

func checkFFmpeg(ffmpegPath string) error {
	path, err := exec.LookPath(ffmpegPath)
	if err != nil {
		return fmt.Errorf("%s not found in PATH", ffmpegPath)
	}
	logging.Debug("  FFmpeg path: %s", path)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return fmt.Errorf("failed to get ffmpeg version: %w", err)
	}

	if first, _, _ := strings.Cut(string(output), "\n"); first != "" {
		logging.Debug("  FFmpeg version: %s", strings.TrimSpace(first))
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAs parses key with parse, logging and falling back to defaultValue
// when the variable is set but unparsable.
func getEnvAs[T any](key string, defaultValue T, parse func(string) (T, error)) T {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := parse(value)
	if err != nil {
		logging.Warn("Invalid value for %s: %q, using default: %v", key, value, defaultValue)
		return defaultValue
	}
	return parsed
}

func getEnvBool(key string, defaultValue bool) bool {
	return getEnvAs(key, defaultValue, strconv.ParseBool)
}

func getEnvInt(key string, defaultValue int) int {
	return getEnvAs(key, defaultValue, strconv.Atoi)
}

func getEnvInt64(key string, defaultValue int64) int64 {
	return getEnvAs(key, defaultValue, func(s string) (int64, error) {
		return strconv.ParseInt(s, 10, 64)
	})
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	return getEnvAs(key, defaultValue, func(s string) (time.Duration, error) {
		d, err := time.ParseDuration(s)
		if err == nil && d <= 0 {
			err = errors.New("not positive")
		}
		return d, err
	})
}

func section(format string, args ...any) {
	logging.Info("")
	rule(format, args...)
}

func rule(format string, args ...any) {
	logging.Info("------------------------------------------------------------")
	logging.Info(format, args...)
	logging.Info("------------------------------------------------------------")
}
