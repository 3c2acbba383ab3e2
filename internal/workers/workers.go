package workers

import (
	"os"
	"runtime"
	"strconv"

	"ugoira-transcoder/internal/logging"
)

// EnvTranscodeWorkers overrides the number of concurrent transcodes.
const EnvTranscodeWorkers = "TRANSCODE_WORKERS"

// Count returns a worker count scaled from GOMAXPROCS, which Go derives
// from the container CPU limit. The result is at least 1 and at most limit
// when limit is positive.
func Count(multiplier float64, limit int) int {
	workers := int(float64(runtime.GOMAXPROCS(0)) * multiplier)
	return clamp(workers, limit)
}

// ForTranscode returns how many transcodes may run at once. Each transcode
// keeps one core busy decoding frames while its ffmpeg child encodes on
// another, so the default is one per CPU. TRANSCODE_WORKERS overrides it.
func ForTranscode(limit int) int {
	if override := os.Getenv(EnvTranscodeWorkers); override != "" {
		count, err := strconv.Atoi(override)
		if err == nil && count > 0 {
			return clamp(count, limit)
		}
		logging.Warn("Ignoring %s=%q: not a positive integer", EnvTranscodeWorkers, override)
	}
	return Count(1.0, limit)
}

func clamp(workers, limit int) int {
	if workers < 1 {
		workers = 1
	}
	if limit > 0 && workers > limit {
		workers = limit
	}
	return workers
}
