// Package memory keeps the transcoder inside its container memory limit.
//
// [ConfigureFromEnv] derives GOMEMLIMIT from MEMORY_LIMIT (set through the
// Kubernetes Downward API) and MEMORY_RATIO. The default ratio of 0.75 leaves
// a quarter of the container for ffmpeg and libvips, whose allocations the Go
// runtime cannot see.
//
// [Monitor] samples the heap and, above the critical water mark, holds new
// transcodes in [Monitor.Wait] until usage falls back under the high water
// mark. Transcodes already running are never interrupted.
//
//	monitor := memory.NewMonitor(memory.DefaultConfig())
//	monitor.Start()
//	defer monitor.Stop()
//
//	if err := monitor.Wait(ctx); err != nil {
//	    return err
//	}
package memory
