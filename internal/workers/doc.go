/*
Package workers sizes the transcoder's concurrency from the CPUs the
container actually has.

runtime.NumCPU reports the host's cores; runtime.GOMAXPROCS(0) reports the
container's CPU limit (Go 1.19+). Every count here starts from GOMAXPROCS.

	// One transcode per CPU, at most 8, unless TRANSCODE_WORKERS is set.
	n := workers.ForTranscode(8)

TRANSCODE_WORKERS is read on every call and must be a positive integer;
anything else is logged and ignored.
*/
package workers
