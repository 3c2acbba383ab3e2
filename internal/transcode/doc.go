// Package transcode runs one asset through the pipeline: archive entries
// are pulled in order, handed to an encoder as frames with their display
// durations, and the encoder's container bytes land in an in-memory sink
// that is returned only when the whole file is finished.
//
// A [Context] is the encoder's view of one call. It implements both
// [encoder.FrameSource] and [encoder.ByteSink]; the ffmpeg-backed encoder
// drives the two halves from different goroutines, so the source half and
// the sink half share no state.
package transcode
