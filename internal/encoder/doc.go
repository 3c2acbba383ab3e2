// Package encoder turns a sequence of archive frames into an MP4 file.
//
// An [Encoder] pulls frames from a [FrameSource] and writes container bytes
// to a [ByteSink]. Advance moves the source to the next frame and reports how
// long that frame stays on screen; Read then yields the frame's encoded
// image bytes, which the encoder decodes itself. The sink must support
// seeking back so the muxer can patch sizes once the last sample is written.
//
// Two codecs are provided:
//
//   - [MJPEG] re-encodes every frame as a baseline JPEG in pure Go
//   - [H264] pipes raw RGBA frames through an ffmpeg/libx264 subprocess
//
// Both produce a single video track whose sample durations are the frame
// delays in milliseconds.
package encoder
