// Package frame decodes the still images packed in a frame archive.
//
// Every frame of one asset uses the same codec, JPEG or PNG, declared by the
// asset metadata. A [Decoder] checks the byte signature against that codec
// before decoding and always returns non-premultiplied RGBA pixels:
//
//   - [StdDecoder] uses the pure Go image decoders through imaging
//   - [VipsDecoder] uses libvips and must be started with [InitVips]
//
// [Fit] scales frames whose size differs from the first frame of the
// animation onto the output canvas.
package frame
