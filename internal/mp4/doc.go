// Package mp4 writes and inspects single-track ISO base media files.
//
// Boxes are written and read with github.com/abema/go-mp4. The [Muxer]
// streams samples straight into an io.WriteSeeker: it writes ftyp and opens
// mdat with a placeholder size, appends sample data as it arrives, then
// seeks back to patch the mdat size once the total is known and appends
// moov at the end. The result is a finalized, non-fragmented
// file with one video track whose sample durations come straight from the
// caller, so frames need not share a common rate.
//
// [Inspect] parses such a file back into its sample table.
package mp4
