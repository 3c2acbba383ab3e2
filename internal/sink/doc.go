// Package sink provides the in-memory output store a muxer writes into.
//
// [Buffer] behaves like a file opened for read/write: writes overwrite from
// the cursor and append past the end, and the cursor can be moved backwards
// so container headers can be patched once the total size is known. As with
// a file, the cursor may be moved past the end; the next write fills the gap
// with zero bytes.
package sink
