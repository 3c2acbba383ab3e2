// Package archive reads ZIP archives as a forward-only stream.
//
// archive/zip needs an io.ReaderAt and the central directory at the end of
// the file. Frame archives arrive as a live HTTP body, so this package walks
// the local file headers in order instead and never looks at the central
// directory. Each call to [Reader.Next] yields an [Entry] bounded by the
// compressed size declared in its header; whatever follows that bound is
// left for the next header parse.
//
// Only store and deflate entries are supported, and every entry must declare
// its sizes up front.
package archive
