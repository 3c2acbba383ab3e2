package archive

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"strings"
	"testing"

	"github.com/klauspost/compress/flate"
)

type fixtureEntry struct {
	name    string
	data    []byte
	deflate bool
}

// buildZip writes a complete archive whose local headers carry sizes and
// CRCs up front, the way frame archives are served.
func buildZip(t *testing.T, entries []fixtureEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		payload := e.data
		method := zip.Store
		if e.deflate {
			payload = deflateBytes(t, e.data)
			method = zip.Deflate
		}
		w, err := zw.CreateRaw(&zip.FileHeader{
			Name:               e.name,
			Method:             method,
			CRC32:              crc32.ChecksumIEEE(e.data),
			CompressedSize64:   uint64(len(payload)),
			UncompressedSize64: uint64(len(e.data)),
		})
		if err != nil {
			t.Fatalf("CreateRaw(%s) error = %v", e.name, err)
		}
		if _, err := w.Write(payload); err != nil {
			t.Fatalf("write %s: %v", e.name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func deflateBytes(t *testing.T, data []byte) []byte {
	t.Helper()

	var buf bytes.Buffer
	fw, err := flate.NewWriter(&buf, flate.BestCompression)
	if err != nil {
		t.Fatalf("flate.NewWriter() error = %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("deflate: %v", err)
	}
	if err := fw.Close(); err != nil {
		t.Fatalf("deflate close: %v", err)
	}
	return buf.Bytes()
}

// localHeader assembles a local file header by hand.
func localHeader(name string, method, flags uint16, crc, csize, usize uint32) []byte {
	b := make([]byte, 30+len(name))
	binary.LittleEndian.PutUint32(b[0:], localHeaderSignature)
	binary.LittleEndian.PutUint16(b[4:], 20)
	binary.LittleEndian.PutUint16(b[6:], flags)
	binary.LittleEndian.PutUint16(b[8:], method)
	binary.LittleEndian.PutUint32(b[14:], crc)
	binary.LittleEndian.PutUint32(b[18:], csize)
	binary.LittleEndian.PutUint32(b[22:], usize)
	binary.LittleEndian.PutUint16(b[26:], uint16(len(name)))
	copy(b[30:], name)
	return b
}

func storedEntry(name string, data []byte) []byte {
	n := uint32(len(data))
	return append(localHeader(name, Store, 0, crc32.ChecksumIEEE(data), n, n), data...)
}

func patterned(n int, seed byte) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = seed + byte(i*7)
	}
	return b
}

func TestReaderReadsEntriesInOrder(t *testing.T) {
	entries := []fixtureEntry{
		{name: "000000.jpg", data: patterned(4096, 1)},
		{name: "000001.jpg", data: patterned(10000, 2), deflate: true},
		{name: "000002.jpg", data: bytes.Repeat([]byte("ugoira"), 2000), deflate: true},
		{name: "000003.jpg", data: patterned(17, 3)},
	}
	zr := NewReader(bytes.NewReader(buildZip(t, entries)))

	for i, want := range entries {
		entry, err := zr.Next()
		if err != nil {
			t.Fatalf("Next() entry %d error = %v", i, err)
		}
		if entry.Name != want.name {
			t.Errorf("entry %d name = %q, want %q", i, entry.Name, want.name)
		}
		if entry.Index != i {
			t.Errorf("entry %d Index = %d", i, entry.Index)
		}
		if entry.Size != uint64(len(want.data)) {
			t.Errorf("entry %d Size = %d, want %d", i, entry.Size, len(want.data))
		}
		got, err := io.ReadAll(entry)
		if err != nil {
			t.Fatalf("ReadAll entry %d error = %v", i, err)
		}
		if !bytes.Equal(got, want.data) {
			t.Errorf("entry %d data mismatch: got %d bytes, want %d", i, len(got), len(want.data))
		}
	}

	if _, err := zr.Next(); err != io.EOF {
		t.Errorf("Next() after last entry error = %v, want io.EOF", err)
	}
	if _, err := zr.Next(); err != io.EOF {
		t.Errorf("repeated Next() error = %v, want io.EOF", err)
	}
}

func TestReaderSkipsUnreadData(t *testing.T) {
	entries := []fixtureEntry{
		{name: "a", data: patterned(5000, 9), deflate: true},
		{name: "b", data: patterned(3000, 4)},
		{name: "c", data: []byte("last")},
	}
	zr := NewReader(bytes.NewReader(buildZip(t, entries)))

	first, err := zr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	buf := make([]byte, 10)
	if _, err := io.ReadFull(first, buf); err != nil {
		t.Fatalf("partial read error = %v", err)
	}

	// Entry b is skipped without reading anything.
	if _, err := zr.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	last, err := zr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	got, err := io.ReadAll(last)
	if err != nil {
		t.Fatalf("ReadAll error = %v", err)
	}
	if string(got) != "last" {
		t.Errorf("last entry = %q, want %q", got, "last")
	}
}

func TestZeroLengthEntry(t *testing.T) {
	stream := append(storedEntry("empty", nil), storedEntry("next", []byte("x"))...)
	zr := NewReader(bytes.NewReader(stream))

	entry, err := zr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	n, err := entry.Read(make([]byte, 8))
	if n != 0 || err != io.EOF {
		t.Errorf("Read() = (%d, %v), want (0, io.EOF)", n, err)
	}

	next, err := zr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if next.Name != "next" {
		t.Errorf("Name = %q, want next", next.Name)
	}
}

func TestDeclaredSizeBoundsEntry(t *testing.T) {
	first := storedEntry("first", []byte("abc"))
	second := storedEntry("second", []byte("defg"))
	stream := append(append([]byte{}, first...), second...)

	zr := NewReader(bytes.NewReader(stream))
	entry, err := zr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	got, err := io.ReadAll(entry)
	if err != nil {
		t.Fatalf("ReadAll error = %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("first entry = %q, want abc", got)
	}

	next, err := zr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if next.Offset != int64(len(first)) {
		t.Errorf("second header offset = %d, want %d", next.Offset, len(first))
	}
}

func TestTrailingBytesReachNextHeaderParse(t *testing.T) {
	// The header declares 3 bytes but 6 follow. The extra bytes must be
	// parsed as the next record rather than swallowed into the entry.
	stream := append(storedEntry("short", []byte("abc")), []byte("XYZXYZ")...)

	zr := NewReader(bytes.NewReader(stream))
	entry, err := zr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	got, err := io.ReadAll(entry)
	if err != nil {
		t.Fatalf("ReadAll error = %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("entry = %q, want abc", got)
	}

	_, err = zr.Next()
	if !errors.Is(err, ErrMalformedHeader) {
		t.Fatalf("Next() error = %v, want ErrMalformedHeader", err)
	}
	var aerr *Error
	if !errors.As(err, &aerr) {
		t.Fatalf("error %T is not *Error", err)
	}
	if aerr.Offset != int64(len(stream)-6) {
		t.Errorf("Offset = %d, want %d", aerr.Offset, len(stream)-6)
	}
	if aerr.Index != 1 {
		t.Errorf("Index = %d, want 1", aerr.Index)
	}
}

func TestTruncatedStream(t *testing.T) {
	tests := []struct {
		name    string
		deflate bool
	}{
		{"stored", false},
		{"deflated", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries := []fixtureEntry{
				{name: "000000.jpg", data: patterned(2000, 1), deflate: tt.deflate},
				{name: "000001.jpg", data: patterned(2000, 5), deflate: tt.deflate},
			}
			full := buildZip(t, entries)

			// Locate the start of the second entry by parsing the first.
			scan := NewReader(bytes.NewReader(full))
			if _, err := scan.Next(); err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			second, err := scan.Next()
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			cut := second.Offset + 30 + int64(len(second.Name)) + int64(second.CompressedSize/2)

			zr := NewReader(bytes.NewReader(full[:cut]))
			first, err := zr.Next()
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if _, err := io.ReadAll(first); err != nil {
				t.Fatalf("first entry error = %v", err)
			}
			entry, err := zr.Next()
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			_, err = io.ReadAll(entry)
			if !errors.Is(err, ErrTruncated) {
				t.Errorf("ReadAll error = %v, want ErrTruncated", err)
			}
		})
	}
}

func TestTruncatedHeader(t *testing.T) {
	stream := storedEntry("frame", []byte("data"))
	zr := NewReader(bytes.NewReader(stream[:12]))

	_, err := zr.Next()
	if !errors.Is(err, ErrTruncated) {
		t.Errorf("Next() error = %v, want ErrTruncated", err)
	}
}

func TestHeaderRejections(t *testing.T) {
	data := []byte("frame")
	crc := crc32.ChecksumIEEE(data)
	n := uint32(len(data))

	tests := []struct {
		name   string
		stream []byte
		want   error
	}{
		{
			name:   "bad signature",
			stream: []byte("GIF89a not a zip at all, not even close"),
			want:   ErrMalformedHeader,
		},
		{
			name:   "bzip2",
			stream: append(localHeader("f", 12, 0, crc, n, n), data...),
			want:   ErrUnsupportedCompression,
		},
		{
			name:   "encrypted",
			stream: append(localHeader("f", Store, flagEncrypted, crc, n, n), data...),
			want:   ErrUnsupportedCompression,
		},
		{
			name:   "data descriptor without sizes",
			stream: append(localHeader("f", Deflate, flagDataDescriptor, 0, 0, 0), data...),
			want:   ErrMalformedHeader,
		},
		{
			name:   "stored size mismatch",
			stream: append(localHeader("f", Store, 0, crc, n, n+1), data...),
			want:   ErrMalformedHeader,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReader(bytes.NewReader(tt.stream)).Next()
			if !errors.Is(err, tt.want) {
				t.Errorf("Next() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestStreamingWriterArchiveRejected(t *testing.T) {
	// zip.Writer.Create defers sizes to a trailing data descriptor.
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create("000000.jpg")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	_, _ = w.Write([]byte("payload"))
	if err := zw.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	_, err = NewReader(&buf).Next()
	if !errors.Is(err, ErrMalformedHeader) {
		t.Errorf("Next() error = %v, want ErrMalformedHeader", err)
	}
}

func TestDataDescriptorWithSizes(t *testing.T) {
	data := []byte("described")
	crc := crc32.ChecksumIEEE(data)
	n := uint32(len(data))

	tests := []struct {
		name      string
		signature bool
	}{
		{"with signature", true},
		{"without signature", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stream []byte
			stream = append(stream, localHeader("a", Store, flagDataDescriptor, crc, n, n)...)
			stream = append(stream, data...)

			desc := make([]byte, 0, 16)
			if tt.signature {
				desc = binary.LittleEndian.AppendUint32(desc, dataDescriptorSignature)
			}
			desc = binary.LittleEndian.AppendUint32(desc, crc)
			desc = binary.LittleEndian.AppendUint32(desc, n)
			desc = binary.LittleEndian.AppendUint32(desc, n)
			stream = append(stream, desc...)
			stream = append(stream, storedEntry("b", []byte("next"))...)

			zr := NewReader(bytes.NewReader(stream))
			first, err := zr.Next()
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			got, err := io.ReadAll(first)
			if err != nil || !bytes.Equal(got, data) {
				t.Fatalf("first entry = (%q, %v)", got, err)
			}

			second, err := zr.Next()
			if err != nil {
				t.Fatalf("Next() error = %v", err)
			}
			if second.Name != "b" {
				t.Errorf("Name = %q, want b", second.Name)
			}
		})
	}
}

func TestChecksumMismatch(t *testing.T) {
	data := []byte("frame bytes")
	n := uint32(len(data))
	stream := append(localHeader("f", Store, 0, crc32.ChecksumIEEE(data)^1, n, n), data...)

	entry, err := NewReader(bytes.NewReader(stream)).Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	_, err = io.ReadAll(entry)
	if !errors.Is(err, ErrCorruptEntry) {
		t.Errorf("ReadAll error = %v, want ErrCorruptEntry", err)
	}
}

func TestDeflateSizeMismatch(t *testing.T) {
	data := patterned(600, 3)
	payload := deflateBytes(t, data)
	stream := append(localHeader("f", Deflate, 0, crc32.ChecksumIEEE(data),
		uint32(len(payload)), uint32(len(data)-1)), payload...)

	entry, err := NewReader(bytes.NewReader(stream)).Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	_, err = io.ReadAll(entry)
	if !errors.Is(err, ErrCorruptEntry) {
		t.Errorf("ReadAll error = %v, want ErrCorruptEntry", err)
	}
}

func TestInvalidDeflateStream(t *testing.T) {
	junk := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff}
	stream := append(localHeader("f", Deflate, 0, 0, uint32(len(junk)), 100), junk...)

	entry, err := NewReader(bytes.NewReader(stream)).Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	_, err = io.ReadAll(entry)
	if !errors.Is(err, ErrCorruptEntry) {
		t.Errorf("ReadAll error = %v, want ErrCorruptEntry", err)
	}
}

func TestEntryClosedAfterNext(t *testing.T) {
	stream := append(storedEntry("a", []byte("one")), storedEntry("b", []byte("two"))...)
	zr := NewReader(bytes.NewReader(stream))

	first, err := zr.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, err := zr.Next(); err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if _, err := first.Read(make([]byte, 4)); !errors.Is(err, ErrEntryClosed) {
		t.Errorf("Read() on stale entry error = %v, want ErrEntryClosed", err)
	}
}

func TestEmptyStream(t *testing.T) {
	if _, err := NewReader(strings.NewReader("")).Next(); err != io.EOF {
		t.Errorf("Next() error = %v, want io.EOF", err)
	}
}

func TestZip64Sizes(t *testing.T) {
	data := []byte("zip64 frame")
	n := uint64(len(data))

	extra := make([]byte, 0, 20)
	extra = binary.LittleEndian.AppendUint16(extra, zip64ExtraID)
	extra = binary.LittleEndian.AppendUint16(extra, 16)
	extra = binary.LittleEndian.AppendUint64(extra, n)
	extra = binary.LittleEndian.AppendUint64(extra, n)

	hdr := localHeader("z", Store, 0, crc32.ChecksumIEEE(data), sizeSentinel, sizeSentinel)
	binary.LittleEndian.PutUint16(hdr[28:], uint16(len(extra)))
	stream := append(append(hdr, extra...), data...)

	entry, err := NewReader(bytes.NewReader(stream)).Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if entry.Size != n || entry.CompressedSize != n {
		t.Errorf("sizes = (%d, %d), want %d", entry.CompressedSize, entry.Size, n)
	}
	got, err := io.ReadAll(entry)
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("ReadAll = (%q, %v)", got, err)
	}
}

func TestErrorMessage(t *testing.T) {
	err := &Error{Op: "read", Index: 2, Offset: 512, Err: ErrTruncated}
	want := "archive read entry 2 at offset 512: archive truncated"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, ErrTruncated) {
		t.Error("errors.Is(err, ErrTruncated) = false")
	}
}
