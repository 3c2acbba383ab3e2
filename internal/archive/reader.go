package archive

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// Compression methods accepted in a local file header.
const (
	Store   uint16 = 0
	Deflate uint16 = 8
)

const (
	localHeaderSignature    = 0x04034b50
	centralHeaderSignature  = 0x02014b50
	endOfCentralSignature   = 0x06054b50
	zip64EndSignature       = 0x06064b50
	dataDescriptorSignature = 0x08074b50

	localHeaderLen = 26 // fixed part after the signature

	flagEncrypted      = 0x1
	flagDataDescriptor = 0x8

	zip64ExtraID = 0x0001
	sizeSentinel = 0xFFFFFFFF

	streamBufferSize = 0x4000
)

// Entry is one file in the archive. It is valid until the next call to
// Reader.Next.
type Entry struct {
	Name           string
	Method         uint16
	CRC32          uint32
	CompressedSize uint64
	Size           uint64
	Index          int
	Offset         int64 // offset of the local header in the stream

	owner *Reader
	flags uint16
	zip64 bool
	raw   *boundedReader
	body  io.Reader
	flate io.ReadCloser
	hash  hash.Hash32
	read  uint64
	done  bool
	err   error
}

// Reader iterates over the entries of a ZIP stream in order.
type Reader struct {
	src   *countingReader
	cur   *Entry
	index int
	err   error
}

// NewReader starts reading a ZIP archive from r. The reader never seeks and
// never reads more of r than the entries it is asked for require, beyond
// buffering.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		src: &countingReader{r: bufio.NewReaderSize(r, streamBufferSize)},
	}
}

// Offset returns the number of stream bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.src.n
}

// Next discards the rest of the current entry and parses the next local file
// header. It returns io.EOF once the central directory or the end of the
// stream is reached on a record boundary.
func (r *Reader) Next() (*Entry, error) {
	if r.err != nil {
		return nil, r.err
	}

	if r.cur != nil {
		prev := r.cur
		r.cur = nil
		if err := prev.finish(); err != nil {
			r.err = err
			return nil, err
		}
		r.index++
	}

	entry, err := r.readHeader()
	if err != nil {
		r.err = err
		return nil, err
	}
	r.cur = entry
	return entry, nil
}

func (r *Reader) fail(op string, offset int64, err error) error {
	return &Error{Op: op, Index: r.index, Offset: offset, Err: err}
}

func (r *Reader) readHeader() (*Entry, error) {
	start := r.src.n

	var sig [4]byte
	n, err := io.ReadFull(r.src, sig[:])
	switch {
	case err == io.EOF && n == 0:
		return nil, io.EOF
	case err != nil:
		return nil, r.fail("header", start, streamError(err))
	}

	switch binary.LittleEndian.Uint32(sig[:]) {
	case localHeaderSignature:
	case centralHeaderSignature, endOfCentralSignature, zip64EndSignature:
		return nil, io.EOF
	default:
		return nil, r.fail("header", start,
			fmt.Errorf("%w: unexpected signature %#08x", ErrMalformedHeader, binary.LittleEndian.Uint32(sig[:])))
	}

	var hdr [localHeaderLen]byte
	if _, err := io.ReadFull(r.src, hdr[:]); err != nil {
		return nil, r.fail("header", start, streamError(err))
	}

	flags := binary.LittleEndian.Uint16(hdr[2:4])
	method := binary.LittleEndian.Uint16(hdr[4:6])
	crc := binary.LittleEndian.Uint32(hdr[10:14])
	csize := uint64(binary.LittleEndian.Uint32(hdr[14:18]))
	usize := uint64(binary.LittleEndian.Uint32(hdr[18:22]))
	nameLen := int(binary.LittleEndian.Uint16(hdr[22:24]))
	extraLen := int(binary.LittleEndian.Uint16(hdr[24:26]))

	variable := make([]byte, nameLen+extraLen)
	if _, err := io.ReadFull(r.src, variable); err != nil {
		return nil, r.fail("header", start, streamError(err))
	}
	name := string(variable[:nameLen])

	zip64 := false
	if csize == sizeSentinel || usize == sizeSentinel {
		uz, cz, ok := parseZip64Extra(variable[nameLen:], usize == sizeSentinel, csize == sizeSentinel)
		if !ok {
			return nil, r.fail("header", start,
				fmt.Errorf("%w: %q has zip64 sizes without a zip64 extra field", ErrMalformedHeader, name))
		}
		if usize == sizeSentinel {
			usize = uz
		}
		if csize == sizeSentinel {
			csize = cz
		}
		zip64 = true
	}

	if flags&flagEncrypted != 0 {
		return nil, r.fail("header", start,
			fmt.Errorf("%w: %q is encrypted", ErrUnsupportedCompression, name))
	}
	if method != Store && method != Deflate {
		return nil, r.fail("header", start,
			fmt.Errorf("%w: %q uses method %d", ErrUnsupportedCompression, name, method))
	}
	if flags&flagDataDescriptor != 0 && csize == 0 && usize == 0 && crc == 0 {
		return nil, r.fail("header", start,
			fmt.Errorf("%w: %q does not declare its size", ErrMalformedHeader, name))
	}
	if method == Store && csize != usize {
		return nil, r.fail("header", start,
			fmt.Errorf("%w: stored entry %q declares %d compressed and %d uncompressed bytes",
				ErrMalformedHeader, name, csize, usize))
	}

	e := &Entry{
		Name:           name,
		Method:         method,
		CRC32:          crc,
		CompressedSize: csize,
		Size:           usize,
		Index:          r.index,
		Offset:         start,
		owner:          r,
		flags:          flags,
		zip64:          zip64,
		raw:            &boundedReader{r: r.src, n: csize},
		hash:           crc32.NewIEEE(),
	}
	if method == Deflate {
		e.flate = flate.NewReader(e.raw)
		e.body = e.flate
	} else {
		e.body = e.raw
	}
	return e, nil
}

// Read reads decompressed entry data. It returns io.EOF at the end of the
// entry after verifying the size and CRC-32 declared in the header.
func (e *Entry) Read(p []byte) (int, error) {
	if e.owner.cur != e {
		return 0, ErrEntryClosed
	}
	if e.err != nil {
		return 0, e.err
	}
	if e.done {
		return 0, io.EOF
	}
	if len(p) == 0 {
		return 0, nil
	}

	n, err := e.body.Read(p)
	e.read += uint64(n)
	e.hash.Write(p[:n])

	if e.read > e.Size {
		e.err = e.owner.fail("read", e.owner.src.n,
			fmt.Errorf("%w: %q inflates past its declared %d bytes", ErrCorruptEntry, e.Name, e.Size))
		return n, e.err
	}

	switch {
	case err == io.EOF:
		if verr := e.verify(); verr != nil {
			e.err = verr
			return n, verr
		}
		e.done = true
		return n, io.EOF
	case err != nil:
		e.err = e.owner.fail("read", e.owner.src.n, entryError(err))
		return n, e.err
	}
	return n, nil
}

func (e *Entry) verify() error {
	if e.read != e.Size {
		return e.owner.fail("read", e.owner.src.n,
			fmt.Errorf("%w: %q holds %d bytes, header declares %d", ErrCorruptEntry, e.Name, e.read, e.Size))
	}
	if sum := e.hash.Sum32(); sum != e.CRC32 {
		return e.owner.fail("read", e.owner.src.n,
			fmt.Errorf("%w: %q crc32 %#08x, header declares %#08x", ErrCorruptEntry, e.Name, sum, e.CRC32))
	}
	return nil
}

// finish drops whatever is left of the entry's compressed bytes and any
// trailing data descriptor so the stream is positioned at the next header.
func (e *Entry) finish() error {
	if e.flate != nil {
		_ = e.flate.Close()
	}
	if _, err := io.Copy(io.Discard, e.raw); err != nil {
		return e.owner.fail("skip", e.owner.src.n, err)
	}
	if e.flags&flagDataDescriptor != 0 {
		if err := e.skipDataDescriptor(); err != nil {
			return e.owner.fail("skip", e.owner.src.n, err)
		}
	}
	return nil
}

// skipDataDescriptor consumes the optional-signature record that follows an
// entry written with flag bit 3.
func (e *Entry) skipDataDescriptor() error {
	sizeFields := 8
	if e.zip64 {
		sizeFields = 16
	}

	var first [4]byte
	if _, err := io.ReadFull(e.owner.src, first[:]); err != nil {
		return streamError(err)
	}
	rest := sizeFields
	if binary.LittleEndian.Uint32(first[:]) == dataDescriptorSignature {
		rest += 4 // crc32 follows the signature
	}
	if _, err := io.CopyN(io.Discard, e.owner.src, int64(rest)); err != nil {
		return streamError(err)
	}
	return nil
}

func parseZip64Extra(extra []byte, wantUncompressed, wantCompressed bool) (usize, csize uint64, ok bool) {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra[0:2])
		size := int(binary.LittleEndian.Uint16(extra[2:4]))
		extra = extra[4:]
		if size > len(extra) {
			return 0, 0, false
		}
		field := extra[:size]
		extra = extra[size:]
		if id != zip64ExtraID {
			continue
		}
		if wantUncompressed {
			if len(field) < 8 {
				return 0, 0, false
			}
			usize = binary.LittleEndian.Uint64(field[:8])
			field = field[8:]
		}
		if wantCompressed {
			if len(field) < 8 {
				return 0, 0, false
			}
			csize = binary.LittleEndian.Uint64(field[:8])
		}
		return usize, csize, true
	}
	return 0, 0, false
}

// streamError maps a short read of the underlying stream to ErrTruncated.
func streamError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: stream ended early", ErrTruncated)
	}
	if errors.Is(err, ErrTruncated) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrTruncated, err)
}

// entryError classifies a failure while reading entry data.
func entryError(err error) error {
	var corrupt flate.CorruptInputError
	switch {
	case errors.Is(err, ErrTruncated):
		return err
	case errors.As(err, &corrupt), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %v", ErrCorruptEntry, err)
	default:
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
}

// boundedReader reads at most n bytes and reports ErrTruncated if the
// underlying stream ends before that.
type boundedReader struct {
	r io.Reader
	n uint64
}

func (b *boundedReader) Read(p []byte) (int, error) {
	if b.n == 0 {
		return 0, io.EOF
	}
	if uint64(len(p)) > b.n {
		p = p[:b.n]
	}
	n, err := b.r.Read(p)
	b.n -= uint64(n)
	if err == io.EOF {
		if b.n > 0 {
			return n, fmt.Errorf("%w: %d bytes of entry missing", ErrTruncated, b.n)
		}
		return n, io.EOF
	}
	if err != nil {
		return n, streamError(err)
	}
	return n, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
