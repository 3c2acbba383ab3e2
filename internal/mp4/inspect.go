package mp4

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	gomp4 "github.com/abema/go-mp4"
)

const maxSamples = 1 << 20

// ErrInvalid indicates data that is not a well-formed single-track file.
var ErrInvalid = errors.New("invalid mp4")

// Info summarises a finished file.
type Info struct {
	MajorBrand string
	Codec      Codec
	Width      int
	Height     int
	Timescale  uint32

	// Duration is the track duration from mdhd.
	Duration time.Duration

	// SampleDurations holds each sample's duration in timescale units.
	SampleDurations []uint32
	SampleSizes     []uint32
	SampleOffsets   []int64

	// SyncSamples lists zero-based indexes of sync samples.
	SyncSamples []int

	MdatOffset int64
	MdatSize   int64
	MoovOffset int64
}

// SampleCount returns the number of samples in the track.
func (i *Info) SampleCount() int {
	return len(i.SampleDurations)
}

// Window returns the presentation interval of sample n, which must be in
// range.
func (i *Info) Window(n int) (start, end time.Duration) {
	var t uint64
	for k := 0; k < n; k++ {
		t += uint64(i.SampleDurations[k])
	}
	start = i.units(t)
	end = i.units(t + uint64(i.SampleDurations[n]))
	return start, end
}

// TotalDuration sums the sample durations.
func (i *Info) TotalDuration() time.Duration {
	var t uint64
	for _, d := range i.SampleDurations {
		t += uint64(d)
	}
	return i.units(t)
}

// Sample returns the bytes of sample n from the file the Info came from.
func (i *Info) Sample(data []byte, n int) ([]byte, error) {
	if n < 0 || n >= len(i.SampleOffsets) {
		return nil, fmt.Errorf("%w: sample %d out of range", ErrInvalid, n)
	}
	off, size := i.SampleOffsets[n], int64(i.SampleSizes[n])
	if off < 0 || off+size > int64(len(data)) {
		return nil, fmt.Errorf("%w: sample %d outside file", ErrInvalid, n)
	}
	return data[off : off+size], nil
}

func (i *Info) units(t uint64) time.Duration {
	if i.Timescale == 0 {
		return 0
	}
	return time.Duration(t * uint64(time.Second) / uint64(i.Timescale))
}

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrInvalid, err)
}

var stblPath = gomp4.BoxPath{
	gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMinf(), gomp4.BoxTypeStbl(),
}

func underStbl(types ...gomp4.BoxType) gomp4.BoxPath {
	return append(append(gomp4.BoxPath{}, stblPath...), types...)
}

// trackBoxes holds the first of each box Inspect reads.
type trackBoxes struct {
	ftyp *gomp4.Ftyp
	tkhd *gomp4.Tkhd
	mdhd *gomp4.Mdhd
	stts *gomp4.Stts
	stsz *gomp4.Stsz
	stsc *gomp4.Stsc
	stco *gomp4.Stco
	co64 *gomp4.Co64
	stss *gomp4.Stss
}

func (b *trackBoxes) set(payload gomp4.IBox) {
	switch p := payload.(type) {
	case *gomp4.Ftyp:
		b.ftyp = first(b.ftyp, p)
	case *gomp4.Tkhd:
		b.tkhd = first(b.tkhd, p)
	case *gomp4.Mdhd:
		b.mdhd = first(b.mdhd, p)
	case *gomp4.Stts:
		b.stts = first(b.stts, p)
	case *gomp4.Stsz:
		b.stsz = first(b.stsz, p)
	case *gomp4.Stsc:
		b.stsc = first(b.stsc, p)
	case *gomp4.Stco:
		b.stco = first(b.stco, p)
	case *gomp4.Co64:
		b.co64 = first(b.co64, p)
	case *gomp4.Stss:
		b.stss = first(b.stss, p)
	}
}

// first keeps the first non-nil value.
func first[T any](cur, next *T) *T {
	if cur != nil {
		return cur
	}
	return next
}

// Inspect parses a file written by Muxer, or any other file with a single
// video track, and returns its sample table. Only the first track is read.
func Inspect(data []byte) (*Info, error) {
	r := bytes.NewReader(data)

	top, err := gomp4.ExtractBoxes(r, nil, []gomp4.BoxPath{
		{gomp4.BoxTypeMdat()},
		{gomp4.BoxTypeMoov()},
	})
	if err != nil {
		return nil, invalid(err)
	}

	info := &Info{}
	haveMoov := false
	for _, bi := range top {
		switch bi.Type {
		case gomp4.BoxTypeMdat():
			info.MdatOffset = int64(bi.Offset)
			info.MdatSize = int64(bi.Size)
		case gomp4.BoxTypeMoov():
			if !haveMoov {
				info.MoovOffset = int64(bi.Offset)
				haveMoov = true
			}
		}
	}
	if !haveMoov {
		return nil, fmt.Errorf("%w: no moov box", ErrInvalid)
	}

	entries, err := gomp4.ExtractBox(r, nil, underStbl(gomp4.BoxTypeStsd(), gomp4.BoxTypeAny()))
	if err != nil {
		return nil, invalid(err)
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: empty stsd", ErrInvalid)
	}
	info.Codec = Codec(entries[0].Type[:])

	found, err := gomp4.ExtractBoxesWithPayload(r, nil, []gomp4.BoxPath{
		{gomp4.BoxTypeFtyp()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeTkhd()},
		{gomp4.BoxTypeMoov(), gomp4.BoxTypeTrak(), gomp4.BoxTypeMdia(), gomp4.BoxTypeMdhd()},
		underStbl(gomp4.BoxTypeStts()),
		underStbl(gomp4.BoxTypeStsz()),
		underStbl(gomp4.BoxTypeStsc()),
		underStbl(gomp4.BoxTypeStco()),
		underStbl(gomp4.BoxTypeCo64()),
		underStbl(gomp4.BoxTypeStss()),
	})
	if err != nil {
		return nil, invalid(err)
	}
	var boxes trackBoxes
	for _, b := range found {
		boxes.set(b.Payload)
	}

	if boxes.ftyp != nil {
		info.MajorBrand = string(boxes.ftyp.MajorBrand[:])
	}
	if err := info.readHeaders(&boxes); err != nil {
		return nil, err
	}
	if err := info.readSampleTable(&boxes); err != nil {
		return nil, err
	}
	return info, nil
}

func (i *Info) readHeaders(b *trackBoxes) error {
	if b.tkhd == nil {
		return fmt.Errorf("%w: missing tkhd", ErrInvalid)
	}
	i.Width = int(b.tkhd.GetWidthInt())
	i.Height = int(b.tkhd.GetHeightInt())

	if b.mdhd == nil {
		return fmt.Errorf("%w: missing mdhd", ErrInvalid)
	}
	i.Timescale = b.mdhd.Timescale
	if i.Timescale == 0 {
		return fmt.Errorf("%w: zero timescale", ErrInvalid)
	}
	i.Duration = i.units(b.mdhd.GetDuration())
	return nil
}

func (i *Info) readSampleTable(b *trackBoxes) error {
	if b.stts == nil || b.stsz == nil || b.stsc == nil {
		return fmt.Errorf("%w: incomplete sample table", ErrInvalid)
	}

	for _, e := range b.stts.Entries {
		if uint64(len(i.SampleDurations))+uint64(e.SampleCount) > maxSamples {
			return fmt.Errorf("%w: more than %d samples", ErrInvalid, maxSamples)
		}
		for k := uint32(0); k < e.SampleCount; k++ {
			i.SampleDurations = append(i.SampleDurations, e.SampleDelta)
		}
	}

	if b.stsz.SampleCount > maxSamples {
		return fmt.Errorf("%w: more than %d samples", ErrInvalid, maxSamples)
	}
	if b.stsz.SampleSize != 0 {
		for k := uint32(0); k < b.stsz.SampleCount; k++ {
			i.SampleSizes = append(i.SampleSizes, b.stsz.SampleSize)
		}
	} else {
		i.SampleSizes = append(i.SampleSizes, b.stsz.EntrySize...)
	}
	if len(i.SampleSizes) != len(i.SampleDurations) {
		return fmt.Errorf("%w: %d sizes for %d durations", ErrInvalid, len(i.SampleSizes), len(i.SampleDurations))
	}

	if err := i.resolveOffsets(b); err != nil {
		return err
	}

	if b.stss != nil {
		for _, n := range b.stss.SampleNumber {
			i.SyncSamples = append(i.SyncSamples, int(n)-1)
		}
		return nil
	}
	for n := range i.SampleSizes {
		i.SyncSamples = append(i.SyncSamples, n)
	}
	return nil
}

// resolveOffsets turns stsc and the chunk offsets into per-sample file
// offsets.
func (i *Info) resolveOffsets(b *trackBoxes) error {
	var chunks []int64
	switch {
	case b.stco != nil:
		for _, off := range b.stco.ChunkOffset {
			chunks = append(chunks, int64(off))
		}
	case b.co64 != nil:
		for _, off := range b.co64.ChunkOffset {
			chunks = append(chunks, int64(off))
		}
	default:
		return fmt.Errorf("%w: missing stco", ErrInvalid)
	}

	sampleIdx := 0
	for c := range chunks {
		per := uint32(0)
		for _, e := range b.stsc.Entries {
			if uint32(c+1) >= e.FirstChunk {
				per = e.SamplesPerChunk
			}
		}
		off := chunks[c]
		for k := uint32(0); k < per && sampleIdx < len(i.SampleSizes); k++ {
			i.SampleOffsets = append(i.SampleOffsets, off)
			off += int64(i.SampleSizes[sampleIdx])
			sampleIdx++
		}
	}
	if sampleIdx != len(i.SampleSizes) {
		return fmt.Errorf("%w: chunks cover %d of %d samples", ErrInvalid, sampleIdx, len(i.SampleSizes))
	}
	return nil
}
