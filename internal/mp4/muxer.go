package mp4

import (
	"errors"
	"fmt"
	"io"
	"math"

	gomp4 "github.com/abema/go-mp4"
)

// Timescale is the number of track time units per second. Frame delays are
// whole milliseconds, so durations are stored unchanged.
const Timescale = 1000

const (
	mdatHeaderSize = gomp4.SmallHeaderSize
	trackID        = 1
)

var (
	// ErrTooLarge indicates the file no longer fits 32-bit box sizes.
	ErrTooLarge = errors.New("mp4 output exceeds 4 GiB")

	// ErrState indicates Muxer methods were called out of order.
	ErrState = errors.New("mp4 muxer used out of order")

	// ErrNoSamples is returned by Finish when nothing was written.
	ErrNoSamples = errors.New("mp4 has no samples")
)

// Codec is the four character code of the sample entry.
type Codec string

const (
	CodecAVC  Codec = "avc1"
	CodecJPEG Codec = "jpeg"
)

// Track describes the single video track. It is only needed at Finish, by
// which point the encoder knows its parameter sets.
type Track struct {
	Codec  Codec
	Width  int
	Height int

	// SPS and PPS are required for CodecAVC. Each holds one NAL unit
	// including its header byte and no start code.
	SPS []byte
	PPS []byte
}

type sample struct {
	size     uint32
	duration uint32
	sync     bool
}

// Muxer writes one video track to w.
type Muxer struct {
	w         *gomp4.Writer
	start     int64 // offset of the ftyp box
	dataStart int64 // offset of the first sample byte
	dataSize  int64
	samples   []sample
	started   bool
	finished  bool
}

// NewMuxer returns a muxer writing at w's current position.
func NewMuxer(w io.WriteSeeker) *Muxer {
	return &Muxer{w: gomp4.NewWriter(w)}
}

// Start writes ftyp and opens mdat with a placeholder size.
func (m *Muxer) Start() error {
	if m.started {
		return ErrState
	}

	pos, err := m.w.Seek(0, io.SeekCurrent)
	if err != nil {
		return fmt.Errorf("locate start: %w", err)
	}
	m.start = pos

	ftyp := &gomp4.Ftyp{
		MajorBrand:   fourCC("isom"),
		MinorVersion: 0x200,
	}
	for _, b := range []string{"isom", "iso2", "avc1", "mp41"} {
		ftyp.AddCompatibleBrand(fourCC(b))
	}
	if err := writeBox(m.w, leaf(ftyp)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}

	mdat, err := m.w.StartBox(&gomp4.BoxInfo{Type: gomp4.BoxTypeMdat()})
	if err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	m.dataStart = int64(mdat.Offset + mdat.HeaderSize)
	m.started = true
	return nil
}

// WriteSample appends one sample lasting duration timescale units.
func (m *Muxer) WriteSample(data []byte, duration uint32, sync bool) error {
	if !m.started || m.finished {
		return ErrState
	}
	if m.dataSize+int64(len(data))+mdatHeaderSize > math.MaxUint32 {
		return ErrTooLarge
	}

	if _, err := m.w.Write(data); err != nil {
		return fmt.Errorf("write sample %d: %w", len(m.samples), err)
	}
	m.dataSize += int64(len(data))
	m.samples = append(m.samples, sample{size: uint32(len(data)), duration: duration, sync: sync})
	return nil
}

// SampleCount returns the number of samples written so far.
func (m *Muxer) SampleCount() int {
	return len(m.samples)
}

// Finish closes mdat, patching its size, and appends moov describing t.
func (m *Muxer) Finish(t Track) error {
	if !m.started || m.finished {
		return ErrState
	}
	if len(m.samples) == 0 {
		return ErrNoSamples
	}
	if t.Width <= 0 || t.Height <= 0 || t.Width > math.MaxUint16 || t.Height > math.MaxUint16 {
		return fmt.Errorf("invalid track dimensions %dx%d", t.Width, t.Height)
	}

	entry, err := sampleEntry(t)
	if err != nil {
		return err
	}

	if _, err := m.w.EndBox(); err != nil {
		return fmt.Errorf("patch mdat size: %w", err)
	}
	if err := writeBox(m.w, m.moov(t, entry, uint32(m.dataStart-m.start))); err != nil {
		return fmt.Errorf("write moov: %w", err)
	}

	m.finished = true
	return nil
}

func (m *Muxer) duration() uint32 {
	var total uint64
	for _, s := range m.samples {
		total += uint64(s.duration)
	}
	if total > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(total)
}

func (m *Muxer) moov(t Track, entry node, chunkOffset uint32) node {
	duration := m.duration()

	stbl := []node{
		container(&gomp4.Stsd{EntryCount: 1}, entry),
		leaf(m.stts()),
		leaf(&gomp4.Stsc{EntryCount: 1, Entries: []gomp4.StscEntry{{
			FirstChunk:             1,
			SamplesPerChunk:        uint32(len(m.samples)),
			SampleDescriptionIndex: 1,
		}}}),
		leaf(m.stsz()),
		leaf(&gomp4.Stco{EntryCount: 1, ChunkOffset: []uint32{chunkOffset}}),
	}
	if stss := m.stss(); stss != nil {
		stbl = append(stbl, leaf(stss))
	}

	return container(&gomp4.Moov{},
		leaf(&gomp4.Mvhd{
			Timescale:   Timescale,
			DurationV0:  duration,
			Rate:        0x00010000,
			Volume:      0x0100,
			Matrix:      unityMatrix,
			NextTrackID: trackID + 1,
		}),
		container(&gomp4.Trak{},
			leaf(&gomp4.Tkhd{
				FullBox:    gomp4.FullBox{Flags: [3]byte{0, 0, 0x3}}, // enabled, in movie
				TrackID:    trackID,
				DurationV0: duration,
				Matrix:     unityMatrix,
				Width:      uint32(t.Width) << 16,
				Height:     uint32(t.Height) << 16,
			}),
			container(&gomp4.Mdia{},
				leaf(&gomp4.Mdhd{Timescale: Timescale, DurationV0: duration, Language: undetermined}),
				leaf(&gomp4.Hdlr{HandlerType: fourCC("vide"), Name: "VideoHandler"}),
				container(&gomp4.Minf{},
					leaf(&gomp4.Vmhd{FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, 1}}}),
					container(&gomp4.Dinf{},
						container(&gomp4.Dref{EntryCount: 1},
							leaf(&gomp4.Url{FullBox: gomp4.FullBox{Flags: [3]byte{0, 0, gomp4.UrlSelfContained}}}))),
					container(&gomp4.Stbl{}, stbl...),
				),
			),
		),
	)
}

// stts run-length encodes consecutive equal durations.
func (m *Muxer) stts() *gomp4.Stts {
	stts := &gomp4.Stts{}
	for _, s := range m.samples {
		if n := len(stts.Entries); n > 0 && stts.Entries[n-1].SampleDelta == s.duration {
			stts.Entries[n-1].SampleCount++
			continue
		}
		stts.Entries = append(stts.Entries, gomp4.SttsEntry{SampleCount: 1, SampleDelta: s.duration})
	}
	stts.EntryCount = uint32(len(stts.Entries))
	return stts
}

func (m *Muxer) stsz() *gomp4.Stsz {
	stsz := &gomp4.Stsz{SampleCount: uint32(len(m.samples))}
	for _, s := range m.samples {
		stsz.EntrySize = append(stsz.EntrySize, s.size)
	}
	return stsz
}

// stss lists sync samples. It returns nil when every sample is a sync
// sample, which the box's absence already means.
func (m *Muxer) stss() *gomp4.Stss {
	stss := &gomp4.Stss{}
	for i, s := range m.samples {
		if s.sync {
			stss.SampleNumber = append(stss.SampleNumber, uint32(i+1))
		}
	}
	if len(stss.SampleNumber) == len(m.samples) {
		return nil
	}
	stss.EntryCount = uint32(len(stss.SampleNumber))
	return stss
}
