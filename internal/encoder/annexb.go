package encoder

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
)

// H.264 NAL unit types the shim cares about.
const (
	nalSlice = 1
	nalIDR   = 5
	nalSPS   = 7
	nalPPS   = 8
	nalAUD   = 9
)

const maxNALSize = 64 << 20

var startCode = []byte{0, 0, 1}

// splitNAL is a bufio.SplitFunc yielding the NAL units of an Annex-B byte
// stream without their start codes.
func splitNAL(data []byte, atEOF bool) (int, []byte, error) {
	first := bytes.Index(data, startCode)
	if first < 0 {
		if atEOF {
			return len(data), nil, nil
		}
		// Keep the last two bytes, they may begin a start code.
		return max(0, len(data)-2), nil, nil
	}

	begin := first + len(startCode)
	if next := bytes.Index(data[begin:], startCode); next >= 0 {
		end := begin + next
		return end, bytes.TrimRight(data[begin:end], "\x00"), nil
	}
	if atEOF {
		if begin == len(data) {
			return len(data), nil, nil
		}
		return len(data), bytes.TrimRight(data[begin:], "\x00"), nil
	}
	return first, nil, nil
}

// accessUnits reads an Annex-B stream in which every access unit starts with
// an access unit delimiter and calls emit once per access unit with the
// slice NAL units converted to 4-byte length prefixes. Parameter sets are
// collected separately instead of being stored in samples.
type accessUnits struct {
	sps []byte
	pps []byte

	sample []byte
	sync   bool
	slices int
}

func (a *accessUnits) read(r io.Reader, emit func(sample []byte, key bool) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 1<<20), maxNALSize)
	sc.Split(splitNAL)

	for sc.Scan() {
		nal := sc.Bytes()
		if len(nal) == 0 {
			continue
		}

		switch nal[0] & 0x1F {
		case nalAUD:
			if err := a.flush(emit); err != nil {
				return err
			}
		case nalSPS:
			if a.sps == nil {
				a.sps = bytes.Clone(nal)
			}
		case nalPPS:
			if a.pps == nil {
				a.pps = bytes.Clone(nal)
			}
		default:
			switch nal[0] & 0x1F {
			case nalIDR:
				a.sync = true
				a.slices++
			case nalSlice:
				a.slices++
			}
			a.sample = binary.BigEndian.AppendUint32(a.sample, uint32(len(nal)))
			a.sample = append(a.sample, nal...)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return a.flush(emit)
}

func (a *accessUnits) flush(emit func([]byte, bool) error) error {
	if a.slices == 0 {
		// SEI or other leading NAL units stay with the next picture.
		return nil
	}
	err := emit(a.sample, a.sync)
	a.sample = a.sample[:0]
	a.sync = false
	a.slices = 0
	return err
}
