package mp4

import (
	"errors"
	"fmt"

	gomp4 "github.com/abema/go-mp4"
)

// ErrParameterSets indicates an AVC track without usable SPS and PPS.
var ErrParameterSets = errors.New("missing h264 parameter sets")

func sampleEntry(t Track) (node, error) {
	switch t.Codec {
	case CodecAVC:
		avcC, err := avcConfig(t.SPS, t.PPS)
		if err != nil {
			return node{}, err
		}
		return container(visualSampleEntry(t, gomp4.BoxTypeAvc1(), "AVC Coding"), leaf(avcC)), nil
	case CodecJPEG:
		return leaf(visualSampleEntry(t, boxTypeJPEG, "Photo - JPEG")), nil
	default:
		return node{}, fmt.Errorf("unsupported sample entry %q", t.Codec)
	}
}

func visualSampleEntry(t Track, typ gomp4.BoxType, compressor string) *gomp4.VisualSampleEntry {
	e := &gomp4.VisualSampleEntry{
		SampleEntry: gomp4.SampleEntry{
			AnyTypeBox:         gomp4.AnyTypeBox{Type: typ},
			DataReferenceIndex: 1,
		},
		Width:           uint16(t.Width),
		Height:          uint16(t.Height),
		Horizresolution: 0x00480000, // 72 dpi
		Vertresolution:  0x00480000,
		FrameCount:      1,
		Depth:           0x0018,
		PreDefined3:     -1,
	}
	e.Compressorname[0] = byte(copy(e.Compressorname[1:], compressor))
	return e
}

// avcConfig builds an AVCDecoderConfigurationRecord with 4-byte NAL lengths.
func avcConfig(sps, pps []byte) (*gomp4.AVCDecoderConfiguration, error) {
	if len(sps) < 4 || len(pps) == 0 {
		return nil, ErrParameterSets
	}
	if len(sps) > 0xFFFF || len(pps) > 0xFFFF {
		return nil, fmt.Errorf("%w: parameter set too long", ErrParameterSets)
	}

	return &gomp4.AVCDecoderConfiguration{
		AnyTypeBox:                 gomp4.AnyTypeBox{Type: gomp4.BoxTypeAvcC()},
		ConfigurationVersion:       1,
		Profile:                    sps[1],
		ProfileCompatibility:       sps[2],
		Level:                      sps[3],
		Reserved:                   0x3F,
		LengthSizeMinusOne:         3,
		Reserved2:                  0x7,
		NumOfSequenceParameterSets: 1,
		SequenceParameterSets:      []gomp4.AVCParameterSet{{Length: uint16(len(sps)), NALUnit: sps}},
		NumOfPictureParameterSets:  1,
		PictureParameterSets:       []gomp4.AVCParameterSet{{Length: uint16(len(pps)), NALUnit: pps}},
	}, nil
}
