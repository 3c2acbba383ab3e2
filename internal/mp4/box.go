package mp4

import (
	"fmt"

	gomp4 "github.com/abema/go-mp4"
)

// boxTypeJPEG is the QuickTime Photo-JPEG sample entry.
var boxTypeJPEG = gomp4.StrToBoxType("jpeg")

func init() {
	gomp4.AddAnyTypeBoxDef(&gomp4.VisualSampleEntry{}, boxTypeJPEG)
}

// node is a box to write: its own fields, then its children in order.
type node struct {
	box      gomp4.IImmutableBox
	children []node
}

func leaf(b gomp4.IImmutableBox) node {
	return node{box: b}
}

func container(b gomp4.IImmutableBox, children ...node) node {
	return node{box: b, children: children}
}

// writeBox writes n and its children. The writer seeks back to fill in each
// box size once the box is complete.
func writeBox(w *gomp4.Writer, n node) error {
	typ := n.box.GetType()
	if _, err := w.StartBox(&gomp4.BoxInfo{Type: typ}); err != nil {
		return fmt.Errorf("start %s: %w", typ, err)
	}
	if _, err := gomp4.Marshal(w, n.box, gomp4.Context{}); err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	for _, c := range n.children {
		if err := writeBox(w, c); err != nil {
			return err
		}
	}
	if _, err := w.EndBox(); err != nil {
		return fmt.Errorf("end %s: %w", typ, err)
	}
	return nil
}

var unityMatrix = [9]int32{
	0x00010000, 0, 0,
	0, 0x00010000, 0,
	0, 0, 0x40000000,
}

// undetermined is the ISO 639-2 code "und" packed as three 5-bit letters.
var undetermined = [3]byte{'u' - 0x60, 'n' - 0x60, 'd' - 0x60}

func fourCC(s string) [4]byte {
	var b [4]byte
	copy(b[:], s)
	return b
}
