package frame

import (
	"image"

	"golang.org/x/image/draw"
)

// EvenSize rounds both dimensions up to the next even number, which 4:2:0
// chroma subsampling requires.
func EvenSize(width, height int) (int, int) {
	return width + width&1, height + height&1
}

// Fit returns f drawn onto a width x height canvas. A frame at most one
// pixel short in each direction is padded by repeating its last row and
// column; any other size mismatch is scaled bilinearly.
func Fit(f *Frame, width, height int) *Frame {
	if f.Width == width && f.Height == height {
		return f
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	if f.Width <= width && f.Height <= height && width-f.Width <= 1 && height-f.Height <= 1 {
		pad(dst, f)
	} else {
		draw.BiLinear.Scale(dst, dst.Bounds(), f.Image, f.Image.Bounds(), draw.Src, nil)
	}
	return newFrame(dst)
}

// pad copies src into the top left of dst and extends its edges.
func pad(dst *image.NRGBA, f *Frame) {
	draw.Draw(dst, image.Rect(0, 0, f.Width, f.Height), f.Image, f.Image.Bounds().Min, draw.Src)

	b := dst.Bounds()
	for y := 0; y < b.Dy(); y++ {
		sy := min(y, f.Height-1)
		for x := 0; x < b.Dx(); x++ {
			if x < f.Width && y < f.Height {
				continue
			}
			sx := min(x, f.Width-1)
			dst.SetNRGBA(x, y, f.Image.NRGBAAt(sx, sy))
		}
	}
}

// Flatten composites a frame with transparency onto black. Opaque frames
// are returned unchanged.
func Flatten(f *Frame) *Frame {
	if f.Image.Opaque() {
		return f
	}
	dst := image.NewNRGBA(f.Image.Bounds())
	draw.Draw(dst, dst.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(dst, dst.Bounds(), f.Image, f.Image.Bounds().Min, draw.Over)
	return newFrame(dst)
}
