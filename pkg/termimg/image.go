package termimg

import (
	"fmt"
	"image"

	xdraw "golang.org/x/image/draw"

	"github.com/novvoo/go-pdfterm/pkg/render"
)

// Image is a packed RGB raster.
type Image struct {
	Pix           []byte
	Width, Height int
}

// NewImage wraps pix, checking that it holds exactly w x h pixels.
func NewImage(pix []byte, w, h int) (Image, error) {
	if w <= 0 || h <= 0 {
		return Image{}, fmt.Errorf("termimg: empty image %dx%d", w, h)
	}
	if len(pix) != w*h*3 {
		return Image{}, fmt.Errorf("termimg: RGB buffer size mismatch: expected %d, got %d", w*h*3, len(pix))
	}
	return Image{Pix: pix, Width: w, Height: h}, nil
}

// At returns the pixel at (x, y).
func (m Image) At(x, y int) [3]byte {
	off := (y*m.Width + x) * 3
	return [3]byte{m.Pix[off], m.Pix[off+1], m.Pix[off+2]}
}

func (m Image) clone() Image {
	return Image{Pix: append([]byte(nil), m.Pix...), Width: m.Width, Height: m.Height}
}

func (m Image) rgba() *image.RGBA {
	out := image.NewRGBA(image.Rect(0, 0, m.Width, m.Height))
	for i, j := 0, 0; i+2 < len(m.Pix); i, j = i+3, j+4 {
		out.Pix[j], out.Pix[j+1], out.Pix[j+2], out.Pix[j+3] = m.Pix[i], m.Pix[i+1], m.Pix[i+2], 0xFF
	}
	return out
}

func fromRGBA(src *image.RGBA) Image {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	out := Image{Pix: make([]byte, w*h*3), Width: w, Height: h}
	for y := 0; y < h; y++ {
		row := src.Pix[y*src.Stride : y*src.Stride+w*4]
		dst := out.Pix[y*w*3 : (y+1)*w*3]
		for i, j := 0, 0; j < len(row); i, j = i+3, j+4 {
			dst[i], dst[i+1], dst[i+2] = row[j], row[j+1], row[j+2]
		}
	}
	return out
}

// Resize scales m to exactly w x h with nearest neighbor sampling.
func Resize(m Image, w, h int) Image {
	w, h = max(w, 1), max(h, 1)
	if m.Width == w && m.Height == h {
		return m
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.NearestNeighbor.Scale(dst, dst.Rect, m.rgba(), image.Rect(0, 0, m.Width, m.Height), xdraw.Src, nil)
	return fromRGBA(dst)
}

// Normalize resizes m to fill cols x rows cells exactly. Persistent
// protocols scale on the terminal side and are returned unchanged.
func Normalize(m Image, cols, rows int, cell render.CellSize, p Protocol) Image {
	if p.Persistent() {
		return m
	}
	return Resize(m, cols*cell.Width, rows*cell.Height)
}

// PadToCells grows m to cols x rows cells, filling the new area with the
// pixel at (0, 0) and cropping anything beyond it.
func PadToCells(m Image, cols, rows int, cell render.CellSize) Image {
	w, h := cols*cell.Width, rows*cell.Height
	if m.Width == w && m.Height == h {
		return m
	}
	return pad(m, w, h)
}

func pad(m Image, w, h int) Image {
	out := Image{Pix: make([]byte, w*h*3), Width: w, Height: h}
	var bg [3]byte
	if m.Width > 0 && m.Height > 0 {
		bg = m.At(0, 0)
	}
	for i := 0; i < len(out.Pix); i += 3 {
		out.Pix[i], out.Pix[i+1], out.Pix[i+2] = bg[0], bg[1], bg[2]
	}
	cw, ch := min(m.Width, w)*3, min(m.Height, h)
	for y := 0; y < ch; y++ {
		copy(out.Pix[y*w*3:y*w*3+cw], m.Pix[y*m.Width*3:y*m.Width*3+cw])
	}
	return out
}

// CropRows returns rows [y, y+h) of m. Rows past the bottom are filled
// with the first pixel of the crop so the result is always h rows tall.
func CropRows(m Image, y, h int) Image {
	h = max(h, 1)
	y = max(y, 0)
	if y >= m.Height {
		return pad(Image{Pix: m.Pix[:3], Width: 1, Height: 1}, m.Width, h)
	}
	avail := min(h, m.Height-y)
	crop := Image{Pix: m.Pix[y*m.Width*3 : (y+avail)*m.Width*3], Width: m.Width, Height: avail}
	if avail == h {
		return crop.clone()
	}
	return pad(crop, m.Width, h)
}
