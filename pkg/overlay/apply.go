package overlay

import (
	"github.com/novvoo/go-pdfterm/pkg/render"
)

// Apply composites s onto a w x h packed RGB buffer in place. Commented
// spans are toned and underlined first, then selection and visual
// highlights, then the cursor.
func Apply(pix []byte, w, h int, s Set) {
	if len(pix) < w*h*3 {
		return
	}
	if s.underlines {
		ApplyRects(pix, w, h, s.tones, OpTone)
		for _, r := range s.Comments {
			FillRect(pix, w, h, r, CommentColor)
		}
	} else {
		ApplyRects(pix, w, h, s.Comments, OpTone)
		for _, r := range s.Comments {
			DrawUnderline(pix, w, h, r, CommentColor)
		}
	}
	ApplyRects(pix, w, h, s.Selection, OpHighlight)
	ApplyRects(pix, w, h, s.Visual, OpHighlight)
	if s.Cursor != nil {
		ApplyRects(pix, w, h, []Rect{*s.Cursor}, OpInvert)
	}
}

// ApplyRects runs op over every rectangle, clamped to the buffer. Rows are
// spread over goroutines once the covered area is large.
func ApplyRects(pix []byte, w, h int, rects []Rect, op Op) {
	clamped := make([]Rect, 0, len(rects))
	total := 0
	for _, r := range rects {
		c, ok := r.clamp(w, h)
		if !ok {
			continue
		}
		clamped = append(clamped, c)
		total += c.Area()
	}
	if len(clamped) == 0 {
		return
	}
	stride := w * 3
	render.ForRows(total, h, func(y0, y1 int) {
		for _, r := range clamped {
			for y := max(y0, r.Y0); y < min(y1, r.Y1); y++ {
				off := y * stride
				op.Row(pix[off+r.X0*3 : off+r.X1*3])
			}
		}
	})
}

// DrawUnderline paints the comment band below r in color.
func DrawUnderline(pix []byte, w, h int, r Rect, color [3]byte) {
	FillRect(pix, w, h, Underline(r), color)
}

// FillRect paints r, clamped to the buffer, in a solid color.
func FillRect(pix []byte, w, h int, r Rect, color [3]byte) {
	c, ok := r.clamp(w, h)
	if !ok {
		return
	}
	stride := w * 3
	for y := c.Y0; y < c.Y1; y++ {
		row := pix[y*stride+c.X0*3 : y*stride+c.X1*3]
		for i := 0; i < len(row); i += 3 {
			row[i], row[i+1], row[i+2] = color[0], color[1], color[2]
		}
	}
}
