// Package overlay composites transient marks over themed page pixels:
// comment tones and underlines, selection and visual highlights, and the
// cursor.
package overlay

import "math"

// Rect is a half-open pixel rectangle.
type Rect struct {
	X0, Y0, X1, Y1 int
}

// NewRect returns the rectangle and whether it is non-empty.
func NewRect(x0, y0, x1, y1 int) (Rect, bool) {
	r := Rect{X0: x0, Y0: y0, X1: x1, Y1: y1}
	return r, !r.Empty()
}

func (r Rect) Empty() bool { return r.X0 >= r.X1 || r.Y0 >= r.Y1 }

func (r Rect) Area() int {
	if r.Empty() {
		return 0
	}
	return (r.X1 - r.X0) * (r.Y1 - r.Y0)
}

func (r Rect) clamp(w, h int) (Rect, bool) {
	return NewRect(clampInt(r.X0, 0, w), clampInt(r.Y0, 0, h), clampInt(r.X1, 0, w), clampInt(r.Y1, 0, h))
}

func (r Rect) intersectsY(y0, y1 int) bool { return !(r.Y1 <= y0 || r.Y0 >= y1) }

// local shifts r into a band starting at y and ending after h rows.
func (r Rect) local(y, h int) (Rect, bool) {
	return NewRect(r.X0, max(r.Y0-y, 0), r.X1, min(r.Y1-y, h))
}

func clampInt(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// Comment underline geometry and color.
const (
	UnderlineOffset    = 2
	UnderlineThickness = 3
)

var CommentColor = [3]byte{0xC5, 0x94, 0xC5}

// Underline returns the band drawn below a comment rectangle.
func Underline(r Rect) Rect {
	y0 := r.Y1 + UnderlineOffset
	return Rect{X0: r.X0, Y0: y0, X1: r.X1, Y1: y0 + UnderlineThickness}
}

// SelectionRect is a selected span on one page in output pixels.
type SelectionRect struct {
	Page           int
	X0, Y0, X1, Y1 int
}

// CommentRect is an annotated span on one page in page units at
// magnification 1. It is scaled by the page's ScaleFactor before drawing.
type CommentRect struct {
	Page           int
	X0, Y0, X1, Y1 int
}

// VisualRect is a visual mode range on one page in output pixels.
type VisualRect struct {
	Page          int
	X, Y          int
	Width, Height int
}

// CursorRect is the cursor box on one page in output pixels.
type CursorRect struct {
	Page          int
	X, Y          int
	Width, Height int
}

func (r SelectionRect) PageNum() int { return r.Page }
func (r CommentRect) PageNum() int   { return r.Page }
func (r VisualRect) PageNum() int    { return r.Page }
func (r CursorRect) PageNum() int    { return r.Page }

// CommentPixels scales the comments of page to output pixels.
func CommentPixels(rects []CommentRect, page int, scale float32) []Rect {
	s := float64(scale)
	px := func(v int) int { return int(math.Round(float64(v) * s)) }
	var out []Rect
	for _, c := range rects {
		if c.Page != page {
			continue
		}
		if r, ok := NewRect(px(c.X0), px(c.Y0), px(c.X1), px(c.Y1)); ok {
			out = append(out, r)
		}
	}
	return out
}

// Set is the overlay state of one page, or of one tile of it.
type Set struct {
	// Comments are comment rectangles. In a tile set they already hold
	// the underline bands.
	Comments  []Rect
	Selection []Rect
	Visual    []Rect
	Cursor    *Rect

	// tones are the commented spans of a tile set
	tones      []Rect
	underlines bool
}

func (s Set) Empty() bool {
	return len(s.Comments) == 0 && len(s.tones) == 0 && len(s.Selection) == 0 && len(s.Visual) == 0 && s.Cursor == nil
}

// ForTile returns the overlays that touch rows [y, y+h) in coordinates
// local to that band. Comments become their underline bands and the spans
// they mark are kept as tones.
func (s Set) ForTile(y, h int) Set {
	end := y + h
	clip := func(rects []Rect) []Rect {
		var out []Rect
		for _, r := range rects {
			if !r.intersectsY(y, end) {
				continue
			}
			if l, ok := r.local(y, h); ok {
				out = append(out, l)
			}
		}
		return out
	}
	comments, tones := s.Comments, s.tones
	if !s.underlines {
		tones = s.Comments
		comments = make([]Rect, len(s.Comments))
		for i, r := range s.Comments {
			comments[i] = Underline(r)
		}
	}
	t := Set{
		Comments:   clip(comments),
		tones:      clip(tones),
		Selection:  clip(s.Selection),
		Visual:     clip(s.Visual),
		underlines: true,
	}
	if s.Cursor != nil && s.Cursor.intersectsY(y, end) {
		if c, ok := s.Cursor.local(y, h); ok {
			t.Cursor = &c
		}
	}
	return t
}

// Build collects the overlays of page. Comment rectangles must already be
// in output pixels.
func Build(page int, comments []Rect, selection []SelectionRect, visual []VisualRect, cursor *CursorRect) Set {
	s := Set{Comments: comments}
	for _, r := range selection {
		if r.Page != page {
			continue
		}
		if px, ok := NewRect(r.X0, r.Y0, r.X1, r.Y1); ok {
			s.Selection = append(s.Selection, px)
		}
	}
	for _, r := range visual {
		if r.Page != page {
			continue
		}
		if px, ok := NewRect(r.X, r.Y, r.X+r.Width, r.Y+r.Height); ok {
			s.Visual = append(s.Visual, px)
		}
	}
	if cursor != nil && cursor.Page == page {
		if px, ok := NewRect(cursor.X, cursor.Y, cursor.X+cursor.Width, cursor.Y+cursor.Height); ok {
			s.Cursor = &px
		}
	}
	return s
}
