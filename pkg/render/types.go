// Package render rasterizes PDF pages into themed RGB pixmaps with the text
// and link metadata the viewer needs, and serves them from a worker loop
// backed by a shared page cache.
package render

import (
	"encoding/binary"
	"math"

	"golang.org/x/crypto/blake2b"
)

// CellSize is the pixel size of one terminal cell.
type CellSize struct {
	Width, Height int
}

// Area is a viewport size in terminal cells.
type Area struct {
	Width, Height int
}

// RenderParams controls one rasterization. Two renders with bit-identical
// params produce the same pixels.
type RenderParams struct {
	Area     Area
	CellSize CellSize
	// Scale is the user zoom factor applied on top of the fit-to-viewport
	// magnification.
	Scale float32
	// Black and White are the 0xRRGGBB theme targets.
	Black, White int32
	// InvertImages tints embedded raster images along with everything else.
	InvertImages bool
}

// ViewportPx is the viewport size in pixels.
func (p RenderParams) ViewportPx() (float32, float32) {
	return float32(p.Area.Width * p.CellSize.Width), float32(p.Area.Height * p.CellSize.Height)
}

func (p RenderParams) encode() []byte {
	var buf [33]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(p.Area.Width))
	binary.LittleEndian.PutUint32(buf[4:], uint32(p.Area.Height))
	binary.LittleEndian.PutUint32(buf[8:], uint32(p.CellSize.Width))
	binary.LittleEndian.PutUint32(buf[12:], uint32(p.CellSize.Height))
	binary.LittleEndian.PutUint32(buf[16:], math.Float32bits(p.Scale))
	binary.LittleEndian.PutUint32(buf[20:], uint32(p.Black))
	binary.LittleEndian.PutUint32(buf[24:], uint32(p.White))
	if p.InvertImages {
		buf[28] = 1
	}
	return buf[:]
}

// CacheKey identifies one rasterized variant of a page.
type CacheKey struct {
	Page int
	Hash [32]byte
}

// NewCacheKey derives the key for page rendered with params.
func NewCacheKey(page int, params RenderParams) CacheKey {
	return CacheKey{Page: page, Hash: blake2b.Sum256(params.encode())}
}

// CharPos is one character of a text line and its x position in pixels.
type CharPos struct {
	X float32
	C rune
}

// LineBounds is a text line in output pixel space.
type LineBounds struct {
	X0, Y0, X1, Y1 float32
	Chars          []CharPos
	BlockID        int
}

type LinkKind uint8

const (
	LinkInternal LinkKind = iota
	LinkExternal
)

// LinkTarget is either a 0-based page or an external URI.
type LinkTarget struct {
	Kind LinkKind
	Page int
	URI  string
}

// LinkRect is a link area in output pixel space.
type LinkRect struct {
	X0, Y0, X1, Y1 uint32
	Target         LinkTarget
}

// ImageData holds packed RGB pixels, three bytes per pixel without padding.
type ImageData struct {
	Pixels     []byte
	WidthPx    int
	HeightPx   int
	WidthCell  int
	HeightCell int
}

// PageData is the immutable result of rendering one page. Values are
// shared between the cache, the worker replies and the conversion engine
// and must not be modified.
type PageData struct {
	Img          ImageData
	PageNum      int
	ScaleFactor  float32
	LineBounds   []LineBounds
	LinkRects    []LinkRect
	PageHeightPx float32
}

// PageSelectionBounds is the selected span on one page in output pixels.
type PageSelectionBounds struct {
	Page         int
	StartX, EndX float32
	MinY, MaxY   float32
}

// Rect is a pixel rectangle with exclusive upper bounds.
type Rect struct {
	X0, Y0, X1, Y1 int
}

func (r Rect) Empty() bool { return r.X0 >= r.X1 || r.Y0 >= r.Y1 }

// clip limits r to [0,w)x[0,h).
func (r Rect) clip(w, h int) Rect {
	r.X0, r.X1 = clampInt(r.X0, 0, w), clampInt(r.X1, 0, w)
	r.Y0, r.Y1 = clampInt(r.Y0, 0, h), clampInt(r.Y1, 0, h)
	return r
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
