package render

import (
	"image"
	"image/color"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/vector"

	"github.com/novvoo/go-pdfterm/pkg/pdf"
)

// Canvas is a pdf.Device that paints into an RGBA raster with a white
// background. Alongside the pixels it records where raster images landed
// and groups shown glyphs into text lines.
type Canvas struct {
	img   *image.RGBA
	z     *vector.Rasterizer
	text  textCollector
	rects []Rect
}

func NewCanvas(w, h int) *Canvas {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = 0xFF
	}
	return &Canvas{img: img, z: vector.NewRasterizer(w, h)}
}

// Image returns the raster.
func (c *Canvas) Image() *image.RGBA { return c.img }

// ImageRects returns the device boxes of drawn images, clipped to the
// canvas.
func (c *Canvas) ImageRects() []Rect { return c.rects }

// Lines returns the text lines in device space.
func (c *Canvas) Lines() []TextLine { return c.text.lines }

func toNRGBA(col pdf.Color, alpha float64) color.NRGBA {
	return color.NRGBA{
		R: unit8(col.R),
		G: unit8(col.G),
		B: unit8(col.B),
		A: unit8(alpha),
	}
}

func unit8(v float64) uint8 {
	if !(v > 0) {
		return 0
	}
	if v >= 1 {
		return 0xFF
	}
	return uint8(v*255 + 0.5)
}

// FillPath fills with the nonzero rule. Even-odd fills are rasterized the
// same way.
func (c *Canvas) FillPath(p pdf.Path, evenOdd bool, col pdf.Color, alpha float64) {
	if alpha <= 0 || len(p) == 0 {
		return
	}
	c.z.Reset(c.img.Rect.Dx(), c.img.Rect.Dy())
	c.z.DrawOp = xdraw.Over
	if !addPath(c.z, c.bound(p)) {
		return
	}
	c.z.Draw(c.img, c.img.Bounds(), image.NewUniform(toNRGBA(col, alpha)), image.Point{})
}

// addPath feeds p into z, closing every subpath. It reports whether
// anything was added.
func addPath(z *vector.Rasterizer, p pdf.Path) bool {
	var start, cur pdf.Point
	open, added := false, false
	closeSub := func() {
		if open && cur != start {
			z.LineTo(float32(start.X), float32(start.Y))
		}
		cur = start
	}
	for _, op := range p {
		pts := op.Pts
		switch op.Verb {
		case pdf.MoveTo:
			closeSub()
			z.MoveTo(float32(pts[0].X), float32(pts[0].Y))
			start, cur, open = pts[0], pts[0], true
			continue
		case pdf.ClosePath:
			closeSub()
			continue
		}
		if !open {
			z.MoveTo(float32(cur.X), float32(cur.Y))
			start, open = cur, true
		}
		switch op.Verb {
		case pdf.LineTo:
			z.LineTo(float32(pts[0].X), float32(pts[0].Y))
			cur = pts[0]
		case pdf.QuadTo:
			z.QuadTo(float32(pts[0].X), float32(pts[0].Y), float32(pts[1].X), float32(pts[1].Y))
			cur = pts[1]
		case pdf.CubeTo:
			z.CubeTo(float32(pts[0].X), float32(pts[0].Y), float32(pts[1].X), float32(pts[1].Y),
				float32(pts[2].X), float32(pts[2].Y))
			cur = pts[2]
		}
		added = true
	}
	closeSub()
	return added
}

// StrokePath rasterizes each flattened segment as a quad extended by half
// the width at both ends, which also covers joins.
func (c *Canvas) StrokePath(p pdf.Path, width float64, col pdf.Color, alpha float64) {
	if alpha <= 0 || len(p) == 0 {
		return
	}
	c.z.Reset(c.img.Rect.Dx(), c.img.Rect.Dy())
	c.z.DrawOp = xdraw.Over
	if !finite(width) {
		width = 1
	}
	hw := math.Min(math.Max(width, 1), c.limit()) / 2
	added := false
	for _, poly := range flatten(c.bound(p)) {
		for i := 1; i < len(poly); i++ {
			strokeSegment(c.z, poly[i-1], poly[i], hw)
			added = true
		}
	}
	if added {
		c.z.Draw(c.img, c.img.Bounds(), image.NewUniform(toNRGBA(col, alpha)), image.Point{})
	}
}

func strokeSegment(z *vector.Rasterizer, a, b pdf.Point, hw float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	l := math.Hypot(dx, dy)
	if !finite(l) {
		return
	}
	if l == 0 {
		dx, dy, l = 1, 0, 1
	}
	ux, uy := dx/l*hw, dy/l*hw
	nx, ny := -uy, ux
	ax, ay := a.X-ux, a.Y-uy
	bx, by := b.X+ux, b.Y+uy
	z.MoveTo(float32(ax+nx), float32(ay+ny))
	z.LineTo(float32(bx+nx), float32(by+ny))
	z.LineTo(float32(bx-nx), float32(by-ny))
	z.LineTo(float32(ax-nx), float32(ay-ny))
	z.ClosePath()
}

// coordLimit is how many canvas extents a device coordinate may lie
// outside the canvas before it is clamped.
const coordLimit = 4

// limit is the largest coordinate magnitude handed to the rasterizer.
func (c *Canvas) limit() float64 {
	return float64(coordLimit * max(c.img.Rect.Dx(), c.img.Rect.Dy(), 1))
}

func finite(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func opPoints(op pdf.PathOp) int {
	switch op.Verb {
	case pdf.MoveTo, pdf.LineTo:
		return 1
	case pdf.QuadTo:
		return 2
	case pdf.CubeTo:
		return 3
	}
	return 0
}

// bound drops segments with a NaN or infinite point and clamps the rest to
// the coordinate limit. It returns p itself when nothing needs changing.
func (c *Canvas) bound(p pdf.Path) pdf.Path {
	lim := c.limit()
	var out pdf.Path
	for i, op := range p {
		n := opPoints(op)
		ok, inside := true, true
		for k := 0; k < n; k++ {
			pt := op.Pts[k]
			if !finite(pt.X, pt.Y) {
				ok = false
				break
			}
			if math.Abs(pt.X) > lim || math.Abs(pt.Y) > lim {
				inside = false
				op.Pts[k] = pdf.Point{X: clampF(pt.X, lim), Y: clampF(pt.Y, lim)}
			}
		}
		if ok && inside && out == nil {
			continue
		}
		if out == nil {
			out = make(pdf.Path, i, len(p))
			copy(out, p[:i])
		}
		if ok {
			out = append(out, op)
		}
	}
	if out == nil {
		return p
	}
	return out
}

func clampF(v, lim float64) float64 {
	return math.Max(-lim, math.Min(v, lim))
}

// flatten converts p into polylines, one per subpath. Closed subpaths
// repeat their first point.
func flatten(p pdf.Path) [][]pdf.Point {
	var polys [][]pdf.Point
	var cur []pdf.Point
	last := pdf.Point{}
	flush := func() {
		if len(cur) > 0 {
			polys = append(polys, cur)
		}
		cur = nil
	}
	for _, op := range p {
		pts := op.Pts
		switch op.Verb {
		case pdf.MoveTo:
			flush()
			cur = []pdf.Point{pts[0]}
			last = pts[0]
			continue
		case pdf.ClosePath:
			if len(cur) > 0 {
				cur = append(cur, cur[0])
				last = cur[0]
			}
			flush()
			continue
		}
		if len(cur) == 0 {
			cur = []pdf.Point{last}
		}
		switch op.Verb {
		case pdf.LineTo:
			cur = append(cur, pts[0])
			last = pts[0]
		case pdf.QuadTo:
			n := curveSteps(last, pts[0], pts[1])
			for i := 1; i <= n; i++ {
				t := float64(i) / float64(n)
				mt := 1 - t
				cur = append(cur, pdf.Point{
					X: mt*mt*last.X + 2*mt*t*pts[0].X + t*t*pts[1].X,
					Y: mt*mt*last.Y + 2*mt*t*pts[0].Y + t*t*pts[1].Y,
				})
			}
			last = pts[1]
		case pdf.CubeTo:
			n := curveSteps(last, pts[0], pts[1], pts[2])
			for i := 1; i <= n; i++ {
				t := float64(i) / float64(n)
				mt := 1 - t
				a, b, c, d := mt*mt*mt, 3*mt*mt*t, 3*mt*t*t, t*t*t
				cur = append(cur, pdf.Point{
					X: a*last.X + b*pts[0].X + c*pts[1].X + d*pts[2].X,
					Y: a*last.Y + b*pts[0].Y + c*pts[1].Y + d*pts[2].Y,
				})
			}
			last = pts[2]
		}
	}
	flush()
	return polys
}

// curveSteps picks a segment count from the control polygon length.
func curveSteps(pts ...pdf.Point) int {
	l := 0.0
	for i := 1; i < len(pts); i++ {
		l += math.Hypot(pts[i].X-pts[i-1].X, pts[i].Y-pts[i-1].Y)
	}
	n := int(l/4) + 1
	if n > 64 {
		n = 64
	}
	return n
}

// minImageArea is the smallest device area, in square pixels, an image
// must cover to be drawn.
const minImageArea = 1e-6

// DrawImage maps the unit square through m with (0, 1) at the top left
// sample and records the covered box. Images with a non-finite matrix, a
// degenerate area or a box reaching past the coordinate limit are skipped.
func (c *Canvas) DrawImage(img *image.NRGBA, m pdf.Matrix, alpha float64) {
	sw, sh := float64(img.Rect.Dx()), float64(img.Rect.Dy())
	if sw == 0 || sh == 0 || !(alpha > 0) || !finite(m[:]...) {
		return
	}
	if det := m[0]*m[3] - m[1]*m[2]; !finite(det) || math.Abs(det) < minImageArea {
		return
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, u := range [4][2]float64{{0, 0}, {1, 0}, {0, 1}, {1, 1}} {
		x, y := m.Apply(u[0], u[1])
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	lim := c.limit()
	if !finite(minX, minY, maxX, maxY) || minX < -lim || minY < -lim || maxX > lim || maxY > lim {
		return
	}
	r := Rect{
		X0: int(math.Floor(minX)),
		Y0: int(math.Floor(minY)),
		X1: int(math.Ceil(maxX)),
		Y1: int(math.Ceil(maxY)),
	}.clip(c.img.Rect.Dx(), c.img.Rect.Dy())
	if r.Empty() {
		return
	}
	c.rects = append(c.rects, r)

	// source pixel (sx, sy) sits at unit (sx/w, 1-sy/h)
	s2d := f64.Aff3{
		m[0] / sw, -m[2] / sh, m[2] + m[4],
		m[1] / sw, -m[3] / sh, m[3] + m[5],
	}
	var opts *xdraw.Options
	if alpha < 1 {
		opts = &xdraw.Options{SrcMask: image.NewUniform(color.Alpha16{A: uint16(alpha * 0xFFFF)})}
	}
	xdraw.ApproxBiLinear.Transform(c.img, s2d, img, img.Bounds(), xdraw.Over, opts)
}

func (c *Canvas) ShowGlyph(g pdf.GlyphInfo) { c.text.ShowGlyph(g) }
