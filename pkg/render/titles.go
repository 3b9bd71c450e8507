package render

import (
	"math"
	"sort"
)

// TitleThresholds tune heading detection. Sizes are compared against the
// median glyph size of the page.
type TitleThresholds struct {
	StrictRatio   float32
	LooseRatio    float32
	Percentile    float32
	HeightRatio   float32
	MaxWidthRatio float32
}

func DefaultTitleThresholds() TitleThresholds {
	return TitleThresholds{
		StrictRatio:   1.8,
		LooseRatio:    1.5,
		Percentile:    0.9,
		HeightRatio:   1.1,
		MaxWidthRatio: 0.7,
	}
}

const (
	DefaultTitleColor int32 = 0x6699CC

	titleLumaLight = 180
	titleLumaDark  = 90
)

func percentile(sorted []float32, pct float32) float32 {
	if !(pct >= 0) {
		pct = 0
	} else if pct > 1 {
		pct = 1
	}
	idx := int(math.Round(float64(float32(len(sorted)-1) * pct)))
	return sorted[idx]
}

func sortFloats(v []float32) {
	sort.Slice(v, func(i, j int) bool { return v[i] < v[j] })
}

// DetectTitles returns the boxes of lines that look like headings. A line
// qualifies when its largest glyph reaches max(StrictRatio*median, the
// Percentile glyph size), or reaches LooseRatio*median while being taller
// than HeightRatio*median line height and no wider than MaxWidthRatio of
// the page. Lines and pageWidth share one coordinate space; the result is
// in that space truncated to integers.
func DetectTitles(lines []TextLine, pageWidth float32, th TitleThresholds) []Rect {
	type info struct {
		x0, y0, x1, y1 float32
		maxSize        float32
		height         float32
	}
	var sizes, heights []float32
	var infos []info
	for _, l := range lines {
		var maxSize float32
		has := false
		for _, s := range l.Sizes {
			if s > 0 && !isInf32(s) {
				sizes = append(sizes, s)
				if s > maxSize {
					maxSize = s
				}
				has = true
			}
		}
		if !has {
			continue
		}
		height := float32(math.Abs(float64(l.Y1 - l.Y0)))
		if height > 0 && !isInf32(height) {
			heights = append(heights, height)
		}
		infos = append(infos, info{l.X0, l.Y0, l.X1, l.Y1, maxSize, height})
	}
	if len(sizes) == 0 || len(heights) == 0 {
		return nil
	}
	sortFloats(sizes)
	sortFloats(heights)

	median := sizes[len(sizes)/2]
	strict := median * th.StrictRatio
	if p := percentile(sizes, th.Percentile); p > strict {
		strict = p
	}
	loose := median * th.LooseRatio
	medianHeight := heights[len(heights)/2]
	if pageWidth < 1 {
		pageWidth = 1
	}

	var rects []Rect
	for _, l := range infos {
		width := float32(math.Abs(float64(l.x1 - l.x0)))
		heightOK := l.height >= medianHeight*th.HeightRatio
		widthOK := width <= pageWidth*th.MaxWidthRatio
		if l.maxSize < strict && !(l.maxSize >= loose && heightOK && widthOK) {
			continue
		}
		rects = append(rects, Rect{
			X0: truncPos(min32(l.x0, l.x1)),
			Y0: truncPos(min32(l.y0, l.y1)),
			X1: truncPos(max32(l.x0, l.x1)),
			Y1: truncPos(max32(l.y0, l.y1)),
		})
	}
	return rects
}

func truncPos(v float32) int {
	if !(v > 0) {
		return 0
	}
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	return int(v)
}

func min32(a, b float32) float32 {
	if a < b {
		return a
	}
	return b
}

func max32(a, b float32) float32 {
	if a > b {
		return a
	}
	return b
}

func luma(r, g, b uint8) int {
	return (54*int(r) + 183*int(g) + 19*int(b)) >> 8
}

// RecolorTitles paints glyph pixels inside rects with color. With inverted
// set (light text on a dark page) pixels with luma >= 180 are glyphs,
// otherwise pixels with luma <= 90.
func RecolorTitles(pix []byte, w, h int, rects []Rect, color int32, inverted bool) {
	var clipped []Rect
	total := 0
	for _, r := range rects {
		if r = r.clip(w, h); !r.Empty() {
			clipped = append(clipped, r)
			total += (r.X1 - r.X0) * (r.Y1 - r.Y0)
		}
	}
	if len(clipped) == 0 {
		return
	}
	cr, cg, cb := rgbOf(color)
	paint := func(r Rect, y0, y1 int) {
		for y := y0; y < y1; y++ {
			row := pix[(y*w+r.X0)*3 : (y*w+r.X1)*3]
			for i := 0; i+2 < len(row); i += 3 {
				l := luma(row[i], row[i+1], row[i+2])
				if inverted && l >= titleLumaLight || !inverted && l <= titleLumaDark {
					row[i], row[i+1], row[i+2] = cr, cg, cb
				}
			}
		}
	}
	// each band paints its rows of every rect
	ForRows(total, h, func(y0, y1 int) {
		for _, r := range clipped {
			a, b := r.Y0, r.Y1
			if a < y0 {
				a = y0
			}
			if b > y1 {
				b = y1
			}
			paint(r, a, b)
		}
	})
}
