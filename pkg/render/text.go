package render

import (
	"image"
	"math"
	"sort"
	"strings"

	"github.com/novvoo/go-pdfterm/pkg/pdf"
)

// TextLine is a line of shown text with the glyph size of each char.
type TextLine struct {
	LineBounds
	// Sizes parallels Chars.
	Sizes []float32
	// Baseline is the y of the first char origin.
	Baseline float32
}

// textCollector groups glyphs, in the order the content stream shows them,
// into lines and blocks. A glyph continues the current line when it sits
// on the same baseline and does not jump backwards or across a wide gap.
type textCollector struct {
	lines   []TextLine
	lastEnd pdf.Point
	block   int
}

const (
	baselineTolerance = 0.35
	maxWordGap        = 3.0
	maxLineGap        = 2.0
)

func (t *textCollector) ShowGlyph(g pdf.GlyphInfo) {
	if g.Text == "" || math.IsInf(g.MinX, 0) {
		return
	}
	size := float32(g.Size)
	if n := len(t.lines); n == 0 || !t.continues(&t.lines[n-1], g) {
		t.startLine(g)
	}
	l := &t.lines[len(t.lines)-1]
	for _, r := range g.Text {
		l.Chars = append(l.Chars, CharPos{X: float32(g.Origin.X), C: r})
		l.Sizes = append(l.Sizes, size)
	}
	l.X0 = min32(l.X0, float32(g.MinX))
	l.Y0 = min32(l.Y0, float32(g.MinY))
	l.X1 = max32(l.X1, float32(g.MaxX))
	l.Y1 = max32(l.Y1, float32(g.MaxY))
	t.lastEnd = g.End
}

func (t *textCollector) continues(l *TextLine, g pdf.GlyphInfo) bool {
	size := math.Max(g.Size, 1)
	if math.Abs(g.Origin.Y-float64(l.Baseline)) > baselineTolerance*size {
		return false
	}
	gap := g.Origin.X - t.lastEnd.X
	return gap >= -0.5*size && gap <= maxWordGap*size
}

func (t *textCollector) startLine(g pdf.GlyphInfo) {
	if n := len(t.lines); n > 0 {
		prev := t.lines[n-1].Baseline
		dy := g.Origin.Y - float64(prev)
		if dy <= 0 || dy > maxLineGap*math.Max(g.Size, 1) {
			t.block++
		}
	}
	t.lines = append(t.lines, TextLine{
		LineBounds: LineBounds{
			X0:      float32(math.Inf(1)),
			Y0:      float32(math.Inf(1)),
			X1:      float32(math.Inf(-1)),
			Y1:      float32(math.Inf(-1)),
			BlockID: t.block,
		},
		Baseline: float32(g.Origin.Y),
	})
}

// The collector discards painting so it can serve text-only passes.
func (t *textCollector) FillPath(pdf.Path, bool, pdf.Color, float64)      {}
func (t *textCollector) StrokePath(pdf.Path, float64, pdf.Color, float64) {}
func (t *textCollector) DrawImage(*image.NRGBA, pdf.Matrix, float64)      {}

func lineBounds(lines []TextLine) []LineBounds {
	out := make([]LineBounds, len(lines))
	for i, l := range lines {
		out[i] = l.LineBounds
	}
	return out
}

// selectLineText returns the chars of l inside a selection spanning
// [startX, endX] horizontally and [minY, maxY] vertically. ok is false
// when the line lies outside the span.
func selectLineText(l TextLine, startX, endX, minY, maxY float32) (string, bool) {
	top, bottom := l.Y0, l.Y1
	if bottom < minY || top > maxY {
		return "", false
	}
	first := top <= minY && bottom >= minY
	last := top <= maxY && bottom >= maxY
	var sb strings.Builder
	for _, c := range l.Chars {
		var include bool
		switch {
		case first && last:
			include = c.X >= startX && c.X <= endX
		case first:
			include = c.X >= startX
		case last:
			include = c.X <= endX
		default:
			include = true
		}
		if include {
			sb.WriteRune(c.C)
		}
	}
	return sb.String(), sb.Len() > 0
}

// joinSelection appends the selected lines of one page to text. Lines are
// ordered by baseline.
func joinSelection(text *strings.Builder, lines []TextLine, b PageSelectionBounds, mag float32) {
	startX, endX := b.StartX/mag, b.EndX/mag
	minY, maxY := b.MinY/mag, b.MaxY/mag
	type selected struct {
		y    float32
		text string
	}
	var sel []selected
	for _, l := range lines {
		if len(l.Chars) == 0 {
			continue
		}
		if s, ok := selectLineText(l, startX, endX, minY, maxY); ok {
			sel = append(sel, selected{l.Baseline, s})
		}
	}
	sort.SliceStable(sel, func(i, j int) bool { return sel[i].y < sel[j].y })
	for _, s := range sel {
		if text.Len() > 0 {
			text.WriteByte('\n')
		}
		text.WriteString(s.text)
	}
	if text.Len() > 0 && !strings.HasSuffix(text.String(), "\n") {
		text.WriteByte('\n')
	}
}
