package pdf

import (
	"context"
	"errors"
	"image"
	"math"
	"strings"
	"testing"

	"github.com/novvoo/go-pdfterm/pkg/pdf/pdftest"
)

type fillCall struct {
	path    Path
	evenOdd bool
	color   Color
	alpha   float64
}

type recorder struct {
	fills   []fillCall
	strokes []float64
	images  []Matrix
	glyphs  []GlyphInfo
}

func (r *recorder) FillPath(p Path, evenOdd bool, c Color, alpha float64) {
	r.fills = append(r.fills, fillCall{p, evenOdd, c, alpha})
}

func (r *recorder) StrokePath(p Path, width float64, c Color, alpha float64) {
	r.strokes = append(r.strokes, width)
}

func (r *recorder) DrawImage(img *image.NRGBA, m Matrix, alpha float64) {
	r.images = append(r.images, m)
}

func (r *recorder) ShowGlyph(g GlyphInfo) {
	r.glyphs = append(r.glyphs, g)
}

func renderPage(t *testing.T, page pdftest.Page) *recorder {
	t.Helper()
	doc, err := NewDocument(pdftest.Build("render", page))
	if err != nil {
		t.Fatalf("NewDocument failed: %v", err)
	}
	rec := &recorder{}
	p := doc.Pages[0]
	if err := p.Render(context.Background(), rec, p.Matrix()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	return rec
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestRenderFillRect(t *testing.T) {
	rec := renderPage(t, pdftest.Page{Content: "0 0 1 rg 10 10 100 50 re f"})
	if len(rec.fills) != 1 {
		t.Fatalf("Expected 1 fill, got %d", len(rec.fills))
	}
	f := rec.fills[0]
	if f.color != (Color{0, 0, 1}) || f.alpha != 1 || f.evenOdd {
		t.Errorf("Unexpected fill %+v", f)
	}
	minX, minY, maxX, maxY, ok := f.path.Bounds()
	if !ok || !near(minX, 10) || !near(maxX, 110) || !near(minY, 732) || !near(maxY, 782) {
		t.Errorf("bounds = (%v, %v)-(%v, %v)", minX, minY, maxX, maxY)
	}
}

func TestRenderGraphicsState(t *testing.T) {
	content := strings.Join([]string{
		"q 2 0 0 2 0 0 cm 0 0 10 10 re f Q",
		"0 0 10 10 re f",
		"4 w 1 0 0 RG 0 0 m 10 10 l S",
		"0.5 g 0 0 1 1 re f*",
		"0 0 0 1 k 0 0 1 1 re f",
		"0 0 1 1 re n",
	}, "\n")
	rec := renderPage(t, pdftest.Page{Content: content})
	if len(rec.fills) != 4 {
		t.Fatalf("Expected 4 fills, got %d", len(rec.fills))
	}
	_, _, maxX, _, _ := rec.fills[0].path.Bounds()
	if !near(maxX, 20) {
		t.Errorf("scaled fill maxX = %v, expected 20", maxX)
	}
	_, _, maxX, _, _ = rec.fills[1].path.Bounds()
	if !near(maxX, 10) {
		t.Errorf("restored fill maxX = %v, expected 10", maxX)
	}
	if len(rec.strokes) != 1 || rec.strokes[0] != 4 {
		t.Errorf("strokes = %v, expected [4]", rec.strokes)
	}
	if !rec.fills[2].evenOdd || rec.fills[2].color != (Color{0.5, 0.5, 0.5}) {
		t.Errorf("gray fill = %+v", rec.fills[2])
	}
	if rec.fills[3].color != (Color{}) {
		t.Errorf("cmyk black = %+v", rec.fills[3].color)
	}
}

func TestRenderExtGStateAlpha(t *testing.T) {
	rec := renderPage(t, pdftest.Page{
		Content:   "/GS0 gs 0 0 5 5 re f",
		Resources: "/ExtGState << /GS0 << /ca 0.25 >> >>",
	})
	if len(rec.fills) != 1 || rec.fills[0].alpha != 0.25 {
		t.Errorf("fills = %+v", rec.fills)
	}
}

func TestRenderText(t *testing.T) {
	rec := renderPage(t, pdftest.Page{Content: "BT /F1 12 Tf 72 700 Td (Hi) Tj ET"})
	if len(rec.glyphs) != 2 {
		t.Fatalf("Expected 2 glyphs, got %d", len(rec.glyphs))
	}
	g := rec.glyphs[0]
	if g.Text != "H" {
		t.Errorf("glyph text = %q", g.Text)
	}
	if !near(g.Origin.X, 72) || !near(g.Origin.Y, 92) {
		t.Errorf("origin = %+v, expected (72, 92)", g.Origin)
	}
	if !near(g.Size, 12) {
		t.Errorf("size = %v", g.Size)
	}
	if g.MinY >= g.Origin.Y || g.MaxY <= g.Origin.Y {
		t.Errorf("box %v..%v does not straddle the baseline %v", g.MinY, g.MaxY, g.Origin.Y)
	}
	next := rec.glyphs[1]
	if next.Text != "i" || next.Origin.X <= g.Origin.X || !near(next.Origin.X, g.End.X) {
		t.Errorf("second glyph = %+v after %+v", next, g)
	}
	if len(rec.fills) == 0 {
		t.Error("Expected glyph outlines to be filled")
	}
}

func TestRenderInvisibleText(t *testing.T) {
	rec := renderPage(t, pdftest.Page{Content: "BT 3 Tr /F1 10 Tf 0 0 Td (ab) Tj ET"})
	if len(rec.glyphs) != 2 {
		t.Errorf("Expected invisible glyphs to be reported, got %d", len(rec.glyphs))
	}
	if len(rec.fills) != 0 || len(rec.strokes) != 0 {
		t.Errorf("Expected no painting, got %d fills %d strokes", len(rec.fills), len(rec.strokes))
	}
}

func TestRenderTextPositioning(t *testing.T) {
	content := "BT /F1 10 Tf 14 TL 100 700 Td (a) Tj T* (b) Tj 1 0 0 1 300 400 Tm (c) Tj [(d) -1000 (e)] TJ ET"
	rec := renderPage(t, pdftest.Page{Content: content})
	if len(rec.glyphs) != 5 {
		t.Fatalf("Expected 5 glyphs, got %d", len(rec.glyphs))
	}
	if !near(rec.glyphs[1].Origin.Y-rec.glyphs[0].Origin.Y, 14) {
		t.Errorf("T* moved %v, expected 14", rec.glyphs[1].Origin.Y-rec.glyphs[0].Origin.Y)
	}
	if !near(rec.glyphs[2].Origin.X, 300) || !near(rec.glyphs[2].Origin.Y, 392) {
		t.Errorf("Tm origin = %+v", rec.glyphs[2].Origin)
	}
	// a -1000 adjustment moves right by one font size
	gap := rec.glyphs[4].Origin.X - rec.glyphs[3].End.X
	if !near(gap, 10) {
		t.Errorf("TJ gap = %v, expected 10", gap)
	}
}

func TestRenderInlineImage(t *testing.T) {
	rec := renderPage(t, pdftest.Page{Content: "q 50 0 0 20 10 10 cm BI /W 1 /H 1 /CS /G /BPC 8 ID \x80 EI Q"})
	if len(rec.images) != 1 {
		t.Fatalf("Expected 1 image, got %d", len(rec.images))
	}
	m := rec.images[0]
	x, y := m.Apply(0, 1)
	if !near(x, 10) || !near(y, 762) {
		t.Errorf("image top-left = (%v, %v), expected (10, 762)", x, y)
	}
}

func TestRenderUnsupportedImagePlaceholder(t *testing.T) {
	rec := renderPage(t, pdftest.Page{Content: "q 10 0 0 10 0 0 cm BI /W 1 /H 1 /CS /G /BPC 8 /F /JPXDecode ID \x00 EI Q"})
	if len(rec.images) != 0 {
		t.Errorf("Expected no decoded image")
	}
	if len(rec.fills) != 1 || rec.fills[0].color != (Color{0.85, 0.85, 0.85}) {
		t.Errorf("Expected a gray placeholder, got %+v", rec.fills)
	}
}

func TestRenderFormXObject(t *testing.T) {
	b := pdftest.New()
	b.Add("<< /Type /Catalog /Pages 2 0 R >>")
	b.Add("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.Add("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 100 100] /Resources << /XObject << /X1 5 0 R >> >> /Contents 4 0 R >>")
	b.AddStream("", []byte("/X1 Do"))
	b.AddStream("/Type /XObject /Subtype /Form /BBox [0 0 10 10] /Matrix [1 0 0 1 20 30]", []byte("0 0 10 10 re f"))
	doc, err := NewDocument(b.Bytes("/Root 1 0 R"))
	if err != nil {
		t.Fatalf("NewDocument failed: %v", err)
	}
	rec := &recorder{}
	p := doc.Pages[0]
	if err := p.Render(context.Background(), rec, p.Matrix()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(rec.fills) != 1 {
		t.Fatalf("Expected 1 fill, got %d", len(rec.fills))
	}
	minX, minY, _, _, _ := rec.fills[0].path.Bounds()
	if !near(minX, 20) || !near(minY, 60) {
		t.Errorf("form fill min = (%v, %v), expected (20, 60)", minX, minY)
	}
}

func TestRenderAnnotationAppearance(t *testing.T) {
	b := pdftest.New()
	b.Add("<< /Type /Catalog /Pages 2 0 R >>")
	b.Add("<< /Type /Pages /Kids [3 0 R] /Count 1 >>")
	b.Add("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 100 100] /Contents 4 0 R /Annots [6 0 R 7 0 R] >>")
	b.AddStream("", nil)
	b.AddStream("/Type /XObject /Subtype /Form /BBox [0 0 1 1]", []byte("0 0 1 1 re f"))
	b.Add("<< /Type /Annot /Subtype /Square /Rect [10 10 30 20] /AP << /N 5 0 R >> >>")
	b.Add("<< /Type /Annot /Subtype /Square /F 2 /Rect [50 50 60 60] /AP << /N 5 0 R >> >>")
	doc, err := NewDocument(b.Bytes("/Root 1 0 R"))
	if err != nil {
		t.Fatalf("NewDocument failed: %v", err)
	}
	rec := &recorder{}
	p := doc.Pages[0]
	if err := p.Render(context.Background(), rec, p.Matrix()); err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if len(rec.fills) != 1 {
		t.Fatalf("Expected only the visible annotation, got %d fills", len(rec.fills))
	}
	minX, minY, maxX, maxY, _ := rec.fills[0].path.Bounds()
	if !near(minX, 10) || !near(maxX, 30) || !near(minY, 80) || !near(maxY, 90) {
		t.Errorf("appearance bounds = (%v, %v)-(%v, %v)", minX, minY, maxX, maxY)
	}
}

func TestRenderCanceled(t *testing.T) {
	content := strings.Repeat("0 0 1 1 re n\n", 2*cancelCheckStep)
	doc, err := NewDocument(pdftest.Build("cancel", pdftest.Page{Content: content}))
	if err != nil {
		t.Fatalf("NewDocument failed: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := doc.Pages[0]
	if err := p.Render(ctx, &recorder{}, p.Matrix()); !errors.Is(err, context.Canceled) {
		t.Errorf("Render error = %v, expected context.Canceled", err)
	}
}
