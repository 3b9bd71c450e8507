package render

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"

	"github.com/novvoo/go-pdfterm/pkg/pdf"
	"github.com/novvoo/go-pdfterm/pkg/pdf/pdftest"
)

const helloWorld = "BT /F1 12 Tf 72 700 Td (Hello) Tj 0 -14 Td (World) Tj ET"

// letterParams fits a US Letter page at magnification 1.
func letterParams() RenderParams {
	return RenderParams{
		Area:     Area{Width: 51, Height: 33},
		CellSize: CellSize{Width: 12, Height: 24},
		Scale:    1,
		Black:    0x000000,
		White:    0xFFFFFF,
	}
}

func openDoc(t *testing.T, pages ...pdftest.Page) *pdf.Document {
	t.Helper()
	doc, err := pdf.NewDocument(pdftest.Build("test", pages...))
	if err != nil {
		t.Fatalf("NewDocument failed: %v", err)
	}
	return doc
}

func pixelAt(d *PageData, x, y int) [3]byte {
	off := (y*d.Img.WidthPx + x) * 3
	p := d.Img.Pixels
	return [3]byte{p[off], p[off+1], p[off+2]}
}

func TestRenderPageGeometry(t *testing.T) {
	doc := openDoc(t, pdftest.Page{Content: helloWorld})
	data, err := NewRasterizer().RenderPage(context.Background(), doc, 0, letterParams())
	if err != nil {
		t.Fatalf("RenderPage failed: %v", err)
	}
	img := data.Img
	if img.WidthPx != 612 || img.HeightPx != 792 || img.WidthCell != 51 || img.HeightCell != 33 {
		t.Errorf("image = %dx%d px, %dx%d cells", img.WidthPx, img.HeightPx, img.WidthCell, img.HeightCell)
	}
	if len(img.Pixels) != 612*792*3 {
		t.Errorf("pixel buffer holds %d bytes", len(img.Pixels))
	}
	if data.ScaleFactor != 1 || data.PageHeightPx != 792 || data.PageNum != 0 {
		t.Errorf("scale %v, height %v, page %d", data.ScaleFactor, data.PageHeightPx, data.PageNum)
	}

	zoomed := letterParams()
	zoomed.Scale = 1.3
	data, err = NewRasterizer().RenderPage(context.Background(), doc, 0, zoomed)
	if err != nil {
		t.Fatalf("RenderPage failed: %v", err)
	}
	if data.Img.WidthPx%12 != 0 || data.Img.HeightPx%24 != 0 {
		t.Errorf("zoomed raster %dx%d is not cell aligned", data.Img.WidthPx, data.Img.HeightPx)
	}
}

func TestRenderPageDeterministic(t *testing.T) {
	doc := openDoc(t, pdftest.Page{Content: helloWorld})
	r := NewRasterizer()
	a, err := r.RenderPage(context.Background(), doc, 0, letterParams())
	if err != nil {
		t.Fatalf("RenderPage failed: %v", err)
	}
	b, err := r.RenderPage(context.Background(), doc, 0, letterParams())
	if err != nil {
		t.Fatalf("RenderPage failed: %v", err)
	}
	if !reflect.DeepEqual(a, b) {
		t.Error("Expected two renders with the same params to be identical")
	}
}

func TestRenderPageTheme(t *testing.T) {
	doc := openDoc(t, pdftest.Page{Content: helloWorld})
	data, err := NewRasterizer().RenderPage(context.Background(), doc, 0, letterParams())
	if err != nil {
		t.Fatalf("RenderPage failed: %v", err)
	}
	if got := pixelAt(data, 5, 5); got != [3]byte{0, 0, 0} {
		t.Errorf("background = %v, expected black", got)
	}
	bright := false
	for y := 82; y < 95 && !bright; y++ {
		for x := 72; x < 110; x++ {
			if pixelAt(data, x, y)[0] > 100 {
				bright = true
				break
			}
		}
	}
	if !bright {
		t.Error("Expected text to render bright on the dark background")
	}

	if len(data.LineBounds) != 2 {
		t.Fatalf("Expected 2 lines, got %+v", data.LineBounds)
	}
	first := data.LineBounds[0]
	if math.Abs(float64(first.X0-72)) > 0.5 || len(first.Chars) != 5 || first.Chars[0].C != 'H' {
		t.Errorf("first line = %+v", first)
	}
}

func TestRenderPageImages(t *testing.T) {
	content := "q 100 0 0 100 100 500 cm BI /W 1 /H 1 /CS /RGB /BPC 8 ID \xff\x00\x00 EI Q"
	doc := openDoc(t, pdftest.Page{Content: content})
	tests := []struct {
		name   string
		invert bool
		want   [3]byte
	}{
		{"kept", false, [3]byte{255, 0, 0}},
		{"inverted", true, [3]byte{0, 255, 255}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := letterParams()
			params.InvertImages = tt.invert
			data, err := NewRasterizer().RenderPage(context.Background(), doc, 0, params)
			if err != nil {
				t.Fatalf("RenderPage failed: %v", err)
			}
			if got := pixelAt(data, 150, 242); got != tt.want {
				t.Errorf("image pixel = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestRenderPageLinks(t *testing.T) {
	annots := "/Annots [<< /Type /Annot /Subtype /Link /Rect [72 700 172 720] /A << /S /URI /URI (https://example.com) >> >> " +
		"<< /Type /Annot /Subtype /Link /Rect [72 600 172 620] /Dest [7 0 R /Fit] >>]"
	doc := openDoc(t, pdftest.Page{Content: helloWorld, Extra: annots}, pdftest.Page{})
	data, err := NewRasterizer().RenderPage(context.Background(), doc, 0, letterParams())
	if err != nil {
		t.Fatalf("RenderPage failed: %v", err)
	}
	want := []LinkRect{
		{X0: 72, Y0: 72, X1: 172, Y1: 92, Target: LinkTarget{Kind: LinkExternal, URI: "https://example.com"}},
		{X0: 72, Y0: 172, X1: 172, Y1: 192, Target: LinkTarget{Kind: LinkInternal, Page: 1}},
	}
	if !reflect.DeepEqual(data.LinkRects, want) {
		t.Errorf("links = %+v, expected %+v", data.LinkRects, want)
	}
}

func hasAccent(d *PageData) bool {
	for i := 0; i+2 < len(d.Img.Pixels); i += 3 {
		p := d.Img.Pixels[i : i+3]
		if p[0] == 0x66 && p[1] == 0x99 && p[2] == 0xCC {
			return true
		}
	}
	return false
}

func TestRenderPageTitles(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("BT /F1 30 Tf 72 740 Td (Title) Tj ET\n")
	for i := 0; i < 10; i++ {
		fmt.Fprintf(&sb, "BT /F1 10 Tf 72 %d Td (Body text here) Tj ET\n", 680-14*i)
	}
	doc := openDoc(t, pdftest.Page{Content: sb.String()})

	r := NewRasterizer()
	data, err := r.RenderPage(context.Background(), doc, 0, letterParams())
	if err != nil {
		t.Fatalf("RenderPage failed: %v", err)
	}
	if !hasAccent(data) {
		t.Error("Expected the heading to carry the accent color")
	}

	r.TitlesEnabled = false
	data, err = r.RenderPage(context.Background(), doc, 0, letterParams())
	if err != nil {
		t.Fatalf("RenderPage failed: %v", err)
	}
	if hasAccent(data) {
		t.Error("Expected no accent with title detection disabled")
	}
}

func TestRenderPageOutOfRange(t *testing.T) {
	doc := openDoc(t, pdftest.Page{})
	for _, page := range []int{-1, 1, 5} {
		_, err := NewRasterizer().RenderPage(context.Background(), doc, page, letterParams())
		if !errors.Is(err, ErrPageOutOfRange) {
			t.Errorf("page %d: error = %v, expected ErrPageOutOfRange", page, err)
		}
	}
	var f *Fault
	_, err := NewRasterizer().RenderPage(context.Background(), nil, 0, letterParams())
	if !errors.As(err, &f) || f.Kind != FaultDocument {
		t.Errorf("nil document: error = %v", err)
	}
}

// big is close to the largest finite real the lexer produces.
var big = "1" + strings.Repeat("0", 307)

const tinyImage = "BI /W 1 /H 1 /CS /G /BPC 8 ID \x00 EI"

var hostileContents = []struct {
	name    string
	content string
	// covered pages are painted over entirely; the tint turns the black
	// fill white
	covered bool
}{
	{"huge line", fmt.Sprintf("0 0 m %s %s l S", big, big), false},
	{"huge rect", fmt.Sprintf("%s 0 0 %s 0 0 cm 0 0 10 10 re f", big, big), true},
	{"huge square", fmt.Sprintf("-%[1]s -%[1]s m %[1]s -%[1]s l %[1]s %[1]s l -%[1]s %[1]s l h f", big), true},
	{"overflowing matrix", fmt.Sprintf("%s 0 0 %s 0 0 cm %s 0 0 %s 0 0 cm 0 0 1 1 re f", big, big, big, big), false},
	{"nan matrix", fmt.Sprintf("%s 0 0 %s 0 0 cm %s 0 0 %s 0 0 cm 0 %s %s 0 0 0 cm 0 0 1 1 re f S", big, big, big, big, big, big), false},
	{"huge curve", fmt.Sprintf("0 0 m %s %s 2 2 3 3 c S 0 0 m %s 0 0 %s 9 9 c f", big, big, big, big), false},
	{"huge width", fmt.Sprintf("%s w 0 0 m 100 100 l S", big), false},
	{"huge text", fmt.Sprintf("BT /F1 %s Tf 72 700 Td (Hi) Tj ET", big), false},
	{"huge image", fmt.Sprintf("q %s 0 0 %s 0 0 cm %s Q", big, big, tinyImage), false},
	{"overflowing image", fmt.Sprintf("q %s 0 0 %s 0 0 cm %s 0 0 %s 0 0 cm %s Q", big, big, big, big, tinyImage), false},
	{"tiny image", fmt.Sprintf("q 0.0000001 0 0 0.0000001 5 5 cm %s Q", tinyImage), false},
	{"skewed image", fmt.Sprintf("q %s %s %s %s 0 0 cm %s Q", big, big, big, big, tinyImage), false},
}

func TestRenderPageHostileOperands(t *testing.T) {
	for _, tt := range hostileContents {
		t.Run(tt.name, func(t *testing.T) {
			doc := openDoc(t, pdftest.Page{Content: tt.content})
			data, err := NewRasterizer().RenderPage(context.Background(), doc, 0, letterParams())
			if err != nil {
				t.Fatalf("RenderPage failed: %v", err)
			}
			if tt.covered {
				if got := pixelAt(data, 300, 400); got != [3]byte{255, 255, 255} {
					t.Errorf("page center = %v, expected the fill", got)
				}
			}
			if _, err := NewRasterizer().PageText(context.Background(), doc, 0); err != nil {
				t.Errorf("PageText failed: %v", err)
			}
		})
	}
}

func TestRecoverFault(t *testing.T) {
	draw := func() (err error) {
		defer recoverFault(&err, 3)
		var m map[string]int
		m["boom"]++
		return nil
	}
	err := draw()
	var f *Fault
	if !errors.As(err, &f) || f.Kind != FaultDocument || !strings.Contains(f.Error(), "page 3") {
		t.Errorf("error = %v, expected a document fault for page 3", err)
	}

	quiet := func() (err error) {
		defer recoverFault(&err, 0)
		return ErrSizeOverflow
	}
	if err := quiet(); err != ErrSizeOverflow {
		t.Errorf("error = %v, expected the returned error to pass through", err)
	}
}

// FuzzRenderPage checks that any content stream renders or fails with a
// Fault, and never takes the caller down.
func FuzzRenderPage(f *testing.F) {
	f.Add(helloWorld)
	f.Add("0 0 m 100 100 l S 10 10 50 50 re f")
	f.Add("q 100 0 0 100 100 500 cm BI /W 1 /H 1 /CS /RGB /BPC 8 ID \xff\x00\x00 EI Q")
	for _, c := range hostileContents {
		f.Add(c.content)
	}
	params := RenderParams{
		Area:     Area{Width: 8, Height: 6},
		CellSize: CellSize{Width: 4, Height: 8},
		Scale:    1,
		White:    0xFFFFFF,
	}
	f.Fuzz(func(t *testing.T, content string) {
		doc, err := pdf.NewDocument(pdftest.Build("fuzz", pdftest.Page{Content: content}))
		if err != nil {
			return
		}
		data, err := NewRasterizer().RenderPage(context.Background(), doc, 0, params)
		if err != nil {
			var fault *Fault
			if !errors.As(err, &fault) {
				t.Fatalf("error %v is not a Fault", err)
			}
			return
		}
		if len(data.Img.Pixels) != data.Img.WidthPx*data.Img.HeightPx*3 {
			t.Fatalf("pixel buffer holds %d bytes for %dx%d", len(data.Img.Pixels), data.Img.WidthPx, data.Img.HeightPx)
		}
	})
}

func TestExtractText(t *testing.T) {
	doc := openDoc(t,
		pdftest.Page{Content: helloWorld},
		pdftest.Page{Content: "BT /F1 12 Tf 72 700 Td (Next) Tj ET"},
	)
	whole := func(page int) PageSelectionBounds {
		return PageSelectionBounds{Page: page, StartX: 0, EndX: 612, MinY: 0, MaxY: 792}
	}
	tests := []struct {
		name   string
		bounds []PageSelectionBounds
		want   string
	}{
		{"whole page", []PageSelectionBounds{whole(0)}, "Hello\nWorld"},
		{"partial lines", []PageSelectionBounds{{Page: 0, StartX: 75, EndX: 75, MinY: 90, MaxY: 100}}, "ello\nW"},
		{"two pages", []PageSelectionBounds{whole(0), whole(1)}, "Hello\nWorld\n\nNext"},
		{"missing page skipped", []PageSelectionBounds{whole(4), whole(1)}, "Next"},
		{"nothing selected", []PageSelectionBounds{{Page: 0, StartX: 0, EndX: 612, MinY: 300, MaxY: 400}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// the zoom is ignored for selections
			params := letterParams()
			params.Scale = 3
			got, err := NewRasterizer().ExtractText(context.Background(), doc, tt.bounds, params)
			if err != nil {
				t.Fatalf("ExtractText failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("ExtractText = %q, expected %q", got, tt.want)
			}
		})
	}
}

func TestExtractTextCancelled(t *testing.T) {
	doc := openDoc(t, pdftest.Page{Content: helloWorld})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	bounds := []PageSelectionBounds{{Page: 0, EndX: 612, MaxY: 792}}
	if _, err := NewRasterizer().ExtractText(ctx, doc, bounds, letterParams()); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, expected context.Canceled", err)
	}
}
