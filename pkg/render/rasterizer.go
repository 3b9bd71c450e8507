package render

import (
	"context"
	"errors"
	"strings"

	"github.com/novvoo/go-pdfterm/pkg/config"
	"github.com/novvoo/go-pdfterm/pkg/pdf"
)

// Rasterizer turns document pages into PageData. The zero value is not
// usable; build one with NewRasterizer or FromConfig.
type Rasterizer struct {
	MaxDimension  int
	TitlesEnabled bool
	Titles        TitleThresholds
	TitleColor    int32
}

func NewRasterizer() *Rasterizer {
	return &Rasterizer{
		MaxDimension:  DefaultMaxDimension,
		TitlesEnabled: true,
		Titles:        DefaultTitleThresholds(),
		TitleColor:    DefaultTitleColor,
	}
}

// FromConfig builds a rasterizer from the render and title sections.
func FromConfig(cfg config.Config) *Rasterizer {
	return &Rasterizer{
		MaxDimension:  cfg.Render.MaxDimension,
		TitlesEnabled: cfg.Title.Enabled,
		Titles: TitleThresholds{
			StrictRatio:   cfg.Title.StrictRatio,
			LooseRatio:    cfg.Title.LooseRatio,
			Percentile:    cfg.Title.Percentile,
			HeightRatio:   cfg.Title.HeightRatio,
			MaxWidthRatio: cfg.Title.MaxWidthRatio,
		},
		TitleColor: int32(cfg.Title.Color),
	}
}

// ParamsFromConfig fills the theme and zoom of RenderParams from cfg.
func ParamsFromConfig(cfg config.Config, area Area, cell CellSize) RenderParams {
	return RenderParams{
		Area:         area,
		CellSize:     cell,
		Scale:        cfg.Render.Zoom,
		Black:        int32(cfg.Render.Black),
		White:        int32(cfg.Render.White),
		InvertImages: cfg.Render.InvertImages,
	}
}

func lookupPage(doc *pdf.Document, page int) (*pdf.Page, error) {
	if doc == nil || page < 0 || page >= doc.NumPages() {
		return nil, newFault(FaultDocument, ErrPageOutOfRange, "page %d", page)
	}
	return doc.Pages[page], nil
}

func scaled(p *pdf.Page, mag float32) pdf.Matrix {
	m := float64(mag)
	return p.Matrix().Multiply(pdf.Matrix{m, 0, 0, m, 0, 0})
}

func renderFault(err error, page int) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return newFault(FaultGeneric, err, "page %d", page)
	}
	return newFault(FaultDocument, err, "page %d", page)
}

// RenderPage rasterizes page (0-based) of doc. Text and vector content is
// tinted so that black maps to params.White and white to params.Black,
// which gives the dark theme for the default colors. Embedded images keep
// their colors unless params.InvertImages is set. A panic while drawing
// the page is returned as a FaultDocument.
func (r *Rasterizer) RenderPage(ctx context.Context, doc *pdf.Document, page int, params RenderParams) (_ *PageData, err error) {
	defer recoverFault(&err, page)
	p, err := lookupPage(doc, page)
	if err != nil {
		return nil, err
	}
	pageW, pageH := float32(p.Width()), float32(p.Height())
	spec, err := ComputeRasterSpec(pageW, pageH, params, r.MaxDimension)
	if err != nil {
		return nil, err
	}

	canvas := NewCanvas(spec.Width, spec.Height)
	if err := p.Render(ctx, canvas, scaled(p, spec.Mag)); err != nil {
		return nil, renderFault(err, page)
	}
	img := canvas.Image()
	w, h := spec.Width, spec.Height
	pix, err := PixmapToRGB(img.Pix, w, h, 4, img.Stride)
	if err != nil {
		return nil, err
	}

	var regions []ImageRegion
	if !params.InvertImages {
		regions = StashRegions(pix, w, h, canvas.ImageRects())
	}
	Tint(pix, w, h, params.White, params.Black)
	if len(regions) > 0 {
		RestoreRegions(pix, w, h, regions)
	}

	if r.TitlesEnabled {
		if rects := DetectTitles(canvas.Lines(), pageW*spec.Mag, r.Titles); len(rects) > 0 {
			// glyphs now carry the params.White color
			wr, wg, wb := rgbOf(params.White)
			RecolorTitles(pix, w, h, rects, r.TitleColor, luma(wr, wg, wb) >= 128)
		}
	}

	return &PageData{
		Img: ImageData{
			Pixels:     pix,
			WidthPx:    w,
			HeightPx:   h,
			WidthCell:  spec.WidthCell,
			HeightCell: spec.HeightCell,
		},
		PageNum:      page,
		ScaleFactor:  spec.Mag,
		LineBounds:   lineBounds(canvas.Lines()),
		LinkRects:    linkRects(p, spec.Mag),
		PageHeightPx: float32(spec.Height),
	}, nil
}

func linkRects(p *pdf.Page, mag float32) []LinkRect {
	var out []LinkRect
	for _, l := range p.Links() {
		var target LinkTarget
		switch {
		case l.Page >= 0:
			target = LinkTarget{Kind: LinkInternal, Page: l.Page}
		case l.URI != "":
			target = LinkTarget{Kind: LinkExternal, URI: l.URI}
		default:
			continue
		}
		x0, x1 := float32(l.Rect.LLX), float32(l.Rect.URX)
		y0, y1 := float32(l.Rect.LLY), float32(l.Rect.URY)
		if x0 == x1 || y0 == y1 {
			continue
		}
		out = append(out, LinkRect{
			X0:     uint32(truncPos(min32(x0, x1) * mag)),
			Y0:     uint32(truncPos(min32(y0, y1) * mag)),
			X1:     uint32(truncPos(max32(x0, x1) * mag)),
			Y1:     uint32(truncPos(max32(y0, y1) * mag)),
			Target: target,
		})
	}
	return out
}

// PageText returns the text lines of page in page points.
func (r *Rasterizer) PageText(ctx context.Context, doc *pdf.Document, page int) (_ []TextLine, err error) {
	defer recoverFault(&err, page)
	p, err := lookupPage(doc, page)
	if err != nil {
		return nil, err
	}
	var tc textCollector
	if err := p.Render(ctx, &tc, p.Matrix()); err != nil {
		return nil, renderFault(err, page)
	}
	return tc.lines, nil
}

// ExtractText returns the selected text across pages. Selection bounds are
// in output pixels of a render at zoom 1 with params' viewport. Pages that
// cannot be read are skipped.
func (r *Rasterizer) ExtractText(ctx context.Context, doc *pdf.Document, bounds []PageSelectionBounds, params RenderParams) (string, error) {
	params.Scale = 1
	var text strings.Builder
	for _, b := range bounds {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		p, err := lookupPage(doc, b.Page)
		if err != nil {
			continue
		}
		spec, err := ComputeRasterSpec(float32(p.Width()), float32(p.Height()), params, r.MaxDimension)
		if err != nil {
			continue
		}
		lines, err := r.PageText(ctx, doc, b.Page)
		if err != nil {
			continue
		}
		joinSelection(&text, lines, b, spec.Mag)
	}
	return strings.TrimSpace(text.String()), nil
}
