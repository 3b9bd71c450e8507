package pdf

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
)

// Device receives the painting operations of a page. All coordinates
// are in device space.
type Device interface {
	FillPath(p Path, evenOdd bool, c Color, alpha float64)
	StrokePath(p Path, width float64, c Color, alpha float64)
	// DrawImage paints img so that the unit square maps through m, with
	// (0, 1) in user space at the top left sample.
	DrawImage(img *image.NRGBA, m Matrix, alpha float64)
	// ShowGlyph reports one shown character, including invisible text.
	ShowGlyph(g GlyphInfo)
}

// GlyphInfo describes a shown character in device space.
type GlyphInfo struct {
	Text   string
	Origin Point
	End    Point
	Size   float64
	// Bounds is the axis aligned box of the nominal character cell.
	MinX, MinY, MaxX, MaxY float64
}

const (
	maxFormDepth    = 12
	cancelCheckStep = 512
)

type interpreter struct {
	ctx   context.Context
	doc   *Document
	dev   Device
	gs    GraphicsState
	stack []GraphicsState

	path       Path
	cur, start Point

	tm, tlm Matrix
	depth   int
	ops     int
}

// Render interprets the page contents followed by annotation appearances.
// base maps default user space to device space, normally
// Page.Matrix().Multiply(scale).
func (p *Page) Render(ctx context.Context, dev Device, base Matrix) error {
	data, err := p.GetContents()
	if err != nil {
		return err
	}
	in := &interpreter{ctx: ctx, doc: p.doc, dev: dev, gs: newGraphicsState(base)}
	if err := in.run(data, p.Resources); err != nil {
		return fmt.Errorf("page %d: %w", p.Number, err)
	}
	for _, a := range p.appearances() {
		in.gs = newGraphicsState(base)
		in.stack = in.stack[:0]
		if err := in.drawForm(a.stream, a.matrix); err != nil {
			return fmt.Errorf("page %d annotation: %w", p.Number, err)
		}
	}
	return nil
}

func (in *interpreter) run(data []byte, resources Dictionary) error {
	// a damaged tail still leaves the parsed operations painted
	ops, _ := NewContentStreamParser(data).ParseOperations()
	for _, op := range ops {
		in.ops++
		if in.ops%cancelCheckStep == 0 {
			if err := in.ctx.Err(); err != nil {
				return err
			}
		}
		if err := in.exec(op, resources); err != nil {
			return err
		}
	}
	return nil
}

func operandNums(ops []Object) []float64 {
	out := make([]float64, 0, len(ops))
	for _, o := range ops {
		if v, ok := Num(o); ok {
			out = append(out, v)
		}
	}
	return out
}

func (in *interpreter) exec(op Operation, res Dictionary) error {
	args := op.Operands
	nums := func(n int) ([]float64, bool) {
		v := operandNums(args)
		if len(v) < n {
			return nil, false
		}
		return v[len(v)-n:], true
	}
	gs := &in.gs

	switch op.Operator {
	case "q":
		in.stack = append(in.stack, in.gs)
	case "Q":
		if n := len(in.stack); n > 0 {
			in.gs = in.stack[n-1]
			in.stack = in.stack[:n-1]
		}
	case "cm":
		if m, ok := matrixFrom(args); ok {
			gs.CTM = m.Multiply(gs.CTM)
		}
	case "w":
		if v, ok := nums(1); ok {
			gs.LineWidth = v[0]
		}
	case "gs":
		in.extGState(args, res)

	case "m":
		if v, ok := nums(2); ok {
			in.moveTo(v[0], v[1])
		}
	case "l":
		if v, ok := nums(2); ok {
			in.lineTo(v[0], v[1])
		}
	case "c":
		if v, ok := nums(6); ok {
			in.cubeTo(in.dev2(v[0], v[1]), in.dev2(v[2], v[3]), in.dev2(v[4], v[5]))
		}
	case "v":
		if v, ok := nums(4); ok {
			in.cubeTo(in.cur, in.dev2(v[0], v[1]), in.dev2(v[2], v[3]))
		}
	case "y":
		if v, ok := nums(4); ok {
			end := in.dev2(v[2], v[3])
			in.cubeTo(in.dev2(v[0], v[1]), end, end)
		}
	case "h":
		in.closePath()
	case "re":
		if v, ok := nums(4); ok {
			in.path = append(in.path, rectPath(v[0], v[1], v[2], v[3]).Transform(gs.CTM)...)
			in.cur = in.dev2(v[0], v[1])
			in.start = in.cur
		}

	case "S":
		in.stroke()
		in.path = nil
	case "s":
		in.closePath()
		in.stroke()
		in.path = nil
	case "f", "F":
		in.fill(false)
		in.path = nil
	case "f*":
		in.fill(true)
		in.path = nil
	case "B":
		in.fill(false)
		in.stroke()
		in.path = nil
	case "B*":
		in.fill(true)
		in.stroke()
		in.path = nil
	case "b":
		in.closePath()
		in.fill(false)
		in.stroke()
		in.path = nil
	case "b*":
		in.closePath()
		in.fill(true)
		in.stroke()
		in.path = nil
	case "n":
		in.path = nil
	case "W", "W*":
		// clipping is not tracked

	case "CS":
		if len(args) > 0 {
			gs.StrokeCS = in.doc.resolveColorSpace(args[0], res)
			gs.StrokeColor = gs.StrokeCS.initial()
		}
	case "cs":
		if len(args) > 0 {
			gs.FillCS = in.doc.resolveColorSpace(args[0], res)
			gs.FillColor = gs.FillCS.initial()
		}
	case "SC", "SCN":
		if v := operandNums(args); len(v) > 0 {
			gs.StrokeColor = gs.StrokeCS.toRGB(v)
		}
	case "sc", "scn":
		if v := operandNums(args); len(v) > 0 {
			gs.FillColor = gs.FillCS.toRGB(v)
		}
	case "G":
		if v, ok := nums(1); ok {
			gs.StrokeCS, gs.StrokeColor = csGray, csGray.toRGB(v)
		}
	case "g":
		if v, ok := nums(1); ok {
			gs.FillCS, gs.FillColor = csGray, csGray.toRGB(v)
		}
	case "RG":
		if v, ok := nums(3); ok {
			gs.StrokeCS, gs.StrokeColor = csRGB, csRGB.toRGB(v)
		}
	case "rg":
		if v, ok := nums(3); ok {
			gs.FillCS, gs.FillColor = csRGB, csRGB.toRGB(v)
		}
	case "K":
		if v, ok := nums(4); ok {
			gs.StrokeCS, gs.StrokeColor = csCMYK, csCMYK.toRGB(v)
		}
	case "k":
		if v, ok := nums(4); ok {
			gs.FillCS, gs.FillColor = csCMYK, csCMYK.toRGB(v)
		}

	case "BT":
		in.tm, in.tlm = Identity, Identity
	case "ET":
	case "Tc":
		if v, ok := nums(1); ok {
			gs.Text.CharSpacing = v[0]
		}
	case "Tw":
		if v, ok := nums(1); ok {
			gs.Text.WordSpacing = v[0]
		}
	case "Tz":
		if v, ok := nums(1); ok {
			gs.Text.HScale = v[0] / 100
		}
	case "TL":
		if v, ok := nums(1); ok {
			gs.Text.Leading = v[0]
		}
	case "Ts":
		if v, ok := nums(1); ok {
			gs.Text.Rise = v[0]
		}
	case "Tr":
		if v, ok := nums(1); ok {
			gs.Text.Render = int(v[0])
		}
	case "Tf":
		if len(args) >= 2 {
			if name, ok := args[len(args)-2].(Name); ok {
				gs.Text.Font = in.font(name, res)
			}
			gs.Text.FontSize, _ = Num(args[len(args)-1])
		}
	case "Td":
		if v, ok := nums(2); ok {
			in.nextLine(v[0], v[1])
		}
	case "TD":
		if v, ok := nums(2); ok {
			gs.Text.Leading = -v[1]
			in.nextLine(v[0], v[1])
		}
	case "Tm":
		if m, ok := matrixFrom(args); ok {
			in.tm, in.tlm = m, m
		}
	case "T*":
		in.nextLine(0, -gs.Text.Leading)
	case "Tj":
		if s, ok := lastString(args); ok {
			in.showText(s, res)
		}
	case "'":
		in.nextLine(0, -gs.Text.Leading)
		if s, ok := lastString(args); ok {
			in.showText(s, res)
		}
	case "\"":
		if len(args) >= 3 {
			gs.Text.WordSpacing, _ = Num(args[0])
			gs.Text.CharSpacing, _ = Num(args[1])
		}
		in.nextLine(0, -gs.Text.Leading)
		if s, ok := lastString(args); ok {
			in.showText(s, res)
		}
	case "TJ":
		if len(args) == 0 {
			break
		}
		arr, _ := args[len(args)-1].(Array)
		for _, item := range arr {
			switch v := item.(type) {
			case String:
				in.showText(v.Value, res)
			case Integer, Real:
				n, _ := Num(v)
				tx := -n / 1000 * gs.Text.FontSize * gs.Text.HScale
				in.tm = Matrix{1, 0, 0, 1, tx, 0}.Multiply(in.tm)
			}
		}

	case "Do":
		if len(args) > 0 {
			if name, ok := args[len(args)-1].(Name); ok {
				return in.xobject(name, res)
			}
		}
	case "BI":
		if len(args) > 0 {
			if dict, ok := args[0].(Dictionary); ok {
				in.image(Stream{Dictionary: dict, Data: op.InlineImage}, res)
			}
		}
	}
	return nil
}

func lastString(args []Object) ([]byte, bool) {
	if len(args) == 0 {
		return nil, false
	}
	s, ok := args[len(args)-1].(String)
	return s.Value, ok
}

func (in *interpreter) dev2(x, y float64) Point {
	dx, dy := in.gs.CTM.Apply(x, y)
	return Point{dx, dy}
}

func (in *interpreter) moveTo(x, y float64) {
	in.cur = in.dev2(x, y)
	in.start = in.cur
	in.path = append(in.path, PathOp{Verb: MoveTo, Pts: [3]Point{in.cur}})
}

func (in *interpreter) lineTo(x, y float64) {
	if len(in.path) == 0 {
		in.moveTo(x, y)
		return
	}
	in.cur = in.dev2(x, y)
	in.path = append(in.path, PathOp{Verb: LineTo, Pts: [3]Point{in.cur}})
}

func (in *interpreter) cubeTo(c1, c2, end Point) {
	if len(in.path) == 0 {
		in.path = append(in.path, PathOp{Verb: MoveTo, Pts: [3]Point{c1}})
		in.start = c1
	}
	in.cur = end
	in.path = append(in.path, PathOp{Verb: CubeTo, Pts: [3]Point{c1, c2, end}})
}

func (in *interpreter) closePath() {
	if len(in.path) == 0 {
		return
	}
	in.path = append(in.path, PathOp{Verb: ClosePath})
	in.cur = in.start
}

func (in *interpreter) fill(evenOdd bool) {
	if len(in.path) > 0 {
		in.dev.FillPath(in.path, evenOdd, in.gs.FillColor, in.gs.FillAlpha)
	}
}

func (in *interpreter) stroke() {
	if len(in.path) == 0 {
		return
	}
	// zero width means the thinnest visible line
	w := math.Max(in.gs.LineWidth*in.gs.CTM.Scale(), 1)
	in.dev.StrokePath(in.path, w, in.gs.StrokeColor, in.gs.StrokeAlpha)
}

func (in *interpreter) extGState(args []Object, res Dictionary) {
	if len(args) == 0 {
		return
	}
	name, ok := args[len(args)-1].(Name)
	if !ok {
		return
	}
	states, ok := in.doc.ResolveDict(res.Get("ExtGState"))
	if !ok {
		return
	}
	egs, ok := in.doc.ResolveDict(states.Get(string(name)))
	if !ok {
		return
	}
	if v, ok := Num(in.doc.Resolve(egs.Get("LW"))); ok {
		in.gs.LineWidth = v
	}
	if v, ok := Num(in.doc.Resolve(egs.Get("ca"))); ok {
		in.gs.FillAlpha = clamp01(v)
	}
	if v, ok := Num(in.doc.Resolve(egs.Get("CA"))); ok {
		in.gs.StrokeAlpha = clamp01(v)
	}
	if f, ok := in.doc.Resolve(egs.Get("Font")).(Array); ok && len(f) == 2 {
		in.gs.Text.Font = in.doc.LoadFont(f[0])
		in.gs.Text.FontSize, _ = Num(in.doc.Resolve(f[1]))
	}
}

func (in *interpreter) font(name Name, res Dictionary) *Font {
	if fonts, ok := in.doc.ResolveDict(res.Get("Font")); ok {
		if ref := fonts.Get(string(name)); ref != nil {
			return in.doc.LoadFont(ref)
		}
	}
	return in.doc.LoadFont(nil)
}

func (in *interpreter) nextLine(tx, ty float64) {
	in.tlm = Matrix{1, 0, 0, 1, tx, ty}.Multiply(in.tlm)
	in.tm = in.tlm
}

func (in *interpreter) showText(s []byte, res Dictionary) {
	ts := &in.gs.Text
	f := ts.Font
	if f == nil {
		f = in.doc.LoadFont(nil)
		ts.Font = f
	}
	fs, th := ts.FontSize, ts.HScale
	mode := ts.Render % 4
	if ts.Render > 7 {
		mode = 0
	}

	for _, g := range f.Decode(s) {
		userTM := in.tm.Multiply(in.gs.CTM)
		trm := Matrix{fs * th, 0, 0, fs, 0, ts.Rise}.Multiply(userTM)

		switch {
		case f.IsType3():
			if mode != 3 {
				in.type3Glyph(f, g, trm, res)
			}
		case mode != 3:
			if outline := f.Outline(g); outline != nil {
				dp := outline.Transform(trm)
				if mode == 0 || mode == 2 {
					in.dev.FillPath(dp, false, in.gs.FillColor, in.gs.FillAlpha)
				}
				if mode == 1 || mode == 2 {
					w := math.Max(in.gs.LineWidth*in.gs.CTM.Scale(), 1)
					in.dev.StrokePath(dp, w, in.gs.StrokeColor, in.gs.StrokeAlpha)
				}
			}
		}

		if g.Text != "" {
			in.dev.ShowGlyph(glyphInfo(g, trm))
		}

		tx := g.Width*fs + ts.CharSpacing
		if g.Code.Len == 1 && g.Code.Value == ' ' {
			tx += ts.WordSpacing
		}
		in.tm = Matrix{1, 0, 0, 1, tx * th, 0}.Multiply(in.tm)
	}
}

func glyphInfo(g Glyph, trm Matrix) GlyphInfo {
	w := g.Width
	ox, oy := trm.Apply(0, 0)
	ex, ey := trm.Apply(w, 0)
	size := math.Hypot(trm[2], trm[3])
	gi := GlyphInfo{
		Text:   g.Text,
		Origin: Point{ox, oy},
		End:    Point{ex, ey},
		Size:   size,
	}
	gi.MinX, gi.MinY = math.Inf(1), math.Inf(1)
	gi.MaxX, gi.MaxY = math.Inf(-1), math.Inf(-1)
	for _, c := range [4]Point{{0, -0.2}, {w, -0.2}, {w, 0.8}, {0, 0.8}} {
		x, y := trm.Apply(c.X, c.Y)
		gi.MinX, gi.MaxX = math.Min(gi.MinX, x), math.Max(gi.MaxX, x)
		gi.MinY, gi.MaxY = math.Min(gi.MinY, y), math.Max(gi.MaxY, y)
	}
	return gi
}

func (in *interpreter) type3Glyph(f *Font, g Glyph, trm Matrix, res Dictionary) {
	proc, ok := f.charProc(g.Code.Value)
	if !ok || in.depth >= maxFormDepth {
		return
	}
	data, err := proc.Decode()
	if err != nil {
		return
	}
	glyphRes := f.resources
	if glyphRes == nil {
		glyphRes = res
	}
	saved, savedStack, savedPath := in.gs, in.stack, in.path
	savedTM, savedTLM := in.tm, in.tlm
	in.stack = nil
	in.path = nil
	in.gs.CTM = f.fontMatrix.Multiply(trm)
	in.depth++
	_ = in.run(data, glyphRes)
	in.depth--
	in.gs, in.stack, in.path = saved, savedStack, savedPath
	in.tm, in.tlm = savedTM, savedTLM
}

func (in *interpreter) xobject(name Name, res Dictionary) error {
	xobjs, ok := in.doc.ResolveDict(res.Get("XObject"))
	if !ok {
		return nil
	}
	s, ok := in.doc.Resolve(xobjs.Get(string(name))).(Stream)
	if !ok {
		return nil
	}
	switch sub, _ := s.Dictionary.GetName("Subtype"); sub {
	case "Image":
		in.image(s, res)
	case "Form":
		if in.depth >= maxFormDepth {
			return nil
		}
		m := Identity
		if arr, ok := in.doc.Resolve(s.Dictionary.Get("Matrix")).(Array); ok {
			if fm, ok := matrixFrom(arr); ok {
				m = fm
			}
		}
		formRes := res
		if r, ok := in.doc.ResolveDict(s.Dictionary.Get("Resources")); ok {
			formRes = r
		}
		return in.runForm(s, m, formRes)
	}
	return nil
}

func (in *interpreter) drawForm(s Stream, m Matrix) error {
	res, _ := in.doc.ResolveDict(s.Dictionary.Get("Resources"))
	if res == nil {
		res = Dictionary{}
	}
	return in.runForm(s, m, res)
}

func (in *interpreter) runForm(s Stream, m Matrix, res Dictionary) error {
	data, err := s.Decode()
	if err != nil {
		return nil
	}
	saved, savedStack, savedPath := in.gs, in.stack, in.path
	savedTM, savedTLM := in.tm, in.tlm
	in.stack = nil
	in.path = nil
	in.gs.CTM = m.Multiply(in.gs.CTM)
	in.depth++
	err = in.run(data, res)
	in.depth--
	in.gs, in.stack, in.path = saved, savedStack, savedPath
	in.tm, in.tlm = savedTM, savedTLM
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

func (in *interpreter) image(s Stream, res Dictionary) {
	img, err := in.doc.DecodeImage(s, res, in.gs.FillColor)
	if err != nil {
		if errors.Is(err, ErrUnsupportedCodec) {
			// placeholder for codecs we cannot decode
			p := rectPath(0, 0, 1, 1).Transform(in.gs.CTM)
			in.dev.FillPath(p, false, Color{0.85, 0.85, 0.85}, in.gs.FillAlpha)
		}
		return
	}
	in.dev.DrawImage(img, in.gs.CTM, in.gs.FillAlpha)
}
