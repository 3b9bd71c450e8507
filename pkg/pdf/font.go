package pdf

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gobolditalic"
	"golang.org/x/image/font/gofont/goitalic"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/gomonobold"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/math/fixed"
)

// Font is a loaded font resource. Glyph outlines come from an embedded
// TrueType program when one is present and parseable, otherwise from a
// substitute Go font chosen by name and descriptor flags.
type Font struct {
	Name     string
	Subtype  Name
	Encoding Name
	Embedded bool

	doc          *Document
	composite    bool
	firstChar    int
	widths       []float64
	hasWidths    bool
	cidWidths    map[uint32]float64
	missingWidth float64
	defaultWidth float64
	symbolic     bool
	enc          [256]rune
	diffNames    map[int]string
	toUnicode    *CMap
	codes        *CMap
	cidToGID     []uint16
	face         *truetype.Font
	substitute   bool
	stubCmap     bool

	fontMatrix Matrix
	charProcs  Dictionary
	resources  Dictionary

	mu       sync.Mutex
	outlines map[truetype.Index]Path
}

// Glyph is one decoded character code.
type Glyph struct {
	Code  Code
	Text  string
	Width float64 // advance in text space per unit font size

	index    truetype.Index
	hasIndex bool
}

func parseFace(b []byte) func() *truetype.Font {
	return sync.OnceValue(func() *truetype.Font {
		f, err := truetype.Parse(b)
		if err != nil {
			panic(fmt.Sprintf("builtin font: %v", err))
		}
		return f
	})
}

var (
	regularFace    = parseFace(goregular.TTF)
	boldFace       = parseFace(gobold.TTF)
	italicFace     = parseFace(goitalic.TTF)
	boldItalicFace = parseFace(gobolditalic.TTF)
	monoFace       = parseFace(gomono.TTF)
	monoBoldFace   = parseFace(gomonobold.TTF)
)

const (
	flagFixedPitch = 1 << 0
	flagSymbolic   = 1 << 2
	flagItalic     = 1 << 6
	flagForceBold  = 1 << 18
)

// substituteFace picks a Go font for a non-embedded or unreadable font.
func substituteFace(name string, flags int64) *truetype.Font {
	lower := strings.ToLower(name)
	has := func(words ...string) bool {
		for _, w := range words {
			if strings.Contains(lower, w) {
				return true
			}
		}
		return false
	}
	mono := flags&flagFixedPitch != 0 || has("courier", "mono", "consol", "typewriter")
	bold := flags&flagForceBold != 0 || has("bold", "black", "heavy", "semibold", "demi")
	italic := flags&flagItalic != 0 || has("italic", "oblique")
	switch {
	case mono && bold:
		return monoBoldFace()
	case mono:
		return monoFace()
	case bold && italic:
		return boldItalicFace()
	case bold:
		return boldFace()
	case italic:
		return italicFace()
	}
	return regularFace()
}

// LoadFont returns the font for a /Font resource entry. Fonts referenced
// indirectly are cached per document. It never returns nil.
func (d *Document) LoadFont(obj Object) *Font {
	ref, isRef := obj.(Reference)
	if isRef {
		d.mu.Lock()
		f, ok := d.fonts[ref.ObjectNumber]
		d.mu.Unlock()
		if ok {
			return f
		}
	}
	dict, _ := d.ResolveDict(obj)
	f := d.newFont(dict)
	if isRef {
		d.mu.Lock()
		d.fonts[ref.ObjectNumber] = f
		d.mu.Unlock()
	}
	return f
}

func (d *Document) newFont(dict Dictionary) *Font {
	f := &Font{
		doc:          d,
		defaultWidth: 1000,
		enc:          standardEncoding,
		fontMatrix:   Matrix{0.001, 0, 0, 0.001, 0, 0},
		outlines:     make(map[truetype.Index]Path),
	}
	if dict == nil {
		f.face, f.substitute = regularFace(), true
		return f
	}
	f.Subtype, _ = d.Resolve(dict.Get("Subtype")).(Name)
	if bf, ok := d.Resolve(dict.Get("BaseFont")).(Name); ok {
		f.Name = string(bf)
	}
	if tu, ok := d.Resolve(dict.Get("ToUnicode")).(Stream); ok {
		if data, err := tu.Decode(); err == nil {
			f.toUnicode = ParseCMap(data)
		}
	}
	if f.Subtype == "Type0" {
		f.composite = true
		f.loadComposite(dict)
	} else {
		f.loadSimple(dict)
	}
	return f
}

func (f *Font) loadSimple(dict Dictionary) {
	d := f.doc
	if fc, ok := Num(d.Resolve(dict.Get("FirstChar"))); ok {
		f.firstChar = int(fc)
	}
	if arr, ok := d.Resolve(dict.Get("Widths")).(Array); ok {
		f.hasWidths = true
		f.widths = make([]float64, len(arr))
		for i, item := range arr {
			f.widths[i], _ = Num(d.Resolve(item))
		}
	}
	desc, _ := d.ResolveDict(dict.Get("FontDescriptor"))
	var flags int64
	if desc != nil {
		flags, _ = desc.GetInt("Flags")
		f.missingWidth, _ = Num(d.Resolve(desc.Get("MissingWidth")))
	}
	f.symbolic = flags&flagSymbolic != 0

	if f.Subtype == "Type3" {
		if arr, ok := d.Resolve(dict.Get("FontMatrix")).(Array); ok {
			if m, ok := matrixFrom(arr); ok {
				f.fontMatrix = m
			}
		}
		f.charProcs, _ = d.ResolveDict(dict.Get("CharProcs"))
		f.resources, _ = d.ResolveDict(dict.Get("Resources"))
	} else {
		f.loadFace(desc, flags)
	}
	f.loadEncoding(dict)
}

func (f *Font) loadEncoding(dict Dictionary) {
	d := f.doc
	enc := d.Resolve(dict.Get("Encoding"))
	if _, isNull := enc.(Null); isNull && f.Subtype == "TrueType" && !f.symbolic {
		f.Encoding = "WinAnsiEncoding"
		f.enc = baseEncoding(f.Encoding)
		return
	}
	switch v := enc.(type) {
	case Name:
		f.Encoding = v
		f.enc = baseEncoding(v)
	case Dictionary:
		if base, ok := d.Resolve(v.Get("BaseEncoding")).(Name); ok {
			f.Encoding = base
			f.enc = baseEncoding(base)
		} else {
			f.Encoding = "Custom"
		}
		diffs, _ := d.Resolve(v.Get("Differences")).(Array)
		code := 0
		for _, item := range diffs {
			switch x := d.Resolve(item).(type) {
			case Integer:
				code = int(x)
			case Real:
				code = int(x)
			case Name:
				if code >= 0 && code < 256 {
					if f.diffNames == nil {
						f.diffNames = make(map[int]string)
					}
					f.diffNames[code] = string(x)
					if r, ok := glyphRune(string(x)); ok {
						f.enc[code] = r
					}
				}
				code++
			}
		}
	}
}

func (f *Font) loadComposite(dict Dictionary) {
	d := f.doc
	switch enc := d.Resolve(dict.Get("Encoding")).(type) {
	case Name:
		f.Encoding = enc
	case Stream:
		if name, ok := enc.Dictionary.GetName("CMapName"); ok {
			f.Encoding = name
		}
		if data, err := enc.Decode(); err == nil {
			f.codes = ParseCMap(data)
		}
	}

	var cid Dictionary
	if desc, ok := d.Resolve(dict.Get("DescendantFonts")).(Array); ok && len(desc) > 0 {
		cid, _ = d.ResolveDict(desc[0])
	}
	if cid == nil {
		f.face, f.substitute = substituteFace(f.Name, 0), true
		return
	}
	if dw, ok := Num(d.Resolve(cid.Get("DW"))); ok {
		f.defaultWidth = dw
	}
	if w, ok := d.Resolve(cid.Get("W")).(Array); ok {
		f.cidWidths = parseCIDWidths(d, w)
	}
	if m, ok := d.Resolve(cid.Get("CIDToGIDMap")).(Stream); ok {
		if data, err := m.Decode(); err == nil {
			f.cidToGID = make([]uint16, len(data)/2)
			for i := range f.cidToGID {
				f.cidToGID[i] = binary.BigEndian.Uint16(data[2*i:])
			}
		}
	}
	desc, _ := d.ResolveDict(cid.Get("FontDescriptor"))
	var flags int64
	if desc != nil {
		flags, _ = desc.GetInt("Flags")
	}
	f.loadFace(desc, flags)
}

// parseCIDWidths reads a /W array: either "c [w1 w2 ...]" or
// "cfirst clast w" groups.
func parseCIDWidths(d *Document, w Array) map[uint32]float64 {
	out := make(map[uint32]float64)
	for i := 0; i < len(w); {
		first, ok := Num(d.Resolve(w[i]))
		if !ok || i+1 >= len(w) {
			break
		}
		switch next := d.Resolve(w[i+1]).(type) {
		case Array:
			for k, item := range next {
				if v, ok := Num(d.Resolve(item)); ok {
					out[uint32(first)+uint32(k)] = v
				}
			}
			i += 2
		default:
			last, ok1 := Num(next)
			if i+2 >= len(w) || !ok1 {
				return out
			}
			v, _ := Num(d.Resolve(w[i+2]))
			for c := uint32(first); c <= uint32(last) && c-uint32(first) < 0x10000; c++ {
				out[c] = v
			}
			i += 3
		}
	}
	return out
}

func (f *Font) loadFace(desc Dictionary, flags int64) {
	d := f.doc
	if desc != nil {
		for _, key := range []string{"FontFile2", "FontFile3"} {
			s, ok := d.Resolve(desc.Get(key)).(Stream)
			if !ok {
				continue
			}
			f.Embedded = true
			if sub, _ := s.Dictionary.GetName("Subtype"); key == "FontFile3" && sub != "OpenType" {
				continue
			}
			data, err := s.Decode()
			if err != nil {
				continue
			}
			if face, stub, err := parseTrueType(data); err == nil {
				f.face, f.stubCmap = face, stub
				return
			}
		}
		if desc.Get("FontFile") != nil {
			f.Embedded = true
		}
	}
	f.face, f.substitute = substituteFace(f.Name, flags), true
}

// parseTrueType parses an embedded font program. Subset fonts often ship
// without a usable cmap table, which the parser insists on, so a second
// attempt swaps in an empty one.
func parseTrueType(data []byte) (*truetype.Font, bool, error) {
	face, err := truetype.Parse(data)
	if err == nil {
		return face, false, nil
	}
	patched, perr := withStubCmap(data)
	if perr != nil {
		return nil, false, err
	}
	face, perr = truetype.Parse(patched)
	if perr != nil {
		return nil, false, err
	}
	return face, true, nil
}

var stubCmap = []byte{
	0, 0, 0, 1, // version, one subtable
	0, 3, 0, 1, 0, 0, 0, 12, // windows unicode at offset 12
	0, 4, 0, 24, 0, 0, // format 4, length, language
	0, 2, 0, 2, 0, 0, 0, 0, // one segment
	0xFF, 0xFF, 0, 0, 0xFF, 0xFF, // end, pad, start
	0, 1, 0, 0, // delta, range offset
}

func withStubCmap(data []byte) ([]byte, error) {
	if len(data) < 12 {
		return nil, errors.New("truncated font")
	}
	n := int(binary.BigEndian.Uint16(data[4:]))
	if len(data) < 12+16*n {
		return nil, errors.New("truncated table directory")
	}
	type table struct {
		tag  string
		body []byte
	}
	tables := []table{{"cmap", stubCmap}}
	for i := 0; i < n; i++ {
		rec := data[12+16*i:]
		tag := string(rec[:4])
		off := uint64(binary.BigEndian.Uint32(rec[8:]))
		length := uint64(binary.BigEndian.Uint32(rec[12:]))
		if tag == "cmap" {
			continue
		}
		if off+length > uint64(len(data)) {
			return nil, fmt.Errorf("table %q out of range", tag)
		}
		tables = append(tables, table{tag, data[off : off+length]})
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i].tag < tables[j].tag })

	var out bytes.Buffer
	header := make([]byte, 12)
	copy(header, data[:4])
	binary.BigEndian.PutUint16(header[4:], uint16(len(tables)))
	out.Write(header)
	dir := make([]byte, 16*len(tables))
	offset := 12 + len(dir)
	for i, t := range tables {
		copy(dir[16*i:], t.tag)
		binary.BigEndian.PutUint32(dir[16*i+8:], uint32(offset))
		binary.BigEndian.PutUint32(dir[16*i+12:], uint32(len(t.body)))
		offset += (len(t.body) + 3) &^ 3
	}
	out.Write(dir)
	for _, t := range tables {
		out.Write(t.body)
		out.Write(make([]byte, (4-len(t.body)%4)%4))
	}
	return out.Bytes(), nil
}

// IsType3 reports whether glyphs are drawn by content stream procedures.
func (f *Font) IsType3() bool { return f.Subtype == "Type3" }

// Decode splits a string operand into glyphs.
func (f *Font) Decode(s []byte) []Glyph {
	var codes []Code
	if f.composite {
		codes = f.codes.Split(s, 2)
	} else {
		codes = make([]Code, len(s))
		for i, b := range s {
			codes[i] = Code{Value: uint32(b), Len: 1}
		}
	}
	out := make([]Glyph, len(codes))
	for i, c := range codes {
		g := Glyph{Code: c, Text: f.text(c.Value)}
		g.index, g.hasIndex = f.glyphIndex(c.Value, g.Text)
		g.Width = f.width(c.Value, g)
		out[i] = g
	}
	return out
}

func (f *Font) text(code uint32) string {
	if s, ok := f.toUnicode.Lookup(code); ok {
		return s
	}
	if f.composite || code > 255 {
		return ""
	}
	if r := f.enc[code]; r != 0 {
		return string(r)
	}
	return ""
}

func (f *Font) width(code uint32, g Glyph) float64 {
	if f.composite {
		cid := f.codes.CID(code)
		if w, ok := f.cidWidths[cid]; ok {
			return w / 1000
		}
		return f.defaultWidth / 1000
	}
	if f.IsType3() {
		if i := int(code) - f.firstChar; i >= 0 && i < len(f.widths) {
			return f.widths[i] * f.fontMatrix[0]
		}
		return 0
	}
	if i := int(code) - f.firstChar; i >= 0 && i < len(f.widths) {
		return f.widths[i] / 1000
	}
	if f.hasWidths {
		return f.missingWidth / 1000
	}
	if g.hasIndex {
		hm := f.face.HMetric(fixed.I(1000), g.index)
		return float64(hm.AdvanceWidth) / 64 / 1000
	}
	return 0.5
}

func (f *Font) glyphIndex(code uint32, text string) (truetype.Index, bool) {
	if f.face == nil {
		return 0, false
	}
	if f.substitute {
		for _, r := range text {
			if idx := f.face.Index(r); idx != 0 {
				return idx, true
			}
			break
		}
		return 0, false
	}
	if f.composite {
		gid := f.codes.CID(code)
		if f.cidToGID != nil {
			if int(gid) >= len(f.cidToGID) {
				return 0, false
			}
			gid = uint32(f.cidToGID[gid])
		}
		return truetype.Index(gid), gid != 0
	}
	if f.stubCmap {
		return truetype.Index(code), code != 0
	}
	candidates := make([]rune, 0, 4)
	if name, ok := f.diffNames[int(code)]; ok {
		if r, ok := glyphRune(name); ok {
			candidates = append(candidates, r)
		}
	}
	if !f.symbolic && code < 256 && f.enc[code] != 0 {
		candidates = append(candidates, f.enc[code])
	}
	candidates = append(candidates, rune(0xF000+code), rune(code))
	for _, r := range candidates {
		if idx := f.face.Index(r); idx != 0 {
			return idx, true
		}
	}
	return 0, false
}

// Outline returns the glyph outline in text space for a unit font size.
// It is nil for blank glyphs and Type3 fonts.
func (f *Font) Outline(g Glyph) Path {
	if !g.hasIndex || f.face == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.outlines[g.index]; ok {
		return p
	}
	var buf truetype.GlyphBuf
	var p Path
	if err := buf.Load(f.face, fixed.I(1000), g.index, font.HintingNone); err == nil {
		start := 0
		for _, end := range buf.Ends {
			if end > len(buf.Points) || end <= start {
				break
			}
			p = appendContour(p, buf.Points[start:end])
			start = end
		}
	}
	f.outlines[g.index] = p
	return p
}

// appendContour converts one quadratic TrueType contour. Consecutive
// off-curve points imply an on-curve midpoint.
func appendContour(p Path, pts []truetype.Point) Path {
	n := len(pts)
	if n == 0 {
		return p
	}
	at := func(tp truetype.Point) Point {
		return Point{float64(tp.X) / 64 / 1000, float64(tp.Y) / 64 / 1000}
	}
	on := func(tp truetype.Point) bool { return tp.Flags&1 != 0 }
	mid := func(a, b Point) Point { return Point{(a.X + b.X) / 2, (a.Y + b.Y) / 2} }

	startIdx := -1
	for i, tp := range pts {
		if on(tp) {
			startIdx = i
			break
		}
	}
	var start Point
	if startIdx >= 0 {
		start = at(pts[startIdx])
	} else {
		start = mid(at(pts[n-1]), at(pts[0]))
	}
	p = append(p, PathOp{Verb: MoveTo, Pts: [3]Point{start}})

	var ctrl Point
	haveCtrl := false
	for k := 1; k <= n; k++ {
		var tp truetype.Point
		if startIdx >= 0 {
			tp = pts[(startIdx+k)%n]
		} else {
			tp = pts[k-1]
		}
		pt := at(tp)
		if on(tp) {
			if haveCtrl {
				p = append(p, PathOp{Verb: QuadTo, Pts: [3]Point{ctrl, pt}})
			} else {
				p = append(p, PathOp{Verb: LineTo, Pts: [3]Point{pt}})
			}
			haveCtrl = false
			continue
		}
		if haveCtrl {
			p = append(p, PathOp{Verb: QuadTo, Pts: [3]Point{ctrl, mid(ctrl, pt)}})
		}
		ctrl, haveCtrl = pt, true
	}
	if haveCtrl {
		p = append(p, PathOp{Verb: QuadTo, Pts: [3]Point{ctrl, start}})
	}
	return append(p, PathOp{Verb: ClosePath})
}

// charProc returns the Type3 glyph procedure for a code.
func (f *Font) charProc(code uint32) (Stream, bool) {
	name, ok := f.diffNames[int(code)]
	if !ok || f.charProcs == nil {
		return Stream{}, false
	}
	s, ok := f.doc.Resolve(f.charProcs.Get(name)).(Stream)
	return s, ok
}

// FontInfo describes a font resource for listings.
type FontInfo struct {
	Name      string
	Type      string
	Encoding  string
	Embedded  bool
	Subset    bool
	Unicode   bool
	ObjectNum int
}

// Fonts lists the distinct fonts used by pages first..last (1-based).
func (d *Document) Fonts(first, last int) []FontInfo {
	seen := make(map[string]bool)
	var out []FontInfo
	for n := max(first, 1); n <= min(last, d.NumPages()); n++ {
		page := d.Pages[n-1]
		fonts, ok := d.ResolveDict(page.Resources.Get("Font"))
		if !ok {
			continue
		}
		names := make([]string, 0, len(fonts))
		for k := range fonts {
			names = append(names, string(k))
		}
		sort.Strings(names)
		for _, k := range names {
			ref := fonts.Get(k)
			f := d.LoadFont(ref)
			info := FontInfo{
				Name:     f.Name,
				Type:     string(f.Subtype),
				Encoding: string(f.Encoding),
				Embedded: f.Embedded,
				Unicode:  f.toUnicode != nil,
			}
			if r, ok := ref.(Reference); ok {
				info.ObjectNum = r.ObjectNumber
			}
			if i := strings.IndexByte(f.Name, '+'); i == 6 {
				info.Subset = true
			}
			key := fmt.Sprintf("%s/%s/%d", info.Name, info.Type, info.ObjectNum)
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, info)
		}
	}
	return out
}
