package pdf

import "math"

const (
	annotHidden = 1 << 1
	annotNoView = 1 << 5
)

// Link is a link annotation. Rect is in top-left page space points, the
// same space Page.Matrix maps into.
type Link struct {
	Rect Rectangle
	// Page is the 0-based destination page, or -1 for external links.
	Page int
	URI  string
}

func (p *Page) annotations() []Dictionary {
	arr, ok := p.doc.Resolve(p.Dictionary.Get("Annots")).(Array)
	if !ok {
		return nil
	}
	out := make([]Dictionary, 0, len(arr))
	for _, item := range arr {
		if dict, ok := p.doc.ResolveDict(item); ok {
			out = append(out, dict)
		}
	}
	return out
}

// Links returns the page's link annotations that have a resolvable
// target.
func (p *Page) Links() []Link {
	d := p.doc
	var links []Link
	for _, annot := range p.annotations() {
		if sub, _ := annot.GetName("Subtype"); sub != "Link" {
			continue
		}
		rect, ok := d.rectangle(annot.Get("Rect"))
		if !ok {
			continue
		}
		link := Link{Rect: p.toPageSpace(rect), Page: -1}
		if action, ok := d.ResolveDict(annot.Get("A")); ok {
			switch s, _ := action.GetName("S"); s {
			case "URI":
				if uri, ok := d.Resolve(action.Get("URI")).(String); ok {
					link.URI = string(uri.Value)
				}
			case "GoTo":
				if page, ok := d.resolveDest(action.Get("D"), 0); ok {
					link.Page = page
				}
			}
		} else if dest := annot.Get("Dest"); dest != nil {
			if page, ok := d.resolveDest(dest, 0); ok {
				link.Page = page
			}
		}
		if link.Page < 0 && link.URI == "" {
			continue
		}
		links = append(links, link)
	}
	return links
}

func (p *Page) toPageSpace(r Rectangle) Rectangle {
	m := p.Matrix()
	x0, y0 := m.Apply(r.LLX, r.LLY)
	x1, y1 := m.Apply(r.URX, r.URY)
	return Rectangle{
		LLX: math.Min(x0, x1), LLY: math.Min(y0, y1),
		URX: math.Max(x0, x1), URY: math.Max(y0, y1),
	}
}

// resolveDest maps a destination (explicit array, name, string, or a
// dictionary with /D) to a 0-based page index.
func (d *Document) resolveDest(obj Object, depth int) (int, bool) {
	if depth > 8 {
		return 0, false
	}
	switch v := d.Resolve(obj).(type) {
	case Array:
		if len(v) == 0 {
			return 0, false
		}
		switch target := v[0].(type) {
		case Reference:
			idx, ok := d.pageRefs[target.ObjectNumber]
			return idx, ok
		case Integer:
			// remote-style destinations carry a page number
			if int(target) >= 0 && int(target) < len(d.Pages) {
				return int(target), true
			}
		}
	case Dictionary:
		return d.resolveDest(v.Get("D"), depth+1)
	case Name:
		return d.resolveDest(d.namedDest(string(v)), depth+1)
	case String:
		return d.resolveDest(d.namedDest(string(v.Value)), depth+1)
	}
	return 0, false
}

func (d *Document) namedDest(name string) Object {
	if dests, ok := d.ResolveDict(d.Root.Get("Dests")); ok {
		if obj := dests.Get(name); obj != nil {
			return obj
		}
	}
	if names, ok := d.ResolveDict(d.Root.Get("Names")); ok {
		if tree, ok := d.ResolveDict(names.Get("Dests")); ok {
			return d.nameTreeLookup(tree, name, 0)
		}
	}
	return nil
}

func (d *Document) nameTreeLookup(node Dictionary, key string, depth int) Object {
	if depth > 32 {
		return nil
	}
	if names, ok := d.Resolve(node.Get("Names")).(Array); ok {
		for i := 0; i+1 < len(names); i += 2 {
			if s, ok := d.Resolve(names[i]).(String); ok && string(s.Value) == key {
				return names[i+1]
			}
		}
	}
	kids, _ := d.Resolve(node.Get("Kids")).(Array)
	for _, kid := range kids {
		kd, ok := d.ResolveDict(kid)
		if !ok {
			continue
		}
		if limits, ok := d.Resolve(kd.Get("Limits")).(Array); ok && len(limits) == 2 {
			lo, _ := d.Resolve(limits[0]).(String)
			hi, _ := d.Resolve(limits[1]).(String)
			if key < string(lo.Value) || key > string(hi.Value) {
				continue
			}
		}
		if obj := d.nameTreeLookup(kd, key, depth+1); obj != nil {
			return obj
		}
	}
	return nil
}

type appearance struct {
	stream Stream
	matrix Matrix
}

// appearances collects the normal appearance streams of visible
// annotations, with the matrix that maps their BBox onto /Rect.
func (p *Page) appearances() []appearance {
	d := p.doc
	var out []appearance
	for _, annot := range p.annotations() {
		switch sub, _ := annot.GetName("Subtype"); sub {
		case "Link", "Popup":
			continue
		}
		if flags, _ := annot.GetInt("F"); flags&(annotHidden|annotNoView) != 0 {
			continue
		}
		ap, ok := d.ResolveDict(annot.Get("AP"))
		if !ok {
			continue
		}
		var form Stream
		switch n := d.Resolve(ap.Get("N")).(type) {
		case Stream:
			form = n
		case Dictionary:
			state, _ := annot.GetName("AS")
			s, ok := d.Resolve(n.Get(string(state))).(Stream)
			if !ok {
				continue
			}
			form = s
		default:
			continue
		}
		rect, ok := d.rectangle(annot.Get("Rect"))
		if !ok {
			continue
		}
		bbox, ok := d.rectangle(form.Dictionary.Get("BBox"))
		if !ok {
			continue
		}
		fm := Identity
		if arr, ok := d.Resolve(form.Dictionary.Get("Matrix")).(Array); ok {
			if m, ok := matrixFrom(arr); ok {
				fm = m
			}
		}
		// transformed bbox corners give the box to fit onto /Rect
		minX, minY := math.Inf(1), math.Inf(1)
		maxX, maxY := math.Inf(-1), math.Inf(-1)
		for _, c := range [4]Point{{bbox.LLX, bbox.LLY}, {bbox.URX, bbox.LLY}, {bbox.URX, bbox.URY}, {bbox.LLX, bbox.URY}} {
			x, y := fm.Apply(c.X, c.Y)
			minX, maxX = math.Min(minX, x), math.Max(maxX, x)
			minY, maxY = math.Min(minY, y), math.Max(maxY, y)
		}
		if maxX-minX <= 0 || maxY-minY <= 0 {
			continue
		}
		sx := rect.Width() / (maxX - minX)
		sy := rect.Height() / (maxY - minY)
		fit := Matrix{sx, 0, 0, sy, rect.LLX - minX*sx, rect.LLY - minY*sy}
		out = append(out, appearance{stream: form, matrix: fm.Multiply(fit)})
	}
	return out
}
