package pdf

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"sync"
)

var (
	// ErrNotPDF is returned when no PDF header or trailer can be found.
	ErrNotPDF = errors.New("not a PDF file")
	// ErrEncrypted is returned for security handlers we cannot open.
	ErrEncrypted = errors.New("unsupported encryption")
)

type xrefEntry struct {
	offset     int64
	generation int
	compressed bool
	// streamNum/index locate compressed objects
	streamNum int
	index     int
}

// Document is an opened PDF file. It is safe for concurrent use.
type Document struct {
	data    []byte
	Version string
	Trailer Dictionary
	Root    Dictionary
	Info    Dictionary
	Pages   []*Page

	mu       sync.Mutex
	xref     map[int]xrefEntry
	objects  map[int]Object
	fonts    map[int]*Font
	pageRefs map[int]int
	security *SecurityHandler
	encRef   Reference
}

// Page is one leaf of the page tree with its inherited attributes resolved.
type Page struct {
	doc        *Document
	Dictionary Dictionary
	Number     int
	MediaBox   Rectangle
	CropBox    Rectangle
	Rotate     int
	Resources  Dictionary
}

// Rectangle is a PDF rectangle in default user space.
type Rectangle struct {
	LLX, LLY, URX, URY float64
}

func (r Rectangle) Width() float64  { return r.URX - r.LLX }
func (r Rectangle) Height() float64 { return r.URY - r.LLY }

// Open reads and parses a PDF file.
func Open(filename string) (*Document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filename, err)
	}
	return NewDocument(data)
}

// NewDocument parses a PDF held in memory.
func NewDocument(data []byte) (*Document, error) {
	doc := &Document{
		data:     data,
		xref:     make(map[int]xrefEntry),
		objects:  make(map[int]Object),
		fonts:    make(map[int]*Font),
		pageRefs: make(map[int]int),
	}
	if err := doc.parse(); err != nil {
		return nil, err
	}
	return doc, nil
}

var headerRe = regexp.MustCompile(`%PDF-(\d\.\d)`)

func (d *Document) parse() error {
	head := d.data
	if len(head) > 1024 {
		head = head[:1024]
	}
	m := headerRe.FindSubmatch(head)
	if m == nil {
		return ErrNotPDF
	}
	d.Version = string(m[1])

	if err := d.loadXRef(); err != nil || d.Trailer.Get("Root") == nil {
		if rerr := d.reconstruct(); rerr != nil {
			if err != nil {
				return fmt.Errorf("%w (reconstruction: %v)", err, rerr)
			}
			return rerr
		}
	}

	if enc := d.Trailer.Get("Encrypt"); enc != nil {
		if ref, ok := enc.(Reference); ok {
			d.encRef = ref
		}
		sh, err := newSecurityHandler(d, d.Resolve(enc))
		if err != nil {
			return err
		}
		d.security = sh
	}

	root, ok := d.Resolve(d.Trailer.Get("Root")).(Dictionary)
	if !ok {
		return errors.New("missing document catalog")
	}
	d.Root = root
	if info, ok := d.Resolve(d.Trailer.Get("Info")).(Dictionary); ok {
		d.Info = info
	}
	return d.parsePages()
}

func (d *Document) findStartXRef() (int64, error) {
	tail := d.data
	if len(tail) > 2048 {
		tail = tail[len(tail)-2048:]
	}
	idx := bytes.LastIndex(tail, []byte("startxref"))
	if idx < 0 {
		return 0, errors.New("startxref not found")
	}
	l := NewLexerFromBytes(tail[idx+len("startxref"):])
	tok, err := l.NextToken()
	if err != nil || tok.Type != TokenInteger {
		return 0, errors.New("invalid startxref offset")
	}
	return tok.Value.(int64), nil
}

func (d *Document) loadXRef() error {
	offset, err := d.findStartXRef()
	if err != nil {
		return err
	}
	seen := make(map[int64]bool)
	first := true
	for offset >= 0 && !seen[offset] {
		seen[offset] = true
		if offset >= int64(len(d.data)) {
			return fmt.Errorf("xref offset %d out of range", offset)
		}
		trailer, err := d.parseXRefAt(offset)
		if err != nil {
			return err
		}
		if first {
			d.Trailer = trailer
			first = false
		}
		// hybrid files keep extra entries in an xref stream
		if stm, ok := trailer.GetInt("XRefStm"); ok && !seen[stm] {
			seen[stm] = true
			if _, err := d.parseXRefAt(stm); err != nil {
				return err
			}
		}
		prev, ok := trailer.GetInt("Prev")
		if !ok {
			break
		}
		offset = prev
	}
	return nil
}

// parseXRefAt reads either a classic table or an xref stream. Entries
// already present win, since sections are visited newest first.
func (d *Document) parseXRefAt(offset int64) (Dictionary, error) {
	p := NewParserFromBytes(d.data)
	p.SeekTo(offset)
	tok, err := p.peekTokenN(0)
	if err != nil {
		return nil, err
	}
	if tok.Type == TokenXRef {
		p.nextToken()
		return d.parseXRefTable(p)
	}
	return d.parseXRefStream(p)
}

func (d *Document) parseXRefTable(p *Parser) (Dictionary, error) {
	for {
		tok, err := p.nextToken()
		if err != nil {
			return nil, err
		}
		if tok.Type == TokenTrailer {
			obj, err := p.ParseObject()
			if err != nil {
				return nil, fmt.Errorf("trailer: %w", err)
			}
			trailer, ok := obj.(Dictionary)
			if !ok {
				return nil, errors.New("trailer is not a dictionary")
			}
			return trailer, nil
		}
		if tok.Type != TokenInteger {
			return nil, fmt.Errorf("malformed xref subsection at offset %d", tok.Pos)
		}
		countTok, err := p.nextToken()
		if err != nil || countTok.Type != TokenInteger {
			return nil, fmt.Errorf("malformed xref subsection at offset %d", tok.Pos)
		}
		start := int(tok.Value.(int64))
		count := int(countTok.Value.(int64))
		for i := 0; i < count; i++ {
			offTok, err1 := p.nextToken()
			genTok, err2 := p.nextToken()
			kindTok, err3 := p.nextToken()
			if err := errors.Join(err1, err2, err3); err != nil {
				return nil, err
			}
			if offTok.Type != TokenInteger || genTok.Type != TokenInteger || kindTok.Type != TokenKeyword {
				return nil, fmt.Errorf("malformed xref entry at offset %d", offTok.Pos)
			}
			num := start + i
			if _, exists := d.xref[num]; exists {
				continue
			}
			if kindTok.keyword() == "n" {
				d.xref[num] = xrefEntry{offset: offTok.Value.(int64), generation: int(genTok.Value.(int64))}
			} else {
				d.xref[num] = xrefEntry{offset: -1}
			}
		}
	}
}

func (d *Document) parseXRefStream(p *Parser) (Dictionary, error) {
	_, _, obj, err := p.ParseIndirectObject()
	if err != nil {
		return nil, fmt.Errorf("xref stream: %w", err)
	}
	stream, ok := obj.(Stream)
	if !ok {
		return nil, errors.New("xref offset does not point at an xref stream")
	}
	data, err := stream.Decode()
	if err != nil {
		return nil, fmt.Errorf("xref stream: %w", err)
	}
	w, _ := stream.Dictionary.GetArray("W")
	widths, ok := w.Floats()
	if !ok || len(widths) != 3 {
		return nil, errors.New("xref stream: invalid /W")
	}
	w0, w1, w2 := int(widths[0]), int(widths[1]), int(widths[2])
	rowLen := w0 + w1 + w2
	if rowLen == 0 {
		return nil, errors.New("xref stream: empty rows")
	}

	size, _ := stream.Dictionary.GetInt("Size")
	index := []int{0, int(size)}
	if arr, ok := stream.Dictionary.GetArray("Index"); ok {
		vals, _ := arr.Floats()
		index = index[:0]
		for _, v := range vals {
			index = append(index, int(v))
		}
	}

	row := 0
	for i := 0; i+1 < len(index); i += 2 {
		for j := 0; j < index[i+1]; j++ {
			base := row * rowLen
			row++
			if base+rowLen > len(data) {
				break
			}
			kind := 1
			if w0 > 0 {
				kind = readField(data, base, w0)
			}
			f2 := readField(data, base+w0, w1)
			f3 := readField(data, base+w0+w1, w2)
			num := index[i] + j
			if _, exists := d.xref[num]; exists {
				continue
			}
			switch kind {
			case 0:
				d.xref[num] = xrefEntry{offset: -1}
			case 1:
				d.xref[num] = xrefEntry{offset: int64(f2), generation: f3}
			case 2:
				d.xref[num] = xrefEntry{compressed: true, streamNum: f2, index: f3}
			}
		}
	}
	return stream.Dictionary, nil
}

func readField(data []byte, offset, width int) int {
	v := 0
	for i := 0; i < width; i++ {
		v = v<<8 | int(data[offset+i])
	}
	return v
}

var objHeaderRe = regexp.MustCompile(`(?m)(\d+)\s+(\d+)\s+obj\b`)

// reconstruct rebuilds the xref by scanning for object headers, used when
// the cross reference data is missing or damaged.
func (d *Document) reconstruct() error {
	d.xref = make(map[int]xrefEntry)
	d.objects = make(map[int]Object)
	for _, m := range objHeaderRe.FindAllSubmatchIndex(d.data, -1) {
		num, _ := strconv.Atoi(string(d.data[m[2]:m[3]]))
		gen, _ := strconv.Atoi(string(d.data[m[4]:m[5]]))
		// later definitions override earlier ones
		d.xref[num] = xrefEntry{offset: int64(m[0]), generation: gen}
	}
	if len(d.xref) == 0 {
		return ErrNotPDF
	}

	trailer := Dictionary{}
	if idx := bytes.LastIndex(d.data, []byte("trailer")); idx >= 0 {
		p := NewParserFromBytes(d.data)
		p.SeekTo(int64(idx + len("trailer")))
		if obj, err := p.ParseObject(); err == nil {
			if t, ok := obj.(Dictionary); ok {
				trailer = t
			}
		}
	}
	if trailer.Get("Root") == nil {
		for num := range d.xref {
			if dict, ok := d.GetObject(num).(Dictionary); ok {
				if t, _ := dict.GetName("Type"); t == "Catalog" {
					trailer["Root"] = Reference{ObjectNumber: num}
					break
				}
			}
		}
	}
	if trailer.Get("Root") == nil {
		return errors.New("no document catalog found")
	}
	d.Trailer = trailer
	return nil
}

// Resolve follows references until a direct object is reached. Missing
// objects resolve to Null.
func (d *Document) Resolve(obj Object) Object {
	for i := 0; i < 32; i++ {
		ref, ok := obj.(Reference)
		if !ok {
			if obj == nil {
				return Null{}
			}
			return obj
		}
		obj = d.GetObject(ref.ObjectNumber)
	}
	return Null{}
}

// ResolveDict resolves obj and returns it when it is a dictionary (or the
// dictionary of a stream).
func (d *Document) ResolveDict(obj Object) (Dictionary, bool) {
	switch v := d.Resolve(obj).(type) {
	case Dictionary:
		return v, true
	case Stream:
		return v.Dictionary, true
	}
	return nil, false
}

// GetObject loads an object by number, caching the result.
func (d *Document) GetObject(num int) Object {
	d.mu.Lock()
	if obj, ok := d.objects[num]; ok {
		d.mu.Unlock()
		return obj
	}
	entry, ok := d.xref[num]
	d.mu.Unlock()
	if !ok || (!entry.compressed && entry.offset < 0) {
		return Null{}
	}

	var obj Object
	var err error
	if entry.compressed {
		obj, err = d.compressedObject(entry.streamNum, entry.index)
	} else {
		obj, err = d.objectAt(num, entry)
	}
	if err != nil || obj == nil {
		obj = Null{}
	}

	d.mu.Lock()
	d.objects[num] = obj
	d.mu.Unlock()
	return obj
}

func (d *Document) objectAt(num int, entry xrefEntry) (Object, error) {
	if entry.offset >= int64(len(d.data)) {
		return nil, fmt.Errorf("object %d offset out of range", num)
	}
	p := NewParserFromBytes(d.data)
	p.length = d.resolveLength
	p.SeekTo(entry.offset)
	gotNum, gen, obj, err := p.ParseIndirectObject()
	if err != nil {
		return nil, err
	}
	if gotNum != num {
		return nil, fmt.Errorf("xref for object %d points at object %d", num, gotNum)
	}
	if d.security != nil && d.encRef.ObjectNumber != num {
		obj = d.security.decryptObject(obj, num, gen)
	}
	return obj, nil
}

func (d *Document) resolveLength(ref Reference) (int64, bool) {
	v, ok := d.Resolve(ref).(Integer)
	return int64(v), ok
}

func (d *Document) compressedObject(streamNum, index int) (Object, error) {
	stream, ok := d.GetObject(streamNum).(Stream)
	if !ok {
		return nil, fmt.Errorf("object stream %d missing", streamNum)
	}
	data, err := stream.Decode()
	if err != nil {
		return nil, fmt.Errorf("object stream %d: %w", streamNum, err)
	}
	n, _ := stream.Dictionary.GetInt("N")
	first, _ := stream.Dictionary.GetInt("First")
	if index < 0 || int64(index) >= n {
		return nil, fmt.Errorf("object stream %d has no index %d", streamNum, index)
	}

	p := NewParserFromBytes(data)
	var offset int64 = -1
	for i := 0; i <= index; i++ {
		if _, err := p.ParseObject(); err != nil {
			return nil, err
		}
		off, err := p.ParseObject()
		if err != nil {
			return nil, err
		}
		if i == index {
			v, _ := Num(off)
			offset = first + int64(v)
		}
	}
	p.SeekTo(offset)
	return p.ParseObject()
}

// NumPages returns the page count.
func (d *Document) NumPages() int { return len(d.Pages) }

// GetPage returns a page by 1-based number.
func (d *Document) GetPage(num int) (*Page, error) {
	if num < 1 || num > len(d.Pages) {
		return nil, fmt.Errorf("page %d out of range (1-%d)", num, len(d.Pages))
	}
	return d.Pages[num-1], nil
}

// Title returns the /Info /Title entry, if any.
func (d *Document) Title() string {
	if d.Info == nil {
		return ""
	}
	if s, ok := d.Resolve(d.Info.Get("Title")).(String); ok {
		return s.Text()
	}
	return ""
}

// Close drops the file data and object caches. Pages already handed out
// resolve to null objects afterwards.
func (d *Document) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.data = nil
	d.xref = make(map[int]xrefEntry)
	d.objects = make(map[int]Object)
	d.fonts = make(map[int]*Font)
	return nil
}

type inherited struct {
	resources Dictionary
	mediaBox  Object
	cropBox   Object
	rotate    Object
}

func (d *Document) parsePages() error {
	root, ok := d.ResolveDict(d.Root.Get("Pages"))
	if !ok {
		return errors.New("missing page tree")
	}
	return d.walkPages(root, inherited{}, 0, -1)
}

func (d *Document) walkPages(node Dictionary, inh inherited, depth, num int) error {
	if depth > 64 {
		return errors.New("page tree too deep")
	}
	if res, ok := d.ResolveDict(node.Get("Resources")); ok {
		inh.resources = res
	}
	if v := node.Get("MediaBox"); v != nil {
		inh.mediaBox = v
	}
	if v := node.Get("CropBox"); v != nil {
		inh.cropBox = v
	}
	if v := node.Get("Rotate"); v != nil {
		inh.rotate = v
	}

	typ, _ := node.GetName("Type")
	kids, hasKids := d.Resolve(node.Get("Kids")).(Array)
	if typ == "Page" || (!hasKids && typ != "Pages") {
		if num >= 0 {
			d.pageRefs[num] = len(d.Pages)
		}
		d.addPage(node, inh)
		return nil
	}
	for _, kid := range kids {
		kidDict, ok := d.ResolveDict(kid)
		if !ok {
			continue
		}
		kidNum := -1
		if ref, ok := kid.(Reference); ok {
			kidNum = ref.ObjectNumber
		}
		if err := d.walkPages(kidDict, inh, depth+1, kidNum); err != nil {
			return err
		}
	}
	return nil
}

func (d *Document) addPage(node Dictionary, inh inherited) {
	page := &Page{
		doc:        d,
		Dictionary: node,
		Number:     len(d.Pages) + 1,
		Resources:  inh.resources,
		MediaBox:   Rectangle{0, 0, 612, 792},
	}
	if page.Resources == nil {
		page.Resources = Dictionary{}
	}
	if r, ok := d.rectangle(inh.mediaBox); ok {
		page.MediaBox = r
	}
	page.CropBox = page.MediaBox
	if r, ok := d.rectangle(inh.cropBox); ok {
		page.CropBox = intersect(r, page.MediaBox)
	}
	if v, ok := Num(d.Resolve(inh.rotate)); ok {
		page.Rotate = ((int(v)%360)+360)%360
	}
	d.Pages = append(d.Pages, page)
}

func (d *Document) rectangle(obj Object) (Rectangle, bool) {
	arr, ok := d.Resolve(obj).(Array)
	if !ok || len(arr) != 4 {
		return Rectangle{}, false
	}
	v := make([]float64, 4)
	for i, item := range arr {
		f, ok := Num(d.Resolve(item))
		if !ok {
			return Rectangle{}, false
		}
		v[i] = f
	}
	r := Rectangle{LLX: min(v[0], v[2]), LLY: min(v[1], v[3]), URX: max(v[0], v[2]), URY: max(v[1], v[3])}
	if r.Width() <= 0 || r.Height() <= 0 {
		return Rectangle{}, false
	}
	return r, true
}

func intersect(a, b Rectangle) Rectangle {
	r := Rectangle{
		LLX: max(a.LLX, b.LLX), LLY: max(a.LLY, b.LLY),
		URX: min(a.URX, b.URX), URY: min(a.URY, b.URY),
	}
	if r.Width() <= 0 || r.Height() <= 0 {
		return b
	}
	return r
}

// Document returns the owning document.
func (p *Page) Document() *Document { return p.doc }

// GetContents returns the concatenated, decoded content streams.
func (p *Page) GetContents() ([]byte, error) {
	var streams []Stream
	switch v := p.doc.Resolve(p.Dictionary.Get("Contents")).(type) {
	case Stream:
		streams = append(streams, v)
	case Array:
		for _, item := range v {
			if s, ok := p.doc.Resolve(item).(Stream); ok {
				streams = append(streams, s)
			}
		}
	case Null:
		return nil, nil
	default:
		return nil, fmt.Errorf("page %d: invalid /Contents", p.Number)
	}
	var buf bytes.Buffer
	for _, s := range streams {
		data, err := s.Decode()
		if err != nil {
			return nil, fmt.Errorf("page %d contents: %w", p.Number, err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}
	return buf.Bytes(), nil
}

// Width is the visible width in points, honoring /Rotate.
func (p *Page) Width() float64 {
	if p.Rotate == 90 || p.Rotate == 270 {
		return p.CropBox.Height()
	}
	return p.CropBox.Width()
}

// Height is the visible height in points, honoring /Rotate.
func (p *Page) Height() float64 {
	if p.Rotate == 90 || p.Rotate == 270 {
		return p.CropBox.Width()
	}
	return p.CropBox.Height()
}

// Matrix maps default user space to an unrotated top-left origin page
// space in points (y grows downward).
func (p *Page) Matrix() Matrix {
	cb := p.CropBox
	switch p.Rotate {
	case 90:
		return Matrix{0, 1, 1, 0, -cb.LLY, -cb.LLX}
	case 180:
		return Matrix{-1, 0, 0, 1, cb.URX, -cb.LLY}
	case 270:
		return Matrix{0, -1, -1, 0, cb.URY, cb.URX}
	}
	return Matrix{1, 0, 0, -1, -cb.LLX, cb.URY}
}
