// Package pdftest synthesizes small PDF files in memory for tests.
package pdftest

import (
	"bytes"
	"fmt"
	"strings"
)

// Builder accumulates numbered objects and writes them with a classic
// cross reference table.
type Builder struct {
	objects []string
}

// New returns an empty builder.
func New() *Builder { return &Builder{} }

// Reserve allocates an object number to be filled later with Set.
func (b *Builder) Reserve() int {
	b.objects = append(b.objects, "null")
	return len(b.objects)
}

// Add appends an object body and returns its number.
func (b *Builder) Add(body string) int {
	b.objects = append(b.objects, body)
	return len(b.objects)
}

// Set replaces the body of object num.
func (b *Builder) Set(num int, body string) {
	b.objects[num-1] = body
}

// AddStream appends a stream object. dict holds extra dictionary entries
// without the surrounding << >>; /Length is added.
func (b *Builder) AddStream(dict string, data []byte) int {
	return b.Add(stream(dict, data))
}

func stream(dict string, data []byte) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "<< %s /Length %d >>\nstream\n", dict, len(data))
	sb.Write(data)
	sb.WriteString("\nendstream")
	return sb.String()
}

// Bytes serializes the file. trailer holds extra trailer entries such as
// "/Root 1 0 R /Info 4 0 R".
func (b *Builder) Bytes(trailer string) []byte {
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n%\xE2\xE3\xCF\xD3\n")
	offsets := make([]int, len(b.objects))
	for i, body := range b.objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(b.objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d %s >>\nstartxref\n%d\n%%%%EOF\n", len(b.objects)+1, trailer, xref)
	return buf.Bytes()
}

// Page describes one page for Build.
type Page struct {
	// Width and Height default to US Letter.
	Width, Height float64
	Content       string
	// Resources replaces the default resource dictionary body, which
	// declares /F1 as Helvetica.
	Resources string
	// Extra is appended to the page dictionary, e.g. "/Rotate 90".
	Extra string
}

// Layout numbers the fixed objects Build emits.
const (
	CatalogObject = 1
	PagesObject   = 2
	FontObject    = 3
	InfoObject    = 4
	firstPage     = 5
)

// PageObject returns the object number of the 0-based page i in a file
// produced by Build.
func PageObject(i int) int { return firstPage + 2*i }

// Build writes a document with the given title and pages.
func Build(title string, pages ...Page) []byte {
	b := New()
	b.Add("<< /Type /Catalog /Pages 2 0 R >>")
	pagesNum := b.Reserve()
	b.Add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>")
	b.Add(fmt.Sprintf("<< /Title (%s) /Producer (pdftest) >>", title))

	kids := make([]string, len(pages))
	for i, p := range pages {
		w, h := p.Width, p.Height
		if w == 0 {
			w = 612
		}
		if h == 0 {
			h = 792
		}
		res := p.Resources
		if res == "" {
			res = "/Font << /F1 3 0 R >>"
		}
		pageNum := b.Reserve()
		contents := b.AddStream("", []byte(p.Content))
		b.Set(pageNum, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Resources << %s >> /Contents %d 0 R %s >>",
			w, h, res, contents, p.Extra))
		kids[i] = fmt.Sprintf("%d 0 R", pageNum)
	}
	b.Set(pagesNum, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))
	return b.Bytes("/Root 1 0 R /Info 4 0 R")
}

// WithOutline builds like Build and adds a flat outline whose entries
// point at the given 0-based pages.
func WithOutline(titles []string, targets []int, pages ...Page) []byte {
	b := New()
	b.Add("<< /Type /Catalog /Pages 2 0 R /Outlines 4 0 R >>")
	pagesNum := b.Reserve()
	b.Add("<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica >>")
	outlines := b.Reserve()

	kids := make([]string, len(pages))
	for i, p := range pages {
		pageNum := b.Reserve()
		contents := b.AddStream("", []byte(p.Content))
		b.Set(pageNum, fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", contents))
		kids[i] = fmt.Sprintf("%d 0 R", pageNum)
	}
	b.Set(pagesNum, fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), len(pages)))

	first := len(b.objects) + 1
	for i, t := range titles {
		entry := fmt.Sprintf("<< /Title (%s) /Parent %d 0 R /Dest [%s /Fit]", t, outlines, kids[targets[i]])
		if i > 0 {
			entry += fmt.Sprintf(" /Prev %d 0 R", first+i-1)
		}
		if i+1 < len(titles) {
			entry += fmt.Sprintf(" /Next %d 0 R", first+i+1)
		}
		b.Add(entry + " >>")
	}
	b.Set(outlines, fmt.Sprintf("<< /Type /Outlines /First %d 0 R /Last %d 0 R /Count %d >>", first, first+len(titles)-1, len(titles)))
	return b.Bytes("/Root 1 0 R")
}
