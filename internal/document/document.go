// Package document holds the immutable page model shared by every pipeline
// stage and the pdfcpu plumbing that reads, builds and writes those pages.
package document

import (
	"errors"
	"fmt"
)

// ErrMalformed is returned when input bytes cannot be parsed as a PDF document.
var ErrMalformed = errors.New("malformed PDF document")

// ErrNoPages is returned when a document would be built without any pages.
var ErrNoPages = errors.New("document has no pages")

// Kind records how a page's content was produced.
type Kind int

const (
	KindVector Kind = iota
	KindRaster
	KindSheet
	KindBlank
)

func (k Kind) String() string {
	switch k {
	case KindVector:
		return "vector"
	case KindRaster:
		return "raster"
	case KindSheet:
		return "sheet"
	case KindBlank:
		return "blank"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Size is a page size in PDF points.
type Size struct {
	Width  float64
	Height float64
}

// Landscape returns the size with width and height swapped.
func (s Size) Landscape() Size {
	return Size{Width: s.Height, Height: s.Width}
}

// Degenerate reports whether either side is zero or negative.
func (s Size) Degenerate() bool {
	return s.Width <= 0 || s.Height <= 0
}

// Page is one page of a Document. The payload is a self-contained
// single-page PDF whose MediaBox is [0 0 Width Height] with no rotation,
// so every consumer can treat page geometry uniformly.
type Page struct {
	size Size
	kind Kind
	data []byte
}

func newPage(size Size, kind Kind, data []byte) *Page {
	return &Page{size: size, kind: kind, data: data}
}

func (p *Page) Size() Size      { return p.size }
func (p *Page) Width() float64  { return p.size.Width }
func (p *Page) Height() float64 { return p.size.Height }
func (p *Page) Kind() Kind      { return p.kind }

// Data returns the single-page PDF payload. Callers must not modify it.
func (p *Page) Data() []byte { return p.data }

// Document is an ordered, immutable sequence of pages. Pages are never
// mutated after construction, so documents may share *Page values.
type Document struct {
	pages []*Page
}

// New builds a document from the given pages.
func New(pages ...*Page) (*Document, error) {
	if len(pages) == 0 {
		return nil, ErrNoPages
	}
	for i, p := range pages {
		if p == nil {
			return nil, fmt.Errorf("page %d is nil", i+1)
		}
	}
	out := make([]*Page, len(pages))
	copy(out, pages)
	return &Document{pages: out}, nil
}

func (d *Document) PageCount() int { return len(d.pages) }

// Page returns the page at 0-based index i.
func (d *Document) Page(i int) *Page { return d.pages[i] }

// Pages returns a copy of the page slice.
func (d *Document) Pages() []*Page {
	out := make([]*Page, len(d.pages))
	copy(out, d.pages)
	return out
}

func (d *Document) Sizes() []Size {
	sizes := make([]Size, len(d.pages))
	for i, p := range d.pages {
		sizes[i] = p.size
	}
	return sizes
}

// Clone returns a new Document value over the same immutable pages.
func (d *Document) Clone() *Document {
	return &Document{pages: d.Pages()}
}
