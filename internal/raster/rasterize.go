// Package raster renders document pages to RGBA bitmaps and inverts them.
//
// The renderer covers what page content needs to look right after a color
// inversion: paths, device and indexed colors, constant alpha, clipping,
// image and form XObjects, and text drawn with a bundled outline font
// positioned by the PDF's own glyph widths.
package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/Lllllllleong/sheetflow/internal/document"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

const (
	// PrintScale renders at twice the page's point size.
	PrintScale = 2.0
	// ThumbnailScale is used for page previews.
	ThumbnailScale = 0.3
)

// MaxPixels caps the bitmap one Rasterize call may allocate, about 400 MB
// of RGBA.
const MaxPixels = 100_000_000

// ErrRender marks content that could not be decoded or is not supported.
var ErrRender = errors.New("page could not be rendered")

// Rasterize renders page onto a white bitmap of round(w*scale) by
// round(h*scale) pixels. The result depends only on page and scale.
// Bitmaps larger than MaxPixels fail with ErrRender.
func Rasterize(page *document.Page, scale float64) (*image.RGBA, error) {
	if page == nil {
		return nil, errors.New("rasterize: nil page")
	}
	if !(scale > 0) || math.IsInf(scale, 0) {
		return nil, fmt.Errorf("rasterize: invalid scale %v", scale)
	}

	wf := max(1, math.Round(page.Width()*scale))
	hf := max(1, math.Round(page.Height()*scale))
	if wf*hf > MaxPixels {
		return nil, fmt.Errorf("%w: %.0fx%.0f bitmap exceeds %d pixels", ErrRender, wf, hf, MaxPixels)
	}

	ctx, err := document.ReadContext(page.Data())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	pageDict, _, inh, err := ctx.PageDict(1, false)
	if err != nil || pageDict == nil {
		return nil, fmt.Errorf("%w: page dictionary unavailable: %v", ErrRender, err)
	}

	c := newCanvas(int(wf), int(hf))

	llx, ury := 0.0, page.Height()
	if inh != nil && inh.MediaBox != nil {
		llx, ury = inh.MediaBox.LL.X, inh.MediaBox.UR.Y
	}
	base := Matrix{scale, 0, 0, -scale, -llx * scale, ury * scale}
	r := newRenderer(ctx, c, base)

	var content []byte
	if _, found := pageDict.Find("Contents"); found {
		if content, err = ctx.PageContent(pageDict, 1); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRender, err)
		}
	}

	res := r.res.dict(pageDict["Resources"])
	if res == nil && inh != nil {
		res = inh.Resources
	}
	if res == nil {
		res = types.Dict{}
	}
	if err := r.execute(content, res); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return c.img, nil
}

// Thumbnail renders page at scale and encodes the bitmap as PNG, with its
// colors inverted when invert is set.
func Thumbnail(page *document.Page, scale float64, invert bool) ([]byte, error) {
	img, err := Rasterize(page, scale)
	if err != nil {
		return nil, err
	}
	if invert {
		InvertInPlace(img)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
