package document

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/filter"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// ImageEncoding selects how a bitmap is compressed when embedded in a page.
type ImageEncoding int

const (
	EncodingFlate ImageEncoding = iota
	EncodingJPEG
)

func (e ImageEncoding) String() string {
	if e == EncodingJPEG {
		return "jpeg"
	}
	return "flate"
}

// ParseImageEncoding accepts "flate" or "jpeg" (case-insensitive).
func ParseImageEncoding(s string) (ImageEncoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "flate":
		return EncodingFlate, nil
	case "jpeg", "jpg":
		return EncodingJPEG, nil
	}
	return EncodingFlate, fmt.Errorf("unknown image encoding %q", s)
}

// EncodedImage is image data that is already in a PDF stream encoding.
type EncodedImage struct {
	Width           int
	Height          int
	Filter          string // stream filter name without the slash, e.g. "DCTDecode"
	ColorComponents int    // 1 gray, 3 RGB, 4 CMYK
	Data            []byte
	SoftMask        []byte // optional Flate-encoded 8-bit alpha plane
}

func (ei EncodedImage) colorSpace() (string, error) {
	switch ei.ColorComponents {
	case 1:
		return model.DeviceGrayCS, nil
	case 3:
		return model.DeviceRGBCS, nil
	case 4:
		return model.DeviceCMYKCS, nil
	}
	return "", fmt.Errorf("unsupported color component count %d", ei.ColorComponents)
}

// standardResources names one base-14 font so plain content pages can show text.
func standardResources() types.Dict {
	return types.Dict{
		"Font": types.Dict{
			"F1": types.Dict{
				"Type":     types.Name("Font"),
				"Subtype":  types.Name("Type1"),
				"BaseFont": types.Name("Helvetica"),
				"Encoding": types.Name("WinAnsiEncoding"),
			},
		},
	}
}

// NewContentPage builds a page from a raw content stream. The resources
// define /F1 as Helvetica with WinAnsiEncoding.
func NewContentPage(size Size, content []byte) (*Page, error) {
	if size.Degenerate() {
		return nil, fmt.Errorf("invalid page size %vx%v", size.Width, size.Height)
	}
	data, err := writeSinglePage(size, content, func(*model.Context) (types.Dict, error) {
		return standardResources(), nil
	})
	if err != nil {
		return nil, err
	}
	return newPage(size, KindVector, data), nil
}

// NewBlankPage builds a fully white page.
func NewBlankPage(size Size) (*Page, error) {
	if size.Degenerate() {
		return nil, fmt.Errorf("invalid page size %vx%v", size.Width, size.Height)
	}
	content := fmt.Sprintf("1 g 0 0 %s %s re f\n", num(size.Width), num(size.Height))
	data, err := writeSinglePage(size, []byte(content), func(*model.Context) (types.Dict, error) {
		return types.NewDict(), nil
	})
	if err != nil {
		return nil, err
	}
	return newPage(size, KindBlank, data), nil
}

// NewImagePage embeds img as the only content of a page of the given size,
// stretched to cover the whole page.
func NewImagePage(size Size, img *image.RGBA, enc ImageEncoding, quality int) (*Page, error) {
	b := img.Bounds()
	if enc == EncodingJPEG {
		if quality <= 0 || quality > 100 {
			quality = jpeg.DefaultQuality
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			return nil, fmt.Errorf("failed to encode JPEG: %w", err)
		}
		return NewEncodedImagePage(size, EncodedImage{
			Width:           b.Dx(),
			Height:          b.Dy(),
			Filter:          filter.DCT,
			ColorComponents: 3,
			Data:            buf.Bytes(),
		})
	}

	rgb := make([]byte, 0, b.Dx()*b.Dy()*3)
	alpha := make([]byte, 0, b.Dx()*b.Dy())
	opaque := true
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row := img.Pix[img.PixOffset(b.Min.X, y):img.PixOffset(b.Max.X, y)]
		for i := 0; i < len(row); i += 4 {
			rgb = append(rgb, row[i], row[i+1], row[i+2])
			alpha = append(alpha, row[i+3])
			if row[i+3] != 0xff {
				opaque = false
			}
		}
	}
	if opaque {
		alpha = nil
	}
	return imagePage(size, b.Dx(), b.Dy(), func(ctx *model.Context) (*types.StreamDict, error) {
		return model.CreateFlateImageStreamDict(ctx.XRefTable, rgb, alpha, b.Dx(), b.Dy(), 8, model.DeviceRGBCS)
	})
}

// NewEncodedImagePage embeds pre-encoded image data without re-encoding it.
func NewEncodedImagePage(size Size, ei EncodedImage) (*Page, error) {
	cs, err := ei.colorSpace()
	if err != nil {
		return nil, err
	}
	return imagePage(size, ei.Width, ei.Height, func(ctx *model.Context) (*types.StreamDict, error) {
		d := imageDict(ei.Width, ei.Height, cs)
		if cs == model.DeviceCMYKCS && ei.Filter == filter.DCT {
			d.Insert("Decode", types.NewIntegerArray(1, 0, 1, 0, 1, 0, 1, 0))
		}
		if len(ei.SoftMask) > 0 {
			sm, err := encodedStream(imageDict(ei.Width, ei.Height, model.DeviceGrayCS), ei.SoftMask, filter.Flate)
			if err != nil {
				return nil, err
			}
			ref, err := ctx.IndRefForNewObject(*sm)
			if err != nil {
				return nil, fmt.Errorf("failed to register soft mask: %w", err)
			}
			d.Insert("SMask", *ref)
		}
		return encodedStream(d, ei.Data, ei.Filter)
	})
}

func imageDict(w, h int, cs string) types.Dict {
	return types.Dict{
		"Type":             types.Name("XObject"),
		"Subtype":          types.Name("Image"),
		"Width":            types.Integer(w),
		"Height":           types.Integer(h),
		"BitsPerComponent": types.Integer(8),
		"ColorSpace":       types.Name(cs),
	}
}

// encodedStream wraps data that is already encoded with the named filter.
// An empty name stores data as is.
func encodedStream(d types.Dict, data []byte, name string) (*types.StreamDict, error) {
	sd := &types.StreamDict{Dict: d, Content: data}
	if name != "" {
		sd.InsertName("Filter", name)
	}
	// Without a filter pipeline Encode only copies Content to Raw and sets Length.
	if err := sd.Encode(); err != nil {
		return nil, fmt.Errorf("failed to store image stream: %w", err)
	}
	sd.Content = nil
	if name != "" {
		sd.FilterPipeline = []types.PDFFilter{{Name: name}}
	}
	return sd, nil
}

// imagePage places the XObject returned by build as /Im0, stretched over the page.
func imagePage(size Size, w, h int, build func(*model.Context) (*types.StreamDict, error)) (*Page, error) {
	if size.Degenerate() {
		return nil, fmt.Errorf("invalid page size %vx%v", size.Width, size.Height)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid image size %dx%d", w, h)
	}
	content := fmt.Sprintf("q %s 0 0 %s 0 0 cm /Im0 Do Q\n", num(size.Width), num(size.Height))
	data, err := writeSinglePage(size, []byte(content), func(ctx *model.Context) (types.Dict, error) {
		sd, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to build %dx%d image: %w", w, h, err)
		}
		ref, err := ctx.IndRefForNewObject(*sd)
		if err != nil {
			return nil, fmt.Errorf("failed to register image: %w", err)
		}
		return types.Dict{"XObject": types.Dict{"Im0": *ref}}, nil
	})
	if err != nil {
		return nil, err
	}
	return newPage(size, KindRaster, data), nil
}

// writeSinglePage creates a one-page PDF whose page carries content and
// the resources returned by resources.
func writeSinglePage(size Size, content []byte, resources func(*model.Context) (types.Dict, error)) ([]byte, error) {
	ctx, err := pdfcpu.CreateContextWithXRefTable(Configuration(), &types.Dim{Width: size.Width, Height: size.Height})
	if err != nil {
		return nil, fmt.Errorf("failed to create PDF context: %w", err)
	}
	pagesRef, err := ctx.Pages()
	if err != nil {
		return nil, err
	}
	pagesDict, err := ctx.DereferenceDict(*pagesRef)
	if err != nil {
		return nil, err
	}

	res, err := resources(ctx)
	if err != nil {
		return nil, err
	}
	pageDict := types.Dict{
		"Type":      types.Name("Page"),
		"Parent":    *pagesRef,
		"MediaBox":  types.RectForWidthAndHeight(0, 0, size.Width, size.Height).Array(),
		"Resources": res,
	}
	if err := setContent(ctx, pageDict, content); err != nil {
		return nil, err
	}
	pageRef, err := ctx.IndRefForNewObject(pageDict)
	if err != nil {
		return nil, fmt.Errorf("failed to register page: %w", err)
	}
	if err := model.AppendPageTree(pageRef, 1, pagesDict); err != nil {
		return nil, err
	}
	ctx.PageCount++

	return writeContext(ctx)
}

// num formats a coordinate without exponent notation or trailing zeros.
func num(v float64) string {
	s := strconv.FormatFloat(v, 'f', 4, 64)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
