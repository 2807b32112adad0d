package raster

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// decodeImage turns an image XObject into a Go image. Stencil masks are
// returned painted in fill.
func (r resolver) decodeImage(sd types.StreamDict, res types.Dict, fill color.NRGBA) (image.Image, error) {
	w, _ := r.number(sd.Dict["Width"])
	h, _ := r.number(sd.Dict["Height"])
	width, height := int(w), int(h)
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("image has invalid size %dx%d", width, height)
	}

	var filters []string
	for _, f := range sd.FilterPipeline {
		filters = append(filters, f.Name)
	}
	for _, f := range filters {
		switch f {
		case "JPXDecode", "JBIG2Decode":
			return nil, fmt.Errorf("unsupported image filter %s", f)
		}
	}

	if len(filters) > 0 && filters[len(filters)-1] == "DCTDecode" {
		if len(filters) > 1 {
			return nil, fmt.Errorf("unsupported filter chain %v", filters)
		}
		img, err := jpeg.Decode(bytes.NewReader(sd.Raw))
		if err != nil {
			return nil, fmt.Errorf("corrupt JPEG image: %w", err)
		}
		return r.applySoftMask(img, sd)
	}

	data, err := decodeStream(sd)
	if err != nil {
		return nil, err
	}

	if r.boolean(sd.Dict["ImageMask"]) {
		return stencil(data, width, height, r.numbers(sd.Dict["Decode"]), fill)
	}

	bpcF, ok := r.number(sd.Dict["BitsPerComponent"])
	if !ok {
		bpcF = 8
	}
	bpc := int(bpcF)
	switch bpc {
	case 1, 2, 4, 8, 16:
	default:
		return nil, fmt.Errorf("unsupported bits per component %d", bpc)
	}

	cs := deviceGray
	if o, found := sd.Dict.Find("ColorSpace"); found {
		if cs, err = r.resolveColorSpace(o, res); err != nil {
			return nil, err
		}
	}
	if cs.family == familyPattern {
		return nil, fmt.Errorf("pattern color space on image")
	}

	img, err := samples(data, width, height, bpc, cs, r.numbers(sd.Dict["Decode"]))
	if err != nil {
		return nil, err
	}
	return r.applySoftMask(img, sd)
}

// samples unpacks raw component samples into an NRGBA image.
func samples(data []byte, width, height, bpc int, cs *colorSpace, decode []float64) (*image.NRGBA, error) {
	n := cs.n
	stride := (width*n*bpc + 7) / 8
	if len(data) < stride*height {
		return nil, fmt.Errorf("image data truncated: have %d bytes, need %d", len(data), stride*height)
	}

	maxVal := float64(int(1)<<bpc - 1)
	if bpc == 16 {
		maxVal = 255
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	comps := make([]float64, n)
	for y := 0; y < height; y++ {
		row := data[y*stride : (y+1)*stride]
		for x := 0; x < width; x++ {
			for i := 0; i < n; i++ {
				s := float64(sample(row, x*n+i, bpc))
				if cs.family == familyIndexed {
					comps[i] = s
					continue
				}
				v := s / maxVal
				if len(decode) >= 2*(i+1) {
					v = decode[2*i] + v*(decode[2*i+1]-decode[2*i])
				}
				comps[i] = v
			}
			r, g, b := cs.rgb(comps)
			off := img.PixOffset(x, y)
			img.Pix[off] = r
			img.Pix[off+1] = g
			img.Pix[off+2] = b
			img.Pix[off+3] = 0xff
		}
	}
	return img, nil
}

// sample returns the i-th sample of a packed row. 16-bit samples are
// reduced to their high byte.
func sample(row []byte, i, bpc int) int {
	switch bpc {
	case 8:
		return int(row[i])
	case 16:
		return int(row[2*i])
	}
	bit := i * bpc
	b := row[bit/8]
	shift := 8 - bpc - bit%8
	return int(b>>shift) & (1<<bpc - 1)
}

// stencil builds a 1-bit image mask painted in the fill color. Sample 0
// paints unless Decode is [1 0].
func stencil(data []byte, width, height int, decode []float64, fill color.NRGBA) (*image.NRGBA, error) {
	stride := (width + 7) / 8
	if len(data) < stride*height {
		return nil, fmt.Errorf("image mask truncated")
	}
	paint := 0
	if len(decode) >= 2 && decode[0] == 1 {
		paint = 1
	}
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		row := data[y*stride : (y+1)*stride]
		for x := 0; x < width; x++ {
			if sample(row, x, 1) == paint {
				img.SetNRGBA(x, y, fill)
			}
		}
	}
	return img, nil
}

// applySoftMask replaces the alpha channel with the image's /SMask, if any.
func (r resolver) applySoftMask(img image.Image, sd types.StreamDict) (image.Image, error) {
	maskObj, found := sd.Dict.Find("SMask")
	if !found {
		return img, nil
	}
	msd, ok := r.stream(maskObj)
	if !ok {
		return img, nil
	}
	mw, _ := r.number(msd.Dict["Width"])
	mh, _ := r.number(msd.Dict["Height"])
	if mw < 1 || mh < 1 {
		return img, nil
	}
	data, err := decodeStream(msd)
	if err != nil {
		return nil, fmt.Errorf("soft mask: %w", err)
	}
	mask, err := samples(data, int(mw), int(mh), 8, deviceGray, nil)
	if err != nil {
		return nil, fmt.Errorf("soft mask: %w", err)
	}

	b := img.Bounds()
	out := image.NewNRGBA(b)
	mb := mask.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		my := (y - b.Min.Y) * mb.Dy() / b.Dy()
		for x := b.Min.X; x < b.Max.X; x++ {
			mx := (x - b.Min.X) * mb.Dx() / b.Dx()
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			c.A = mask.Pix[mask.PixOffset(mx, my)]
			out.SetNRGBA(x, y, c)
		}
	}
	return out, nil
}
