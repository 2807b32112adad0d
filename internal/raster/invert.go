package raster

import "image"

// Invert returns a new bitmap with every R, G and B channel replaced by
// 255-v. Alpha is copied unchanged.
func Invert(b *image.RGBA) *image.RGBA {
	out := &image.RGBA{
		Pix:    make([]uint8, len(b.Pix)),
		Stride: b.Stride,
		Rect:   b.Rect,
	}
	copy(out.Pix, b.Pix)
	InvertInPlace(out)
	return out
}

// InvertInPlace inverts the color channels of b without allocating.
func InvertInPlace(b *image.RGBA) {
	w := b.Rect.Dx() * 4
	for y := 0; y < b.Rect.Dy(); y++ {
		row := b.Pix[y*b.Stride : y*b.Stride+w]
		for i := 0; i < len(row); i += 4 {
			row[i] = 255 - row[i]
			row[i+1] = 255 - row[i+1]
			row[i+2] = 255 - row[i+2]
		}
	}
}
