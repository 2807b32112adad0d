package raster

import (
	"fmt"
	"image/color"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

type colorFamily int

const (
	familyGray colorFamily = iota
	familyRGB
	familyCMYK
	familyIndexed
	familySeparation
	familyPattern
)

type colorSpace struct {
	family colorFamily
	n      int
	base   *colorSpace
	hival  int
	lookup []byte
}

var (
	deviceGray = &colorSpace{family: familyGray, n: 1}
	deviceRGB  = &colorSpace{family: familyRGB, n: 3}
	deviceCMYK = &colorSpace{family: familyCMYK, n: 4}
	patternCS  = &colorSpace{family: familyPattern}
)

func deviceSpaceFor(n int) *colorSpace {
	switch n {
	case 1:
		return deviceGray
	case 4:
		return deviceCMYK
	}
	return deviceRGB
}

// resolveColorSpace interprets a color space name or array. Named spaces
// that are not device spaces are looked up in the resource dictionary.
func (r resolver) resolveColorSpace(o types.Object, res types.Dict) (*colorSpace, error) {
	return r.resolveColorSpaceDepth(o, res, 0)
}

func (r resolver) resolveColorSpaceDepth(o types.Object, res types.Dict, depth int) (*colorSpace, error) {
	if depth > 4 {
		return nil, fmt.Errorf("color space nesting too deep")
	}
	o = r.deref(o)
	if n, ok := o.(types.Name); ok {
		switch string(n) {
		case "DeviceGray", "G", "CalGray":
			return deviceGray, nil
		case "DeviceRGB", "RGB", "CalRGB":
			return deviceRGB, nil
		case "DeviceCMYK", "CMYK":
			return deviceCMYK, nil
		case "Pattern":
			return patternCS, nil
		}
		if named := r.lookup(res, "ColorSpace", string(n)); named != nil {
			return r.resolveColorSpaceDepth(named, res, depth+1)
		}
		return nil, fmt.Errorf("unknown color space %q", string(n))
	}

	arr, ok := o.(types.Array)
	if !ok || len(arr) == 0 {
		return nil, fmt.Errorf("invalid color space object")
	}
	family, _ := r.name(arr[0])
	switch family {
	case "DeviceGray", "CalGray", "G":
		return deviceGray, nil
	case "DeviceRGB", "CalRGB", "RGB", "Lab":
		return deviceRGB, nil
	case "DeviceCMYK", "CMYK":
		return deviceCMYK, nil
	case "ICCBased":
		if len(arr) < 2 {
			return nil, fmt.Errorf("ICCBased color space without stream")
		}
		d := r.dict(arr[1])
		if alt, found := d.Find("Alternate"); found {
			return r.resolveColorSpaceDepth(alt, res, depth+1)
		}
		n, _ := r.number(d["N"])
		return deviceSpaceFor(int(n)), nil
	case "Indexed", "I":
		if len(arr) < 4 {
			return nil, fmt.Errorf("indexed color space needs 4 entries")
		}
		base, err := r.resolveColorSpaceDepth(arr[1], res, depth+1)
		if err != nil {
			return nil, err
		}
		hival, _ := r.number(arr[2])
		return &colorSpace{family: familyIndexed, n: 1, base: base, hival: int(hival), lookup: r.bytesOf(arr[3])}, nil
	case "Separation":
		return &colorSpace{family: familySeparation, n: 1}, nil
	case "DeviceN":
		names := 1
		if len(arr) > 1 {
			if a := r.array(arr[1]); len(a) > 0 {
				names = len(a)
			}
		}
		return &colorSpace{family: familySeparation, n: names}, nil
	case "Pattern":
		return patternCS, nil
	}
	return nil, fmt.Errorf("unsupported color space %q", family)
}

// rgb converts component values in [0,1] (or an index for Indexed spaces).
func (cs *colorSpace) rgb(v []float64) (uint8, uint8, uint8) {
	switch cs.family {
	case familyGray:
		g := channel(at(v, 0))
		return g, g, g
	case familyRGB:
		return channel(at(v, 0)), channel(at(v, 1)), channel(at(v, 2))
	case familyCMYK:
		c, m, y, k := at(v, 0), at(v, 1), at(v, 2), at(v, 3)
		return channel((1 - c) * (1 - k)), channel((1 - m) * (1 - k)), channel((1 - y) * (1 - k))
	case familyIndexed:
		idx := int(at(v, 0))
		if idx < 0 {
			idx = 0
		}
		if idx > cs.hival {
			idx = cs.hival
		}
		n := cs.base.n
		comps := make([]float64, n)
		for i := 0; i < n; i++ {
			if j := idx*n + i; j < len(cs.lookup) {
				comps[i] = float64(cs.lookup[j]) / 255
			}
		}
		return cs.base.rgb(comps)
	case familySeparation:
		// Tint 1 is full ink.
		var ink float64
		for _, t := range v {
			ink += t
		}
		if len(v) > 0 {
			ink /= float64(len(v))
		}
		g := channel(1 - ink)
		return g, g, g
	}
	return 0, 0, 0
}

func (cs *colorSpace) initial() []float64 {
	switch cs.family {
	case familyCMYK:
		return []float64{0, 0, 0, 1}
	case familySeparation:
		v := make([]float64, cs.n)
		for i := range v {
			v[i] = 1
		}
		return v
	}
	return make([]float64, cs.n)
}

func (cs *colorSpace) color(v []float64) color.NRGBA {
	r, g, b := cs.rgb(v)
	return color.NRGBA{R: r, G: g, B: b, A: 0xff}
}

func at(v []float64, i int) float64 {
	if i < len(v) {
		return v[i]
	}
	return 0
}

func channel(f float64) uint8 {
	if f <= 0 {
		return 0
	}
	if f >= 1 {
		return 255
	}
	return uint8(f*255 + 0.5)
}
