package raster

import (
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"seehuhn.de/go/pdf"
)

// resolver dereferences pdfcpu objects of one parsed page.
type resolver struct {
	ctx *model.Context
}

func (r resolver) deref(o types.Object) types.Object {
	if o == nil {
		return nil
	}
	v, err := r.ctx.Dereference(o)
	if err != nil {
		return nil
	}
	return v
}

func (r resolver) dict(o types.Object) types.Dict {
	switch v := r.deref(o).(type) {
	case types.Dict:
		return v
	case types.StreamDict:
		return v.Dict
	}
	return nil
}

func (r resolver) array(o types.Object) types.Array {
	a, _ := r.deref(o).(types.Array)
	return a
}

func (r resolver) number(o types.Object) (float64, bool) {
	switch v := r.deref(o).(type) {
	case types.Integer:
		return float64(v), true
	case types.Float:
		return float64(v), true
	}
	return 0, false
}

func (r resolver) name(o types.Object) (string, bool) {
	n, ok := r.deref(o).(types.Name)
	return string(n), ok
}

func (r resolver) boolean(o types.Object) bool {
	b, ok := r.deref(o).(types.Boolean)
	return ok && bool(b)
}

// numbers returns an array of numbers, or nil if any element is not numeric.
func (r resolver) numbers(o types.Object) []float64 {
	arr := r.array(o)
	if arr == nil {
		return nil
	}
	out := make([]float64, len(arr))
	for i, v := range arr {
		n, ok := r.number(v)
		if !ok {
			return nil
		}
		out[i] = n
	}
	return out
}

func (r resolver) stream(o types.Object) (types.StreamDict, bool) {
	sd, ok := r.deref(o).(types.StreamDict)
	return sd, ok
}

// streamData returns the fully decoded content of a stream object.
func (r resolver) streamData(o types.Object) ([]byte, error) {
	sd, ok := r.stream(o)
	if !ok {
		return nil, fmt.Errorf("object is not a stream")
	}
	return decodeStream(sd)
}

func decodeStream(sd types.StreamDict) ([]byte, error) {
	if len(sd.Content) == 0 && len(sd.Raw) > 0 {
		if err := sd.Decode(); err != nil {
			return nil, fmt.Errorf("failed to decode stream: %w", err)
		}
	}
	return sd.Content, nil
}

// bytesOf returns the bytes of a string or stream object.
func (r resolver) bytesOf(o types.Object) []byte {
	switch v := r.deref(o).(type) {
	case types.StringLiteral:
		b, _ := types.Unescape(string(v))
		return b
	case types.HexLiteral:
		b, _ := v.Bytes()
		return b
	case types.StreamDict:
		b, _ := decodeStream(v)
		return b
	}
	return nil
}

func (r resolver) lookup(d types.Dict, keys ...string) types.Object {
	var cur types.Object = d
	for _, k := range keys {
		cd := r.dict(cur)
		if cd == nil {
			return nil
		}
		v, found := cd.Find(k)
		if !found {
			return nil
		}
		cur = v
	}
	return cur
}

// operand helpers for content stream arguments.

func toNumber(v pdf.Object) (float64, bool) {
	switch n := v.(type) {
	case pdf.Integer:
		return float64(n), true
	case pdf.Real:
		return float64(n), true
	}
	return 0, false
}

func toNumbers(args []pdf.Object, n int) ([]float64, bool) {
	if len(args) < n {
		return nil, false
	}
	out := make([]float64, n)
	for i, a := range args[len(args)-n:] {
		f, ok := toNumber(a)
		if !ok {
			return nil, false
		}
		out[i] = f
	}
	return out, true
}
