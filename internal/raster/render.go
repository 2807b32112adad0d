package raster

import (
	"fmt"
	"image"
	"image/color"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"golang.org/x/image/font"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
	"seehuhn.de/go/pdf"
)

const maxFormDepth = 16

type textState struct {
	font      *pdfFont
	size      float64
	charSpace float64
	wordSpace float64
	hScale    float64
	leading   float64
	rise      float64
	mode      int
}

type graphicsState struct {
	ctm         Matrix
	fillCS      *colorSpace
	strokeCS    *colorSpace
	fill        color.NRGBA
	stroke      color.NRGBA
	fillAlpha   float64
	strokeAlpha float64
	lineWidth   float64
	clip        *image.Alpha
	text        textState
}

// renderer interprets content streams of one page onto a canvas. It is
// not safe for concurrent use; every Rasterize call builds its own.
type renderer struct {
	res    resolver
	canvas *canvas

	gs    graphicsState
	stack []graphicsState

	path     path
	clipMode int
	tm, tlm  Matrix

	fonts map[types.Object]*pdfFont
	buf   sfnt.Buffer
	depth int
}

// Pending clipping set by W or W* and applied when the path ends.
const (
	clipNone = iota
	clipNonZero
	clipEvenOdd
)

func newRenderer(ctx *model.Context, c *canvas, base Matrix) *renderer {
	black := color.NRGBA{A: 0xff}
	return &renderer{
		res:    resolver{ctx: ctx},
		canvas: c,
		gs: graphicsState{
			ctm:         base,
			fillCS:      deviceGray,
			strokeCS:    deviceGray,
			fill:        black,
			stroke:      black,
			fillAlpha:   1,
			strokeAlpha: 1,
			lineWidth:   1,
			text:        textState{hScale: 1},
		},
		tm:    identity,
		tlm:   identity,
		fonts: map[types.Object]*pdfFont{},
	}
}

func (r *renderer) do(op string, args []pdf.Object, res types.Dict) error {
	switch op {
	case "q":
		r.stack = append(r.stack, r.gs)
	case "Q":
		if n := len(r.stack); n > 0 {
			r.gs = r.stack[n-1]
			r.stack = r.stack[:n-1]
		}
	case "cm":
		if v, ok := toNumbers(args, 6); ok {
			r.gs.ctm = Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}.Mul(r.gs.ctm)
		}
	case "w":
		if v, ok := toNumbers(args, 1); ok {
			r.gs.lineWidth = v[0]
		}
	case "gs":
		r.extGState(args, res)

	case "g", "G", "rg", "RG", "k", "K":
		r.deviceColor(op, args)
	case "cs", "CS":
		r.setColorSpace(op == "CS", args, res)
	case "sc", "scn", "SC", "SCN":
		r.setColor(op == "SC" || op == "SCN", args)

	case "m":
		if v, ok := toNumbers(args, 2); ok {
			r.path.moveTo(r.user(v[0], v[1]))
		}
	case "l":
		if v, ok := toNumbers(args, 2); ok {
			r.path.lineTo(r.user(v[0], v[1]))
		}
	case "c":
		if v, ok := toNumbers(args, 6); ok {
			r.path.curveTo(r.user(v[0], v[1]), r.user(v[2], v[3]), r.user(v[4], v[5]))
		}
	case "v":
		if v, ok := toNumbers(args, 4); ok && r.path.hasCur {
			r.path.curveTo(r.path.cur, r.user(v[0], v[1]), r.user(v[2], v[3]))
		}
	case "y":
		if v, ok := toNumbers(args, 4); ok {
			end := r.user(v[2], v[3])
			r.path.curveTo(r.user(v[0], v[1]), end, end)
		}
	case "h":
		r.path.close()
	case "re":
		if v, ok := toNumbers(args, 4); ok {
			x, y, w, h := v[0], v[1], v[2], v[3]
			r.path.moveTo(r.user(x, y))
			r.path.lineTo(r.user(x+w, y))
			r.path.lineTo(r.user(x+w, y+h))
			r.path.lineTo(r.user(x, y+h))
			r.path.close()
		}

	case "f", "F", "f*":
		r.fillPath(op == "f*")
		r.endPath()
	case "S":
		r.strokePath()
		r.endPath()
	case "s":
		r.path.close()
		r.strokePath()
		r.endPath()
	case "B", "B*":
		r.fillPath(op == "B*")
		r.strokePath()
		r.endPath()
	case "b", "b*":
		r.path.close()
		r.fillPath(op == "b*")
		r.strokePath()
		r.endPath()
	case "n":
		r.endPath()
	case "W":
		r.clipMode = clipNonZero
	case "W*":
		r.clipMode = clipEvenOdd

	case "BT":
		r.tm, r.tlm = identity, identity
	case "ET":
	case "Tf":
		if len(args) >= 2 {
			if n, ok := args[0].(pdf.Name); ok {
				r.gs.text.font = r.font(string(n), res)
			}
			if size, ok := toNumber(args[1]); ok {
				r.gs.text.size = size
			}
		}
	case "Tc":
		if v, ok := toNumbers(args, 1); ok {
			r.gs.text.charSpace = v[0]
		}
	case "Tw":
		if v, ok := toNumbers(args, 1); ok {
			r.gs.text.wordSpace = v[0]
		}
	case "Tz":
		if v, ok := toNumbers(args, 1); ok {
			r.gs.text.hScale = v[0] / 100
		}
	case "TL":
		if v, ok := toNumbers(args, 1); ok {
			r.gs.text.leading = v[0]
		}
	case "Ts":
		if v, ok := toNumbers(args, 1); ok {
			r.gs.text.rise = v[0]
		}
	case "Tr":
		if v, ok := toNumbers(args, 1); ok {
			r.gs.text.mode = int(v[0])
		}
	case "Td":
		if v, ok := toNumbers(args, 2); ok {
			r.moveText(v[0], v[1])
		}
	case "TD":
		if v, ok := toNumbers(args, 2); ok {
			r.gs.text.leading = -v[1]
			r.moveText(v[0], v[1])
		}
	case "Tm":
		if v, ok := toNumbers(args, 6); ok {
			r.tm = Matrix{v[0], v[1], v[2], v[3], v[4], v[5]}
			r.tlm = r.tm
		}
	case "T*":
		r.moveText(0, -r.gs.text.leading)
	case "Tj":
		if len(args) >= 1 {
			if s, ok := args[len(args)-1].(pdf.String); ok {
				r.showText(s)
			}
		}
	case "'":
		r.moveText(0, -r.gs.text.leading)
		if len(args) >= 1 {
			if s, ok := args[len(args)-1].(pdf.String); ok {
				r.showText(s)
			}
		}
	case "\"":
		if len(args) >= 3 {
			if v, ok := toNumbers(args[:2], 2); ok {
				r.gs.text.wordSpace, r.gs.text.charSpace = v[0], v[1]
			}
			r.moveText(0, -r.gs.text.leading)
			if s, ok := args[2].(pdf.String); ok {
				r.showText(s)
			}
		}
	case "TJ":
		if len(args) >= 1 {
			if arr, ok := args[len(args)-1].(pdf.Array); ok {
				r.showArray(arr)
			}
		}

	case "Do":
		if len(args) >= 1 {
			if n, ok := args[len(args)-1].(pdf.Name); ok {
				return r.xobject(string(n), res)
			}
		}
	}
	return nil
}

// user maps a user-space point to device space.
func (r *renderer) user(x, y float64) point {
	dx, dy := r.gs.ctm.Apply(x, y)
	return point{dx, dy}
}

func (r *renderer) endPath() {
	if r.clipMode != clipNone {
		r.gs.clip = r.canvas.clipMask(&r.path, r.clipMode == clipEvenOdd, r.gs.clip)
		r.clipMode = clipNone
	}
	r.path.reset()
}

func (r *renderer) fillPath(evenOdd bool) {
	if r.path.empty() || r.gs.fillCS == patternCS {
		return
	}
	r.canvas.fill(&r.path, evenOdd, withAlpha(r.gs.fill, r.gs.fillAlpha), r.gs.clip)
}

func (r *renderer) strokePath() {
	if r.path.empty() || r.gs.strokeCS == patternCS {
		return
	}
	hw := r.gs.lineWidth * r.gs.ctm.scale() / 2
	if hw < 0.5 {
		hw = 0.5
	}
	r.canvas.stroke(&r.path, hw, withAlpha(r.gs.stroke, r.gs.strokeAlpha), r.gs.clip)
}

func withAlpha(c color.NRGBA, a float64) color.NRGBA {
	c.A = channel(a)
	return c
}

func (r *renderer) deviceColor(op string, args []pdf.Object) {
	var cs *colorSpace
	switch op {
	case "g", "G":
		cs = deviceGray
	case "rg", "RG":
		cs = deviceRGB
	default:
		cs = deviceCMYK
	}
	v, ok := toNumbers(args, cs.n)
	if !ok {
		return
	}
	if op == "G" || op == "RG" || op == "K" {
		r.gs.strokeCS, r.gs.stroke = cs, cs.color(v)
	} else {
		r.gs.fillCS, r.gs.fill = cs, cs.color(v)
	}
}

func (r *renderer) setColorSpace(stroke bool, args []pdf.Object, res types.Dict) {
	if len(args) < 1 {
		return
	}
	n, ok := args[len(args)-1].(pdf.Name)
	if !ok {
		return
	}
	cs, err := r.res.resolveColorSpace(types.Name(string(n)), res)
	if err != nil {
		cs = deviceGray
	}
	var c color.NRGBA
	if cs != patternCS {
		c = cs.color(cs.initial())
	}
	if stroke {
		r.gs.strokeCS, r.gs.stroke = cs, c
	} else {
		r.gs.fillCS, r.gs.fill = cs, c
	}
}

func (r *renderer) setColor(stroke bool, args []pdf.Object) {
	cs := r.gs.fillCS
	if stroke {
		cs = r.gs.strokeCS
	}
	if cs == patternCS {
		return
	}
	var v []float64
	for _, a := range args {
		if f, ok := toNumber(a); ok {
			v = append(v, f)
		}
	}
	if len(v) == 0 {
		return
	}
	if len(v) != cs.n && cs.family != familyIndexed && cs.family != familySeparation {
		cs = deviceSpaceFor(len(v))
	}
	if stroke {
		r.gs.stroke = cs.color(v)
	} else {
		r.gs.fill = cs.color(v)
	}
}

func (r *renderer) extGState(args []pdf.Object, res types.Dict) {
	if len(args) < 1 {
		return
	}
	n, ok := args[len(args)-1].(pdf.Name)
	if !ok {
		return
	}
	d := r.res.dict(r.res.lookup(res, "ExtGState", string(n)))
	if d == nil {
		return
	}
	if v, ok := r.res.number(d["ca"]); ok {
		r.gs.fillAlpha = v
	}
	if v, ok := r.res.number(d["CA"]); ok {
		r.gs.strokeAlpha = v
	}
	if v, ok := r.res.number(d["LW"]); ok {
		r.gs.lineWidth = v
	}
}

func (r *renderer) font(n string, res types.Dict) *pdfFont {
	o := r.res.lookup(res, "Font", n)
	if o == nil {
		return r.res.loadFont(nil)
	}
	if ref, ok := o.(types.IndirectRef); ok {
		if f, ok := r.fonts[ref]; ok {
			return f
		}
		f := r.res.loadFont(ref)
		r.fonts[ref] = f
		return f
	}
	return r.res.loadFont(o)
}

func (r *renderer) xobject(n string, res types.Dict) error {
	o := r.res.lookup(res, "XObject", n)
	sd, ok := r.res.stream(o)
	if !ok {
		return nil
	}
	subtype, _ := r.res.name(sd.Dict["Subtype"])
	switch subtype {
	case "Image":
		img, err := r.res.decodeImage(sd, res, r.gs.fill)
		if err != nil {
			return fmt.Errorf("image XObject /%s: %w", n, err)
		}
		r.canvas.drawImage(img, r.gs.ctm, r.gs.fillAlpha, r.gs.clip)
	case "Form":
		return r.form(n, sd, res)
	}
	return nil
}

func (r *renderer) form(n string, sd types.StreamDict, parentRes types.Dict) error {
	if r.depth >= maxFormDepth {
		return nil
	}
	content, err := decodeStream(sd)
	if err != nil {
		return fmt.Errorf("form XObject /%s: %w", n, err)
	}

	saved, savedStack := r.gs, r.stack
	r.stack = nil
	r.depth++
	defer func() {
		r.gs, r.stack = saved, savedStack
		r.depth--
	}()

	if m := r.res.numbers(sd.Dict["Matrix"]); len(m) == 6 {
		r.gs.ctm = Matrix{m[0], m[1], m[2], m[3], m[4], m[5]}.Mul(r.gs.ctm)
	}
	if bb := r.res.numbers(sd.Dict["BBox"]); len(bb) == 4 {
		r.gs.clip = r.canvas.clipRect([4]point{
			r.user(bb[0], bb[1]), r.user(bb[2], bb[1]),
			r.user(bb[2], bb[3]), r.user(bb[0], bb[3]),
		}, r.gs.clip)
	}

	res := parentRes
	if d := r.res.dict(sd.Dict["Resources"]); d != nil {
		res = d
	}
	if err := r.execute(content, res); err != nil {
		return fmt.Errorf("form XObject /%s: %w", n, err)
	}
	return nil
}

func (r *renderer) moveText(tx, ty float64) {
	r.tlm = translate(tx, ty).Mul(r.tlm)
	r.tm = r.tlm
}

func (r *renderer) showArray(arr pdf.Array) {
	ts := r.gs.text
	for _, item := range arr {
		if s, ok := item.(pdf.String); ok {
			r.showText(s)
			continue
		}
		if v, ok := toNumber(item); ok {
			tx := -v / 1000 * ts.size * ts.hScale
			r.tm = translate(tx, 0).Mul(r.tm)
		}
	}
}

// showText draws a string with the current font and advances the text
// matrix. Glyphs of one string are filled as one path.
func (r *renderer) showText(s []byte) {
	ts := r.gs.text
	f := ts.font
	if f == nil {
		f = r.res.loadFont(nil)
	}
	visible := ts.mode != 3 && ts.mode != 7 && r.gs.fillCS != patternCS

	var glyphs path
	for _, code := range f.codes(s) {
		trm := Matrix{ts.size * ts.hScale, 0, 0, ts.size, 0, ts.rise}.Mul(r.tm).Mul(r.gs.ctm)

		ru := f.runeFor(code)
		gi, _ := fallbackFont.GlyphIndex(&r.buf, ru)
		if visible && ru != 0 && ru != ' ' && gi != 0 {
			r.appendGlyph(&glyphs, gi, trm)
		}

		w, ok := f.width(code)
		if !ok {
			w = r.glyphAdvance(gi)
		}
		tx := w/1000*ts.size + ts.charSpace
		if code == ' ' && !f.twoByte {
			tx += ts.wordSpace
		}
		r.tm = translate(tx*ts.hScale, 0).Mul(r.tm)
	}

	if !glyphs.empty() {
		r.canvas.fill(&glyphs, false, withAlpha(r.gs.fill, r.gs.fillAlpha), r.gs.clip)
	}
}

// glyphPPEM makes sfnt report coordinates in thousandths of an em.
const glyphPPEM = 1000

var ppem = fixed.I(glyphPPEM)

func (r *renderer) appendGlyph(p *path, gi sfnt.GlyphIndex, trm Matrix) {
	segs, err := fallbackFont.LoadGlyph(&r.buf, gi, ppem, nil)
	if err != nil {
		return
	}
	// sfnt's y axis points down; glyph space points up.
	at := func(x, y int32) point {
		gx, gy := float64(x)/64/glyphPPEM, -float64(y)/64/glyphPPEM
		dx, dy := trm.Apply(gx, gy)
		return point{dx, dy}
	}
	for _, s := range segs {
		a := s.Args
		switch s.Op {
		case sfnt.SegmentOpMoveTo:
			p.close()
			p.moveTo(at(int32(a[0].X), int32(a[0].Y)))
		case sfnt.SegmentOpLineTo:
			p.lineTo(at(int32(a[0].X), int32(a[0].Y)))
		case sfnt.SegmentOpQuadTo:
			// Elevate to a cubic so the path type stays uniform.
			p0 := p.cur
			c := at(int32(a[0].X), int32(a[0].Y))
			e := at(int32(a[1].X), int32(a[1].Y))
			c1 := point{p0.x + 2.0/3*(c.x-p0.x), p0.y + 2.0/3*(c.y-p0.y)}
			c2 := point{e.x + 2.0/3*(c.x-e.x), e.y + 2.0/3*(c.y-e.y)}
			p.curveTo(c1, c2, e)
		case sfnt.SegmentOpCubeTo:
			p.curveTo(
				at(int32(a[0].X), int32(a[0].Y)),
				at(int32(a[1].X), int32(a[1].Y)),
				at(int32(a[2].X), int32(a[2].Y)),
			)
		}
	}
	p.close()
}

func (r *renderer) glyphAdvance(gi sfnt.GlyphIndex) float64 {
	adv, err := fallbackFont.GlyphAdvance(&r.buf, gi, ppem, font.HintingNone)
	if err != nil {
		return 500
	}
	return float64(adv) / 64
}

