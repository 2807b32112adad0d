package raster

import (
	"image"
	"image/color"
	"image/draw"
	"math"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/vector"
)

type point struct{ x, y float64 }

type segment struct {
	op  byte // 'M', 'L', 'C' or 'Z'
	pts [3]point
}

// path is a PDF path already transformed to device space.
type path struct {
	segs     []segment
	start    point
	cur      point
	hasCur   bool
	needMove bool
}

func (p *path) moveTo(pt point) {
	p.segs = append(p.segs, segment{op: 'M', pts: [3]point{pt}})
	p.start, p.cur, p.hasCur, p.needMove = pt, pt, true, false
}

func (p *path) ensureStart() bool {
	if !p.hasCur {
		return false
	}
	if p.needMove {
		p.moveTo(p.cur)
	}
	return true
}

func (p *path) lineTo(pt point) {
	if !p.ensureStart() {
		p.moveTo(pt)
		return
	}
	p.segs = append(p.segs, segment{op: 'L', pts: [3]point{pt}})
	p.cur = pt
}

func (p *path) curveTo(c1, c2, end point) {
	if !p.ensureStart() {
		p.moveTo(c1)
	}
	p.segs = append(p.segs, segment{op: 'C', pts: [3]point{c1, c2, end}})
	p.cur = end
}

func (p *path) close() {
	if !p.hasCur || p.needMove {
		return
	}
	p.segs = append(p.segs, segment{op: 'Z'})
	p.cur = p.start
	p.needMove = true
}

func (p *path) reset() {
	*p = path{segs: p.segs[:0]}
}

func (p *path) empty() bool { return len(p.segs) == 0 }

// subpaths splits p at every move.
func (p *path) subpaths() []path {
	var out []path
	for i, s := range p.segs {
		if s.op == 'M' || i == 0 {
			out = append(out, path{})
		}
		last := &out[len(out)-1]
		last.segs = append(last.segs, s)
	}
	return out
}

// bounds returns the pixel rectangle covering every point of the path,
// grown by pad pixels.
func (p *path) bounds(pad float64) image.Rectangle {
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, s := range p.segs {
		n := 1
		switch s.op {
		case 'Z':
			n = 0
		case 'C':
			n = 3
		}
		for _, pt := range s.pts[:n] {
			minX, maxX = math.Min(minX, pt.x), math.Max(maxX, pt.x)
			minY, maxY = math.Min(minY, pt.y), math.Max(maxY, pt.y)
		}
	}
	if minX > maxX {
		return image.Rectangle{}
	}
	return image.Rect(
		int(math.Floor(minX-pad)), int(math.Floor(minY-pad)),
		int(math.Ceil(maxX+pad))+1, int(math.Ceil(maxY+pad))+1,
	)
}

// canvas owns the output bitmap plus the scratch buffers used to turn
// paths into coverage masks.
type canvas struct {
	img     *image.RGBA
	raster  *vector.Rasterizer
	scratch *image.Alpha
	sub     *image.Alpha // per-subpath coverage for even-odd fills
}

func newCanvas(w, h int) *canvas {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)
	return &canvas{
		img:     img,
		raster:  vector.NewRasterizer(w, h),
		scratch: image.NewAlpha(img.Bounds()),
	}
}

// cover rasterizes the outline produced by add into dst over the area r.
// The rasterizer is sized to r, so add receives r's origin as offset.
func (c *canvas) cover(dst *image.Alpha, r image.Rectangle, add func(z *vector.Rasterizer, off point)) {
	c.raster.Reset(r.Dx(), r.Dy())
	c.raster.DrawOp = draw.Src
	add(c.raster, point{float64(r.Min.X), float64(r.Min.Y)})
	c.raster.Draw(dst, r, image.Opaque, image.Point{})
}

// coverPath writes the fill coverage of p into dst over r. The rasterizer
// accumulates winding, so even-odd coverage is built by rasterizing every
// subpath on its own and combining them with xor.
func (c *canvas) coverPath(dst *image.Alpha, r image.Rectangle, p *path, evenOdd bool) {
	subs := []path{*p}
	if evenOdd {
		subs = p.subpaths()
	}
	for i := range subs {
		sp := &subs[i]
		if i == 0 {
			c.cover(dst, r, func(z *vector.Rasterizer, off point) { addFill(z, sp, off) })
			continue
		}
		if c.sub == nil {
			c.sub = image.NewAlpha(c.img.Bounds())
		}
		c.cover(c.sub, r, func(z *vector.Rasterizer, off point) { addFill(z, sp, off) })
		xorMask(dst, c.sub, r)
	}
}

func (c *canvas) fill(p *path, evenOdd bool, col color.NRGBA, clip *image.Alpha) {
	r := p.bounds(1).Intersect(c.img.Bounds())
	if r.Empty() {
		return
	}
	c.coverPath(c.scratch, r, p, evenOdd)
	c.paint(r, col, clip)
}

func (c *canvas) stroke(p *path, halfWidth float64, col color.NRGBA, clip *image.Alpha) {
	r := p.bounds(halfWidth + 1).Intersect(c.img.Bounds())
	if r.Empty() {
		return
	}
	c.cover(c.scratch, r, func(z *vector.Rasterizer, off point) { addStroke(z, p, halfWidth, off) })
	c.paint(r, col, clip)
}

// paint composites col through the scratch coverage, limited by clip.
func (c *canvas) paint(r image.Rectangle, col color.NRGBA, clip *image.Alpha) {
	if clip != nil {
		intersectMask(c.scratch, clip, r)
	}
	draw.DrawMask(c.img, r, image.NewUniform(col), image.Point{}, c.scratch, r.Min, draw.Over)
}

// clipMask returns a new mask covering p, intersected with prev if set.
func (c *canvas) clipMask(p *path, evenOdd bool, prev *image.Alpha) *image.Alpha {
	mask := image.NewAlpha(c.img.Bounds())
	r := p.bounds(1).Intersect(c.img.Bounds())
	if !r.Empty() {
		c.coverPath(mask, r, p, evenOdd)
	}
	if prev != nil {
		intersectMask(mask, prev, r)
	}
	return mask
}

// clipRect returns a mask for a device-space quadrilateral.
func (c *canvas) clipRect(corners [4]point, prev *image.Alpha) *image.Alpha {
	var p path
	p.moveTo(corners[0])
	p.lineTo(corners[1])
	p.lineTo(corners[2])
	p.lineTo(corners[3])
	p.close()
	return c.clipMask(&p, false, prev)
}

func intersectMask(dst, clip *image.Alpha, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		d := dst.Pix[dst.PixOffset(r.Min.X, y):dst.PixOffset(r.Max.X, y)]
		m := clip.Pix[clip.PixOffset(r.Min.X, y):clip.PixOffset(r.Max.X, y)]
		for i := range d {
			d[i] = uint8(uint16(d[i]) * uint16(m[i]) / 255)
		}
	}
}

// xorMask combines src into dst over r so that overlapping coverage cancels.
func xorMask(dst, src *image.Alpha, r image.Rectangle) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		d := dst.Pix[dst.PixOffset(r.Min.X, y):dst.PixOffset(r.Max.X, y)]
		s := src.Pix[src.PixOffset(r.Min.X, y):src.PixOffset(r.Max.X, y)]
		for i := range d {
			a, b := int(d[i]), int(s[i])
			d[i] = uint8(a + b - 2*a*b/255)
		}
	}
}

// drawImage maps src onto the unit square transformed by m.
func (c *canvas) drawImage(src image.Image, m Matrix, alpha float64, clip *image.Alpha) {
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	if w == 0 || h == 0 || m.det() == 0 {
		return
	}
	// Image row 0 is the top of the unit square.
	s2d := f64.Aff3{
		m[0] / w, -m[2] / h, m[2] + m[4],
		m[1] / w, -m[3] / h, m[3] + m[5],
	}
	// Aff3 works in source pixel space, so shift for non-zero bounds.
	s2d[2] -= s2d[0]*float64(b.Min.X) + s2d[1]*float64(b.Min.Y)
	s2d[5] -= s2d[3]*float64(b.Min.X) + s2d[4]*float64(b.Min.Y)

	opts := &xdraw.Options{}
	if clip != nil {
		opts.DstMask = clip
	}
	if alpha < 1 {
		opts.SrcMask = image.NewUniform(color.Alpha{A: channel(alpha)})
	}
	xdraw.BiLinear.Transform(c.img, s2d, src, b, xdraw.Over, opts)
}

func addFill(z *vector.Rasterizer, p *path, off point) {
	open := false
	for _, s := range p.segs {
		switch s.op {
		case 'M':
			if open {
				z.ClosePath()
			}
			z.MoveTo(dev(s.pts[0], off))
			open = true
		case 'L':
			z.LineTo(dev(s.pts[0], off))
		case 'C':
			x1, y1 := dev(s.pts[0], off)
			x2, y2 := dev(s.pts[1], off)
			x3, y3 := dev(s.pts[2], off)
			z.CubeTo(x1, y1, x2, y2, x3, y3)
		case 'Z':
			if open {
				z.ClosePath()
				open = false
			}
		}
	}
	if open {
		z.ClosePath()
	}
}

// addStroke outlines every segment as a quad and every vertex as an
// octagon. All polygons share one orientation so overlaps stay covered.
func addStroke(z *vector.Rasterizer, p *path, hw float64, off point) {
	var start, cur point
	line := func(a, b point) {
		dx, dy := b.x-a.x, b.y-a.y
		l := math.Hypot(dx, dy)
		if l == 0 {
			return
		}
		nx, ny := -dy/l*hw, dx/l*hw
		z.MoveTo(dev(point{a.x + nx, a.y + ny}, off))
		z.LineTo(dev(point{b.x + nx, b.y + ny}, off))
		z.LineTo(dev(point{b.x - nx, b.y - ny}, off))
		z.LineTo(dev(point{a.x - nx, a.y - ny}, off))
		z.ClosePath()
	}
	joint := func(c point) {
		if hw < 1 {
			return
		}
		for k := 0; k < 8; k++ {
			a := -float64(k) * math.Pi / 4
			pt := point{c.x + hw*math.Cos(a), c.y + hw*math.Sin(a)}
			if k == 0 {
				z.MoveTo(dev(pt, off))
			} else {
				z.LineTo(dev(pt, off))
			}
		}
		z.ClosePath()
	}

	for _, s := range p.segs {
		switch s.op {
		case 'M':
			start, cur = s.pts[0], s.pts[0]
			joint(cur)
		case 'L':
			line(cur, s.pts[0])
			cur = s.pts[0]
			joint(cur)
		case 'C':
			prev := cur
			flattenCubic(cur, s.pts[0], s.pts[1], s.pts[2], func(pt point) {
				line(prev, pt)
				prev = pt
			})
			cur = s.pts[2]
			joint(cur)
		case 'Z':
			line(cur, start)
			cur = start
		}
	}
}

func flattenCubic(p0, p1, p2, p3 point, emit func(point)) {
	d := math.Hypot(p1.x-p0.x, p1.y-p0.y) + math.Hypot(p2.x-p1.x, p2.y-p1.y) + math.Hypot(p3.x-p2.x, p3.y-p2.y)
	n := int(d/4) + 1
	if n > 64 {
		n = 64
	}
	for i := 1; i <= n; i++ {
		t := float64(i) / float64(n)
		u := 1 - t
		a, b, c, e := u*u*u, 3*u*u*t, 3*u*t*t, t*t*t
		emit(point{
			a*p0.x + b*p1.x + c*p2.x + e*p3.x,
			a*p0.y + b*p1.y + c*p2.y + e*p3.y,
		})
	}
}

func dev(pt, off point) (float32, float32) {
	return float32(pt.x - off.x), float32(pt.y - off.y)
}
