package raster

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"github.com/Lllllllleong/sheetflow/internal/document"
	"github.com/google/go-cmp/cmp"
)

func contentPage(t *testing.T, w, h float64, content string) *document.Page {
	t.Helper()
	p, err := document.NewContentPage(document.Size{Width: w, Height: h}, []byte(content))
	if err != nil {
		t.Fatalf("NewContentPage: %v", err)
	}
	return p
}

func rgbaAt(img *image.RGBA, x, y int) color.RGBA {
	return img.RGBAAt(x, y)
}

func TestInvertIsAnInvolution(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for i := range img.Pix {
		img.Pix[i] = uint8(i * 37)
	}
	orig := bytes.Clone(img.Pix)

	once := Invert(img)
	if !bytes.Equal(img.Pix, orig) {
		t.Fatal("Invert modified its input")
	}
	for i := 0; i < len(once.Pix); i += 4 {
		for c := 0; c < 3; c++ {
			if once.Pix[i+c] != 255-orig[i+c] {
				t.Fatalf("channel %d at %d: got %d, want %d", c, i, once.Pix[i+c], 255-orig[i+c])
			}
		}
		if once.Pix[i+3] != orig[i+3] {
			t.Fatalf("alpha at %d changed: got %d, want %d", i, once.Pix[i+3], orig[i+3])
		}
	}

	twice := Invert(once)
	if diff := cmp.Diff(orig, twice.Pix); diff != "" {
		t.Errorf("Invert(Invert(b)) != b (-want +got):\n%s", diff)
	}
}

func TestInvertSubImage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	sub := img.SubImage(image.Rect(1, 1, 3, 3)).(*image.RGBA)
	InvertInPlace(sub)

	if got := img.RGBAAt(0, 0); got != (color.RGBA{}) {
		t.Errorf("pixel outside sub image changed: %v", got)
	}
	if got, want := img.RGBAAt(1, 1), (color.RGBA{255, 255, 255, 0}); got != want {
		t.Errorf("pixel inside sub image = %v, want %v", got, want)
	}
}

func TestMaskInlineImages(t *testing.T) {
	src := "q (BI) Tj /BI Do BI /W 1 /H 1 /BPC 8 ID \x00EI\x01 EI Q"
	got := string(maskInlineImages([]byte(src)))

	want := "q (BI) Tj /BI Do "
	if !strings.HasPrefix(got, want) {
		t.Fatalf("masked = %q, want prefix %q", got, want)
	}
	if !strings.HasSuffix(got, " Q") {
		t.Errorf("masked = %q, want the Q after EI kept", got)
	}
	if len(got) != len(src) {
		t.Errorf("masked length = %d, want %d", len(got), len(src))
	}
	if strings.Contains(got[len(want):], "ID") {
		t.Errorf("inline image not blanked: %q", got)
	}
}

func TestRasterizeSkipsInlineImage(t *testing.T) {
	content := "BI /W 2 /H 1 /CS /G /BPC 8 ID \x00\xff EI\n1 0 0 rg 0 0 10 10 re f\n"
	page := contentPage(t, 10, 10, content)

	img, err := Rasterize(page, 1)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if got := rgbaAt(img, 5, 5); got != (color.RGBA{255, 0, 0, 255}) {
		t.Errorf("pixel after inline image = %v, want red", got)
	}
}

func TestRasterizeShowsTextArrays(t *testing.T) {
	// Integer and real kerning must both move the pen.
	plain := contentPage(t, 200, 40, "BT /F1 20 Tf 5 10 Td [(H) (H)] TJ ET\n")
	kerned := contentPage(t, 200, 40, "BT /F1 20 Tf 5 10 Td [(H) -2000 (H) -1000.5 (H)] TJ ET\n")

	extent := func(page *document.Page) int {
		img, err := Rasterize(page, 1)
		if err != nil {
			t.Fatalf("Rasterize: %v", err)
		}
		right := 0
		for y := 0; y < 40; y++ {
			for x := 0; x < 200; x++ {
				if rgbaAt(img, x, y).R < 128 && x > right {
					right = x
				}
			}
		}
		return right
	}
	if a, b := extent(plain), extent(kerned); b < a+50 {
		t.Errorf("kerned text ends at x=%d, plain at x=%d; want kerning to move it right", b, a)
	}
}

func TestParseToUnicode(t *testing.T) {
	cmap := `/CIDInit /ProcSet findresource begin
12 dict begin
begincmap
/CIDSystemInfo << /Registry (Adobe) /Ordering (UCS) /Supplement 0 >> def
/CMapName /Adobe-Identity-UCS def
/CMapType 2 def
1 begincodespacerange
<0000> <FFFF>
endcodespacerange
2 beginbfchar
<0003> <0020>
<0024> <0041>
endbfchar
2 beginbfrange
<0044> <0046> <0061>
<0050> <0051> [<03B1> <03B2>]
endbfrange
endcmap
CMapName currentdict /CMap defineresource pop
end
end`
	got := parseToUnicode([]byte(cmap))
	want := map[int]rune{0x03: ' ', 0x24: 'A', 0x44: 'a', 0x45: 'b', 0x46: 'c', 0x50: 'α', 0x51: 'β'}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToUnicode mismatch (-want +got):\n%s", diff)
	}

	if got := parseToUnicode([]byte("not a cmap")); len(got) != 0 {
		t.Errorf("garbage CMap gave %v, want empty map", got)
	}
}

func TestMatrixMul(t *testing.T) {
	scale := Matrix{2, 0, 0, 2, 0, 0}
	move := translate(10, 5)

	// Scale first, then translate.
	x, y := scale.Mul(move).Apply(1, 1)
	if x != 12 || y != 7 {
		t.Errorf("scale then translate: got (%v, %v), want (12, 7)", x, y)
	}
	x, y = move.Mul(scale).Apply(1, 1)
	if x != 22 || y != 12 {
		t.Errorf("translate then scale: got (%v, %v), want (22, 12)", x, y)
	}
}

func TestRasterizeFilledRectangle(t *testing.T) {
	page := contentPage(t, 100, 100, "1 0 0 rg 10 10 50 50 re f\n")

	img, err := Rasterize(page, 1)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if got, want := img.Bounds(), image.Rect(0, 0, 100, 100); got != want {
		t.Fatalf("bounds = %v, want %v", got, want)
	}

	red := color.RGBA{255, 0, 0, 255}
	white := color.RGBA{255, 255, 255, 255}
	// PDF y grows upwards; the rectangle covers device rows 40 to 90.
	samples := []struct {
		x, y int
		want color.RGBA
	}{
		{30, 60, red},
		{15, 85, red},
		{5, 5, white},
		{30, 20, white},
		{80, 60, white},
	}
	for _, p := range samples {
		if got := rgbaAt(img, p.x, p.y); got != p.want {
			t.Errorf("pixel (%d,%d) = %v, want %v", p.x, p.y, got, p.want)
		}
	}
}

func TestRasterizeScale(t *testing.T) {
	page := contentPage(t, 200, 100, "0 g 0 0 100 100 re f\n")

	img, err := Rasterize(page, 0.5)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if got, want := img.Bounds().Size(), image.Pt(100, 50); got != want {
		t.Fatalf("size = %v, want %v", got, want)
	}
	if got := rgbaAt(img, 20, 25); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("left half = %v, want black", got)
	}
	if got := rgbaAt(img, 80, 25); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("right half = %v, want white", got)
	}
}

func TestRasterizeIsDeterministic(t *testing.T) {
	content := `0 0 1 RG 4 w 10 10 m 90 90 l S
0.2 0.6 0.3 rg 20 70 m 50 95 l 80 70 l h f
BT /F1 18 Tf 10 30 Td (Hello) Tj ET
`
	page := contentPage(t, 100, 100, content)

	a, err := Rasterize(page, 2)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	b, err := Rasterize(page, 2)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if !bytes.Equal(a.Pix, b.Pix) {
		t.Error("two renders of the same page differ")
	}
}

func TestRasterizeDrawsText(t *testing.T) {
	page := contentPage(t, 120, 40, "BT /F1 24 Tf 5 10 Td (HHHH) Tj ET\n")

	img, err := Rasterize(page, 1)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	dark := 0
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i] < 128 {
			dark++
		}
	}
	if dark == 0 {
		t.Error("expected text to produce dark pixels")
	}
}

func TestRasterizeClip(t *testing.T) {
	page := contentPage(t, 100, 100, "0 0 50 100 re W n 0 g 0 0 100 100 re f\n")

	img, err := Rasterize(page, 1)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if got := rgbaAt(img, 25, 50); got != (color.RGBA{0, 0, 0, 255}) {
		t.Errorf("inside clip = %v, want black", got)
	}
	if got := rgbaAt(img, 75, 50); got != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("outside clip = %v, want white", got)
	}
}

func TestRasterizeImagePage(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 2, 1))
	src.SetRGBA(0, 0, color.RGBA{0, 0, 255, 255})
	src.SetRGBA(1, 0, color.RGBA{0, 255, 0, 255})
	page, err := document.NewImagePage(document.Size{Width: 100, Height: 50}, src, document.EncodingFlate, 0)
	if err != nil {
		t.Fatalf("NewImagePage: %v", err)
	}

	img, err := Rasterize(page, 1)
	if err != nil {
		t.Fatalf("Rasterize: %v", err)
	}
	if got := rgbaAt(img, 10, 25); got.B < 200 || got.G > 60 {
		t.Errorf("left pixel = %v, want blue", got)
	}
	if got := rgbaAt(img, 90, 25); got.G < 200 || got.B > 60 {
		t.Errorf("right pixel = %v, want green", got)
	}
}

func TestRasterizeCorruptImage(t *testing.T) {
	page, err := document.NewEncodedImagePage(document.Size{Width: 50, Height: 50}, document.EncodedImage{
		Width:           4,
		Height:          4,
		Filter:          "DCTDecode",
		ColorComponents: 3,
		Data:            []byte("this is not a JPEG stream"),
	})
	if err != nil {
		t.Fatalf("NewEncodedImagePage: %v", err)
	}

	_, err = Rasterize(page, 1)
	if !errors.Is(err, ErrRender) {
		t.Fatalf("Rasterize error = %v, want ErrRender", err)
	}
}

func TestRasterizeRejectsBadScale(t *testing.T) {
	page := contentPage(t, 10, 10, "")
	for _, s := range []float64{0, -1} {
		if _, err := Rasterize(page, s); err == nil {
			t.Errorf("scale %v: expected error", s)
		}
	}
}

func TestThumbnailIsPNG(t *testing.T) {
	page := contentPage(t, 100, 200, "0 g 0 0 100 200 re f\n")

	data, err := Thumbnail(page, ThumbnailScale, false)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if got, want := img.Bounds().Size(), image.Pt(30, 60); got != want {
		t.Errorf("thumbnail size = %v, want %v", got, want)
	}
}

func TestThumbnailInvert(t *testing.T) {
	page := contentPage(t, 100, 100, "1 0 0 rg 0 0 100 100 re f\n")

	data, err := Thumbnail(page, 0.5, true)
	if err != nil {
		t.Fatalf("Thumbnail: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	r, g, b, _ := img.At(25, 25).RGBA()
	if got := (color.RGBA{uint8(r >> 8), uint8(g >> 8), uint8(b >> 8), 255}); got != (color.RGBA{0, 255, 255, 255}) {
		t.Errorf("inverted red = %v, want cyan", got)
	}
}

func TestRasterizeEvenOdd(t *testing.T) {
	black := color.RGBA{0, 0, 0, 255}
	white := color.RGBA{255, 255, 255, 255}
	ring := "0 g 10 10 80 80 re 30 30 40 40 re "

	tests := []struct {
		name    string
		content string
		hole    color.RGBA
	}{
		{"nonzero fill", ring + "f\n", black},
		{"even-odd fill", ring + "f*\n", white},
		{"even-odd fill and stroke", ring + "B*\n", white},
		{"even-odd closed fill and stroke", ring + "b*\n", white},
		{"nonzero clip", ring + "W n 0 0 100 100 re f\n", black},
		{"even-odd clip", ring + "W* n 0 0 100 100 re f\n", white},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img, err := Rasterize(contentPage(t, 100, 100, tt.content), 1)
			if err != nil {
				t.Fatalf("Rasterize: %v", err)
			}
			if got := rgbaAt(img, 50, 50); got != tt.hole {
				t.Errorf("hole = %v, want %v", got, tt.hole)
			}
			if got := rgbaAt(img, 20, 50); got != black {
				t.Errorf("ring = %v, want black", got)
			}
			if got := rgbaAt(img, 5, 5); got != white {
				t.Errorf("outside = %v, want white", got)
			}
		})
	}
}

func TestRasterizeRejectsHugeBitmap(t *testing.T) {
	page := contentPage(t, 100, 100, "")
	_, err := Rasterize(page, 1001)
	if !errors.Is(err, ErrRender) {
		t.Fatalf("Rasterize error = %v, want ErrRender", err)
	}
}

// rotatedCornerPDF builds a 200x100 page with an offset MediaBox, the given
// /Rotate and a red square in the lower-left corner of its unrotated box.
func rotatedCornerPDF(t *testing.T, rotate int) []byte {
	t.Helper()
	content := "1 0 0 rg 10 20 20 20 re f\n"
	objs := []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [10 20 210 120] /Rotate %d /Resources << >> /Contents 4 0 R >>", rotate),
		fmt.Sprintf("<< /Length %d >>\nstream\n%sendstream", len(content), content),
	}
	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")
	offsets := make([]int, len(objs))
	for i, o := range objs {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, o)
	}
	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(objs)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objs)+1, xref)
	return buf.Bytes()
}

func TestRasterizeLoadedRotation(t *testing.T) {
	red := color.RGBA{255, 0, 0, 255}
	white := color.RGBA{255, 255, 255, 255}
	// Rotation is clockwise, so the lower-left corner travels
	// to upper-left, upper-right and lower-right in turn.
	tests := []struct {
		rotate       int
		size         image.Point
		redAt, empty image.Point
	}{
		{0, image.Pt(200, 100), image.Pt(5, 95), image.Pt(195, 5)},
		{90, image.Pt(100, 200), image.Pt(5, 5), image.Pt(95, 195)},
		{180, image.Pt(200, 100), image.Pt(195, 5), image.Pt(5, 95)},
		{270, image.Pt(100, 200), image.Pt(95, 195), image.Pt(5, 5)},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.rotate), func(t *testing.T) {
			doc, err := document.Load(rotatedCornerPDF(t, tt.rotate))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			img, err := Rasterize(doc.Page(0), 1)
			if err != nil {
				t.Fatalf("Rasterize: %v", err)
			}
			if got := img.Bounds().Size(); got != tt.size {
				t.Fatalf("size = %v, want %v", got, tt.size)
			}
			if got := rgbaAt(img, tt.redAt.X, tt.redAt.Y); got != red {
				t.Errorf("corner %v = %v, want red", tt.redAt, got)
			}
			if got := rgbaAt(img, tt.empty.X, tt.empty.Y); got != white {
				t.Errorf("opposite corner %v = %v, want white", tt.empty, got)
			}
		})
	}
}
