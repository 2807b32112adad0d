package document

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

func mustContentPage(t *testing.T, size Size, content string) *Page {
	t.Helper()
	p, err := NewContentPage(size, []byte(content))
	if err != nil {
		t.Fatalf("NewContentPage: %v", err)
	}
	return p
}

func TestNewRejectsEmpty(t *testing.T) {
	if _, err := New(); !errors.Is(err, ErrNoPages) {
		t.Errorf("New() error = %v, want ErrNoPages", err)
	}
	if _, err := New(nil); err == nil {
		t.Error("New(nil) expected error")
	}
}

func TestDocumentPagesIsACopy(t *testing.T) {
	a := mustContentPage(t, Size{100, 100}, "")
	b := mustContentPage(t, Size{200, 100}, "")
	doc, err := New(a, b)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	pages := doc.Pages()
	pages[0] = b
	if doc.Page(0) != a {
		t.Error("modifying Pages() result changed the document")
	}
	if diff := cmp.Diff([]Size{{100, 100}, {200, 100}}, doc.Sizes()); diff != "" {
		t.Errorf("Sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	for _, in := range [][]byte{nil, []byte("hello"), []byte("%PDF-1.7\nthis is not a pdf")} {
		if _, err := Load(in); !errors.Is(err, ErrMalformed) {
			t.Errorf("Load(%q) error = %v, want ErrMalformed", in, err)
		}
	}
}

func TestExportLoadRoundTrip(t *testing.T) {
	sizes := []Size{{595.28, 841.89}, {841.89, 595.28}, {300, 300}}
	var pages []*Page
	for i, s := range sizes {
		pages = append(pages, mustContentPage(t, s, fmt.Sprintf("0 g 0 0 %d 10 re f\n", 10*(i+1))))
	}
	doc, err := New(pages...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	data, err := Export(doc)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("exported data does not start with a PDF header")
	}

	back, err := Load(data)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got, want := back.PageCount(), len(sizes); got != want {
		t.Fatalf("PageCount = %d, want %d", got, want)
	}
	approx := cmp.Comparer(func(a, b float64) bool { return a-b < 0.01 && b-a < 0.01 })
	if diff := cmp.Diff(sizes, back.Sizes(), approx); diff != "" {
		t.Errorf("sizes mismatch (-want +got):\n%s", diff)
	}
}

func TestExportSinglePageIsByteEqual(t *testing.T) {
	p := mustContentPage(t, Size{100, 150}, "0 g 0 0 10 10 re f\n")
	doc, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	data, err := Export(doc)
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if !bytes.Equal(data, p.Data()) {
		t.Error("single page export differs from the page payload")
	}
}

// rotatedPDF builds a one-page PDF with a /Rotate entry and an offset MediaBox.
func rotatedPDF(t *testing.T, rotate int) []byte {
	t.Helper()
	content := "0 g 10 20 30 40 re f\n"
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

func TestLoadNormalizesGeometry(t *testing.T) {
	tests := []struct {
		rotate int
		want   Size
	}{
		{0, Size{200, 100}},
		{90, Size{100, 200}},
		{-90, Size{100, 200}},
		{180, Size{200, 100}},
		{450, Size{100, 200}},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.rotate), func(t *testing.T) {
			doc, err := Load(rotatedPDF(t, tt.rotate))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			page := doc.Page(0)
			if diff := cmp.Diff(tt.want, page.Size()); diff != "" {
				t.Errorf("size mismatch (-want +got):\n%s", diff)
			}

			ctx, err := ReadContext(page.Data())
			if err != nil {
				t.Fatalf("ReadContext: %v", err)
			}
			pageDict, _, inh, err := ctx.PageDict(1, false)
			if err != nil {
				t.Fatalf("PageDict: %v", err)
			}
			if _, found := pageDict.Find("Rotate"); found {
				t.Error("normalized page still has /Rotate")
			}
			want := types.RectForWidthAndHeight(0, 0, tt.want.Width, tt.want.Height)
			if inh.MediaBox.LL != want.LL || inh.MediaBox.UR != want.UR {
				t.Errorf("MediaBox = %v, want %v", inh.MediaBox, want)
			}
		})
	}
}

func TestNormalizeRotation(t *testing.T) {
	for in, want := range map[int]int{0: 0, 90: 90, -90: 270, 360: 0, 450: 90, -630: 90} {
		if got := normalizeRotation(in); got != want {
			t.Errorf("normalizeRotation(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestNewBlankPage(t *testing.T) {
	p, err := NewBlankPage(Size{612, 792})
	if err != nil {
		t.Fatalf("NewBlankPage: %v", err)
	}
	if p.Kind() != KindBlank {
		t.Errorf("Kind = %v, want blank", p.Kind())
	}
	if _, err := ReadContext(p.Data()); err != nil {
		t.Errorf("blank page is not a readable PDF: %v", err)
	}
	if _, err := NewBlankPage(Size{0, 10}); err == nil {
		t.Error("expected error for degenerate size")
	}
}

// pageImage returns the /Im0 image XObject of a single-page payload.
func pageImage(t *testing.T, p *Page) (*types.StreamDict, func(types.Object) *types.StreamDict) {
	t.Helper()
	ctx, err := ReadContext(p.Data())
	if err != nil {
		t.Fatalf("ReadContext: %v", err)
	}
	pageDict, _, _, err := ctx.PageDict(1, false)
	if err != nil {
		t.Fatalf("PageDict: %v", err)
	}
	res, err := ctx.DereferenceDict(pageDict["Resources"])
	if err != nil {
		t.Fatalf("Resources: %v", err)
	}
	stream := func(o types.Object) *types.StreamDict {
		t.Helper()
		sd, _, err := ctx.DereferenceStreamDict(o)
		if err != nil || sd == nil {
			t.Fatalf("stream %v: %v", o, err)
		}
		return sd
	}
	xobj, err := ctx.DereferenceDict(res["XObject"])
	if err != nil || xobj == nil {
		t.Fatalf("XObject: %v", err)
	}
	return stream(xobj["Im0"]), stream
}

func TestNewImagePageFlateWithSoftMask(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 3, 2))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	img.Pix[3] = 0x80

	p, err := NewImagePage(Size{30, 20}, img, EncodingFlate, 0)
	if err != nil {
		t.Fatalf("NewImagePage: %v", err)
	}
	if p.Kind() != KindRaster {
		t.Errorf("Kind = %v, want raster", p.Kind())
	}

	im, stream := pageImage(t, p)
	if got := im.NameEntry("Filter"); got == nil || *got != "FlateDecode" {
		t.Errorf("Filter = %v, want FlateDecode", got)
	}
	if w, h := im.IntEntry("Width"), im.IntEntry("Height"); w == nil || h == nil || *w != 3 || *h != 2 {
		t.Errorf("image size = %v x %v, want 3 x 2", w, h)
	}
	ref := im.IndirectRefEntry("SMask")
	if ref == nil {
		t.Fatal("translucent image has no SMask")
	}
	sm := stream(*ref)
	if err := sm.Decode(); err != nil {
		t.Fatalf("decode SMask: %v", err)
	}
	if diff := cmp.Diff([]byte{0x80, 0xff, 0xff, 0xff, 0xff, 0xff}, sm.Content); diff != "" {
		t.Errorf("SMask mismatch (-want +got):\n%s", diff)
	}
}

func TestNewImagePageJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}
	p, err := NewImagePage(Size{80, 80}, img, EncodingJPEG, 90)
	if err != nil {
		t.Fatalf("NewImagePage: %v", err)
	}
	im, _ := pageImage(t, p)
	if got := im.NameEntry("Filter"); got == nil || *got != "DCTDecode" {
		t.Errorf("Filter = %v, want DCTDecode", got)
	}
	if im.IndirectRefEntry("SMask") != nil {
		t.Error("opaque JPEG image has an SMask")
	}
	if !bytes.HasPrefix(im.Raw, []byte{0xff, 0xd8}) {
		t.Error("image stream does not hold the JPEG data")
	}
}

func TestNewEncodedImagePageRejectsBadInput(t *testing.T) {
	for _, ei := range []EncodedImage{
		{Width: 0, Height: 1, ColorComponents: 3},
		{Width: 1, Height: 1, ColorComponents: 2},
	} {
		if _, err := NewEncodedImagePage(Size{10, 10}, ei); err == nil {
			t.Errorf("NewEncodedImagePage(%+v) expected error", ei)
		}
	}
}

func TestRotationMatrix(t *testing.T) {
	tests := map[int]string{
		0:   "",
		90:  "0 -1 1 0 0 200 cm ",
		180: "-1 0 0 -1 200 100 cm ",
		270: "0 1 -1 0 100 0 cm ",
	}
	for rot, want := range tests {
		if got := rotationMatrix(rot, 200, 100); got != want {
			t.Errorf("rotationMatrix(%d) = %q, want %q", rot, got, want)
		}
	}
}

func TestNewSheetPage(t *testing.T) {
	a := mustContentPage(t, Size{100, 200}, "1 0 0 rg 0 0 100 200 re f\n")
	b := mustContentPage(t, Size{100, 200}, "0 0 1 rg 0 0 100 200 re f\n")
	sheet := Size{400, 300}

	p, err := NewSheetPage(sheet, []Placement{
		{Page: a, X: 10, Y: 10, Scale: 1},
		{Page: b, X: 210, Y: 10, Scale: 1},
	})
	if err != nil {
		t.Fatalf("NewSheetPage: %v", err)
	}
	if p.Kind() != KindSheet || p.Size() != sheet {
		t.Errorf("got kind %v size %v, want sheet %v", p.Kind(), p.Size(), sheet)
	}

	ctx, err := ReadContext(p.Data())
	if err != nil {
		t.Fatalf("ReadContext: %v", err)
	}
	if ctx.PageCount != 1 {
		t.Fatalf("PageCount = %d, want 1", ctx.PageCount)
	}
	pageDict, _, _, err := ctx.PageDict(1, false)
	if err != nil {
		t.Fatalf("PageDict: %v", err)
	}
	content, err := ctx.PageContent(pageDict, 1)
	if err != nil {
		t.Fatalf("PageContent: %v", err)
	}
	for _, want := range []string{"/Fm0 Do", "/Fm1 Do", "210 10 cm"} {
		if !bytes.Contains(content, []byte(want)) {
			t.Errorf("sheet content missing %q:\n%s", want, content)
		}
	}
}

func TestNewSheetPageErrors(t *testing.T) {
	a := mustContentPage(t, Size{10, 10}, "")
	if _, err := NewSheetPage(Size{100, 100}, nil); err == nil {
		t.Error("expected error for no placements")
	}
	if _, err := NewSheetPage(Size{0, 100}, []Placement{{Page: a, Scale: 1}}); err == nil {
		t.Error("expected error for degenerate sheet")
	}
	if _, err := NewSheetPage(Size{100, 100}, []Placement{{Scale: 1}}); err == nil {
		t.Error("expected error for nil page")
	}
}

func TestParseImageEncoding(t *testing.T) {
	for in, want := range map[string]ImageEncoding{"": EncodingFlate, "flate": EncodingFlate, "JPEG": EncodingJPEG, " jpg ": EncodingJPEG} {
		got, err := ParseImageEncoding(in)
		if err != nil || got != want {
			t.Errorf("ParseImageEncoding(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseImageEncoding("webp"); err == nil {
		t.Error("expected error for unknown encoding")
	}
}
