package document

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

func init() {
	// Serverless filesystems are read-only outside /tmp; keep pdfcpu off disk.
	api.DisableConfigDir()
}

// Configuration returns the pdfcpu configuration used for every read and write.
func Configuration() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// ReadContext parses and validates a PDF held in memory.
func ReadContext(data []byte) (*model.Context, error) {
	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), Configuration())
	if err != nil {
		return nil, err
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, err
	}
	return ctx, nil
}

// Load parses a PDF and splits it into normalized single-page payloads.
func Load(data []byte) (*Document, error) {
	if !hasHeader(data) {
		return nil, fmt.Errorf("%w: missing %%PDF- header", ErrMalformed)
	}
	ctx, err := ReadContext(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ctx.PageCount == 0 {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, ErrNoPages)
	}

	pages := make([]*Page, 0, ctx.PageCount)
	for nr := 1; nr <= ctx.PageCount; nr++ {
		p, err := splitPage(ctx, nr)
		if err != nil {
			return nil, fmt.Errorf("%w: page %d: %v", ErrMalformed, nr, err)
		}
		pages = append(pages, p)
	}
	return &Document{pages: pages}, nil
}

func hasHeader(data []byte) bool {
	head := data
	if len(head) > 1024 {
		head = head[:1024]
	}
	return bytes.Contains(head, []byte("%PDF-"))
}

// splitPage extracts page nr into its own context and rewrites its geometry
// so the visible area starts at the origin and needs no rotation.
// Content is read from src, where streams are already decoded.
func splitPage(src *model.Context, nr int) (*Page, error) {
	srcDict, _, inh, err := src.PageDict(nr, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read page dict: %w", err)
	}
	if srcDict == nil || inh == nil {
		return nil, fmt.Errorf("page dict missing")
	}

	box := inh.CropBox
	if box == nil {
		box = inh.MediaBox
	}
	if box == nil {
		return nil, fmt.Errorf("page has no MediaBox")
	}

	rot := normalizeRotation(inh.Rotate)
	size := Size{Width: box.Width(), Height: box.Height()}
	if rot == 90 || rot == 270 {
		size = size.Landscape()
	}

	var rewritten []byte
	if rot != 0 || box.LL.X != 0 || box.LL.Y != 0 {
		content, err := pageContent(src, srcDict, nr)
		if err != nil {
			return nil, fmt.Errorf("failed to read page content: %w", err)
		}
		var buf bytes.Buffer
		buf.WriteString("q ")
		buf.WriteString(rotationMatrix(rot, box.Width(), box.Height()))
		fmt.Fprintf(&buf, "1 0 0 1 %s %s cm\n", num(-box.LL.X), num(-box.LL.Y))
		buf.Write(content)
		buf.WriteString("\nQ\n")
		rewritten = buf.Bytes()
	}

	ctx, err := pdfcpu.ExtractPages(src, []int{nr}, false)
	if err != nil {
		return nil, fmt.Errorf("failed to extract page: %w", err)
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, err
	}
	pageDict, _, _, err := ctx.PageDict(1, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read extracted page dict: %w", err)
	}
	if pageDict == nil {
		return nil, fmt.Errorf("extracted page dict missing")
	}

	if rewritten != nil {
		if err := setContent(ctx, pageDict, rewritten); err != nil {
			return nil, err
		}
	}

	pageDict["MediaBox"] = types.RectForWidthAndHeight(0, 0, size.Width, size.Height).Array()
	pageDict.Delete("CropBox")
	pageDict.Delete("Rotate")
	if _, found := pageDict.Find("Resources"); !found && inh.Resources != nil {
		pageDict["Resources"] = inh.Resources
	}

	data, err := writeContext(ctx)
	if err != nil {
		return nil, err
	}
	return newPage(size, KindVector, data), nil
}

// rotationMatrix returns the cm operator that turns a w x h box, already
// moved to the origin, clockwise by rot degrees and keeps it in the first
// quadrant. rot must be normalized.
func rotationMatrix(rot int, w, h float64) string {
	switch rot {
	case 90:
		return fmt.Sprintf("0 -1 1 0 0 %s cm ", num(w))
	case 180:
		return fmt.Sprintf("-1 0 0 -1 %s %s cm ", num(w), num(h))
	case 270:
		return fmt.Sprintf("0 1 -1 0 %s 0 cm ", num(h))
	}
	return ""
}

func normalizeRotation(rot int) int {
	rot %= 360
	if rot < 0 {
		rot += 360
	}
	return rot
}

// pageContent returns the decoded content of page nr, or nil if it has none.
func pageContent(ctx *model.Context, pageDict types.Dict, nr int) ([]byte, error) {
	if _, found := pageDict.Find("Contents"); !found {
		return nil, nil
	}
	return ctx.PageContent(pageDict, nr)
}

func setContent(ctx *model.Context, pageDict types.Dict, content []byte) error {
	sd, err := ctx.NewStreamDictForBuf(content)
	if err != nil {
		return fmt.Errorf("failed to create content stream: %w", err)
	}
	if err := sd.Encode(); err != nil {
		return fmt.Errorf("failed to encode content stream: %w", err)
	}
	indRef, err := ctx.IndRefForNewObject(*sd)
	if err != nil {
		return fmt.Errorf("failed to register content stream: %w", err)
	}
	pageDict["Contents"] = *indRef
	return nil
}

func writeContext(ctx *model.Context) ([]byte, error) {
	var out bytes.Buffer
	if err := api.WriteContext(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return out.Bytes(), nil
}
