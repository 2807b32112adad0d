package document

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
)

// Placement positions a source page on a sheet. X and Y are the lower-left
// corner of the scaled page in sheet coordinates.
type Placement struct {
	Page  *Page
	X     float64
	Y     float64
	Scale float64
}

// NewSheetPage draws every placed page onto one new page of the given size.
// Each source page becomes a Form XObject, so vector content stays vector.
func NewSheetPage(sheet Size, placements []Placement) (*Page, error) {
	if sheet.Degenerate() {
		return nil, fmt.Errorf("invalid sheet size %vx%v", sheet.Width, sheet.Height)
	}
	if len(placements) == 0 {
		return nil, errors.New("sheet needs at least one placed page")
	}

	sources := make([]*Page, len(placements))
	for i, pl := range placements {
		if pl.Page == nil {
			return nil, fmt.Errorf("placement %d has no page", i+1)
		}
		sources[i] = pl.Page
	}

	merged, err := mergePages(sources)
	if err != nil {
		return nil, err
	}
	ctx, err := ReadContext(merged)
	if err != nil {
		return nil, fmt.Errorf("failed to read merged sheet sources: %w", err)
	}
	if ctx.PageCount != len(placements) {
		return nil, fmt.Errorf("expected %d merged pages, got %d", len(placements), ctx.PageCount)
	}

	xobjects := types.Dict{}
	var content bytes.Buffer
	for i, pl := range placements {
		ref, err := formXObject(ctx, i+1)
		if err != nil {
			return nil, fmt.Errorf("placement %d: %w", i+1, err)
		}
		name := fmt.Sprintf("Fm%d", i)
		xobjects[name] = *ref
		fmt.Fprintf(&content, "q %s 0 0 %s %s %s cm /%s Do Q\n",
			num(pl.Scale), num(pl.Scale), num(pl.X), num(pl.Y), name)
	}

	pageDict, _, _, err := ctx.PageDict(1, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet page dict: %w", err)
	}
	pageDict["MediaBox"] = types.RectForWidthAndHeight(0, 0, sheet.Width, sheet.Height).Array()
	pageDict.Delete("CropBox")
	pageDict.Delete("Rotate")
	pageDict["Resources"] = types.Dict{"XObject": xobjects}
	if err := setContent(ctx, pageDict, content.Bytes()); err != nil {
		return nil, err
	}

	out, err := pdfcpu.ExtractPages(ctx, []int{1}, false)
	if err != nil {
		return nil, fmt.Errorf("failed to extract sheet page: %w", err)
	}
	data, err := writeContext(out)
	if err != nil {
		return nil, err
	}
	return newPage(sheet, KindSheet, data), nil
}

// formXObject wraps page nr of ctx in a Form XObject and returns its reference.
func formXObject(ctx *model.Context, nr int) (*types.IndirectRef, error) {
	pageDict, _, inh, err := ctx.PageDict(nr, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read page dict: %w", err)
	}
	if inh.MediaBox == nil {
		return nil, fmt.Errorf("page %d has no MediaBox", nr)
	}
	content, err := pageContent(ctx, pageDict, nr)
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	sd, err := ctx.NewStreamDictForBuf(content)
	if err != nil {
		return nil, fmt.Errorf("failed to create form stream: %w", err)
	}
	sd.Dict["Type"] = types.Name("XObject")
	sd.Dict["Subtype"] = types.Name("Form")
	sd.Dict["BBox"] = inh.MediaBox.Array()
	if res, found := pageDict.Find("Resources"); found {
		sd.Dict["Resources"] = res
	} else if inh.Resources != nil {
		sd.Dict["Resources"] = inh.Resources
	}
	if err := sd.Encode(); err != nil {
		return nil, fmt.Errorf("failed to encode form stream: %w", err)
	}
	return ctx.IndRefForNewObject(*sd)
}
