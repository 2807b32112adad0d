package pipeline

import (
	"fmt"

	"github.com/Lllllllleong/sheetflow/internal/document"
)

// Compose packs the pages of doc onto sheets per layout, filling cells
// row-major from the top-left. The last sheet may have empty cells.
//
// The identity layout (one page per portrait sheet) returns doc itself:
// nothing is re-rendered or copied.
func Compose(doc *document.Document, layout LayoutSpec) (*document.Document, error) {
	if doc == nil {
		return nil, ErrEmptyInput
	}
	if err := layout.Validate(); err != nil {
		return nil, err
	}
	for i, s := range doc.Sizes() {
		if s.Degenerate() {
			return nil, &StageError{Stage: StageCompose, Page: i + 1, Err: ErrSourcePageTooLarge}
		}
	}
	if layout.IsIdentity() {
		return doc, nil
	}

	rows, cols := layout.Grid()
	sheet := layout.SheetSize()
	pages := doc.Pages()
	per := layout.PagesPerSheet

	sheets := make([]*document.Page, 0, (len(pages)+per-1)/per)
	for start := 0; start < len(pages); start += per {
		chunk := pages[start:min(start+per, len(pages))]
		placements := make([]document.Placement, len(chunk))
		for i, p := range chunk {
			x, y, s := PlaceInCell(sheet, p.Size(), rows, cols, i/cols, i%cols)
			placements[i] = document.Placement{Page: p, X: x, Y: y, Scale: s}
		}
		sp, err := document.NewSheetPage(sheet, placements)
		if err != nil {
			return nil, &StageError{Stage: StageCompose, Page: start + 1, Err: fmt.Errorf("sheet %d: %w", len(sheets)+1, err)}
		}
		sheets = append(sheets, sp)
	}
	return document.New(sheets...)
}
