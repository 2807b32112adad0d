package pipeline

import (
	"fmt"
	"math"
	"strings"

	"github.com/Lllllllleong/sheetflow/internal/document"
)

type Alignment string

const (
	AlignVertical   Alignment = "vertical"
	AlignHorizontal Alignment = "horizontal"
)

type Orientation string

const (
	Portrait  Orientation = "portrait"
	Landscape Orientation = "landscape"
)

// A4 is the reference sheet size in portrait orientation.
var A4 = document.Size{Width: 595.28, Height: 841.89}

// MarginFactor shrinks every placed page so a gutter stays visible.
const MarginFactor = 0.95

// LayoutSpec describes how source pages are arranged on output sheets.
// Alignment only matters when PagesPerSheet is 2.
type LayoutSpec struct {
	PagesPerSheet int         `json:"pagesPerSheet"`
	Alignment     Alignment   `json:"alignment"`
	Orientation   Orientation `json:"orientation"`
}

// DefaultLayout places one page per portrait sheet, which is the identity layout.
func DefaultLayout() LayoutSpec {
	return LayoutSpec{PagesPerSheet: 1, Alignment: AlignVertical, Orientation: Portrait}
}

func ParseAlignment(s string) (Alignment, error) {
	switch a := Alignment(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return AlignVertical, nil
	case AlignVertical, AlignHorizontal:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown alignment %q", ErrInvalidLayout, s)
}

func ParseOrientation(s string) (Orientation, error) {
	switch o := Orientation(strings.ToLower(strings.TrimSpace(s))); o {
	case "":
		return Portrait, nil
	case Portrait, Landscape:
		return o, nil
	}
	return "", fmt.Errorf("%w: unknown orientation %q", ErrInvalidLayout, s)
}

// Validate reports whether l names a supported layout.
func (l LayoutSpec) Validate() error {
	if l.PagesPerSheet < 1 || l.PagesPerSheet > 4 {
		return fmt.Errorf("%w: %d pages per sheet (want 1 to 4)", ErrInvalidLayout, l.PagesPerSheet)
	}
	switch l.Alignment {
	case AlignVertical, AlignHorizontal:
	default:
		return fmt.Errorf("%w: unknown alignment %q", ErrInvalidLayout, l.Alignment)
	}
	switch l.Orientation {
	case Portrait, Landscape:
	default:
		return fmt.Errorf("%w: unknown orientation %q", ErrInvalidLayout, l.Orientation)
	}
	return nil
}

// Grid returns the number of rows and columns on each sheet.
func (l LayoutSpec) Grid() (rows, cols int) {
	switch l.PagesPerSheet {
	case 2:
		if l.Alignment == AlignHorizontal {
			return 1, 2
		}
		return 2, 1
	case 3:
		return 3, 1
	case 4:
		return 2, 2
	}
	return 1, 1
}

// SheetSize returns A4 oriented per the layout.
func (l LayoutSpec) SheetSize() document.Size {
	if l.Orientation == Landscape {
		return A4.Landscape()
	}
	return A4
}

// IsIdentity reports whether composing with l would only copy pages.
func (l LayoutSpec) IsIdentity() bool {
	return l.PagesPerSheet == 1 && l.Orientation == Portrait
}

func (l LayoutSpec) String() string {
	if l.PagesPerSheet == 2 {
		return fmt.Sprintf("%d-up %s %s", l.PagesPerSheet, l.Alignment, l.Orientation)
	}
	return fmt.Sprintf("%d-up %s", l.PagesPerSheet, l.Orientation)
}

// PlaceInCell fits src into the cell at row, col of a sheet divided into
// rows by cols cells. The page is scaled by MarginFactor of the largest
// uniform fit and centered. Row 0 is the top row; the returned X, Y are the
// lower-left corner in PDF coordinates.
func PlaceInCell(sheet, src document.Size, rows, cols, row, col int) (x, y, scale float64) {
	cw := sheet.Width / float64(cols)
	ch := sheet.Height / float64(rows)
	scale = math.Min(cw/src.Width, ch/src.Height) * MarginFactor
	sw, sh := src.Width*scale, src.Height*scale
	x = float64(col)*cw + (cw-sw)/2
	y = sheet.Height - float64(row+1)*ch + (ch-sh)/2
	return x, y, scale
}
