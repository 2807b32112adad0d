// Package pipeline sequences the document stages: merge, color choice,
// cull, N-up compose and export. Every stage is a pure function from an
// immutable document to a new one; Pipeline only holds references.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/sheetflow/internal/document"
	"github.com/Lllllllleong/sheetflow/internal/raster"
)

// State is the last stage a Pipeline completed.
type State int

const (
	StateEmpty State = iota
	StateMerged
	StateColorDecided
	StateCulled
	StateComposed
	StateExported
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateMerged:
		return "merged"
	case StateColorDecided:
		return "color-decided"
	case StateCulled:
		return "culled"
	case StateComposed:
		return "composed"
	case StateExported:
		return "exported"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

type ColorMode string

const (
	ColorKeep   ColorMode = "original"
	ColorInvert ColorMode = "invert"
)

// ParseColorMode accepts "original"/"keep" and "invert"/"inverted".
func ParseColorMode(s string) (ColorMode, error) {
	switch s {
	case "original", "keep":
		return ColorKeep, nil
	case "invert", "inverted":
		return ColorInvert, nil
	}
	return "", fmt.Errorf("unknown color mode %q", s)
}

const PDFMimeType = "application/pdf"

// Export is the final output handed to the download collaborator.
type Export struct {
	Data     []byte
	Filename string
	MIMEType string
}

// Pipeline drives one conversion job. It is not safe for concurrent use.
type Pipeline struct {
	opts  Options
	state State

	merged   *document.Document
	colored  *document.Document
	culled   *document.Document
	composed *document.Document

	color   ColorMode
	removed []int
	layout  LayoutSpec
}

func New(opts Options) *Pipeline {
	return &Pipeline{opts: opts.withDefaults()}
}

func (p *Pipeline) State() State { return p.state }

// Current returns the document of the last completed stage, or nil.
func (p *Pipeline) Current() *document.Document {
	switch p.state {
	case StateMerged:
		return p.merged
	case StateColorDecided:
		return p.colored
	case StateCulled:
		return p.culled
	case StateComposed:
		return p.composed
	}
	return nil
}

func (p *Pipeline) ColorMode() ColorMode { return p.color }

// Removed returns the 0-based indices passed to the last successful Cull.
func (p *Pipeline) Removed() []int { return append([]int(nil), p.removed...) }

func (p *Pipeline) Layout() LayoutSpec { return p.layout }

func (p *Pipeline) logger() *slog.Logger { return p.opts.Logger }

func (p *Pipeline) require(stage Stage, atLeast State) error {
	if p.state == StateExported {
		return &StageError{Stage: stage, Err: ErrPipelineClosed}
	}
	if p.state < atLeast {
		return &StageError{Stage: stage, Err: fmt.Errorf("%w: pipeline is %s", ErrStageOrder, p.state)}
	}
	return nil
}

// Merge parses inputs and merges them, discarding every later stage.
func (p *Pipeline) Merge(ctx context.Context, inputs ...[]byte) error {
	if err := p.require(StageMerge, StateEmpty); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return stageErr(StageMerge, fmt.Errorf("%w: %v", ErrCancelled, err))
	}
	doc, err := MergeBytes(inputs...)
	if err != nil {
		return stageErr(StageMerge, err)
	}
	p.merged, p.colored, p.culled, p.composed = doc, nil, nil, nil
	p.removed = nil
	p.state = StateMerged
	p.logger().Info("Inputs merged.", "inputs", len(inputs), "pages", doc.PageCount())
	return nil
}

// KeepOriginal passes the merged document through with its colors intact.
func (p *Pipeline) KeepOriginal(ctx context.Context) error {
	if err := p.require(StageColor, StateMerged); err != nil {
		return err
	}
	p.setColored(p.merged.Clone(), ColorKeep)
	return nil
}

// InvertColors rasterizes and inverts every merged page.
func (p *Pipeline) InvertColors(ctx context.Context) error {
	if err := p.require(StageColor, StateMerged); err != nil {
		return err
	}
	doc, err := InvertDocument(ctx, p.merged, p.opts)
	if err != nil {
		return stageErr(StageColor, err)
	}
	p.setColored(doc, ColorInvert)
	return nil
}

// ChooseColor dispatches to KeepOriginal or InvertColors.
func (p *Pipeline) ChooseColor(ctx context.Context, mode ColorMode) error {
	switch mode {
	case ColorKeep:
		return p.KeepOriginal(ctx)
	case ColorInvert:
		return p.InvertColors(ctx)
	}
	return &StageError{Stage: StageColor, Err: fmt.Errorf("unknown color mode %q", mode)}
}

func (p *Pipeline) setColored(doc *document.Document, mode ColorMode) {
	p.colored, p.culled, p.composed = doc, nil, nil
	p.color = mode
	p.removed = nil
	p.state = StateColorDecided
	p.logger().Info("Color mode applied.", "mode", string(mode), "pages", doc.PageCount())
}

// Cull removes the pages at the given 0-based indices of the color-decided
// document. An empty set is valid.
func (p *Pipeline) Cull(indices []int) error {
	if err := p.require(StageCull, StateColorDecided); err != nil {
		return err
	}
	doc := p.colored
	if len(indices) > 0 {
		var err error
		if doc, err = Cull(p.colored, indices); err != nil {
			return stageErr(StageCull, err)
		}
	}
	p.culled, p.composed = doc, nil
	p.removed = append([]int(nil), indices...)
	p.state = StateCulled
	p.logger().Info("Pages culled.", "removed", p.colored.PageCount()-doc.PageCount(), "pages", doc.PageCount())
	return nil
}

// Compose arranges the culled document on sheets per layout.
func (p *Pipeline) Compose(layout LayoutSpec) error {
	if err := p.require(StageCompose, StateCulled); err != nil {
		return err
	}
	doc, err := Compose(p.culled, layout)
	if err != nil {
		return stageErr(StageCompose, err)
	}
	p.composed = doc
	p.layout = layout
	p.state = StateComposed
	p.logger().Info("Sheets composed.", "layout", layout.String(), "sheets", doc.PageCount())
	return nil
}

// Export serializes the composed document. The pipeline is closed afterwards
// and its intermediate documents are released.
func (p *Pipeline) Export() (*Export, error) {
	if err := p.require(StageExport, StateComposed); err != nil {
		return nil, err
	}
	data, err := document.Export(p.composed)
	if err != nil {
		return nil, stageErr(StageExport, err)
	}
	p.merged, p.colored, p.culled, p.composed = nil, nil, nil, nil
	p.state = StateExported
	return &Export{
		Data:     data,
		Filename: fmt.Sprintf("converted-document-%d.pdf", p.opts.Now().UnixMilli()),
		MIMEType: PDFMimeType,
	}, nil
}

// Thumbnail renders page index (0-based) of the color-decided document,
// or of the merged document before a color was chosen, as a PNG.
func (p *Pipeline) Thumbnail(ctx context.Context, index int) ([]byte, error) {
	if p.state == StateExported {
		return nil, ErrPipelineClosed
	}
	doc := p.colored
	if doc == nil {
		doc = p.merged
	}
	return p.thumbnail(ctx, doc, index, false)
}

// PreviewThumbnail renders page index of the merged document as it would
// look under mode, without running the color stage on the whole document.
func (p *Pipeline) PreviewThumbnail(ctx context.Context, index int, mode ColorMode) ([]byte, error) {
	if p.state == StateExported {
		return nil, ErrPipelineClosed
	}
	return p.thumbnail(ctx, p.merged, index, mode == ColorInvert)
}

func (p *Pipeline) thumbnail(ctx context.Context, doc *document.Document, index int, invert bool) ([]byte, error) {
	if doc == nil {
		return nil, fmt.Errorf("%w: nothing merged yet", ErrStageOrder)
	}
	if index < 0 || index >= doc.PageCount() {
		return nil, fmt.Errorf("page index %d out of range [0, %d)", index, doc.PageCount())
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCancelled, err)
	}
	return raster.Thumbnail(doc.Page(index), p.opts.ThumbnailScale, invert)
}
