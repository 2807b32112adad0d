package pipeline

import (
	"errors"
	"fmt"

	"github.com/Lllllllleong/sheetflow/internal/document"
	"github.com/Lllllllleong/sheetflow/internal/raster"
)

var (
	ErrMalformedDocument  = document.ErrMalformed
	ErrEmptyInput         = errors.New("no input documents")
	ErrRenderFailed       = raster.ErrRender
	ErrWouldEmptyDocument = errors.New("removing the selected pages would leave the document empty")
	ErrInvalidLayout      = errors.New("invalid layout")
	ErrSourcePageTooLarge = errors.New("source page has a degenerate size")
	ErrCancelled          = errors.New("job cancelled")

	ErrStageOrder     = errors.New("stage called out of order")
	ErrPipelineClosed = errors.New("pipeline already exported")
)

// Stage names a pipeline step in user-visible errors and job records.
type Stage string

const (
	StageMerge   Stage = "merge"
	StageColor   Stage = "color"
	StageCull    Stage = "cull"
	StageCompose Stage = "compose"
	StageExport  Stage = "export"
)

// StageError reports which stage failed and, for page-level failures, the
// 1-based page number.
type StageError struct {
	Stage Stage
	Page  int
	Err   error
}

func (e *StageError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("%s stage failed on page %d: %v", e.Stage, e.Page, e.Err)
	}
	return fmt.Sprintf("%s stage failed: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// stageErr wraps err for stage unless it already carries stage details.
func stageErr(stage Stage, err error) error {
	if err == nil {
		return nil
	}
	var se *StageError
	if errors.As(err, &se) {
		if se.Stage == stage {
			return err
		}
		return &StageError{Stage: stage, Page: se.Page, Err: se.Err}
	}
	return &StageError{Stage: stage, Err: err}
}
