package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/Lllllllleong/sheetflow/internal/document"
	"github.com/Lllllllleong/sheetflow/internal/raster"
	"golang.org/x/sync/errgroup"
)

// InvertDocument rasterizes every page at opts.Scale, inverts its colors
// and embeds the bitmap in a new page of the original size. Pages are
// processed in parallel and reassembled in input order.
//
// A page that fails to render is replaced with a white page unless
// opts.Strict is set. If ctx ends first, no document is returned and the
// error wraps ErrCancelled.
func InvertDocument(ctx context.Context, doc *document.Document, opts Options) (*document.Document, error) {
	if doc == nil {
		return nil, ErrEmptyInput
	}
	opts = opts.withDefaults()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}
	logCtx := opts.Logger.With("stage", string(StageColor), "pages", doc.PageCount())

	pages := doc.Pages()
	out := make([]*document.Page, len(pages))

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(opts.Workers)
	for i, p := range pages {
		if gctx.Err() != nil {
			break
		}
		eg.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			inverted, err := invertPage(p, opts)
			if err == nil {
				out[i] = inverted
				return nil
			}
			if opts.Strict || !errors.Is(err, ErrRenderFailed) {
				return &StageError{Stage: StageColor, Page: i + 1, Err: err}
			}

			logCtx.Warn("Page could not be rendered, substituting a blank page.", "page", i+1, "error", err)
			blank, berr := document.NewBlankPage(p.Size())
			if berr != nil {
				return &StageError{Stage: StageColor, Page: i + 1, Err: berr}
			}
			out[i] = blank
			return nil
		})
	}
	err := eg.Wait()

	// Cancellation wins over any page error raised while shutting down.
	if ctx.Err() != nil {
		logCtx.Warn("Invert stage cancelled.", "error", ctx.Err())
		return nil, &StageError{Stage: StageColor, Err: fmt.Errorf("%w: %v", ErrCancelled, ctx.Err())}
	}
	if err != nil {
		return nil, err
	}
	return document.New(out...)
}

func invertPage(p *document.Page, opts Options) (*document.Page, error) {
	img, err := raster.Rasterize(p, opts.Scale)
	if err != nil {
		return nil, err
	}
	raster.InvertInPlace(img)
	return document.NewImagePage(p.Size(), img, opts.Encoding, opts.JPEGQuality)
}
