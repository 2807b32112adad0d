package pipeline

import (
	"log/slog"
	"runtime"
	"time"

	"github.com/Lllllllleong/sheetflow/internal/document"
	"github.com/Lllllllleong/sheetflow/internal/raster"
)

// Options configures a Pipeline and InvertDocument. Zero values are
// replaced with defaults by withDefaults.
type Options struct {
	Scale          float64
	ThumbnailScale float64
	Workers        int
	// Timeout bounds the invert stage. Zero means no limit.
	Timeout time.Duration
	// Strict aborts the invert stage on the first page that fails to
	// render instead of substituting a blank page.
	Strict      bool
	Encoding    document.ImageEncoding
	JPEGQuality int
	Logger      *slog.Logger
	Now         func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Scale <= 0 {
		o.Scale = raster.PrintScale
	}
	if o.ThumbnailScale <= 0 {
		o.ThumbnailScale = raster.ThumbnailScale
	}
	if o.Workers <= 0 {
		o.Workers = runtime.NumCPU()
	}
	if o.JPEGQuality <= 0 || o.JPEGQuality > 100 {
		o.JPEGQuality = 90
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}
