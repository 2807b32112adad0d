package services

import (
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/Lllllllleong/sheetflow/internal/document"
	"github.com/Lllllllleong/sheetflow/internal/gcp"
	"github.com/Lllllllleong/sheetflow/internal/pipeline"
	"github.com/Lllllllleong/sheetflow/internal/raster"
)

// ConverterConfig holds all configuration shared by the conversion services.
type ConverterConfig struct {
	ProjectID      string
	OutputBucket   string
	CollectionName string

	RenderScale    float64
	ThumbnailScale float64
	Workers        int
	JobTimeout     time.Duration
	StrictRender   bool
	Encoding       document.ImageEncoding
	JPEGQuality    int

	MaxFileSize  int64
	MaxTotalSize int64

	DefaultColorMode pipeline.ColorMode
	DefaultLayout    pipeline.LayoutSpec
}

// loadConverterConfig loads and validates all environment variables.
func loadConverterConfig() (*ConverterConfig, error) {
	cfg := &ConverterConfig{
		ProjectID:      gcp.GetEnv("PROJECT_ID", ""),
		OutputBucket:   gcp.GetEnv("OUTPUT_BUCKET", ""),
		CollectionName: gcp.GetEnv("FIRESTORE_COLLECTION", "conversions"),
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	if cfg.OutputBucket == "" {
		return nil, fmt.Errorf("OUTPUT_BUCKET environment variable must be set")
	}

	var err error
	if cfg.RenderScale, err = gcp.GetEnvFloat("RENDER_SCALE", raster.PrintScale); err != nil {
		return nil, err
	}
	if cfg.ThumbnailScale, err = gcp.GetEnvFloat("THUMBNAIL_SCALE", raster.ThumbnailScale); err != nil {
		return nil, err
	}
	if cfg.RenderScale <= 0 || cfg.ThumbnailScale <= 0 {
		return nil, fmt.Errorf("RENDER_SCALE and THUMBNAIL_SCALE must be positive")
	}
	if cfg.Workers, err = gcp.GetEnvInt("RENDER_WORKERS", runtime.NumCPU()); err != nil {
		return nil, err
	}
	if cfg.JobTimeout, err = gcp.GetEnvDuration("JOB_TIMEOUT", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.StrictRender, err = gcp.GetEnvBool("STRICT_RENDER", false); err != nil {
		return nil, err
	}
	if cfg.Encoding, err = document.ParseImageEncoding(gcp.GetEnv("RASTER_ENCODING", "flate")); err != nil {
		return nil, fmt.Errorf("RASTER_ENCODING: %w", err)
	}
	if cfg.JPEGQuality, err = gcp.GetEnvInt("JPEG_QUALITY", 90); err != nil {
		return nil, err
	}
	if cfg.MaxFileSize, err = gcp.GetEnvInt64("MAX_FILE_SIZE", 50<<20); err != nil {
		return nil, err
	}
	if cfg.MaxTotalSize, err = gcp.GetEnvInt64("MAX_TOTAL_SIZE", 200<<20); err != nil {
		return nil, err
	}

	if cfg.DefaultColorMode, err = pipeline.ParseColorMode(gcp.GetEnv("DEFAULT_COLOR_MODE", "invert")); err != nil {
		return nil, fmt.Errorf("DEFAULT_COLOR_MODE: %w", err)
	}
	perSheet, err := gcp.GetEnvInt("DEFAULT_PAGES_PER_SHEET", 1)
	if err != nil {
		return nil, err
	}
	cfg.DefaultLayout, err = parseLayout(perSheet, gcp.GetEnv("DEFAULT_ALIGNMENT", "vertical"), gcp.GetEnv("DEFAULT_ORIENTATION", "portrait"))
	if err != nil {
		return nil, fmt.Errorf("default layout: %w", err)
	}
	return cfg, nil
}

func parseLayout(perSheet int, alignment, orientation string) (pipeline.LayoutSpec, error) {
	a, err := pipeline.ParseAlignment(alignment)
	if err != nil {
		return pipeline.LayoutSpec{}, err
	}
	o, err := pipeline.ParseOrientation(orientation)
	if err != nil {
		return pipeline.LayoutSpec{}, err
	}
	l := pipeline.LayoutSpec{PagesPerSheet: perSheet, Alignment: a, Orientation: o}
	if err := l.Validate(); err != nil {
		return pipeline.LayoutSpec{}, err
	}
	return l, nil
}

// pipelineOptions maps the configuration onto pipeline options.
func (c *ConverterConfig) pipelineOptions(logger *slog.Logger, strict bool) pipeline.Options {
	return pipeline.Options{
		Scale:          c.RenderScale,
		ThumbnailScale: c.ThumbnailScale,
		Workers:        c.Workers,
		Timeout:        c.JobTimeout,
		Strict:         c.StrictRender || strict,
		Encoding:       c.Encoding,
		JPEGQuality:    c.JPEGQuality,
		Logger:         logger,
	}
}
