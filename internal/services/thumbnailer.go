package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/sheetflow/internal/gcp"
	"github.com/Lllllllleong/sheetflow/internal/models"
	"github.com/Lllllllleong/sheetflow/internal/pipeline"
)

// ThumbnailerFunction renders page previews for the page-deletion step.
type ThumbnailerFunction struct {
	storageClient *storage.Client
	config        ConverterConfig
}

// NewThumbnailer creates a new ThumbnailerFunction instance. Called by main.go.
func NewThumbnailer(ctx context.Context) (*ThumbnailerFunction, error) {
	config, err := loadConverterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}
	return &ThumbnailerFunction{storageClient: storageClient, config: *config}, nil
}

// Process renders one page of the input and stores it as a PNG.
func (f *ThumbnailerFunction) Process(ctx context.Context, req *models.ThumbnailRequest) (*models.ThumbnailResponse, error) {
	logCtx := slog.With("inputUri", req.InputURI, "pageNumber", req.PageNumber)

	bucket, object, err := gcp.ParseGCSURI(req.InputURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	data, err := gcp.ReadObject(ctx, f.storageClient, bucket, object, f.config.MaxFileSize)
	if err != nil {
		logCtx.Error("Failed to download input", "error", err)
		return nil, err
	}
	if err := validateInputs([]namedInput{{Name: object, Data: data}}, f.config.MaxFileSize, 0); err != nil {
		return nil, err
	}

	mode := pipeline.ColorKeep
	if req.ColorMode != "" {
		if mode, err = pipeline.ParseColorMode(req.ColorMode); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
		}
	}
	scale := req.Scale
	if scale <= 0 {
		scale = f.config.ThumbnailScale
	}

	image, pageCount, err := renderThumbnail(ctx, data, req.PageNumber, mode, scale, logCtx)
	if err != nil {
		logCtx.Error("Failed to render thumbnail", "error", err)
		return nil, err
	}

	sum := sha256.Sum256(data)
	objectName := fmt.Sprintf("thumbnails/%s/%05d-%s.png", hex.EncodeToString(sum[:8]), req.PageNumber, mode)
	if err := gcp.SaveToGCSAtomically(ctx, f.storageClient.Bucket(f.config.OutputBucket), objectName, image, "image/png"); err != nil {
		logCtx.Error("Failed to save thumbnail", "error", err)
		return nil, err
	}

	outputURI := fmt.Sprintf("gs://%s/%s", f.config.OutputBucket, objectName)
	logCtx.Info("Thumbnail saved.", "outputUri", outputURI)
	return &models.ThumbnailResponse{Status: "success", OutputGCSUri: outputURI, PageCount: pageCount}, nil
}

// renderThumbnail returns a PNG of the 1-based page of data. In invert mode
// the small bitmap is inverted directly instead of inverting the document.
func renderThumbnail(ctx context.Context, data []byte, pageNumber int, mode pipeline.ColorMode, scale float64, logger *slog.Logger) ([]byte, int, error) {
	p := pipeline.New(pipeline.Options{ThumbnailScale: scale, Logger: logger})
	if err := p.Merge(ctx, data); err != nil {
		return nil, 0, err
	}
	count := p.Current().PageCount()
	index := pageNumber - 1
	if index < 0 || index >= count {
		return nil, count, fmt.Errorf("%w: page %d out of range, document has %d pages", ErrInvalidRequest, pageNumber, count)
	}
	img, err := p.PreviewThumbnail(ctx, index, mode)
	return img, count, err
}
