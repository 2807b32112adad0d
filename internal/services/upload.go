package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/sheetflow/internal/models"
)

// GCSEvent is the payload of a GCS object finalize event.
type GCSEvent struct {
	Bucket      string `json:"bucket"`
	Name        string `json:"name"`
	ContentType string `json:"contentType"`
	Size        string `json:"size"`
}

// ProcessUpload converts a newly uploaded PDF with the default options.
// Objects that are not PDFs, and objects written to the output bucket,
// are ignored.
func (f *ConverterFunction) ProcessUpload(ctx context.Context, e GCSEvent) error {
	logCtx := slog.With("gcsBucket", e.Bucket, "gcsObject", e.Name)

	if e.Bucket == f.config.OutputBucket {
		logCtx.Info("Object is in the output bucket. Skipping.")
		return nil
	}
	if !strings.HasSuffix(strings.ToLower(e.Name), ".pdf") && e.ContentType != "application/pdf" {
		logCtx.Info("Object is not a PDF. Skipping.", "contentType", e.ContentType)
		return nil
	}

	req := &models.ConvertRequest{
		InputURIs: []string{fmt.Sprintf("gs://%s/%s", e.Bucket, e.Name)},
	}
	res, err := f.Process(ctx, req)
	if err != nil {
		return err
	}
	logCtx.Info("Upload converted.", "jobId", res.JobID, "outputUri", res.OutputGCSUri, "duplicate", res.Duplicate)
	return nil
}
