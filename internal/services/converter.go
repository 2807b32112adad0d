package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/sheetflow/internal/gcp"
	"github.com/Lllllllleong/sheetflow/internal/models"
	"github.com/Lllllllleong/sheetflow/internal/pipeline"
	"golang.org/x/sync/errgroup"
)

// ConverterFunction runs the merge/color/cull/compose pipeline for one
// request and stores the result in the output bucket.
type ConverterFunction struct {
	storageClient   *storage.Client
	firestoreClient *firestore.Client
	config          ConverterConfig
}

// NewConverter creates a new ConverterFunction instance. Called by main.go.
func NewConverter(ctx context.Context) (*ConverterFunction, error) {
	config, err := loadConverterConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	firestoreClient, err := gcp.NewFirestoreClient(ctx, config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	storageClient, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Storage client: %w", err)
	}

	slog.Info("Converter logic initialized.",
		"outputBucket", config.OutputBucket,
		"renderScale", config.RenderScale,
		"workers", config.Workers,
		"encoding", config.Encoding.String())
	return &ConverterFunction{
		storageClient:   storageClient,
		firestoreClient: firestoreClient,
		config:          *config,
	}, nil
}

// conversionPlan is a request with defaults applied and values validated.
type conversionPlan struct {
	ColorMode   pipeline.ColorMode
	DeletePages []int // 1-based
	Layout      pipeline.LayoutSpec
	Strict      bool
}

func (f *ConverterFunction) plan(req *models.ConvertRequest) (conversionPlan, error) {
	p := conversionPlan{
		ColorMode:   f.config.DefaultColorMode,
		DeletePages: req.DeletePages,
		Layout:      f.config.DefaultLayout,
		Strict:      req.Strict,
	}
	if req.ColorMode != "" {
		mode, err := pipeline.ParseColorMode(req.ColorMode)
		if err != nil {
			return p, err
		}
		p.ColorMode = mode
	}
	if req.Layout != nil {
		layout, err := parseLayout(req.Layout.PagesPerSheet, req.Layout.Alignment, req.Layout.Orientation)
		if err != nil {
			return p, err
		}
		p.Layout = layout
	}
	return p, nil
}

// Process handles one conversion request end to end.
func (f *ConverterFunction) Process(ctx context.Context, req *models.ConvertRequest) (*models.ConvertResponse, error) {
	logCtx := slog.With("inputPrefix", req.InputPrefix)
	logCtx.Info("Processing conversion request.")

	plan, err := f.plan(req)
	if err != nil {
		logCtx.Error("Invalid conversion options", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	uris, err := f.resolveInputs(ctx, req)
	if err != nil {
		logCtx.Error("Failed to resolve inputs", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("inputCount", len(uris))

	inputs, err := f.downloadInputs(ctx, uris)
	if err != nil {
		logCtx.Error("Failed to download inputs", "error", err)
		return nil, err
	}
	if err := validateInputs(inputs, f.config.MaxFileSize, f.config.MaxTotalSize); err != nil {
		logCtx.Warn("Inputs rejected.", "error", err)
		return nil, err
	}

	requestHash, err := hashRequest(inputs, plan)
	if err != nil {
		return nil, fmt.Errorf("failed to hash request: %w", err)
	}
	logCtx = logCtx.With("requestHash", requestHash)

	if existing, found, err := f.findCompleted(ctx, requestHash); err != nil {
		logCtx.Error("Failed to check for duplicate", "error", err)
		return nil, err
	} else if found {
		logCtx.Info("Duplicate request detected. Returning previous output.", "existingJobId", existing.ID)
		return &models.ConvertResponse{
			Status:       "success",
			JobID:        existing.ID,
			OutputGCSUri: existing.job.OutputURI,
			Filename:     existing.filename,
			MIMEType:     pipeline.PDFMimeType,
			PageCount:    existing.job.OutputSheets,
			Duplicate:    true,
		}, nil
	}

	docRef, err := f.createJob(ctx, requestHash, uris, plan)
	if err != nil {
		logCtx.Error("Failed to create job document", "error", err)
		return nil, err
	}
	logCtx = logCtx.With("jobId", docRef.ID)
	logCtx.Info("Created job document in Firestore.")

	opts := f.config.pipelineOptions(logCtx, plan.Strict)
	export, stats, err := runConversion(ctx, opts, inputs, plan, func(status string) error {
		return f.updateStatus(ctx, docRef, status, "")
	})
	if err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "conversion failed", err)
	}

	objectName := fmt.Sprintf("%s/%s", docRef.ID, export.Filename)
	if err := f.uploadWithRetry(ctx, objectName, export.Data, export.MIMEType); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "failed to upload output", err)
	}
	outputURI := fmt.Sprintf("gs://%s/%s", f.config.OutputBucket, objectName)

	updates := gcp.JobUpdates(models.StatusCompleted, map[string]any{
		"outputUri":    outputURI,
		"inputPages":   stats.InputPages,
		"outputSheets": stats.OutputSheets,
		"completedAt":  time.Now(),
	})
	if _, err := docRef.Update(ctx, updates); err != nil {
		return nil, f.handleError(ctx, logCtx, docRef, "failed to record completion", err)
	}
	logCtx.Info("Conversion complete.", "outputUri", outputURI, "sheets", stats.OutputSheets)

	return &models.ConvertResponse{
		Status:       "success",
		JobID:        docRef.ID,
		OutputGCSUri: outputURI,
		Filename:     export.Filename,
		MIMEType:     export.MIMEType,
		PageCount:    stats.OutputSheets,
	}, nil
}

type conversionStats struct {
	InputPages   int
	OutputSheets int
}

// runConversion drives a Pipeline through every stage, reporting the job
// status before each one. It has no cloud dependencies.
func runConversion(ctx context.Context, opts pipeline.Options, inputs []namedInput, plan conversionPlan, onStatus func(string) error) (*pipeline.Export, conversionStats, error) {
	var stats conversionStats
	p := pipeline.New(opts)

	step := func(status string, run func() error) error {
		if err := onStatus(status); err != nil {
			return fmt.Errorf("failed to update status to %s: %w", status, err)
		}
		return run()
	}

	data := make([][]byte, len(inputs))
	for i, in := range inputs {
		data[i] = in.Data
	}
	if err := step(models.StatusMerging, func() error { return p.Merge(ctx, data...) }); err != nil {
		return nil, stats, err
	}
	stats.InputPages = p.Current().PageCount()

	if err := step(models.StatusRendering, func() error { return p.ChooseColor(ctx, plan.ColorMode) }); err != nil {
		return nil, stats, err
	}
	if err := step(models.StatusCulling, func() error { return p.Cull(pipeline.PageNumbersToIndices(plan.DeletePages)) }); err != nil {
		return nil, stats, err
	}
	if err := step(models.StatusComposing, func() error { return p.Compose(plan.Layout) }); err != nil {
		return nil, stats, err
	}
	stats.OutputSheets = p.Current().PageCount()

	var export *pipeline.Export
	err := step(models.StatusExporting, func() error {
		var err error
		export, err = p.Export()
		return err
	})
	if err != nil {
		return nil, stats, err
	}
	return export, stats, nil
}

func (f *ConverterFunction) resolveInputs(ctx context.Context, req *models.ConvertRequest) ([]string, error) {
	if len(req.InputURIs) > 0 {
		for _, uri := range req.InputURIs {
			if _, _, err := gcp.ParseGCSURI(uri); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
		}
		return req.InputURIs, nil
	}
	if req.InputPrefix == "" {
		return nil, pipeline.ErrEmptyInput
	}
	bucket, prefix, err := gcp.ParseGCSURI(req.InputPrefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	names, err := gcp.ListObjects(ctx, f.storageClient, bucket, prefix, ".pdf")
	if err != nil {
		return nil, err
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no PDFs under %s", pipeline.ErrEmptyInput, req.InputPrefix)
	}
	uris := make([]string, len(names))
	for i, n := range names {
		uris[i] = fmt.Sprintf("gs://%s/%s", bucket, n)
	}
	return uris, nil
}

// downloadInputs fetches every input concurrently; the result keeps the
// order of uris.
func (f *ConverterFunction) downloadInputs(ctx context.Context, uris []string) ([]namedInput, error) {
	inputs := make([]namedInput, len(uris))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(8)
	for i, uri := range uris {
		eg.Go(func() error {
			bucket, object, err := gcp.ParseGCSURI(uri)
			if err != nil {
				return err
			}
			data, err := gcp.ReadObject(gctx, f.storageClient, bucket, object, f.config.MaxFileSize)
			if err != nil {
				var tooLarge *gcp.TooLargeError
				if errors.As(err, &tooLarge) {
					return fmt.Errorf("%w: file %q is too large (%s). Maximum allowed: %s",
						ErrFileTooLarge, object, formatFileSize(tooLarge.Size), formatFileSize(tooLarge.Limit))
				}
				return fmt.Errorf("input %d: %w", i+1, err)
			}
			inputs[i] = namedInput{Name: object, Data: data}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return inputs, nil
}

// hashRequest identifies a request by its input bytes and options, so
// retried deliveries of the same request reuse the first output.
func hashRequest(inputs []namedInput, plan conversionPlan) (string, error) {
	h := sha256.New()
	for _, in := range inputs {
		sum := sha256.Sum256(in.Data)
		h.Write(sum[:])
	}
	opts, err := json.Marshal(plan)
	if err != nil {
		return "", err
	}
	h.Write(opts)
	return hex.EncodeToString(h.Sum(nil)), nil
}

type completedJob struct {
	ID       string
	job      models.ConversionJob
	filename string
}

func (f *ConverterFunction) findCompleted(ctx context.Context, requestHash string) (completedJob, bool, error) {
	docs, err := f.firestoreClient.Collection(f.config.CollectionName).
		Where("requestHash", "==", requestHash).
		Where("status", "==", models.StatusCompleted).
		Limit(1).Documents(ctx).GetAll()
	if err != nil {
		return completedJob{}, false, fmt.Errorf("failed to query for duplicates: %w", err)
	}
	if len(docs) == 0 {
		return completedJob{}, false, nil
	}
	var job models.ConversionJob
	if err := docs[0].DataTo(&job); err != nil {
		return completedJob{}, false, fmt.Errorf("failed to decode job %s: %w", docs[0].Ref.ID, err)
	}
	return completedJob{ID: docs[0].Ref.ID, job: job, filename: path.Base(job.OutputURI)}, true, nil
}

func (f *ConverterFunction) createJob(ctx context.Context, requestHash string, uris []string, plan conversionPlan) (*firestore.DocumentRef, error) {
	job := models.ConversionJob{
		RequestHash:  requestHash,
		InputURIs:    uris,
		Status:       models.StatusValidating,
		ColorMode:    string(plan.ColorMode),
		RemovedPages: plan.DeletePages,
		Layout:       plan.Layout.String(),
		CreatedAt:    time.Now(),
	}
	docRef, _, err := f.firestoreClient.Collection(f.config.CollectionName).Add(ctx, job)
	if err != nil {
		return nil, fmt.Errorf("failed to create job document: %w", err)
	}
	return docRef, nil
}

// handleError logs the failure, records it on the job and returns it. Stage
// failures keep their stage name and page number.
func (f *ConverterFunction) handleError(ctx context.Context, logCtx *slog.Logger, docRef *firestore.DocumentRef, message string, originalErr error) error {
	fullError := fmt.Sprintf("%s: %v", message, originalErr)
	logCtx.Error(message, "error", originalErr)

	fields := map[string]any{"errorDetails": fullError}
	var se *pipeline.StageError
	if errors.As(originalErr, &se) {
		fields["failedStage"] = string(se.Stage)
		if se.Page > 0 {
			fields["failedPage"] = se.Page
		}
	}
	if _, err := docRef.Update(ctx, gcp.JobUpdates(models.StatusFailed, fields)); err != nil {
		logCtx.Error("CRITICAL: Failed to update Firestore status to FAILED after a processing error.", "updateError", err)
	}
	return fmt.Errorf("%s: %w", message, originalErr)
}

func (f *ConverterFunction) updateStatus(ctx context.Context, docRef *firestore.DocumentRef, status, errDetails string) error {
	fields := map[string]any{}
	if errDetails != "" {
		fields["errorDetails"] = errDetails
	}
	_, err := docRef.Update(ctx, gcp.JobUpdates(status, fields))
	return err
}

func (f *ConverterFunction) uploadWithRetry(ctx context.Context, objectName string, data []byte, contentType string) error {
	bucket := f.storageClient.Bucket(f.config.OutputBucket)
	return retry(ctx, objectName, func(ctx context.Context) error {
		writeCtx, cancel := context.WithTimeout(ctx, 50*time.Second)
		defer cancel()
		return gcp.SaveToGCSAtomically(writeCtx, bucket, objectName, data, contentType)
	})
}

const maxRetries = 4

// initialBackoff is a variable so tests can shorten it.
var initialBackoff = 1 * time.Second

// retry runs fn until it succeeds, doubling the wait after every failure.
func retry(ctx context.Context, objectName string, fn func(context.Context) error) error {
	backoff := initialBackoff
	var lastErr error

	for i := 0; i < maxRetries; i++ {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err
		slog.Warn(
			"Upload failed, will retry.",
			"gcsObject", objectName,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			slog.Error("Context cancelled during backoff. Aborting retries.", "gcsObject", objectName, "error", ctx.Err())
			return ctx.Err()
		}
	}
	slog.Error("Upload failed after all retries.", "gcsObject", objectName, "error", lastErr)
	return fmt.Errorf("upload for %s failed after all retries: %w", objectName, lastErr)
}
