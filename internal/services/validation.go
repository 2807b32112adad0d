package services

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/Lllllllleong/sheetflow/internal/pipeline"
)

var (
	ErrNotPDF        = errors.New("input is not a PDF")
	ErrFileTooLarge  = errors.New("file too large")
	ErrTotalTooLarge = errors.New("total size too large")

	// ErrInvalidRequest marks options that could never succeed.
	ErrInvalidRequest = errors.New("invalid request")
)

// IsClientError reports whether err was caused by the request or its inputs
// rather than by the service.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrInvalidRequest,
		ErrNotPDF,
		ErrFileTooLarge,
		ErrTotalTooLarge,
		pipeline.ErrMalformedDocument,
		pipeline.ErrEmptyInput,
		pipeline.ErrWouldEmptyDocument,
		pipeline.ErrInvalidLayout,
		pipeline.ErrSourcePageTooLarge,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// formatFileSize renders a byte count the way the upload form shows it,
// e.g. "0 Bytes", "512 Bytes", "1.5 MB".
func formatFileSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	const k = 1024
	sizes := []string{"Bytes", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(k)))
	i = min(i, len(sizes)-1)
	v := math.Round(float64(n)/math.Pow(k, float64(i))*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + sizes[i]
}

// namedInput is one downloaded input with the name shown in errors.
type namedInput struct {
	Name string
	Data []byte
}

// validateInputs enforces the per-file and total size limits and rejects
// anything without a PDF header, before any parsing happens.
func validateInputs(inputs []namedInput, maxFileSize, maxTotalSize int64) error {
	var total int64
	for _, in := range inputs {
		size := int64(len(in.Data))
		if maxFileSize > 0 && size > maxFileSize {
			return fmt.Errorf("%w: file %q is too large (%s). Maximum allowed: %s",
				ErrFileTooLarge, in.Name, formatFileSize(size), formatFileSize(maxFileSize))
		}
		total += size
	}
	if maxTotalSize > 0 && total > maxTotalSize {
		return fmt.Errorf("%w: total file size would exceed limit (%s). Maximum allowed: %s",
			ErrTotalTooLarge, formatFileSize(total), formatFileSize(maxTotalSize))
	}
	for _, in := range inputs {
		if !isPDF(in.Data) {
			return fmt.Errorf("%w: %q does not start with a %%PDF- header", ErrNotPDF, in.Name)
		}
	}
	return nil
}

func isPDF(data []byte) bool {
	head := data[:min(len(data), 1024)]
	return bytes.Contains(head, []byte("%PDF-"))
}
