package document

import (
	"bytes"
	"fmt"
	"io"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// Export serializes a document into one PDF. A single page is returned as a
// copy of its payload; anything longer is merged and optimized by pdfcpu.
func Export(doc *Document) ([]byte, error) {
	if doc == nil || doc.PageCount() == 0 {
		return nil, ErrNoPages
	}
	if doc.PageCount() == 1 {
		return bytes.Clone(doc.pages[0].data), nil
	}

	merged, err := mergePages(doc.pages)
	if err != nil {
		return nil, err
	}
	var out bytes.Buffer
	if err := api.Optimize(bytes.NewReader(merged), &out, Configuration()); err != nil {
		return nil, fmt.Errorf("failed to optimize merged PDF: %w", err)
	}
	return out.Bytes(), nil
}

func mergePages(pages []*Page) ([]byte, error) {
	if len(pages) == 1 {
		return pages[0].data, nil
	}
	readers := make([]io.ReadSeeker, len(pages))
	for i, p := range pages {
		readers[i] = bytes.NewReader(p.data)
	}
	var out bytes.Buffer
	if err := api.MergeRaw(readers, &out, false, Configuration()); err != nil {
		return nil, fmt.Errorf("failed to merge pages: %w", err)
	}
	return out.Bytes(), nil
}
