package pipeline

import (
	"github.com/Lllllllleong/sheetflow/internal/document"
)

// Cull returns doc without the pages at the given 0-based indices.
// Indices out of range and duplicates are ignored.
func Cull(doc *document.Document, indices []int) (*document.Document, error) {
	if doc == nil {
		return nil, ErrEmptyInput
	}
	remove := make(map[int]bool, len(indices))
	for _, i := range indices {
		if i >= 0 && i < doc.PageCount() {
			remove[i] = true
		}
	}
	if len(remove) == doc.PageCount() {
		return nil, ErrWouldEmptyDocument
	}

	kept := make([]*document.Page, 0, doc.PageCount()-len(remove))
	for i, p := range doc.Pages() {
		if !remove[i] {
			kept = append(kept, p)
		}
	}
	return document.New(kept...)
}

// PageNumbersToIndices converts 1-based page numbers to 0-based indices.
func PageNumbersToIndices(numbers []int) []int {
	out := make([]int, len(numbers))
	for i, n := range numbers {
		out[i] = n - 1
	}
	return out
}
