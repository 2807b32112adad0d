package pipeline

import (
	"fmt"

	"github.com/Lllllllleong/sheetflow/internal/document"
)

// Merge concatenates the pages of docs in order. Page geometry is not
// touched. A single input yields a new Document over the same pages.
func Merge(docs ...*document.Document) (*document.Document, error) {
	if len(docs) == 0 {
		return nil, ErrEmptyInput
	}
	var pages []*document.Page
	for i, d := range docs {
		if d == nil {
			return nil, fmt.Errorf("%w: input %d is nil", ErrMalformedDocument, i+1)
		}
		pages = append(pages, d.Pages()...)
	}
	return document.New(pages...)
}

// MergeBytes parses every input and merges the results. Parsing happens
// before merging, so malformed input never reaches a later stage.
func MergeBytes(inputs ...[]byte) (*document.Document, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyInput
	}
	docs := make([]*document.Document, len(inputs))
	for i, in := range inputs {
		d, err := document.Load(in)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i+1, err)
		}
		docs[i] = d
	}
	return Merge(docs...)
}
