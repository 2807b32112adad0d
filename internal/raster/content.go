package raster

import (
	"bytes"
	"fmt"

	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"
	"seehuhn.de/go/pdf"
	"seehuhn.de/go/pdf/graphics/scanner"
)

// execute runs a content stream against the given resource dictionary.
func (r *renderer) execute(content []byte, res types.Dict) error {
	s := scanner.NewScanner()
	err := s.Scan(bytes.NewReader(maskInlineImages(content)))(func(op string, args []pdf.Object) error {
		return r.do(op, args, res)
	})
	if err != nil {
		return fmt.Errorf("content stream: %w", err)
	}
	return nil
}

// maskInlineImages blanks every BI ... ID <data> EI sequence. Inline image
// data is binary and is not drawn.
func maskInlineImages(content []byte) []byte {
	if !bytes.Contains(content, []byte("BI")) {
		return content
	}
	out := bytes.Clone(content)
	for i := 0; i < len(out); {
		start, end := nextToken(out, i)
		if start < 0 {
			break
		}
		if string(out[start:end]) == "BI" {
			end = inlineImageEnd(out, end)
			for k := start; k < end; k++ {
				out[k] = ' '
			}
		}
		i = end
	}
	return out
}

// inlineImageEnd returns the offset just past the EI that closes an inline
// image whose dictionary starts at from, or len(b) if there is none.
func inlineImageEnd(b []byte, from int) int {
	i := from
	for {
		start, end := nextToken(b, i)
		if start < 0 {
			return len(b)
		}
		i = end
		if string(b[start:end]) == "ID" {
			break
		}
	}
	i++ // single white-space byte after ID
	for ; i+1 < len(b); i++ {
		if b[i] == 'E' && b[i+1] == 'I' && isSpace(b[i-1]) &&
			(i+2 == len(b) || isSpace(b[i+2]) || isDelimiter(b[i+2])) {
			return i + 2
		}
	}
	return len(b)
}

// nextToken finds the next run of regular characters at or after i,
// stepping over comments, names, strings and hex strings. It returns -1 when the
// input is exhausted.
func nextToken(b []byte, i int) (int, int) {
	for i < len(b) {
		switch c := b[i]; {
		case c == '%':
			for i < len(b) && b[i] != '\n' && b[i] != '\r' {
				i++
			}
		case c == '(':
			i = skipLiteral(b, i)
		case c == '/':
			for i++; i < len(b) && isRegular(b[i]); i++ {
			}
		case c == '<' && i+1 < len(b) && b[i+1] == '<':
			i += 2
		case c == '<':
			for i < len(b) && b[i] != '>' {
				i++
			}
			i++
		case isRegular(c):
			j := i
			for j < len(b) && isRegular(b[j]) {
				j++
			}
			return i, j
		default:
			i++
		}
	}
	return -1, len(b)
}

func skipLiteral(b []byte, i int) int {
	depth := 0
	for ; i < len(b); i++ {
		switch b[i] {
		case '\\':
			i++
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i + 1
			}
		}
	}
	return len(b)
}

func isSpace(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ':
		return true
	}
	return false
}

func isDelimiter(c byte) bool {
	switch c {
	case '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return true
	}
	return false
}

func isRegular(c byte) bool {
	return !isSpace(c) && !isDelimiter(c)
}
