package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// Registry selects an extractor by file extension.
type Registry struct {
	extractors map[string]Extractor
}

// NewRegistry creates a registry with the built-in extractors: PDF, and
// plain text for .txt and .md files.
func NewRegistry() *Registry {
	r := &Registry{extractors: make(map[string]Extractor)}
	r.Register(PDFExtractor{}, ".pdf")
	r.Register(TextExtractor{}, ".txt", ".md")
	return r
}

// Register maps extensions to an extractor. Extensions are matched
// case-insensitively and include the leading dot.
func (r *Registry) Register(ex Extractor, exts ...string) {
	for _, ext := range exts {
		r.extractors[strings.ToLower(ext)] = ex
	}
}

// For returns the extractor registered for filename's extension.
func (r *Registry) For(filename string) (Extractor, bool) {
	ex, ok := r.extractors[strings.ToLower(filepath.Ext(filename))]
	return ex, ok
}

// CanExtract reports whether filename has a registered extension.
func (r *Registry) CanExtract(filename string) bool {
	_, ok := r.For(filename)
	return ok
}

// Extensions lists the registered extensions.
func (r *Registry) Extensions() []string {
	exts := make([]string, 0, len(r.extractors))
	for ext := range r.extractors {
		exts = append(exts, ext)
	}
	return exts
}

// ErrNotUTF8 is returned by TextExtractor for binary input.
var ErrNotUTF8 = errors.New("file is not valid UTF-8 text")

// TextExtractor accepts UTF-8 text as-is.
type TextExtractor struct{}

func (TextExtractor) Extract(ctx context.Context, data []byte) (string, error) {
	if !utf8.Valid(data) {
		return "", ErrNotUTF8
	}
	return string(data), nil
}
