// Package ingest turns uploaded documents into prompt-ready plain text.
package ingest

import (
	"context"
	"errors"
	"time"

	"github.com/joss/lumina/internal/logging"
)

// ErrNoText is returned when a document yields no usable text.
var ErrNoText = errors.New("PDF text extraction failed.")

// Extractor converts raw document bytes into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) (string, error)
}

// ExtractorFunc adapts a function to Extractor.
type ExtractorFunc func(ctx context.Context, data []byte) (string, error)

func (f ExtractorFunc) Extract(ctx context.Context, data []byte) (string, error) {
	return f(ctx, data)
}

// Document is the result of ingesting one upload. Chunks is always zero:
// the whole text travels with each chat request instead of being indexed.
type Document struct {
	Filename  string `json:"filename"`
	Text      string `json:"text"`
	Chunks    int    `json:"chunks"`
	Truncated bool   `json:"truncated"`
}

// Service runs extraction and normalization.
type Service struct {
	extractor Extractor
	registry  *Registry
	log       *logging.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithRegistry picks the extractor by filename when the extension is
// registered. Other files go to the default extractor.
func WithRegistry(r *Registry) ServiceOption {
	return func(s *Service) { s.registry = r }
}

// NewService creates a Service. A nil extractor selects PDFExtractor.
func NewService(ex Extractor, opts ...ServiceOption) *Service {
	if ex == nil {
		ex = PDFExtractor{}
	}
	s := &Service{extractor: ex, log: logging.New("ingest")}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) extractorFor(filename string) Extractor {
	if s.registry != nil {
		if ex, ok := s.registry.For(filename); ok {
			return ex
		}
	}
	return s.extractor
}

// Ingest extracts and normalizes data. Extraction errors are returned as-is
// so callers can surface the underlying message.
func (s *Service) Ingest(ctx context.Context, filename string, data []byte) (*Document, error) {
	start := time.Now()
	log := s.log.WithContext(ctx)

	raw, err := s.extractorFor(filename).Extract(ctx, data)
	if err != nil {
		log.TimedEvent("extract", start, map[string]any{"filename": filename, "bytes": len(data)}, err)
		return nil, err
	}
	text, truncated, err := Normalize(raw)
	if err != nil {
		log.TimedEvent("extract", start, map[string]any{"filename": filename, "bytes": len(data)}, err)
		return nil, err
	}

	log.TimedEvent("extract", start, map[string]any{
		"filename":  filename,
		"bytes":     len(data),
		"chars":     len([]rune(text)),
		"truncated": truncated,
	}, nil)
	return &Document{Filename: filename, Text: text, Truncated: truncated}, nil
}
