// Package ocr renders invoice documents to raster pages and recognizes text
// on them. Engine choice is explicit configuration: the local tesseract
// engine feeds the text extraction path, while "vision" skips this package's
// recognition entirely and lets the model read the page image directly.
package ocr

import (
	"context"
	"time"
)

// Result is the output of one recognition pass
type Result struct {
	Text       string
	Confidence float64 // 0-100 mean word confidence
	Elapsed    time.Duration
}

// Engine recognizes text on a rendered page
type Engine interface {
	Recognize(ctx context.Context, page []byte) (*Result, error)
}

// PassthroughEngine performs no local recognition. It reports zero
// confidence so the extraction stage always reads the page image with
// the vision model instead of OCR text.
type PassthroughEngine struct{}

func NewPassthroughEngine() *PassthroughEngine {
	return &PassthroughEngine{}
}

func (*PassthroughEngine) Recognize(_ context.Context, _ []byte) (*Result, error) {
	return &Result{}, nil
}
