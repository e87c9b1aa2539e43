package ocr

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fakturo/invoice-pipeline/internal/apperrors"
	"github.com/otiai10/gosseract/v2"
	"go.uber.org/zap"
)

// TesseractConfig holds the local engine's tuning knobs
type TesseractConfig struct {
	Languages   []string
	PageSegMode int
	EngineMode  int
	Timeout     time.Duration
}

// TesseractEngine runs the local tesseract engine against a rendered page.
// Each Recognize call uses a fresh client; gosseract clients are not safe for
// concurrent use across jobs.
type TesseractEngine struct {
	cfg    TesseractConfig
	logger *zap.Logger
}

// NewTesseractEngine creates a local OCR engine
func NewTesseractEngine(cfg TesseractConfig, logger *zap.Logger) *TesseractEngine {
	return &TesseractEngine{
		cfg:    cfg,
		logger: logger,
	}
}

// Recognize implements Engine. The engine runs in a goroutine so the stage
// timeout holds even when tesseract stalls on a degenerate page.
func (e *TesseractEngine) Recognize(ctx context.Context, page []byte) (*Result, error) {
	start := time.Now()

	if e.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
		defer cancel()
	}

	type recognition struct {
		result *Result
		err    error
	}
	done := make(chan recognition, 1)

	go func() {
		res, err := e.recognize(page, start)
		done <- recognition{result: res, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, apperrors.NewExternalServiceError("tesseract", time.Since(start), ctx.Err())
	case rec := <-done:
		if rec.err != nil {
			return nil, apperrors.NewExternalServiceError("tesseract", time.Since(start), rec.err)
		}
		return rec.result, nil
	}
}

func (e *TesseractEngine) recognize(page []byte, start time.Time) (*Result, error) {
	client := gosseract.NewClient()
	defer client.Close()

	if len(e.cfg.Languages) > 0 {
		if err := client.SetLanguage(e.cfg.Languages...); err != nil {
			return nil, fmt.Errorf("failed to set languages: %w", err)
		}
	}
	if err := client.SetPageSegMode(gosseract.PageSegMode(e.cfg.PageSegMode)); err != nil {
		return nil, fmt.Errorf("failed to set page segmentation mode: %w", err)
	}
	if err := client.SetVariable("tessedit_ocr_engine_mode", strconv.Itoa(e.cfg.EngineMode)); err != nil {
		return nil, fmt.Errorf("failed to set engine mode: %w", err)
	}

	if err := client.SetImageFromBytes(page); err != nil {
		return nil, fmt.Errorf("failed to load page: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return nil, fmt.Errorf("recognition failed: %w", err)
	}

	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("page produced no text")
	}

	confidence := e.meanConfidence(client)

	e.logger.Debug("OCR completed",
		zap.Int("text_length", len(text)),
		zap.Float64("confidence", confidence),
		zap.Duration("elapsed", time.Since(start)))

	return &Result{
		Text:       text,
		Confidence: confidence,
		Elapsed:    time.Since(start),
	}, nil
}

// meanConfidence averages per-word confidences. A page where boxes cannot be
// read reports zero, which routes the invoice into review downstream instead
// of failing the stage.
func (e *TesseractEngine) meanConfidence(client *gosseract.Client) float64 {
	boxes, err := client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err != nil || len(boxes) == 0 {
		return 0
	}

	var sum float64
	for _, box := range boxes {
		sum += box.Confidence
	}
	return sum / float64(len(boxes))
}
