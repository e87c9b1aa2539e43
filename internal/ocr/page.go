package ocr

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/go-fitz"
	"go.uber.org/zap"
)

const baseDPI = 72

// Renderer converts an invoice document into a single raster page. PDFs are
// rasterized to their first page; plain images are rescaled. The scale factor
// trades legibility against payload size, with 2.0 doubling native
// resolution.
type Renderer struct {
	scale  float64
	logger *zap.Logger
}

// NewRenderer creates a page renderer with the configured scale factor
func NewRenderer(scale float64, logger *zap.Logger) *Renderer {
	return &Renderer{
		scale:  scale,
		logger: logger,
	}
}

// RenderFirstPage produces a JPEG-encoded page for the document at path
func (r *Renderer) RenderFirstPage(path string) ([]byte, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("document not found: %s", path)
	}

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".pdf":
		return r.renderPDF(path)
	case ".jpg", ".jpeg", ".png":
		return r.renderImage(path)
	default:
		return nil, fmt.Errorf("unsupported file type: %s", ext)
	}
}

func (r *Renderer) renderPDF(path string) ([]byte, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer doc.Close()

	if doc.NumPage() == 0 {
		return nil, fmt.Errorf("PDF has no pages")
	}

	img, err := doc.ImageDPI(0, baseDPI*r.scale)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize PDF page: %w", err)
	}

	r.logger.Debug("Rasterized PDF page",
		zap.String("path", path),
		zap.Float64("scale", r.scale),
		zap.Int("width", img.Bounds().Dx()),
		zap.Int("height", img.Bounds().Dy()))

	return encodeJPEG(img)
}

func (r *Renderer) renderImage(path string) ([]byte, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("failed to open image: %w", err)
	}

	if r.scale != 1.0 {
		width := int(float64(img.Bounds().Dx()) * r.scale)
		img = imaging.Resize(img, width, 0, imaging.Lanczos)
	}

	return encodeJPEG(img)
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("failed to encode page: %w", err)
	}
	return buf.Bytes(), nil
}
