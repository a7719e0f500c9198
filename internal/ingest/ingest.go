// Package ingest validates incoming medical images and normalizes them onto
// the fixed canvas the detection model expects.
package ingest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"slices"

	"github.com/hoangtdhdhcn/mammo-ai-app/pkg/formatting"
)

// NormalizedImage is an accepted image ready for inference.
// Width and Height describe the original; Canvas is the letterboxed model input.
type NormalizedImage struct {
	Canvas      *image.RGBA `json:"-"`
	Format      Format      `json:"format"`
	ContentHash string      `json:"content_hash"`
	SizeBytes   int64       `json:"size_bytes"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	Transform   Transform   `json:"transform"`
	Quality     Quality     `json:"quality"`
	Enhanced    bool        `json:"enhanced"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// PNG encodes the canvas for transport to external detectors.
func (n *NormalizedImage) PNG() ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, n.Canvas); err != nil {
		return nil, fmt.Errorf("encode canvas: %w", err)
	}
	return buf.Bytes(), nil
}

// ToSource maps normalized canvas coordinates back onto the original image.
func (n *NormalizedImage) ToSource(x, y float64) (float64, float64) {
	return n.Transform.ToSource(x, y)
}

// Ingestor accepts raw image bytes and produces NormalizedImage values.
// It holds no mutable state and is safe for concurrent use.
type Ingestor struct {
	formats   []Format
	maxSize   int64
	maxPixels int64
	width     int
	height    int
	enhancer  Enhancer
	logger    *slog.Logger
}

// New creates an Ingestor from a finalized Config. A nil enhancer disables enhancement.
func New(cfg *Config, enhancer Enhancer, logger *slog.Logger) *Ingestor {
	formats := make([]Format, 0, len(cfg.Formats))
	for _, f := range cfg.Formats {
		if parsed, err := ParseFormat(f); err == nil {
			formats = append(formats, parsed)
		}
	}

	return &Ingestor{
		formats:   formats,
		maxSize:   cfg.MaxSizeBytes(),
		maxPixels: cfg.MaxPixels,
		width:     cfg.TargetWidth,
		height:    cfg.TargetHeight,
		enhancer:  enhancer,
		logger:    logger.With("system", "ingest"),
	}
}

// NewEnhancer builds the enhancer selected by cfg, or nil when disabled.
func NewEnhancer(cfg *Config) (Enhancer, error) {
	if !cfg.EnhanceEnabled() {
		return nil, nil
	}
	if cfg.Enhancer == "clahe" {
		return NewCLAHE()
	}
	return NewContrastStretch(), nil
}

// Hash returns the hex SHA-256 of raw.
func Hash(raw []byte) string {
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// Ingest validates raw against the declared format and the byte and pixel
// limits, decodes it, optionally enhances it, and letterboxes it onto the
// model canvas. All rejections wrap ErrInvalidImage.
func (i *Ingestor) Ingest(raw []byte, declared Format) (*NormalizedImage, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	if !slices.Contains(i.formats, declared) {
		return nil, fmt.Errorf("%w: format %q not accepted", ErrInvalidImage, declared)
	}
	if int64(len(raw)) > i.maxSize {
		return nil, fmt.Errorf(
			"%w: %s exceeds limit of %s",
			ErrInvalidImage,
			formatting.FormatBytes(int64(len(raw)), 1),
			formatting.FormatBytes(i.maxSize, 0),
		)
	}

	// Compressed size says little about the decoded buffer, so the header
	// dimensions are checked before any pixels are allocated.
	w, h, err := dimensions(raw, declared)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s header: %v", ErrInvalidImage, declared, err)
	}
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}
	if i.maxPixels > 0 && int64(w)*int64(h) > i.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds limit of %d pixels", ErrInvalidImage, w, h, i.maxPixels)
	}

	img, err := decode(raw, declared)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", ErrInvalidImage, declared, err)
	}

	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return nil, fmt.Errorf("%w: zero-sized image", ErrInvalidImage)
	}

	n := &NormalizedImage{
		Format:      declared,
		ContentHash: Hash(raw),
		SizeBytes:   int64(len(raw)),
		Width:       b.Dx(),
		Height:      b.Dy(),
	}

	n.Quality = assess(img)
	n.Warnings = append(n.Warnings, n.Quality.warnings()...)

	if i.enhancer != nil {
		enhanced, err := i.enhancer.Enhance(img)
		if err != nil {
			i.logger.Warn("enhancement skipped", "content_hash", n.ContentHash, "error", err)
			n.Warnings = append(n.Warnings, fmt.Sprintf("enhancement skipped: %v", err))
		} else {
			img = enhanced
			n.Enhanced = true
		}
	}

	n.Transform = NewTransform(n.Width, n.Height, i.width, i.height)
	n.Canvas = letterbox(img, n.Transform)

	i.logger.Debug(
		"image ingested",
		"content_hash", n.ContentHash,
		"format", declared,
		"width", n.Width,
		"height", n.Height,
		"enhanced", n.Enhanced,
	)

	return n, nil
}
