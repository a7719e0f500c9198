// Package inference is the boundary to the opaque detection model. It turns a
// normalized image into raw findings and classifies model failures as either
// unavailability or a per-image inference error.
package inference

import (
	"context"
	"fmt"
	"time"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
)

// ModelConfig identifies the model and the device it runs on.
// Thresholds are applied after inference and are not part of it.
type ModelConfig struct {
	Model  string `json:"model"`
	Device string `json:"device"`
}

// Detector runs a model over a normalized image. Raw boxes are returned in
// normalized canvas coordinates.
type Detector interface {
	Detect(ctx context.Context, img *ingest.NormalizedImage, mc ModelConfig) ([]detection.Raw, error)
}

// Prober is implemented by detectors that can report reachability without
// running inference.
type Prober interface {
	Probe(ctx context.Context) error
}

// Status reports the configured model and whether it was last seen reachable.
type Status struct {
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Device    string    `json:"device"`
	Reachable bool      `json:"reachable"`
	Labels    []string  `json:"labels"`
	CheckedAt time.Time `json:"checked_at"`
	Error     string    `json:"error,omitempty"`
}

// Serialize guards a detector whose handle is not safe for concurrent use.
// Only the detect call is serialized; waiting callers give up when their
// context ends.
func Serialize(d Detector) Detector {
	return &serialized{
		detector: d,
		sem:      make(chan struct{}, 1),
	}
}

type serialized struct {
	detector Detector
	sem      chan struct{}
}

func (s *serialized) Detect(ctx context.Context, img *ingest.NormalizedImage, mc ModelConfig) ([]detection.Raw, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: waiting for model: %v", ErrInference, ctx.Err())
	}
	defer func() { <-s.sem }()

	return s.detector.Detect(ctx, img, mc)
}

func (s *serialized) Probe(ctx context.Context) error {
	if p, ok := s.detector.(Prober); ok {
		return p.Probe(ctx)
	}
	return nil
}
