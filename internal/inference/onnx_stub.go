//go:build !gocv

package inference

import (
	"fmt"
	"log/slog"
)

// NewONNXDetector requires building with -tags gocv.
func NewONNXDetector(path, _ string, _ *slog.Logger) (Detector, error) {
	return nil, fmt.Errorf("%w: onnx provider requires the gocv build tag (%s)", ErrModelUnavailable, path)
}
