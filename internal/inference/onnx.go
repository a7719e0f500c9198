//go:build gocv

package inference

import (
	"context"
	"fmt"
	"image"
	"log/slog"

	"gocv.io/x/gocv"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
)

// ONNXDetector runs a YOLOv5-style ONNX export in process through OpenCV DNN.
// The network handle is not safe for concurrent use; wrap it with Serialize.
type ONNXDetector struct {
	net    gocv.Net
	logger *slog.Logger
}

// NewONNXDetector loads the model at path onto device ("cpu" or "cuda").
func NewONNXDetector(path, device string, logger *slog.Logger) (Detector, error) {
	net := gocv.ReadNetFromONNX(path)
	if net.Empty() {
		return nil, fmt.Errorf("%w: cannot load %s", ErrModelUnavailable, path)
	}

	if device == "cuda" {
		if err := net.SetPreferableBackend(gocv.NetBackendCUDA); err != nil {
			net.Close()
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
		if err := net.SetPreferableTarget(gocv.NetTargetCUDA); err != nil {
			net.Close()
			return nil, fmt.Errorf("%w: %v", ErrModelUnavailable, err)
		}
	}

	logger.Info("onnx model loaded", "path", path, "device", device)
	return &ONNXDetector{net: net, logger: logger}, nil
}

func (d *ONNXDetector) Detect(ctx context.Context, img *ingest.NormalizedImage, _ ModelConfig) ([]detection.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	mat, err := gocv.ImageToMatRGB(img.Canvas)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer mat.Close()

	w := img.Transform.DstWidth
	h := img.Transform.DstHeight

	// Mat is BGR; the network expects RGB scaled to [0, 1].
	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(w, h), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	d.net.SetInput(blob, "")
	out := d.net.Forward("")
	defer out.Close()

	dims := out.Size()
	if len(dims) != 3 || dims[2] < 6 {
		return nil, fmt.Errorf("%w: unexpected output shape %v", ErrInference, dims)
	}

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	return decodeYOLO(data, dims[1], dims[2], float64(w), float64(h)), nil
}

// Close releases the network.
func (d *ONNXDetector) Close() error {
	return d.net.Close()
}

// decodeYOLO reads rows of [cx, cy, w, h, objectness, class scores...] in
// canvas pixels.
func decodeYOLO(data []float32, rows, stride int, w, h float64) []detection.Raw {
	var raw []detection.Raw
	for r := range rows {
		row := data[r*stride : (r+1)*stride]
		obj := float64(row[4])
		if obj <= 0 {
			continue
		}

		classID, best := 0, float32(0)
		for c, score := range row[5:] {
			if score > best {
				classID, best = c, score
			}
		}

		cx, cy := float64(row[0]), float64(row[1])
		bw, bh := float64(row[2]), float64(row[3])
		raw = append(raw, detection.Raw{
			Box: detection.Box{
				X1: (cx - bw/2) / w,
				Y1: (cy - bh/2) / h,
				X2: (cx + bw/2) / w,
				Y2: (cy + bh/2) / h,
			},
			ClassID:    classID,
			Confidence: min(obj*float64(best), 1),
		})
	}
	return raw
}
