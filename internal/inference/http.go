package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
)

// HTTPDetector calls an external inference service.
//
// The service accepts a multipart POST of the canvas PNG at {endpoint}/detect
// and answers {"detections": [{"x","y","width","height","class_id","class","confidence"}]}
// with boxes in canvas pixels.
type HTTPDetector struct {
	endpoint   string
	healthPath string
	client     *http.Client
}

// NewHTTPDetector creates a detector for the service at endpoint.
// A nil client uses http.DefaultClient.
func NewHTTPDetector(endpoint, healthPath string, client *http.Client) *HTTPDetector {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDetector{
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		healthPath: healthPath,
		client:     client,
	}
}

type pixelBox struct {
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
	ClassID    int     `json:"class_id"`
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`
}

func (d *HTTPDetector) Detect(ctx context.Context, img *ingest.NormalizedImage, mc ModelConfig) ([]detection.Raw, error) {
	data, err := img.PNG()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", img.ContentHash+".png")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write image data: %w", err)
	}
	writer.WriteField("model", mc.Model)
	writer.WriteField("device", mc.Device)
	writer.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint+"/detect", body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var result struct {
		Detections []pixelBox `json:"detections"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrInference, err)
	}

	w := float64(img.Transform.DstWidth)
	h := float64(img.Transform.DstHeight)

	raw := make([]detection.Raw, 0, len(result.Detections))
	for _, b := range result.Detections {
		raw = append(raw, detection.Raw{
			Box: detection.Box{
				X1: b.X / w,
				Y1: b.Y / h,
				X2: (b.X + b.Width) / w,
				Y2: (b.Y + b.Height) / h,
			},
			ClassID:    b.ClassID,
			Label:      b.Class,
			Confidence: b.Confidence,
		})
	}
	return raw, nil
}

// Probe checks the service health endpoint.
func (d *HTTPDetector) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint+d.healthPath, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health check returned %d", ErrModelUnavailable, resp.StatusCode)
	}
	return nil
}

// A cancelled or expired context is a per-image failure; anything else at
// the transport layer means the service cannot be reached.
func classifyTransport(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrInference, ctx.Err())
	}
	return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
}

func classifyStatus(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound, code == http.StatusServiceUnavailable:
		return fmt.Errorf("%w: service returned %d", ErrModelUnavailable, code)
	default:
		return fmt.Errorf("%w: service returned %d", ErrInference, code)
	}
}
