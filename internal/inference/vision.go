package inference

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
)

const visionMaxTokens = 2048

const visionPrompt = `You are a detection model for screening mammograms.
Locate every suspicious finding in the attached image.
Respond with a JSON object of the form:
{"detections": [{"box": [x1, y1, x2, y2], "class_id": 0, "label": "mass", "confidence": 0.87}]}
Box coordinates are normalized to [0, 1] relative to the image width and height.
Class labels, in class_id order: %s.
Respond with {"detections": []} when there are no findings.`

// VisionDetector runs detection through an OpenAI-compatible vision model.
type VisionDetector struct {
	client *openai.Client
	labels []string
}

// NewVisionDetector creates a detector against baseURL. An empty baseURL
// targets the public OpenAI API.
func NewVisionDetector(apiKey, baseURL string, labels []string) *VisionDetector {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	return &VisionDetector{
		client: openai.NewClientWithConfig(cfg),
		labels: labels,
	}
}

type visionFinding struct {
	Box        []float64 `json:"box"`
	ClassID    int       `json:"class_id"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
}

type visionResponse struct {
	Detections []visionFinding `json:"detections"`
}

func (d *VisionDetector) Detect(ctx context.Context, img *ingest.NormalizedImage, mc ModelConfig) ([]detection.Raw, error) {
	data, err := img.PNG()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}

	labels := "unspecified"
	if len(d.labels) > 0 {
		labels = strings.Join(d.labels, ", ")
	}

	req := openai.ChatCompletionRequest{
		Model: mc.Model,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: fmt.Sprintf(visionPrompt, labels)},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    "data:image/png;base64," + base64.StdEncoding.EncodeToString(data),
							Detail: openai.ImageURLDetailHigh,
						},
					},
				},
			},
		},
	}
	// Reasoning models reject max_tokens.
	if isReasoningModel(mc.Model) {
		req.MaxCompletionTokens = visionMaxTokens
	} else {
		req.MaxTokens = visionMaxTokens
	}

	resp, err := d.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyOpenAI(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrInference)
	}

	parsed, err := decodeVisionContent(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}

	raw := make([]detection.Raw, 0, len(parsed.Detections))
	for i, f := range parsed.Detections {
		if len(f.Box) != 4 {
			return nil, fmt.Errorf("%w: finding %d has %d box coordinates", ErrInference, i, len(f.Box))
		}
		raw = append(raw, detection.Raw{
			Box:        detection.Box{X1: f.Box[0], Y1: f.Box[1], X2: f.Box[2], Y2: f.Box[3]},
			ClassID:    f.ClassID,
			Label:      f.Label,
			Confidence: f.Confidence,
		})
	}
	return raw, nil
}

// decodeVisionContent accepts a bare JSON object or one wrapped in prose or
// a markdown fence. Models ignore response_format often enough that the
// outermost braces are taken as the payload when direct decoding fails.
func decodeVisionContent(content string) (visionResponse, error) {
	var parsed visionResponse
	content = strings.TrimSpace(content)

	if err := json.Unmarshal([]byte(content), &parsed); err == nil {
		return parsed, nil
	}

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return parsed, fmt.Errorf("%w: completion has no JSON object: %q", ErrInference, content)
	}

	if err := json.Unmarshal([]byte(content[start:end+1]), &parsed); err != nil {
		return parsed, fmt.Errorf("%w: decode completion: %v", ErrInference, err)
	}
	return parsed, nil
}

// Probe lists models, which verifies both reachability and credentials.
func (d *VisionDetector) Probe(ctx context.Context) error {
	if _, err := d.client.ListModels(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}
	return nil
}

func isReasoningModel(model string) bool {
	for _, prefix := range []string{"o1", "o3", "o4", "gpt-5"} {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

func classifyOpenAI(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return fmt.Errorf("%w: %v", ErrInference, ctx.Err())
	}

	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	default:
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	}

	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable:
		return fmt.Errorf("%w: %v", ErrModelUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrInference, err)
	}
}
