package inference_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/inference"
)

func completion(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o",
		"choices": []map[string]any{
			{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": content},
			},
		},
	}
}

func visionServer(t *testing.T, status int, body any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/chat/completions" {
			var req map[string]any
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "gpt-4o", req["model"])
			format, _ := req["response_format"].(map[string]any)
			assert.Equal(t, "json_object", format["type"])
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestVisionDetectorDetect(t *testing.T) {
	content := "```json\n" + `{"detections": [{"box": [0.1, 0.2, 0.3, 0.4], "class_id": 0, "label": "mass", "confidence": 0.8}]}` + "\n```"
	srv := visionServer(t, http.StatusOK, completion(content))

	d := inference.NewVisionDetector("test-key", srv.URL+"/v1", []string{"mass"})
	raw, err := d.Detect(context.Background(), canvas(), inference.ModelConfig{Model: "gpt-4o"})
	require.NoError(t, err)
	require.Len(t, raw, 1)

	assert.Equal(t, 0.1, raw[0].Box.X1)
	assert.Equal(t, 0.4, raw[0].Box.Y2)
	assert.Equal(t, "mass", raw[0].Label)
	assert.Equal(t, 0.8, raw[0].Confidence)
}

func TestVisionDetectorEmpty(t *testing.T) {
	srv := visionServer(t, http.StatusOK, completion(`{"detections": []}`))

	d := inference.NewVisionDetector("test-key", srv.URL+"/v1", nil)
	raw, err := d.Detect(context.Background(), canvas(), inference.ModelConfig{Model: "gpt-4o"})
	require.NoError(t, err)
	assert.Empty(t, raw)
}

func TestVisionDetectorContentShapes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"padded", "  {\"detections\": []}  ", 0},
		{"fence without language", "```\n{\"detections\": []}\n```", 0},
		{"fence with prose", "Findings below:\n```json\n{\"detections\": [{\"box\": [0, 0, 0.5, 0.5], \"confidence\": 0.7}, {\"box\": [0.5, 0.5, 1, 1], \"class_id\": 1, \"confidence\": 0.5}]}\n```\nEnd.", 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := visionServer(t, http.StatusOK, completion(tt.content))

			d := inference.NewVisionDetector("test-key", srv.URL+"/v1", nil)
			raw, err := d.Detect(context.Background(), canvas(), inference.ModelConfig{Model: "gpt-4o"})
			require.NoError(t, err)
			assert.Len(t, raw, tt.want)
		})
	}
}

func TestVisionDetectorErrors(t *testing.T) {
	apiError := func(msg string) map[string]any {
		return map[string]any{"error": map[string]any{"message": msg, "type": "error"}}
	}

	tests := []struct {
		name   string
		status int
		body   any
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, apiError("bad key"), inference.ErrModelUnavailable},
		{"unknown model", http.StatusNotFound, apiError("no such model"), inference.ErrModelUnavailable},
		{"server error", http.StatusInternalServerError, apiError("boom"), inference.ErrInference},
		{"malformed content", http.StatusOK, completion("I cannot help with that"), inference.ErrInference},
		{"broken fence", http.StatusOK, completion("```json\n{broken\n```"), inference.ErrInference},
		{"short box", http.StatusOK, completion(`{"detections": [{"box": [0.1, 0.2], "confidence": 0.5}]}`), inference.ErrInference},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := visionServer(t, tt.status, tt.body)

			d := inference.NewVisionDetector("test-key", srv.URL+"/v1", nil)
			_, err := d.Detect(context.Background(), canvas(), inference.ModelConfig{Model: "gpt-4o"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestVisionDetectorProbe(t *testing.T) {
	srv := visionServer(t, http.StatusOK, map[string]any{"object": "list", "data": []any{}})

	d := inference.NewVisionDetector("test-key", srv.URL+"/v1", nil)
	assert.NoError(t, d.Probe(context.Background()))
}
