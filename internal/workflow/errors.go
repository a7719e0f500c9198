package workflow

import (
	"errors"
	"net/http"

	"github.com/hoangtdhdhcn/mammo-ai-app/internal/detection"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/ingest"
	"github.com/hoangtdhdhcn/mammo-ai-app/internal/records"
)

var (
	// ErrNotStarted reports a run whose context ended before it was received.
	ErrNotStarted     = errors.New("analysis run not started")
	ErrInvalidRequest = errors.New("invalid analysis request")
)

// MapHTTPStatus maps run errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotStarted):
		return http.StatusServiceUnavailable
	case errors.Is(err, ingest.ErrInvalidImage):
		return ingest.MapHTTPStatus(err)
	case errors.Is(err, detection.ErrInvalidThreshold):
		return detection.MapHTTPStatus(err)
	default:
		return records.MapHTTPStatus(err)
	}
}
