package inference

import (
	"errors"
	"net/http"
)

var (
	// ErrModelUnavailable indicates the model cannot be loaded or reached.
	// It is fatal to the current run and never retried automatically.
	ErrModelUnavailable = errors.New("model unavailable")
	// ErrInference indicates a per-image failure: a bad response, corrupt
	// output, or a timeout.
	ErrInference = errors.New("inference failed")
	// ErrUnsupportedProvider indicates an unknown inference provider.
	ErrUnsupportedProvider = errors.New("unsupported inference provider")
)

// MapHTTPStatus maps inference errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrInference):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
