package detection

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidDetection indicates a detection with out-of-range confidence,
	// non-finite coordinates, or an inverted box.
	ErrInvalidDetection = errors.New("invalid detection")
	// ErrInvalidThreshold indicates a confidence or IoU threshold outside its range.
	ErrInvalidThreshold = errors.New("invalid threshold")
)

// MapHTTPStatus maps post-processing errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrInvalidThreshold) {
		return http.StatusBadRequest
	}
	if errors.Is(err, ErrInvalidDetection) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
