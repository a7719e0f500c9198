package ingest

import (
	"errors"
	"net/http"
)

var (
	// ErrInvalidImage indicates the payload is empty, too large, of an
	// unsupported format, or cannot be decoded.
	ErrInvalidImage = errors.New("invalid image")
	// ErrEnhance indicates the enhancement step failed. Ingestion continues
	// with the unenhanced image.
	ErrEnhance = errors.New("enhancement failed")
)

// MapHTTPStatus maps ingestion errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, ErrInvalidImage) {
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}
