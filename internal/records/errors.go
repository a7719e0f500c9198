package records

import (
	"errors"
	"fmt"
	"net/http"
)

// Domain errors for record operations.
var (
	ErrNotFound         = errors.New("record not found")
	ErrPatientNotFound  = fmt.Errorf("patient %w", ErrNotFound)
	ErrImageNotFound    = fmt.Errorf("image %w", ErrNotFound)
	ErrAnalysisNotFound = fmt.Errorf("analysis %w", ErrNotFound)

	ErrPatientArchived = errors.New("patient is archived")
	ErrInvalidRecord   = errors.New("invalid record")
	ErrMRNConflict     = errors.New("medical record number already registered")
	ErrDuplicateImage  = errors.New("image already analyzed for patient")
	ErrStorage         = errors.New("storage failure")
	ErrAuditWrite      = errors.New("audit write failed")
)

// MapHTTPStatus maps record domain errors to appropriate HTTP status codes.
func MapHTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidRecord):
		return http.StatusBadRequest
	case errors.Is(err, ErrDuplicateImage), errors.Is(err, ErrMRNConflict), errors.Is(err, ErrPatientArchived):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
