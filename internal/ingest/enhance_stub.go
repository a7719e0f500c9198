//go:build !gocv

package ingest

import "errors"

// NewCLAHE reports that OpenCV support was not compiled in.
func NewCLAHE() (Enhancer, error) {
	return nil, errors.New("clahe enhancer requires the gocv build tag")
}
