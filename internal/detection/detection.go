// Package detection turns raw model output into the final, ordered set of
// findings for an image: confidence filtering, non-maximum suppression, and
// remapping from the model canvas back onto the original image.
package detection

import (
	"fmt"
	"math"
)

// Box is an axis-aligned rectangle in normalized [0,1] coordinates.
type Box struct {
	X1 float64 `json:"x1"`
	Y1 float64 `json:"y1"`
	X2 float64 `json:"x2"`
	Y2 float64 `json:"y2"`
}

// Width returns the horizontal extent of the box.
func (b Box) Width() float64 { return b.X2 - b.X1 }

// Height returns the vertical extent of the box.
func (b Box) Height() float64 { return b.Y2 - b.Y1 }

// Area returns the box area, zero for degenerate boxes.
func (b Box) Area() float64 {
	return max(b.Width(), 0) * max(b.Height(), 0)
}

// Raw is a single finding as emitted by a model, in canvas coordinates.
type Raw struct {
	Box        Box     `json:"box"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Detection is a post-processed finding in original-image coordinates.
type Detection struct {
	Box        Box     `json:"box"`
	ClassID    int     `json:"class_id"`
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Remapper converts normalized canvas coordinates to normalized source coordinates.
type Remapper interface {
	ToSource(x, y float64) (float64, float64)
}

// IoU returns the intersection-over-union of two boxes in [0,1].
func IoU(a, b Box) float64 {
	ix := min(a.X2, b.X2) - max(a.X1, b.X1)
	iy := min(a.Y2, b.Y2) - max(a.Y1, b.Y1)
	if ix <= 0 || iy <= 0 {
		return 0
	}

	inter := ix * iy
	union := a.Area() + b.Area() - inter
	if union <= 0 {
		return 0
	}
	return min(inter/union, 1)
}

// Validate reports whether d is fit for persistence: confidence and all
// coordinates within [0,1] and a non-inverted box.
func Validate(d Detection) error {
	if !inUnit(d.Confidence) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidDetection, d.Confidence)
	}
	for _, v := range []float64{d.Box.X1, d.Box.Y1, d.Box.X2, d.Box.Y2} {
		if !inUnit(v) {
			return fmt.Errorf("%w: coordinate %v outside [0,1]", ErrInvalidDetection, v)
		}
	}
	if d.Box.X2 < d.Box.X1 || d.Box.Y2 < d.Box.Y1 {
		return fmt.Errorf("%w: inverted box", ErrInvalidDetection)
	}
	return nil
}

func validateRaw(i int, r Raw) error {
	if !inUnit(r.Confidence) {
		return fmt.Errorf("%w: raw[%d] confidence %v outside [0,1]", ErrInvalidDetection, i, r.Confidence)
	}
	for _, v := range []float64{r.Box.X1, r.Box.Y1, r.Box.X2, r.Box.Y2} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: raw[%d] non-finite coordinate", ErrInvalidDetection, i)
		}
	}
	if r.Box.X2 < r.Box.X1 || r.Box.Y2 < r.Box.Y1 {
		return fmt.Errorf("%w: raw[%d] inverted box", ErrInvalidDetection, i)
	}
	return nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

func clamp01(v float64) float64 {
	return min(max(v, 0), 1)
}
