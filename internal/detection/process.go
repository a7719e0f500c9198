package detection

import (
	"fmt"
	"slices"
)

// Thresholds selects which raw findings survive post-processing.
type Thresholds struct {
	Confidence float64 `json:"confidence_threshold"`
	IoU        float64 `json:"iou_threshold"`
}

// Validate checks Confidence is in [0,1] and IoU in (0,1].
func (t Thresholds) Validate() error {
	if !inUnit(t.Confidence) {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrInvalidThreshold, t.Confidence)
	}
	if t.IoU <= 0 || t.IoU > 1 {
		return fmt.Errorf("%w: iou %v outside (0,1]", ErrInvalidThreshold, t.IoU)
	}
	return nil
}

// Process filters raw by confidence, suppresses overlapping findings, and
// remaps survivors into source-image coordinates.
//
// The result is ordered by confidence descending; equal confidences keep
// their input order. A nil remap leaves coordinates unchanged apart from
// clamping. An empty result is valid.
func Process(raw []Raw, t Thresholds, remap Remapper) ([]Detection, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	for i, r := range raw {
		if err := validateRaw(i, r); err != nil {
			return nil, err
		}
	}

	candidates := make([]Raw, 0, len(raw))
	for _, r := range raw {
		if r.Confidence >= t.Confidence {
			candidates = append(candidates, r)
		}
	}

	slices.SortStableFunc(candidates, func(a, b Raw) int {
		switch {
		case a.Confidence > b.Confidence:
			return -1
		case a.Confidence < b.Confidence:
			return 1
		}
		return 0
	})

	kept := make([]Raw, 0, len(candidates))
	for _, c := range candidates {
		if suppressed(c, kept, t.IoU) {
			continue
		}
		kept = append(kept, c)
	}

	out := make([]Detection, 0, len(kept))
	for _, k := range kept {
		d := Detection{
			Box:        toSource(k.Box, remap),
			ClassID:    k.ClassID,
			Label:      k.Label,
			Confidence: k.Confidence,
		}
		if err := Validate(d); err != nil {
			return nil, err
		}
		out = append(out, d)
	}

	return out, nil
}

// Suppression is class-agnostic: overlapping findings of different classes
// compete with each other.
func suppressed(c Raw, kept []Raw, threshold float64) bool {
	for _, k := range kept {
		if IoU(c.Box, k.Box) >= threshold {
			return true
		}
	}
	return false
}

func toSource(b Box, remap Remapper) Box {
	if remap != nil {
		b.X1, b.Y1 = remap.ToSource(b.X1, b.Y1)
		b.X2, b.Y2 = remap.ToSource(b.X2, b.Y2)
	}
	return Box{
		X1: clamp01(b.X1),
		Y1: clamp01(b.Y1),
		X2: clamp01(b.X2),
		Y2: clamp01(b.Y2),
	}
}

// MaxConfidence returns the highest confidence in ds, zero when empty.
func MaxConfidence(ds []Detection) float64 {
	var m float64
	for _, d := range ds {
		m = max(m, d.Confidence)
	}
	return m
}

// MeanConfidence returns the mean confidence in ds, zero when empty.
func MeanConfidence(ds []Detection) float64 {
	if len(ds) == 0 {
		return 0
	}
	var sum float64
	for _, d := range ds {
		sum += d.Confidence
	}
	return sum / float64(len(ds))
}
