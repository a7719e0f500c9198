package ingest

import (
	"fmt"
	"image"
	"image/color"
	"slices"
)

// Enhancer improves image contrast before letterboxing.
type Enhancer interface {
	Enhance(img image.Image) (image.Image, error)
}

// ContrastStretch linearly maps the [Low, High] luminance percentiles onto
// the full 16-bit range, producing a grayscale image.
type ContrastStretch struct {
	Low  float64
	High float64
}

// NewContrastStretch returns a stretcher clipping the darkest and brightest 1%.
func NewContrastStretch() *ContrastStretch {
	return &ContrastStretch{Low: 0.01, High: 0.99}
}

func (c *ContrastStretch) Enhance(img image.Image) (image.Image, error) {
	lum := luminance(img)
	if len(lum) == 0 {
		return nil, fmt.Errorf("%w: empty image", ErrEnhance)
	}

	sorted := slices.Clone(lum)
	slices.Sort(sorted)
	lo := sorted[int(c.Low*float64(len(sorted)-1))]
	hi := sorted[int(c.High*float64(len(sorted)-1))]
	if hi <= lo {
		return nil, fmt.Errorf("%w: flat luminance histogram", ErrEnhance)
	}

	b := img.Bounds()
	out := image.NewGray16(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			v := (float64(g.Y)/0xffff - lo) / (hi - lo)
			out.SetGray16(x, y, color.Gray16{Y: uint16(min(max(v, 0), 1) * 0xffff)})
		}
	}
	return out, nil
}
