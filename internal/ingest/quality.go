package ingest

import (
	"image"
	"image/color"

	"gonum.org/v1/gonum/stat"
)

// Quality summarizes luminance on a [0,1] scale.
type Quality struct {
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

const (
	underexposedMean = 0.08
	overexposedMean  = 0.92
	lowContrastStd   = 0.04
	maxSamples       = 1 << 18
)

func assess(img image.Image) Quality {
	lum := luminance(img)
	if len(lum) == 0 {
		return Quality{}
	}
	mean, std := stat.MeanStdDev(lum, nil)
	return Quality{Mean: mean, StdDev: std}
}

func (q Quality) warnings() []string {
	var w []string
	switch {
	case q.Mean < underexposedMean:
		w = append(w, "image appears underexposed")
	case q.Mean > overexposedMean:
		w = append(w, "image appears overexposed")
	}
	if q.StdDev < lowContrastStd {
		w = append(w, "image has very low contrast")
	}
	return w
}

// luminance samples the image on a regular grid, capped at maxSamples points.
func luminance(img image.Image) []float64 {
	b := img.Bounds()
	total := b.Dx() * b.Dy()
	if total == 0 {
		return nil
	}

	stride := 1
	for total/(stride*stride) > maxSamples {
		stride++
	}

	out := make([]float64, 0, total/(stride*stride)+b.Dx()+b.Dy())
	for y := b.Min.Y; y < b.Max.Y; y += stride {
		for x := b.Min.X; x < b.Max.X; x += stride {
			g := color.Gray16Model.Convert(img.At(x, y)).(color.Gray16)
			out = append(out, float64(g.Y)/0xffff)
		}
	}
	return out
}
