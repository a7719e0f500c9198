package ingest

import (
	"image"
	"image/color"
	"math"

	"golang.org/x/image/draw"
)

var padColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// Transform records how a source image was letterboxed onto the model canvas.
// Scale applies to both axes; PadX and PadY are canvas pixel offsets of the
// scaled image.
type Transform struct {
	SrcWidth  int     `json:"src_width"`
	SrcHeight int     `json:"src_height"`
	DstWidth  int     `json:"dst_width"`
	DstHeight int     `json:"dst_height"`
	Scale     float64 `json:"scale"`
	PadX      float64 `json:"pad_x"`
	PadY      float64 `json:"pad_y"`
}

// NewTransform computes the aspect-preserving fit of src into dst.
func NewTransform(srcW, srcH, dstW, dstH int) Transform {
	scale := math.Min(float64(dstW)/float64(srcW), float64(dstH)/float64(srcH))
	w := int(math.Round(float64(srcW) * scale))
	h := int(math.Round(float64(srcH) * scale))

	return Transform{
		SrcWidth:  srcW,
		SrcHeight: srcH,
		DstWidth:  dstW,
		DstHeight: dstH,
		Scale:     scale,
		PadX:      float64((dstW - w) / 2),
		PadY:      float64((dstH - h) / 2),
	}
}

// ToSource maps normalized canvas coordinates to normalized source coordinates.
// Points in the padding map outside [0,1].
func (t Transform) ToSource(x, y float64) (float64, float64) {
	sx := (x*float64(t.DstWidth) - t.PadX) / t.Scale
	sy := (y*float64(t.DstHeight) - t.PadY) / t.Scale
	return sx / float64(t.SrcWidth), sy / float64(t.SrcHeight)
}

// ToCanvas maps normalized source coordinates to normalized canvas coordinates.
func (t Transform) ToCanvas(x, y float64) (float64, float64) {
	cx := x*float64(t.SrcWidth)*t.Scale + t.PadX
	cy := y*float64(t.SrcHeight)*t.Scale + t.PadY
	return cx / float64(t.DstWidth), cy / float64(t.DstHeight)
}

// letterbox draws src centered on a gray canvas of the transform's size.
func letterbox(src image.Image, t Transform) *image.RGBA {
	canvas := image.NewRGBA(image.Rect(0, 0, t.DstWidth, t.DstHeight))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: padColor}, image.Point{}, draw.Src)

	x0 := int(t.PadX)
	y0 := int(t.PadY)
	w := int(math.Round(float64(t.SrcWidth) * t.Scale))
	h := int(math.Round(float64(t.SrcHeight) * t.Scale))

	draw.CatmullRom.Scale(canvas, image.Rect(x0, y0, x0+w, y0+h), src, src.Bounds(), draw.Src, nil)
	return canvas
}
