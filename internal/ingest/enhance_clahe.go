//go:build gocv

package ingest

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// CLAHE applies contrast-limited adaptive histogram equalization through OpenCV.
type CLAHE struct {
	ClipLimit float64
	TileSize  int
}

// NewCLAHE returns the OpenCV enhancer with the usual mammography settings.
func NewCLAHE() (Enhancer, error) {
	return &CLAHE{ClipLimit: 2.0, TileSize: 8}, nil
}

func (c *CLAHE) Enhance(img image.Image) (image.Image, error) {
	gray := image.NewGray(img.Bounds())
	for y := img.Bounds().Min.Y; y < img.Bounds().Max.Y; y++ {
		for x := img.Bounds().Min.X; x < img.Bounds().Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}

	src, err := gocv.ImageGrayToMatGray(gray)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnhance, err)
	}
	defer src.Close()

	dst := gocv.NewMat()
	defer dst.Close()

	clahe := gocv.NewCLAHEWithParams(c.ClipLimit, image.Pt(c.TileSize, c.TileSize))
	defer clahe.Close()
	clahe.Apply(src, &dst)

	out, err := dst.ToImage()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEnhance, err)
	}
	return out, nil
}
