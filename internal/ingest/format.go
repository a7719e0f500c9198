package ingest

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/image/tiff"
)

// Format identifies an accepted image container.
type Format string

const (
	PNG   Format = "png"
	JPEG  Format = "jpeg"
	TIFF  Format = "tiff"
	DICOM Format = "dicom"
)

// Formats lists every format the decoder understands.
var Formats = []Format{PNG, JPEG, TIFF, DICOM}

// ParseFormat normalizes a declared format or file extension.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(strings.TrimSpace(s), ".")) {
	case "png":
		return PNG, nil
	case "jpg", "jpeg":
		return JPEG, nil
	case "tif", "tiff":
		return TIFF, nil
	case "dcm", "dicom":
		return DICOM, nil
	default:
		return "", fmt.Errorf("%w: unsupported format %q", ErrInvalidImage, s)
	}
}

// ContentType returns the MIME type recorded alongside stored bytes.
func (f Format) ContentType() string {
	switch f {
	case PNG:
		return "image/png"
	case JPEG:
		return "image/jpeg"
	case TIFF:
		return "image/tiff"
	case DICOM:
		return "application/dicom"
	default:
		return "application/octet-stream"
	}
}

func decode(raw []byte, f Format) (image.Image, error) {
	switch f {
	case PNG:
		return png.Decode(bytes.NewReader(raw))
	case JPEG:
		return jpeg.Decode(bytes.NewReader(raw))
	case TIFF:
		return tiff.Decode(bytes.NewReader(raw))
	case DICOM:
		return decodeDICOM(raw)
	default:
		return nil, fmt.Errorf("no decoder for %s", f)
	}
}

// dimensions reads the pixel size from the container header without
// decoding pixel data.
func dimensions(raw []byte, f Format) (width, height int, err error) {
	var cfg image.Config
	switch f {
	case PNG:
		cfg, err = png.DecodeConfig(bytes.NewReader(raw))
	case JPEG:
		cfg, err = jpeg.DecodeConfig(bytes.NewReader(raw))
	case TIFF:
		cfg, err = tiff.DecodeConfig(bytes.NewReader(raw))
	case DICOM:
		return dicomDimensions(raw)
	default:
		return 0, 0, fmt.Errorf("no decoder for %s", f)
	}
	if err != nil {
		return 0, 0, err
	}
	return cfg.Width, cfg.Height, nil
}

func dicomDimensions(raw []byte) (int, int, error) {
	ds, err := dicom.Parse(bytes.NewReader(raw), int64(len(raw)), nil, dicom.SkipPixelData())
	if err != nil {
		return 0, 0, fmt.Errorf("parse dicom: %w", err)
	}

	dim := func(t tag.Tag) (int, error) {
		el, err := ds.FindElementByTag(t)
		if err != nil {
			return 0, err
		}
		v, ok := el.Value.GetValue().([]int)
		if !ok || len(v) == 0 {
			return 0, fmt.Errorf("dicom %s is not an integer", t)
		}
		return v[0], nil
	}

	rows, err := dim(tag.Rows)
	if err != nil {
		return 0, 0, fmt.Errorf("dicom rows: %w", err)
	}
	cols, err := dim(tag.Columns)
	if err != nil {
		return 0, 0, fmt.Errorf("dicom columns: %w", err)
	}
	return cols, rows, nil
}

// decodeDICOM returns the first frame of the dataset's pixel data.
func decodeDICOM(raw []byte) (image.Image, error) {
	ds, err := dicom.Parse(bytes.NewReader(raw), int64(len(raw)), nil)
	if err != nil {
		return nil, fmt.Errorf("parse dicom: %w", err)
	}

	el, err := ds.FindElementByTag(tag.PixelData)
	if err != nil {
		return nil, fmt.Errorf("dicom pixel data: %w", err)
	}

	info, ok := el.Value.GetValue().(dicom.PixelDataInfo)
	if !ok || len(info.Frames) == 0 {
		return nil, fmt.Errorf("dicom pixel data has no frames")
	}

	img, err := info.Frames[0].GetImage()
	if err != nil {
		return nil, fmt.Errorf("dicom frame: %w", err)
	}
	return img, nil
}
