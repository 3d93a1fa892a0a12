// Package visualization exports dose distributions as grayscale slice
// images for quick plan review.
package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"radplan/pkg/grid"
)

// Viewer renders axis-aligned slices of a dose grid. Pixel intensity is
// scaled so the hottest voxel in the volume maps to white.
type Viewer struct {
	dose *grid.Grid
	max  float64
}

// NewViewer creates a slice viewer for a dose grid.
func NewViewer(dose *grid.Grid) *Viewer {
	max := 0.0
	for _, v := range dose.Data {
		if v > max {
			max = v
		}
	}
	return &Viewer{dose: dose, max: max}
}

// ExtractSlice renders a 2D slice of the dose along the specified axis.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	d := v.dose

	var img *image.Gray16

	switch axis {
	case "x", "X":
		// Slice along the YZ plane
		if position >= d.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, d.Width)
		}
		img = image.NewGray16(image.Rect(0, 0, d.Depth, d.Height))
		for y := 0; y < d.Height; y++ {
			for z := 0; z < d.Depth; z++ {
				img.SetGray16(z, y, v.gray(d.At(position, y, z)))
			}
		}

	case "y", "Y":
		// Slice along the XZ plane
		if position >= d.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, d.Height)
		}
		img = image.NewGray16(image.Rect(0, 0, d.Width, d.Depth))
		for z := 0; z < d.Depth; z++ {
			for x := 0; x < d.Width; x++ {
				img.SetGray16(x, z, v.gray(d.At(x, position, z)))
			}
		}

	case "z", "Z":
		// Slice along the XY plane
		if position >= d.Depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, d.Depth)
		}
		img = image.NewGray16(image.Rect(0, 0, d.Width, d.Height))
		for y := 0; y < d.Height; y++ {
			for x := 0; x < d.Width; x++ {
				img.SetGray16(x, y, v.gray(d.At(x, y, position)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

func (v *Viewer) gray(dose float64) color.Gray16 {
	if v.max <= 0 || dose <= 0 {
		return color.Gray16{}
	}
	scaled := dose / v.max * 65535
	if scaled > 65535 {
		scaled = 65535
	}
	return color.Gray16{Y: uint16(scaled)}
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) error {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.dose.Width
	case "y", "Y":
		maxPos = v.dose.Height
	case "z", "Z":
		maxPos = v.dose.Depth
	default:
		return fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return err
		}
	}

	return nil
}
