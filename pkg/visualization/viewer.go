package visualization

import (
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/tiff"

	"multiplexcoloc/internal/models"
)

// Viewer extracts and saves planes of a Gray8 stack, typically the
// composite mask produced by a counting pass
type Viewer struct {
	stack *models.Stack
}

// NewViewer creates a viewer over stack
func NewViewer(stack *models.Stack) *Viewer {
	return &Viewer{stack: stack}
}

// ExtractSlice extracts a 2D plane from the stack along the given axis.
// "z" returns a stored plane; "x" and "y" return orthogonal cross-sections
// with one column (or row) per slice.
func (v *Viewer) ExtractSlice(axis string, position int) (*image.Gray, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	s := v.stack
	depth := len(s.Planes)

	switch axis {
	case "x", "X":
		// YZ plane
		if position >= s.Width {
			return nil, fmt.Errorf("position %d exceeds width %d", position, s.Width)
		}
		img := image.NewGray(image.Rect(0, 0, depth, s.Height))
		for z := 0; z < depth; z++ {
			for y := 0; y < s.Height; y++ {
				img.Pix[y*img.Stride+z] = s.At(position, y, z)
			}
		}
		return img, nil

	case "y", "Y":
		// XZ plane
		if position >= s.Height {
			return nil, fmt.Errorf("position %d exceeds height %d", position, s.Height)
		}
		img := image.NewGray(image.Rect(0, 0, s.Width, depth))
		for z := 0; z < depth; z++ {
			copy(img.Pix[z*img.Stride:z*img.Stride+s.Width], s.Planes[z][position*s.Width:(position+1)*s.Width])
		}
		return img, nil

	case "z", "Z":
		if position >= depth {
			return nil, fmt.Errorf("position %d exceeds depth %d", position, depth)
		}
		img := image.NewGray(image.Rect(0, 0, s.Width, s.Height))
		copy(img.Pix, s.Planes[position])
		return img, nil

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}
}

// SaveSlice encodes img to filename, choosing TIFF or PNG from the extension
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}

	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tif", ".tiff":
		err = tiff.Encode(file, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = png.Encode(file, img)
	}
	if err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// SaveSliceSequence saves every plane along axis into outputDir as
// <prefix>_<axis>_<nnn>.<format> and returns the written paths
func (v *Viewer) SaveSliceSequence(axis, outputDir, prefix, format string) ([]string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.stack.Width
	case "y", "Y":
		maxPos = v.stack.Height
	case "z", "Z":
		maxPos = len(v.stack.Planes)
	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	ext := "png"
	if format == "tif" || format == "tiff" {
		ext = "tif"
	}

	var paths []string
	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return paths, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("%s_%s_%03d.%s", prefix, strings.ToLower(axis), pos, ext))
		if err := v.SaveSlice(img, filename); err != nil {
			return paths, err
		}
		paths = append(paths, filename)
	}

	return paths, nil
}
